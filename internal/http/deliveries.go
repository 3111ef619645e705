package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/jmehdipour/ingest-gateway/internal/model"
	"github.com/jmehdipour/ingest-gateway/internal/repository"
)

func listDeliveriesHandler(repo repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := repository.DeliveryFilter{
			EndpointID: strings.TrimSpace(c.QueryParam("endpoint")),
			Topic:      strings.TrimSpace(c.QueryParam("topic")),
			Limit:      50,
		}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				f.Limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				f.Offset = n
			}
		}
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			st := model.DeliveryStatus(raw)
			if !st.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be acked or failed"})
			}
			f.Status = st
		}

		ds, err := repo.List(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   f.Limit,
			"offset":  f.Offset,
			"count":   len(ds),
			"results": ds,
		})
	}
}

func getDeliveryHandler(repo repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		d, err := repo.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			c.Logger().Errorf("clickhouse get failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if d == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "delivery not found"})
		}
		return c.JSON(http.StatusOK, d)
	}
}
