package http

import (
	"io"

	echo "github.com/labstack/echo/v4"

	"github.com/jmehdipour/ingest-gateway/internal/dispatcher"
	"github.com/jmehdipour/ingest-gateway/internal/model"
)

// publishHandler answers with the dispatcher's envelope; its status is the HTTP status.
func publishHandler(d *dispatcher.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}

		ev := model.NewIngestEvent(c.Param("destinationId"), body)
		ctx := c.Request().Context()

		env, err := d.Dispatch(ctx, ev).Wait(ctx)
		if err != nil {
			// client gone; the publish itself carries on
			c.Logger().Warnf("request %s abandoned: %v", ev.ID, err)
			return err
		}
		return c.JSON(env.Status, env)
	}
}
