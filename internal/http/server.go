package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/dispatcher"
	"github.com/jmehdipour/ingest-gateway/internal/http/middleware"
	"github.com/jmehdipour/ingest-gateway/internal/repository"
)

// Deps are the collaborators the routes are built from. Optional ones switch
// their feature off when nil.
type Deps struct {
	Dispatcher *dispatcher.Dispatcher
	Clients    repository.ClientsRepository    // nil: no API key check
	Redis      *redis.Client                   // nil: no rate limiting
	Deliveries repository.DeliveriesRepository // nil: /v1/deliveries not mounted
	Health     func() error                    // nil: always healthy
	Log        *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	lg := deps.Log
	if lg == nil {
		lg = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger())
	if cfg.HTTP.BodyLimit != "" {
		e.Use(echoMid.BodyLimit(cfg.HTTP.BodyLimit))
	}

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error {
		if deps.Health != nil {
			if err := deps.Health(); err != nil {
				return c.String(http.StatusServiceUnavailable, err.Error())
			}
		}
		return c.String(http.StatusOK, "ok")
	})

	// middlewares
	var mws []echo.MiddlewareFunc
	if deps.Clients != nil {
		mws = append(mws, middleware.APIKeyMiddleware(deps.Clients))
	}
	if deps.Redis != nil {
		mws = append(mws, middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Redis:          deps.Redis,
			DefaultRPS:     cfg.RateLimit.RPS,
			KeyPrefix:      "rl:",
			Window:         cfg.RateLimit.Window,
			RetryAfterHint: true,
		}))
	}

	// routes
	e.POST("/publish/:destinationId", publishHandler(deps.Dispatcher), mws...)

	if deps.Deliveries != nil {
		v1 := e.Group("/v1", mws...)
		v1.GET("/deliveries", listDeliveriesHandler(deps.Deliveries))
		v1.GET("/deliveries/:id", getDeliveryHandler(deps.Deliveries))
	}

	return &Server{e: e, log: lg}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// ShutdownTimeout falls back to 5s when unset.
func ShutdownTimeout(cfg config.HTTPConfig) time.Duration {
	if cfg.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return cfg.ShutdownTimeout
}

func echoLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
