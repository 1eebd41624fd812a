package health

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the operational HTTP surface:
//
//	GET /health  -> 200 always (liveness)
//	GET /ready   -> 200 when at least one backend is healthy, else 503
//	GET /metrics -> Prometheus text, optionally behind a bearer token
type Server struct {
	echo   *echo.Echo
	state  *State
	logger *zap.Logger
}

// NewServer builds the echo app. token, when non-empty, protects /metrics;
// it is compared in constant time. registry may be nil to disable /metrics.
func NewServer(state *State, registry *prometheus.Registry, token string, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, state: state, logger: logger.Named("health-server")}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/ready", func(c echo.Context) error {
		if s.state.Ready() {
			return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
		}
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	})

	if registry != nil {
		handler := echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		e.GET("/metrics", handler, bearerAuth(token))
	} else {
		e.GET("/metrics", func(c echo.Context) error {
			return c.String(http.StatusNotFound, "metrics not enabled")
		})
	}

	return s
}

// bearerAuth rejects requests whose Authorization header does not carry the
// expected bearer token. A middleware no-op when no token is configured.
func bearerAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return next(c)
			}
			provided, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				c.Response().Header().Set("WWW-Authenticate", "Bearer")
				return c.String(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}

// Start serves until Shutdown; it returns http.ErrServerClosed on a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("health server listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }
