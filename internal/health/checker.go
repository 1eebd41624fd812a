package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/backend"
	"github.com/fyrsmithlabs/sentineld/internal/metrics"
)

const pingBody = `{"jsonrpc":"2.0","id":1,"method":"ping"}`

// RunChecker pings every HTTP backend at a fixed interval and updates the
// shared health state (and the backend_healthy gauge). Stops on context
// cancellation.
func RunChecker(ctx context.Context, backends []backend.Backend, state *State, m *metrics.Metrics, interval time.Duration, logger *zap.Logger) {
	logger = logger.Named("health")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, b := range backends {
				_, err := b.Send(ctx, pingBody)
				if err != nil {
					state.MarkUnhealthy(b.Name())
					logger.Warn("health check failed",
						zap.String("backend", b.Name()),
						zap.Error(err))
				} else {
					state.MarkHealthy(b.Name())
					logger.Debug("health check passed", zap.String("backend", b.Name()))
				}
				if m != nil {
					m.SetBackendHealth(b.Name(), err == nil)
				}
			}
		case <-ctx.Done():
			logger.Info("health checker shutting down")
			return
		}
	}
}
