package backend

import (
	"context"
	"errors"
	"math/rand/v2"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/config"
)

const (
	backoffBase      = 1 * time.Second
	backoffMax       = 60 * time.Second
	healthyThreshold = 60 * time.Second
	killGracePeriod  = 2 * time.Second
)

// Discovery is the result of a successful handshake against a freshly
// spawned child, delivered to the startup wiring path.
type Discovery struct {
	Backend string
	Tools   []*mcp.Tool
}

// Supervisor owns a stdio child's lifetime: spawn, handshake, monitor,
// restart with backoff, and process-group SIGTERM on shutdown.
type Supervisor struct {
	cfg     config.BackendConfig
	backend *StdioBackend
	logger  *zap.Logger

	// discovered receives the tool set after each successful handshake.
	// Sends are non-blocking: after startup nobody listens, and a restarted
	// child must not stall its supervisor on an abandoned channel.
	discovered chan<- Discovery
}

// NewSupervisor wires a supervisor to its backend handle.
func NewSupervisor(cfg config.BackendConfig, b *StdioBackend, discovered chan<- Discovery, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		backend:    b,
		logger:     logger.Named("supervisor").With(zap.String("backend", cfg.Name)),
		discovered: discovered,
	}
}

// Run drives the spawn/monitor/restart loop until the context is canceled
// or the restart budget is exhausted.
func (s *Supervisor) Run(ctx context.Context) {
	restarts := 0

	for {
		if ctx.Err() != nil {
			s.logger.Info("supervisor stopping (canceled before spawn)")
			return
		}

		conn, cmd, err := s.backend.spawn(s.cfg)
		if err != nil {
			s.logger.Error("failed to spawn child process", zap.Error(err))
			restarts++
			if s.exhausted(restarts) {
				return
			}
			if !s.sleepBackoff(ctx, restarts) {
				return
			}
			continue
		}

		s.backend.setConn(conn)
		spawnedAt := time.Now()
		s.logger.Info("child process spawned", zap.Int("pid", conn.pid))

		// Reap the child whenever it exits so it never lingers as a zombie.
		waitDone := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(waitDone)
		}()

		if err := s.handshake(ctx); err != nil {
			s.logger.Error("MCP handshake failed after spawn", zap.Error(err))
			s.backend.setConn(nil)
			s.teardown(conn, waitDone)
			restarts++
			if s.exhausted(restarts) {
				return
			}
			if !s.sleepBackoff(ctx, restarts) {
				return
			}
			continue
		}

		select {
		case <-conn.readerDone:
			// stdout EOF: the child exited.
			s.logger.Warn("child process exited", zap.Int("pid", conn.pid))
			s.backend.setConn(nil)
			s.teardown(conn, waitDone)

			if time.Since(spawnedAt) > healthyThreshold {
				restarts = 0
			}
			restarts++
			if s.exhausted(restarts) {
				return
			}
			delay := backoffDelay(restarts)
			s.logger.Info("restarting after backoff",
				zap.Int("restart", restarts),
				zap.Duration("delay", delay))
			if !sleepCtx(ctx, delay) {
				s.logger.Info("supervisor stopping during backoff")
				return
			}

		case <-ctx.Done():
			s.logger.Info("supervisor shutting down")
			s.backend.setConn(nil)
			s.teardown(conn, waitDone)
			return
		}
	}
}

// handshake performs initialize -> notifications/initialized -> settle ->
// tools/list against the fresh child and publishes the discovered tools.
func (s *Supervisor) handshake(ctx context.Context) error {
	tools, err := Discover(ctx, s.backend, s.logger)
	if err != nil {
		return err
	}
	select {
	case s.discovered <- Discovery{Backend: s.cfg.Name, Tools: tools}:
	default:
		s.logger.Debug("discovery channel not consumed, dropping tool set")
	}
	return nil
}

// teardown signals the child's process group and waits briefly for it to
// be reaped.
func (s *Supervisor) teardown(conn *stdioConn, waitDone <-chan struct{}) {
	KillProcessGroup(conn.pid, s.logger)
	select {
	case <-waitDone:
	case <-time.After(killGracePeriod):
		s.logger.Warn("child did not exit within grace period", zap.Int("pid", conn.pid))
	}
}

func (s *Supervisor) exhausted(restarts int) bool {
	if s.cfg.MaxRestarts > 0 && restarts >= s.cfg.MaxRestarts {
		s.logger.Error("max restarts reached, supervisor stopping",
			zap.Int("restarts", restarts),
			zap.Int("max", s.cfg.MaxRestarts))
		return true
	}
	return false
}

func (s *Supervisor) sleepBackoff(ctx context.Context, restarts int) bool {
	if !sleepCtx(ctx, backoffDelay(restarts)) {
		s.logger.Info("supervisor stopping during backoff")
		return false
	}
	return true
}

// backoffDelay computes 1s * 2^(n-1) capped at 60s, plus up to +50% jitter.
func backoffDelay(restarts int) time.Duration {
	shift := restarts - 1
	if shift > 6 {
		shift = 6
	}
	base := backoffBase << uint(shift)
	if base > backoffMax {
		base = backoffMax
	}
	jitter := time.Duration(rand.Int64N(int64(base/2) + 1))
	return base + jitter
}

// sleepCtx sleeps for d, returning false if the context fired first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// KillProcessGroup sends SIGTERM to the child's process group. ESRCH means
// the group is already dead and is not an error; anything else is logged
// and ignored so teardown can proceed.
func KillProcessGroup(pid int, logger *zap.Logger) {
	if pid <= 0 {
		return
	}
	err := syscall.Kill(-pid, syscall.SIGTERM)
	switch {
	case err == nil:
		logger.Debug("sent SIGTERM to process group", zap.Int("pid", pid))
	case errors.Is(err, syscall.ESRCH):
		logger.Debug("process group already dead", zap.Int("pid", pid))
	default:
		logger.Warn("failed to kill process group", zap.Int("pid", pid), zap.Error(err))
	}
}
