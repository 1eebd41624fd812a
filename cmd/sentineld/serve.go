package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/sentineld/internal/audit"
	"github.com/fyrsmithlabs/sentineld/internal/auth"
	"github.com/fyrsmithlabs/sentineld/internal/backend"
	"github.com/fyrsmithlabs/sentineld/internal/catalog"
	"github.com/fyrsmithlabs/sentineld/internal/config"
	"github.com/fyrsmithlabs/sentineld/internal/gateway"
	"github.com/fyrsmithlabs/sentineld/internal/health"
	"github.com/fyrsmithlabs/sentineld/internal/logging"
	"github.com/fyrsmithlabs/sentineld/internal/metrics"
	"github.com/fyrsmithlabs/sentineld/internal/protocol"
	"github.com/fyrsmithlabs/sentineld/internal/resilience"
	"github.com/fyrsmithlabs/sentineld/internal/transport"
	"github.com/fyrsmithlabs/sentineld/internal/validation"
)

const (
	healthCheckInterval = 30 * time.Second
	discoveryTimeout    = 30 * time.Second
	supervisorWait      = 5 * time.Second
)

// runServe wires the gateway and blocks until the session ends or a
// shutdown signal arrives.
func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("sentineld starting",
		zap.String("version", version),
		zap.Int("backends", len(cfg.Backends)))

	// Session authentication: established once, immutable for the session.
	caller, err := authenticate(cfg, logger)
	if err != nil {
		return err
	}

	// Discover backends and build the catalog.
	cat := catalog.New(logger)
	backends := make(map[string]backend.Backend)

	httpClient := backend.NewHTTPClient()
	var healthTargets []backend.Backend
	for _, bc := range cfg.Backends {
		if bc.Kind != config.BackendHTTP {
			continue
		}
		hb := backend.NewHTTPBackend(httpClient, bc, logger)
		logger.Info("discovering tools from backend",
			zap.String("backend", bc.Name),
			zap.String("url", hb.URL()))
		tools, err := backend.Discover(ctx, hb, logger)
		if err != nil {
			logger.Error("failed to discover tools from backend, skipping",
				zap.String("backend", bc.Name),
				zap.Error(err))
			continue
		}
		cat.RegisterBackend(bc.Name, tools)
		backends[bc.Name] = hb
		healthTargets = append(healthTargets, hb)
	}

	// Stdio backends: each gets a supervisor; the first successful
	// handshake publishes the tool set back to this wiring path.
	discovered := make(chan backend.Discovery, len(cfg.Backends))
	supervisorsDone := make(map[string]chan struct{})
	stdioCount := 0
	for _, bc := range cfg.Backends {
		if bc.Kind != config.BackendStdio {
			continue
		}
		sb := backend.NewStdioBackend(bc, logger)
		sup := backend.NewSupervisor(bc, sb, discovered, logger)
		done := make(chan struct{})
		supervisorsDone[bc.Name] = done
		go func() {
			defer close(done)
			sup.Run(ctx)
		}()
		backends[bc.Name] = sb
		stdioCount++
	}

	// Collect initial stdio discoveries with a deadline; a backend that
	// cannot complete its handshake in time simply contributes no tools.
	if stdioCount > 0 {
		deadline := time.After(discoveryTimeout)
		for pending := stdioCount; pending > 0; {
			select {
			case disc := <-discovered:
				cat.RegisterBackend(disc.Backend, disc.Tools)
				pending--
			case <-deadline:
				logger.Warn("stdio discovery deadline reached",
					zap.Int("backends_pending", pending))
				pending = 0
			case <-ctx.Done():
				pending = 0
			}
		}
	}

	logger.Info("tool catalog loaded", zap.Int("tools", cat.Len()))

	// Shared immutable state for the dispatch loop.
	schemas := validation.NewSchemaCache(cat, logger)
	breakers := make(map[string]*resilience.CircuitBreaker, len(backends))
	for _, bc := range cfg.Backends {
		if _, ok := backends[bc.Name]; !ok {
			continue
		}
		breakers[bc.Name] = resilience.NewCircuitBreaker(bc.Name,
			bc.CircuitBreakerThreshold, bc.CircuitBreakerRecovery.Duration(), logger)
	}

	m := metrics.New()

	// Optimistic start: every discovered backend begins healthy.
	healthState := health.NewState()
	for name := range backends {
		healthState.MarkHealthy(name)
		m.SetBackendHealth(name, true)
	}

	// Hot-reloadable config plus the SIGHUP handler.
	hot := config.NewHotHolder(config.NewHot(cfg))
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-hupCh:
				if err := hot.Reload(cfgPath); err != nil {
					logger.Error("config reload failed", zap.Error(err))
				} else {
					logger.Info("config reloaded")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Audit pipeline.
	recorder, writerDone, auditCleanup, err := startAudit(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Health server and checker.
	healthServer := health.NewServer(healthState, m.Registry(), os.Getenv("HEALTH_TOKEN"), logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := healthServer.Start(cfg.Gateway.HealthListen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		health.RunChecker(gctx, healthTargets, healthState, m, healthCheckInterval, logger)
		return nil
	})

	// Client transport and the dispatch loop.
	in := make(chan string, 64)
	out := make(chan string, 64)
	go transport.ReadLines(os.Stdin, in, logger)
	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		transport.WriteLines(os.Stdout, out, logger)
	}()

	dispatcher := &gateway.Dispatcher{
		Catalog:  cat,
		Backends: backends,
		Remapper: protocol.NewRemapper(),
		Caller:   caller,
		RBAC:     &cfg.RBAC,
		Hot:      hot,
		Schemas:  schemas,
		Breakers: breakers,
		Audit:    recorder,
		Metrics:  m,
		Version:  version,
		Logger:   logger.Named("dispatch"),
	}
	dispatcher.Run(ctx, in, out)

	// Ordered teardown: cancel everything, wait for supervisors to SIGTERM
	// their children, then close the audit producer and let the writer
	// drain. Reversing this loses audit entries or strands in-flight calls.
	cancel()

	for name, done := range supervisorsDone {
		select {
		case <-done:
		case <-time.After(supervisorWait):
			logger.Warn("supervisor did not stop in time", zap.String("backend", name))
		}
	}

	if recorder != nil {
		recorder.Close()
		<-writerDone
	}
	auditCleanup()

	close(out)
	<-outDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = healthServer.Shutdown(shutdownCtx)
	_ = g.Wait()

	logger.Info("shutdown complete")
	return nil
}

// authenticate resolves the session caller. With no JWT secret configured
// the gateway runs in development mode with a synthetic admin identity;
// when the secret is present, a valid SENTINELD_TOKEN is mandatory and any
// failure is fatal at startup.
func authenticate(cfg *config.Config, logger *zap.Logger) (auth.CallerIdentity, error) {
	secret := ""
	if cfg.Auth.JWTSecretEnv != "" {
		secret = os.Getenv(cfg.Auth.JWTSecretEnv)
	}
	if secret == "" {
		logger.Warn("JWT secret not set, auth disabled (dev mode)",
			zap.String("env_var", cfg.Auth.JWTSecretEnv))
		return auth.DevIdentity(), nil
	}

	validator, err := auth.NewValidator([]byte(secret), cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	if err != nil {
		return auth.CallerIdentity{}, err
	}
	token := os.Getenv("SENTINELD_TOKEN")
	if token == "" {
		return auth.CallerIdentity{}, errors.New("SENTINELD_TOKEN env var required when JWT auth is enabled")
	}
	identity, err := validator.Validate(token)
	if err != nil {
		return auth.CallerIdentity{}, err
	}
	logger.Info("session authenticated",
		zap.String("subject", identity.Subject),
		zap.String("role", identity.Role))
	return identity, nil
}

// startAudit wires the audit pipeline when enabled and the database URL
// env var is set. Returns a nil recorder when auditing is off.
func startAudit(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*audit.Recorder, <-chan struct{}, func(), error) {
	noop := func() {}
	if !cfg.Gateway.AuditEnabled {
		logger.Info("audit logging disabled")
		return nil, nil, noop, nil
	}

	url := ""
	if cfg.Postgres.URLEnv != "" {
		url = os.Getenv(cfg.Postgres.URLEnv)
	}
	if url == "" {
		logger.Warn("postgres URL not set, audit logging disabled",
			zap.String("env_var", cfg.Postgres.URLEnv))
		return nil, nil, noop, nil
	}

	if err := audit.RunMigrations(ctx, url, logger); err != nil {
		return nil, nil, noop, err
	}
	pool, err := audit.NewPool(ctx, url, cfg.Postgres.MaxConnections)
	if err != nil {
		return nil, nil, noop, err
	}

	recorder := audit.NewRecorder(logger)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		audit.RunWriter(pool, recorder.Entries(), logger)
	}()

	logger.Info("audit logging enabled (postgres)")
	return recorder, writerDone, pool.Close, nil
}
