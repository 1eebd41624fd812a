package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// NewPool connects the audit pool with a bounded acquire timeout.
func NewPool(ctx context.Context, url string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	cfg.MaxConns = int32(maxConns)
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return pool, nil
}

// RunMigrations applies the embedded audit schema with goose.
func RunMigrations(ctx context.Context, url string, logger *zap.Logger) error {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("audit schema migrations complete")
	return nil
}

// RunWriter drains the audit queue into Postgres. Insert failures are
// logged and dropped. Returns after the producer handle is closed and the
// remaining entries are flushed.
func RunWriter(pool *pgxpool.Pool, entries <-chan Entry, logger *zap.Logger) {
	for entry := range entries {
		if err := insertEntry(context.Background(), pool, entry); err != nil {
			logger.Error("failed to write audit entry", zap.Error(err))
		}
	}
	logger.Info("audit writer shutting down")
}

func insertEntry(ctx context.Context, pool *pgxpool.Pool, e Entry) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO audit_log
		   (request_id, timestamp, client_subject, client_role, tool_name,
		    backend_name, request_args, response_status, error_message, latency_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.RequestID, e.Timestamp, e.Subject, e.Role, e.ToolName,
		e.BackendName, e.RequestArgs, e.Status, nullable(e.ErrorMessage), e.LatencyMS)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
