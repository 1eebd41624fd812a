package backend

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/config"
)

const retryBaseDelay = 100 * time.Millisecond

// jitteredExponential doubles the delay each attempt and adds random jitter
// in [0, delay/2]. The jitter ceiling scales with the current attempt's
// delay, not the initial base.
func jitteredExponential(base time.Duration) retry.Backoff {
	exp := retry.NewExponential(base)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := exp.Next()
		if stop {
			return 0, true
		}
		return next + time.Duration(rand.Int64N(int64(next/2)+1)), false
	})
}

// NewHTTPClient builds the HTTP client shared by every HTTP backend:
// pooled connections, TCP no-delay, capped idle connections.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				conn, err := dialer.DialContext(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				if tcp, ok := conn.(*net.TCPConn); ok {
					_ = tcp.SetNoDelay(true)
				}
				return conn, nil
			},
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// HTTPBackend POSTs JSON-RPC bodies to an MCP server and interprets either
// a plain JSON response or a server-sent-event stream.
type HTTPBackend struct {
	name       string
	client     *http.Client
	url        string
	authHeader string
	timeout    time.Duration
	maxRetries uint64
	logger     *zap.Logger
}

// NewHTTPBackend builds a backend from its config, sharing the given
// client. "/mcp" is appended to the base URL when not already present.
func NewHTTPBackend(client *http.Client, cfg config.BackendConfig, logger *zap.Logger) *HTTPBackend {
	base := strings.TrimRight(cfg.URL, "/")
	url := base
	if !strings.HasSuffix(base, "/mcp") {
		url = base + "/mcp"
	}
	return &HTTPBackend{
		name:       cfg.Name,
		client:     client,
		url:        url,
		authHeader: cfg.AuthHeader,
		timeout:    cfg.Timeout.Duration(),
		maxRetries: cfg.Retries,
		logger:     logger.Named("backend").With(zap.String("backend", cfg.Name)),
	}
}

// Name returns the configured backend name.
func (b *HTTPBackend) Name() string { return b.name }

// URL returns the resolved endpoint, for logging.
func (b *HTTPBackend) URL() string { return b.url }

// Send POSTs the body and returns the response payload. Transient errors
// (5xx, timeouts, connect failures) are retried up to the configured retry
// budget with exponential backoff plus jitter; 4xx statuses, malformed SSE,
// and post-parse errors are returned immediately.
func (b *HTTPBackend) Send(ctx context.Context, body string) (string, error) {
	backoff := retry.WithMaxRetries(b.maxRetries, jitteredExponential(retryBaseDelay))

	var result string
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		payload, sendErr := b.sendOnce(ctx, body)
		if sendErr == nil {
			result = payload
			return nil
		}
		if !IsRetryable(sendErr) {
			return sendErr
		}
		b.logger.Warn("retrying after transient error",
			zap.Int("attempt", attempt),
			zap.Uint64("max_retries", b.maxRetries),
			zap.Error(sendErr))
		return retry.RetryableError(sendErr)
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (b *HTTPBackend) sendOnce(ctx context.Context, body string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, b.url, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if b.authHeader != "" {
		req.Header.Set("Authorization", b.authHeader)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPStatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/event-stream") {
		data, ok := parseSSEData(string(raw))
		if !ok {
			return "", ErrNoSSEData
		}
		return data, nil
	}

	return string(raw), nil
}
