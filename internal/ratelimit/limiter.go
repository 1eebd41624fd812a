// Package ratelimit implements the per-(caller, tool) fixed-window rate
// limiter consulted by the dispatch gate chain.
package ratelimit

import (
	"sync"
	"time"
)

const window = 60 * time.Second

type key struct {
	subject string
	tool    string
}

type bucket struct {
	tokens      int
	capacity    int
	windowStart time.Time
}

// Limiter tracks one fixed 60-second window per (caller subject, tool name)
// pair. A bucket is created on first use with the per-tool capacity override
// if present, else the default. Windows reset lazily: the first check after
// a full window has elapsed refills the bucket.
//
// Safe for concurrent use; the lock covers a single lookup-and-consume and
// is never held across I/O.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[key]*bucket
	defaultRPM int
	perTool    map[string]int

	now func() time.Time
}

// New builds a limiter with the given default requests-per-minute capacity
// and per-tool overrides.
func New(defaultRPM int, perTool map[string]int) *Limiter {
	overrides := make(map[string]int, len(perTool))
	for tool, rpm := range perTool {
		overrides[tool] = rpm
	}
	return &Limiter{
		buckets:    make(map[key]*bucket),
		defaultRPM: defaultRPM,
		perTool:    overrides,
		now:        time.Now,
	}
}

// Check consumes one token for (subject, tool). When the bucket is empty it
// returns ok=false and the duration the caller should wait before retrying,
// clamped to [1s, 60s].
func (l *Limiter) Check(subject, tool string) (retryAfter time.Duration, ok bool) {
	capacity := l.defaultRPM
	if override, exists := l.perTool[tool]; exists {
		capacity = override
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{subject: subject, tool: tool}
	b, exists := l.buckets[k]
	if !exists {
		b = &bucket{tokens: capacity, capacity: capacity, windowStart: now}
		l.buckets[k] = b
	}

	elapsed := now.Sub(b.windowStart)
	if elapsed >= window {
		b.tokens = b.capacity
		b.windowStart = now
		elapsed = 0
	}

	if b.tokens > 0 {
		b.tokens--
		return 0, true
	}

	retry := window - elapsed
	if retry < time.Second {
		retry = time.Second
	}
	return retry, false
}
