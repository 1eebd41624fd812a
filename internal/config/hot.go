package config

import (
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/sentineld/internal/ratelimit"
)

// Hot is the reloadable slice of configuration: the kill switch and the
// rate limiter built from the current rate-limit section. A Hot value is
// immutable once published; reload replaces the whole value.
type Hot struct {
	KillSwitch  KillSwitchConfig
	RateLimiter *ratelimit.Limiter
}

// NewHot builds the hot config from a loaded Config. Rate-limit buckets
// start fresh: reload intentionally drops accumulated window state.
func NewHot(cfg *Config) *Hot {
	return &Hot{
		KillSwitch:  cfg.KillSwitch,
		RateLimiter: ratelimit.New(cfg.RateLimits.DefaultRPM, cfg.RateLimits.PerTool),
	}
}

// HotHolder guards the current Hot value. Readers take a snapshot pointer;
// the single writer replaces it atomically. Readers never observe a torn
// mixture of old and new.
type HotHolder struct {
	mu      sync.RWMutex
	current *Hot
}

// NewHotHolder wraps an initial hot config.
func NewHotHolder(hot *Hot) *HotHolder {
	return &HotHolder{current: hot}
}

// Current returns the live hot config snapshot.
func (h *HotHolder) Current() *Hot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Replace swaps in a new hot config.
func (h *HotHolder) Replace(hot *Hot) {
	h.mu.Lock()
	h.current = hot
	h.mu.Unlock()
}

// Reload re-reads the config file and swaps the result into the holder.
// On any parse failure the previous contents are retained and the error is
// returned to the caller.
func (h *HotHolder) Reload(path string) error {
	cfg, err := LoadLenient(path)
	if err != nil {
		return fmt.Errorf("hot reload failed, keeping previous config: %w", err)
	}
	h.Replace(NewHot(cfg))
	return nil
}
