// Package ratelimit implements fixed-window admission control keyed by client identity.
//
// A window opens on the first call for an identifier and lasts Window. Up to
// MaxRequests calls are admitted inside it; the rest are rejected immediately.
// Two backends share the Limiter interface: MemoryLimiter for a single process
// and RedisLimiter when several instances must share one budget.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// UnknownClient is the shared bucket for requests without a forwarded address.
const UnknownClient = "unknown"

// Limiter decides whether a client may proceed.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (Decision, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Count   int
	Limit   int
	ResetAt time.Time
}

// Remaining is the number of calls still admissible in the current window.
func (d Decision) Remaining() int {
	if r := d.Limit - d.Count; r > 0 {
		return r
	}
	return 0
}

// RetryAfter is how long a rejected client should wait, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return (wait + time.Second - 1) / time.Second * time.Second
}

// Config describes the window and ceiling shared by all backends.
type Config struct {
	Window        time.Duration
	MaxRequests   int
	MaxClients    int
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = 10
	}
	if c.MaxClients <= 0 {
		c.MaxClients = 100000
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.Window
	}
	return c
}

// Admit reports whether the call is allowed, treating backend errors as admission.
func Admit(ctx context.Context, l Limiter, clientID string) bool {
	d, err := l.Allow(ctx, clientID)
	if err != nil {
		return true
	}
	return d.Allowed
}

// ClientKey derives the limiter key from the first X-Forwarded-For entry.
func ClientKey(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return UnknownClient
	}
	first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
	if first == "" {
		return UnknownClient
	}
	return first
}
