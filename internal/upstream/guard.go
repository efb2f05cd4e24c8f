// Package upstream wraps every external dependency call behind a named
// guard: a circuit breaker plus a token-bucket rate limit. GitHub, the
// LLM endpoint, Discord, and the Solana RPC each get one so a failing
// provider degrades that feature without cascading.
package upstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/ratelimit"
)

// GuardConfig tunes one provider's breaker and rate limit.
type GuardConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ErrorRateThreshold  float64
	ConsecutiveFailures uint32
	RPS                 float64
	Burst               int
}

// Status is a point-in-time view of one guard for diagnostics.
type Status struct {
	Name      string           `json:"name"`
	State     string           `json:"state"`
	Counts    gobreaker.Counts `json:"counts"`
	ErrorRate float64          `json:"error_rate"`
	NextReset time.Time        `json:"next_reset,omitempty"`
}

// Guard is the breaker+limiter pair for one provider.
type Guard struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	limiter *ratelimit.Limiter
	timeout time.Duration
}

// Do rate-limits, then runs fn through the circuit breaker. An open
// circuit surfaces as an upstream error so HTTP handlers map it to 503.
func (g *Guard) Do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, g.name); err != nil {
			return nil, err
		}
	}

	result, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperr.Upstreamf("%s unavailable, circuit open", g.name)
	}
	return result, err
}

// State returns the breaker state string.
func (g *Guard) State() string {
	return g.breaker.State().String()
}

// Registry holds the guards for every configured provider.
type Registry struct {
	mu      sync.RWMutex
	guards  map[string]*Guard
	configs map[string]GuardConfig
}

// NewRegistry creates an empty guard registry.
func NewRegistry() *Registry {
	return &Registry{
		guards:  make(map[string]*Guard),
		configs: make(map[string]GuardConfig),
	}
}

// Add registers a provider guard.
func (r *Registry) Add(cfg GuardConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: tripCondition(cfg),
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	var limiter *ratelimit.Limiter
	if cfg.RPS > 0 {
		limiter = ratelimit.NewLimiter(cfg.RPS, cfg.Burst)
	}

	r.guards[cfg.Name] = &Guard{
		name:    cfg.Name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: limiter,
		timeout: cfg.Timeout,
	}
	r.configs[cfg.Name] = cfg
}

// Guard returns the guard for a provider. Unknown providers get a
// permissive pass-through guard so callers never nil-check.
func (r *Registry) Guard(name string) *Guard {
	r.mu.RLock()
	g, ok := r.guards[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.guards[name]; ok {
		return g
	}
	g = &Guard{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: name}),
	}
	r.guards[name] = g
	return g
}

// Status reports every guard's breaker state for the health endpoint.
func (r *Registry) Status() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Status, len(r.guards))
	for name, g := range r.guards {
		counts := g.breaker.Counts()
		var errorRate float64
		if counts.Requests > 0 {
			errorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
		}
		st := Status{
			Name:      name,
			State:     g.breaker.State().String(),
			Counts:    counts,
			ErrorRate: errorRate,
		}
		if g.breaker.State() == gobreaker.StateOpen && g.timeout > 0 {
			st.NextReset = time.Now().Add(g.timeout)
		}
		out[name] = st
	}
	return out
}

func tripCondition(cfg GuardConfig) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests >= 10 && cfg.ErrorRateThreshold > 0 {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			if errorRate >= cfg.ErrorRateThreshold {
				return true
			}
		}
		return cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
	}
}

// Provider names shared across the codebase.
const (
	ProviderGitHub  = "github"
	ProviderLLM     = "llm"
	ProviderHelius  = "helius"
	ProviderDiscord = "discord"
)

// DefaultRegistry wires guards for every provider the service talks to.
// Rates sit safely inside each provider's published limits.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Add(GuardConfig{
		Name:                ProviderGitHub,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  50.0,
		ConsecutiveFailures: 5,
		RPS:                 1.2, // ~4300/h against the 5000/h authenticated limit
		Burst:               5,
	})
	r.Add(GuardConfig{
		Name:                ProviderLLM,
		MaxRequests:         2,
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
		ErrorRateThreshold:  40.0,
		ConsecutiveFailures: 3,
		RPS:                 0.5,
		Burst:               2,
	})
	r.Add(GuardConfig{
		Name:                ProviderHelius,
		MaxRequests:         5,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  50.0,
		ConsecutiveFailures: 5,
		RPS:                 5,
		Burst:               10,
	})
	r.Add(GuardConfig{
		Name:                ProviderDiscord,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  50.0,
		ConsecutiveFailures: 5,
		RPS:                 5,
		Burst:               5,
	})
	return r
}
