package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Backend performs an atomic token bucket check and returns whether the
// request is allowed plus the tokens remaining afterward. maxTokens is the
// bucket's burst size; refillRate is tokens added per second; requested is
// the number of tokens this call wants to consume.
type Backend interface {
	CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error)
}

// TierConfig holds rate limit configuration for a tier.
type TierConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// Limiter applies per-key, per-tier token bucket rate limiting against a
// Backend. It holds no state of its own beyond the tier table; all bucket
// state lives in the backend (Redis, or a local fallback).
type Limiter struct {
	backend Backend
	tiers   map[string]TierConfig
	def     TierConfig
}

// New creates a rate limiter over the given backend.
func New(backend Backend, tiers map[string]TierConfig, defaultTier TierConfig) *Limiter {
	if tiers == nil {
		tiers = make(map[string]TierConfig)
	}
	return &Limiter{
		backend: backend,
		tiers:   tiers,
		def:     defaultTier,
	}
}

// Result contains the result of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow checks if a single request is allowed for the given key and tier.
func (l *Limiter) Allow(ctx context.Context, key, tier string) (Result, error) {
	return l.AllowN(ctx, key, tier, 1)
}

// AllowN checks if n requests are allowed for the given key and tier.
func (l *Limiter) AllowN(ctx context.Context, key, tier string, n int) (Result, error) {
	cfg := l.getTierConfig(tier)

	allowed, remaining, err := l.backend.CheckRateLimit(ctx, key, cfg.BurstSize, cfg.RequestsPerSecond, n)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	tokensNeeded := float64(cfg.BurstSize) - float64(remaining)
	refillSeconds := tokensNeeded / cfg.RequestsPerSecond
	resetAt := time.Now().Add(time.Duration(refillSeconds * float64(time.Second)))

	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Degraded reports whether the limiter has fallen back to local,
// non-distributed token buckets because its primary backend (Redis)
// is unreachable. Always false for backends that don't implement
// degradation (e.g. a pure local backend, or in tests).
func (l *Limiter) Degraded() bool {
	fb, ok := l.backend.(*FallbackBackend)
	if !ok {
		return false
	}
	return fb.Degraded()
}

// getTierConfig returns the config for a tier, falling back to default.
func (l *Limiter) getTierConfig(tier string) TierConfig {
	if cfg, ok := l.tiers[tier]; ok {
		return cfg
	}
	return l.def
}

// KeyForAPIKey returns the rate limit key for an API key.
func KeyForAPIKey(name string) string {
	return "avap:rl:apikey:" + name
}

// KeyForIP returns the rate limit key for an IP address.
func KeyForIP(ip string) string {
	return "avap:rl:ip:" + ip
}

// KeyForGlobal returns the rate limit key for anonymous/global requests.
func KeyForGlobal(ip string) string {
	return "avap:rl:global:" + ip
}
