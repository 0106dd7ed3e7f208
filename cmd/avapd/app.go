package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/avap-run/avapd/internal/cache"
	"github.com/avap-run/avapd/internal/catalog"
	"github.com/avap-run/avapd/internal/compiler"
	"github.com/avap-run/avapd/internal/config"
	"github.com/avap-run/avapd/internal/envelope"
	"github.com/avap-run/avapd/internal/executor"
	"github.com/avap-run/avapd/internal/httpapi"
	"github.com/avap-run/avapd/internal/invoker"
	"github.com/avap-run/avapd/internal/logging"
	"github.com/avap-run/avapd/internal/logsink"
	"github.com/avap-run/avapd/internal/metrics"
	"github.com/avap-run/avapd/internal/observability"
	"github.com/avap-run/avapd/internal/ratelimit"
	"github.com/avap-run/avapd/internal/secrets"
	"github.com/avap-run/avapd/internal/store"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// app holds every long-lived component serve/worker needs to shut
// down cleanly.
type app struct {
	cfg         *config.Config
	st          *store.Store
	catalog     *catalog.Client
	grpcConn    *grpc.ClientConn
	redis       *redis.Client
	invalidator *cache.CacheInvalidator
	handler     http.Handler
}

// buildApp wires the full dependency graph described in SPEC_FULL.md's
// DOMAIN STACK and AMBIENT STACK sections: Postgres store, Definition
// Engine gRPC client, invoker/executor/envelope, then the HTTP surface
// with rate limiting, tracing, and invocation logging layered on top.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	if cfg.HMAC.Key == "" {
		return nil, fmt.Errorf("hmac key is required (set --hmac-key or AVAP_HMAC_KEY)")
	}
	hmacKey := []byte(cfg.HMAC.Key)

	st, err := store.New(ctx, cfg.Postgres.DSN, cfg.Postgres.MinConns, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	conn, err := grpc.NewClient(cfg.GRPC.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("dial definition engine: %w", err)
	}

	cat := catalog.New(conn, cfg.GRPC.AuthToken, st, hmacKey)
	if err := cat.SyncFull(ctx); err != nil {
		logging.Op().Warn("initial catalog sync failed, serving from fallback/empty catalog", "error", err)
	}
	cat.ScheduleRefresh(ctx, cfg.Envelope.RefreshInterval)

	inv := invoker.New(hmacKey)

	var redisClient *redis.Client
	if cfg.Secrets.Enabled || cfg.RateLimit.Enabled || cfg.Envelope.Workers > 0 {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// When multiple OS worker processes share one listener, give them a
	// shared L2 command cache so only one of them needs to hit the
	// Definition Engine for any given point lookup (SPEC_FULL.md DOMAIN
	// STACK: shared cross-worker command cache). A Pub/Sub invalidator
	// lets any worker that observes a stale entry evict it from every
	// sibling's L1 immediately, rather than waiting out the L1 TTL.
	var execCatalog executor.CatalogClient = cat
	var invalidator *cache.CacheInvalidator
	if redisClient != nil {
		l1 := cache.NewInMemoryCache()
		l2 := cache.NewRedisCacheFromClient(redisClient, "catalog")
		cached := catalog.NewCachedClient(cat, cache.NewTieredCache(l1, l2, 5*time.Second), 30*time.Second)
		execCatalog = cached
		metrics.Global().CatalogCacheStats = func() (int64, int64) {
			s := cached.Stats()
			return s.Hits, s.Misses
		}

		invalidator = cache.NewCacheInvalidator(l1, redisClient)
		go invalidator.Start(ctx)
	}

	if cfg.Secrets.Enabled {
		cipher, err := resolveCipher(cfg.Secrets)
		if err != nil {
			return nil, fmt.Errorf("init secrets cipher: %w", err)
		}
		secretStore := secrets.NewStore(redisClient, cipher)
		resolver := secrets.NewResolver(secretStore)
		inv.Register("RequestGet", invoker.NewRequestGet(nil, resolver))
	}

	if cfg.Observability.Tracing.Enabled {
		if err := observability.Init(ctx, observability.Config{
			Enabled:     cfg.Observability.Tracing.Enabled,
			Exporter:    cfg.Observability.Tracing.Exporter,
			Endpoint:    cfg.Observability.Tracing.Endpoint,
			ServiceName: cfg.Observability.Tracing.ServiceName,
			SampleRate:  cfg.Observability.Tracing.SampleRate,
		}); err != nil {
			logging.Op().Warn("tracing init failed, continuing without tracing", "error", err)
		}
	}

	exec := executor.New(execCatalog, inv, cfg.Envelope.ASTCacheSize, cfg.Envelope.HeavyCommandTimeout)
	env := envelope.New(exec, cfg.Envelope.MaxWorkers, cfg.Envelope.AdmissionTimeout, cfg.Envelope.ExecutionDeadline)

	var prom *metrics.PrometheusMetrics
	if cfg.Observability.Metrics.Enabled {
		prom = metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Envelope.MaxWorkers, env.PermitsAvailable)
	}

	comp := compiler.New(hmacKey)
	var sink logsink.LogSink = logsink.NewPostgresSink(st)
	if cfg.Observability.Logging.IncludeTraceID {
		// Mirror invocation logs through the structured logger as well
		// as Postgres, so trace-correlated request outcomes show up in
		// whatever log aggregation the deployment already watches.
		sink = logsink.NewMultiSink(sink, logsink.NewStdoutSink())
	}

	srv := httpapi.New(env, comp, st, sink, "0.1.0")
	if invalidator != nil {
		srv.SetInvalidator(invalidator)
	}
	srv.SetCatalogHealth(cat)
	mux := http.NewServeMux()
	srv.Routes(mux)

	var handler http.Handler = mux
	if prom != nil {
		// With the Prometheus registry enabled, GET /metrics serves it in
		// OpenMetrics text instead of the JSON snapshot.
		promHandler := prom.Handler()
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				promHandler.ServeHTTP(w, r)
				return
			}
			mux.ServeHTTP(w, r)
		})
	}
	if cfg.Observability.Tracing.Enabled {
		handler = observability.HTTPMiddleware(handler)
	}
	if cfg.RateLimit.Enabled {
		limiter := buildLimiter(cfg.RateLimit, redisClient)
		metrics.Global().RateLimitDegraded = limiter.Degraded
		handler = ratelimit.Middleware(limiter, []string{"/health", "/metrics"})(handler)
	}

	return &app{cfg: cfg, st: st, catalog: cat, grpcConn: conn, redis: redisClient, invalidator: invalidator, handler: handler}, nil
}

func resolveCipher(cfg config.SecretsConfig) (*secrets.Cipher, error) {
	if cfg.MasterKeyFile != "" {
		return secrets.NewCipherFromFile(cfg.MasterKeyFile)
	}
	return secrets.NewCipher(cfg.MasterKey)
}

func buildLimiter(cfg config.RateLimitConfig, redisClient *redis.Client) *ratelimit.Limiter {
	var backend ratelimit.Backend
	if redisClient != nil {
		backend = ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(redisClient))
	} else {
		backend = ratelimit.NewLocalTokenBucketBackend()
	}
	defaultTier := ratelimit.TierConfig{
		RequestsPerSecond: cfg.Default.RequestsPerSecond,
		BurstSize:         cfg.Default.BurstSize,
	}
	return ratelimit.New(backend, map[string]ratelimit.TierConfig{}, defaultTier)
}

// Close releases every resource buildApp acquired.
func (a *app) Close() {
	a.catalog.Stop()
	if a.invalidator != nil {
		a.invalidator.Close()
	}
	a.grpcConn.Close()
	a.st.Close()
	if a.redis != nil {
		a.redis.Close()
	}
	if a.cfg.Observability.Tracing.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(ctx); err != nil {
			logging.Op().Warn("tracing shutdown failed", "error", err)
		}
	}
}

// listen binds addr, optionally with SO_REUSEPORT when reuseport is
// true (spec REDESIGN FLAGS: multi-process shared-socket workers).
func listen(addr string, reuseport bool) (net.Listener, error) {
	if !reuseport {
		return net.Listen("tcp", addr)
	}
	return reuseportListen(addr)
}
