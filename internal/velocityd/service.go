// Package velocityd wires the indicator service: stores, cache, script
// executor, engine, HTTP API and live feed.
package velocityd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"aadhaar-velocity/config"
	"aadhaar-velocity/internal/api"
	"aadhaar-velocity/internal/gateway"
	"aadhaar-velocity/internal/indicator"
	"aadhaar-velocity/internal/library"
	"aadhaar-velocity/internal/metrics"
	"aadhaar-velocity/internal/notification"
	"aadhaar-velocity/internal/script"
	redisstore "aadhaar-velocity/internal/store/redis"
	sqlitestore "aadhaar-velocity/internal/store/sqlite"
)

const livenessInterval = 15 * time.Second

// Service is the top-level orchestrator. It wires all dependencies and
// manages their lifecycle.
type Service struct {
	cfg *config.Config
	log zerolog.Logger

	store    *sqlitestore.Store
	cache    *redisstore.Cache // nil when no Redis is configured
	relay    *gateway.Relay    // nil when no Redis is configured
	hub      *gateway.Hub
	backend  *Backend
	executor *script.Executor
	prom     *metrics.Metrics
	health   *metrics.HealthStatus
	handler  http.Handler
}

// New opens the stores, connects the optional cache, seeds the custom
// indicator library and builds the HTTP handler.
func New(cfg *config.Config, log zerolog.Logger) (*Service, error) {
	svc := &Service{
		cfg:  cfg,
		log:  log.With().Str("component", "velocityd").Logger(),
		prom: metrics.NewMetrics(),
	}

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	var err error
	svc.store, err = sqlitestore.New(cfg.SQLitePath, log)
	if err != nil {
		return nil, err
	}

	// ---- Connect to Redis (optional) ----
	if cfg.CacheEnabled() {
		svc.cache, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			svc.store.Close()
			return nil, err
		}
		svc.instrumentBreaker(svc.cache.Breaker())
	}

	// ---- Engine ----
	svc.executor = script.New(script.Config{
		MaxSteps: cfg.ScriptMaxSteps,
		Timeout:  cfg.ScriptTimeout,
	}, log)
	engine := indicator.NewEngine(svc.executor, cfg.ComputeWorkers)
	engine.SetObserver(svc.prom)

	alerts := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.AlertWebhookURL != "" {
		alerts = append(alerts, notification.NewWebhookNotifier(cfg.AlertWebhookURL, log))
	}

	bcfg := BackendConfig{
		Store:    svc.store,
		Engine:   engine,
		Compiler: svc.executor,
		CacheTTL: cfg.CacheTTL,
		Alerts:   alerts,
		Metrics:  svc.prom,
		Log:      log,
	}
	if svc.cache != nil {
		bcfg.Cache = svc.cache
	}
	svc.backend = NewBackend(bcfg)

	// ---- Live feed ----
	svc.hub = gateway.NewHub(svc.backend, log)
	svc.hub.OnClientCount = func(n int) { svc.prom.WSClients.Set(float64(n)) }
	svc.hub.OnPush = func(n int) { svc.prom.WSPushes.Add(float64(n)) }
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
	limiter.Rejected = svc.prom.RateLimited
	svc.hub.Limiter = limiter
	if svc.cache != nil {
		svc.relay = gateway.NewRelay(svc.cache.Client(), svc.hub)
		svc.backend.SetNotifier(svc.relay)
	} else {
		hub := svc.hub
		svc.backend.SetNotifier(NotifierFunc(func(_ context.Context, location string) error {
			hub.Publish(location)
			return nil
		}))
	}

	svc.health = metrics.NewHealthStatus(len(indicator.Catalog()), svc.cache != nil)
	svc.handler = api.NewRouter(api.Config{
		Backend:    svc.backend,
		Health:     svc.health,
		Feed:       svc.hub,
		Metrics:    svc.prom,
		Limiter:    limiter,
		TOTPSecret: cfg.AdminTOTPSecret,
		Log:        log,
	})

	return svc, nil
}

// instrumentBreaker mirrors breaker transitions into metrics, keeping the
// cache's own logging hook.
func (svc *Service) instrumentBreaker(cb *redisstore.CircuitBreaker) {
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to redisstore.State) {
		if prev != nil {
			prev(from, to)
		}
		svc.prom.SetBreakerState(int(to), to == redisstore.StateOpen)
	}
}

// Handler returns the service's HTTP handler.
func (svc *Service) Handler() http.Handler { return svc.handler }

// Backend returns the business layer.
func (svc *Service) Backend() *Backend { return svc.backend }

// SeedLibrary loads the YAML library at path, compiles every script and
// stores the definitions not yet present.
func (svc *Service) SeedLibrary(ctx context.Context, path string) (int, error) {
	lib, err := library.Load(path)
	if err != nil {
		return 0, err
	}
	if err := lib.Compile(svc.executor); err != nil {
		return 0, fmt.Errorf("library %s: %w", path, err)
	}
	return lib.Seed(ctx, svc.store, svc.log)
}

// Run starts all subsystems and blocks until ctx is cancelled or the HTTP
// server fails.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	svc.log.Info().Msg("starting indicator service")

	if cfg.LibraryPath != "" {
		if _, err := svc.SeedLibrary(ctx, cfg.LibraryPath); err != nil {
			svc.shutdown()
			return err
		}
	}

	var rdb *goredis.Client
	if svc.cache != nil {
		rdb = svc.cache.Client()
	}
	svc.health.StartLivenessChecker(ctx, rdb, svc.store.DB(), livenessInterval)

	go svc.hub.Run(ctx)
	if svc.relay != nil {
		go svc.relay.Run(ctx)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		svc.log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	svc.log.Info().
		Int("presets", len(indicator.Catalog())).
		Bool("cache", svc.cache != nil).
		Bool("totp_guard", cfg.AdminTOTPSecret != "").
		Msg("all systems running")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// ---- Graceful shutdown ----
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutCtx); err != nil {
		svc.log.Warn().Err(err).Msg("http shutdown")
	}
	svc.shutdown()
	return runErr
}

// shutdown closes connections.
func (svc *Service) shutdown() {
	if svc.cache != nil {
		svc.cache.Close()
	}
	if svc.store != nil {
		svc.store.Close()
	}
	svc.log.Info().Msg("shutdown complete")
}
