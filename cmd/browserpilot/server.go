package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/browserpilot/engine/api"
	"github.com/browserpilot/engine/api/handlers"
	"github.com/browserpilot/engine/config"
	"github.com/browserpilot/engine/internal/metrics"
	"github.com/browserpilot/engine/internal/server"
	"github.com/browserpilot/engine/internal/telemetry"
	"github.com/browserpilot/engine/llm"
	"github.com/browserpilot/engine/session"
	"github.com/browserpilot/engine/session/coordinator"
	"github.com/browserpilot/engine/session/events"
	"github.com/browserpilot/engine/session/replay"
	"github.com/browserpilot/engine/storage"
)

// Server owns every long-lived component of the browserpilot process: the
// session engine, the HTTP listener, the optional replay archive, and the
// telemetry/metrics plumbing wired to the engine's event bus.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	build  api.BuildInfo

	engine     *session.Engine
	archive    *replay.Archive
	collector  *metrics.Collector
	telemetry  *telemetry.Providers
	closeStore func() error

	httpManager       *server.Manager
	rateLimiterCancel context.CancelFunc

	unsubscribeMetrics func()
}

// NewServer wires cfg's dependencies into a not-yet-started Server.
func NewServer(cfg *config.Config, logger *zap.Logger, build api.BuildInfo) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger, build: build}
	if err := s.initDependencies(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) initDependencies() error {
	providers, err := telemetry.Init(s.cfg.Telemetry.ToTelemetry(), s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry, continuing with noop providers", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	s.telemetry = providers

	store, closeStore, readiness, err := buildStore(s.cfg.Store, s.logger)
	if err != nil {
		return err
	}
	s.closeStore = closeStore

	registry := buildLLMRegistry(s.cfg.LLM)
	coord := coordinator.New(registry)
	bus := events.New()

	s.engine = session.NewEngine(store, coord, bus, s.logger)

	if s.cfg.Replay.DSN != "" {
		archive, err := replay.NewArchive(replay.Config{DSN: s.cfg.Replay.DSN}, s.logger)
		if err != nil {
			s.logger.Warn("replay archive disabled: failed to open", zap.Error(err))
		} else {
			s.archive = archive
		}
	}

	s.collector = metrics.NewCollector("browserpilot", s.logger)
	s.unsubscribeMetrics = s.collector.Subscribe(bus)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api.NewRouter(s.engine, s.archive, s.logger, s.build, readiness...))

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst),
		SecurityHeaders(),
		JWTAuth(s.cfg.Server.JWTSecret, s.logger),
	)

	serverCfg := server.Config{
		Addr:            s.cfg.Server.Addr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager(handler, serverCfg, s.logger)
	return nil
}

// Start launches the HTTP listener. It returns once the listener is bound;
// serving happens on a background goroutine inside internal/server.Manager.
func (s *Server) Start() error {
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("browserpilot server started", zap.String("addr", s.cfg.Server.Addr))
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM or a listener error, then
// runs Shutdown.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown releases the replay archive, the store and telemetry
// concurrently through one errgroup. Every release runs even if another
// one fails; the first error is logged.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down browserpilot")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.unsubscribeMetrics != nil {
		s.unsubscribeMetrics()
	}

	var g errgroup.Group
	g.Go(func() error {
		if s.archive == nil {
			return nil
		}
		return s.archive.Close()
	})
	g.Go(func() error {
		if s.closeStore == nil {
			return nil
		}
		return s.closeStore()
	})
	g.Go(func() error {
		return s.telemetry.Shutdown(context.Background())
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("error while releasing dependencies", zap.Error(err))
	}

	s.logger.Info("browserpilot shutdown complete")
}

// buildStore selects the durable session store backend named by cfg.Backend
// ("memory" or "redis"), returning its close func and, for backends worth
// probing, a readiness HealthCheck.
func buildStore(cfg config.StoreConfig, logger *zap.Logger) (session.Store, func() error, []handlers.HealthCheck, error) {
	switch cfg.Backend {
	case "redis":
		store, err := storage.NewRedisStore(storage.RedisConfig{
			Addr:                cfg.Redis.Addr,
			Password:            cfg.Redis.Password,
			DB:                  cfg.Redis.DB,
			DefaultTTL:          cfg.Redis.DefaultTTL,
			HealthCheckInterval: cfg.Redis.HealthCheckInterval,
			MaxRetries:          storage.DefaultRedisConfig().MaxRetries,
			PoolSize:            storage.DefaultRedisConfig().PoolSize,
			MinIdleConns:        storage.DefaultRedisConfig().MinIdleConns,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		checks := []handlers.HealthCheck{handlers.NewStoreHealthCheck("redis", store.Ping)}
		return store, store.Close, checks, nil
	default:
		return storage.NewMemoryStore(), func() error { return nil }, nil, nil
	}
}

// buildLLMRegistry registers every configured provider under its own name.
// A provider with no API key configured is simply omitted; sessions that
// request it fail on their first LLM call with an "unknown provider" error
// rather than at startup.
func buildLLMRegistry(cfg config.LLMConfig) *llm.Registry {
	registry := llm.NewRegistry()
	if cfg.AnthropicAPIKey != "" {
		registry.Register(llm.NewAnthropicProvider(cfg.AnthropicAPIKey))
	}
	if cfg.OpenAIAPIKey != "" {
		registry.Register(llm.NewOpenAIProvider(cfg.OpenAIAPIKey))
	}
	return registry
}
