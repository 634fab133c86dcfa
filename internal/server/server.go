// Package server sets up the HTTP server, router and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It connects storage, the identity
// resolver, the GA4 query service, handlers and middleware, and decides:
//   - which URL patterns map to which handler
//   - which middleware runs on which route group
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → sqlstore.DB (users, tokens, properties, keys, usage)
//	  → ratelimit.Limiter (memory, or redis when REDIS_URL is set)
//	  → auth.Resolver (headers → Identity)
//	  → ga4.Service (Identity → GA4 reports)
//	  → handlers
//
// This is the "composition root": every dependency is built here and
// nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/darwin7381/ga4-realtime-api/internal/auth"
	"github.com/darwin7381/ga4-realtime-api/internal/config"
	"github.com/darwin7381/ga4-realtime-api/internal/ga4"
	"github.com/darwin7381/ga4-realtime-api/internal/handler"
	"github.com/darwin7381/ga4-realtime-api/internal/metrics"
	"github.com/darwin7381/ga4-realtime-api/internal/middleware"
	"github.com/darwin7381/ga4-realtime-api/internal/ratelimit"
	"github.com/darwin7381/ga4-realtime-api/internal/repository/sqlstore"
	"github.com/darwin7381/ga4-realtime-api/internal/service"
	"github.com/darwin7381/ga4-realtime-api/internal/usage"
)

// sweepInterval is how often in-memory limiters drop idle keys.
const sweepInterval = time.Minute

// Server represents the HTTP server and everything it owns.
//
// RESOURCE MANAGEMENT:
// The server owns the database connection, the optional Redis client, the
// limiter sweepers and the usage recorder. Shutdown releases them in
// reverse order of creation.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	db       *sqlstore.DB
	redis    *redis.Client
	recorder *usage.Recorder

	// background stops the limiter sweepers.
	background context.Context
	stop       context.CancelFunc
}

// Option customises New. Tests use it to point Google clients at a fake.
type Option func(*options)

type options struct {
	googleOpts []option.ClientOption
	registry   *prometheus.Registry
}

// WithGoogleOptions applies extra client options to every Google API client.
func WithGoogleOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.googleOpts = append(o.googleOpts, opts...) }
}

// WithRegistry registers the metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New builds the server from configuration.
//
// Startup fails on anything that would make every request fail: an
// unreachable database or Redis, or an unparsable service account. Missing
// optional credentials only disable the feature that needs them; /health
// reports them as degraded.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	// === STORAGE ===
	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = cfg.DBPath
	}
	db, err := sqlstore.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	background, stop := context.WithCancel(context.Background())
	s := &Server{
		router:     chi.NewRouter(),
		config:     cfg,
		logger:     logger,
		db:         db,
		background: background,
		stop:       stop,
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(redisOpts)
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
	}

	if err := s.setupRoutes(ctx, o); err != nil {
		s.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// newLimiter picks the limiter store. With Redis every replica shares the
// window; without it each process enforces its own.
func (s *Server) newLimiter(policy ratelimit.Policy, prefix string) (ratelimit.Limiter, error) {
	if s.redis != nil {
		return ratelimit.NewRedis(s.redis, policy, "ratelimit:"+prefix)
	}
	m, err := ratelimit.NewMemory(policy)
	if err != nil {
		return nil, err
	}
	go m.RunSweeper(s.background, sweepInterval)
	return m, nil
}

func (s *Server) limiterBackend() string {
	if s.redis != nil {
		return "redis"
	}
	return "memory"
}

// setupRoutes builds every dependency above the store and mounts routes.
//
// ROUTE STRUCTURE:
//
//	GET  /, /health, /metrics                  public
//	GET  /auth/...                             public, rate limited per IP
//	GET  /active-users, /realtime/..., /analytics/...
//	                                           X-API-Key or Bearer
//	/user/info, /api/user/...                  Bearer only (403 otherwise)
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID assigns a unique id to each request
//  2. RealIP extracts the client IP from proxy headers
//  3. Recoverer turns panics into 500s
//  4. Logger logs each request with the id from step 1
//  5. Metrics counts requests by route pattern
func (s *Server) setupRoutes(ctx context.Context, o options) error {
	cfg := s.config

	m := metrics.New(o.registry)

	// === AUTH ===
	provider := auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL,
		auth.WithTimeout(cfg.OAuthTimeout))
	states, err := auth.NewStateSigner(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating state signer: %w", err)
	}
	if cfg.JWTSecret == "" && cfg.OAuthEnabled {
		s.logger.Warn("JWT_SECRET not set, OAuth state is signed with a per-process secret")
	}

	apiLimiter, err := s.newLimiter(ratelimit.Policy{MaxRequests: cfg.RateLimitMax, Window: cfg.RateLimitWindow}, "api:")
	if err != nil {
		return fmt.Errorf("creating rate limiter: %w", err)
	}
	authLimiter, err := s.newLimiter(ratelimit.Policy{MaxRequests: cfg.AuthRateLimitMax, Window: cfg.AuthRateLimitWindow}, "auth:")
	if err != nil {
		return fmt.Errorf("creating auth rate limiter: %w", err)
	}

	resolver := auth.NewResolver(
		auth.ResolverConfig{
			OAuthEnabled:      cfg.OAuthEnabled,
			APIKeyEnabled:     cfg.APIKeyEnabled,
			DefaultPropertyID: cfg.DefaultPropertyID,
			StaticKeys:        cfg.StaticKeys,
			RetryAfter:        cfg.RateLimitWindow,
		},
		auth.ResolverDeps{
			Provider:   provider,
			Tokens:     s.db,
			Properties: s.db,
			Keys:       s.db,
			Limiter:    apiLimiter,
		},
		s.logger,
		auth.WithObserver(m),
	)

	// === GA4 ===
	clients, err := ga4.NewGoogleClients(ctx, cfg.ServiceAccountJSON, o.googleOpts...)
	if err != nil {
		return err
	}
	if !clients.ServiceAccountConfigured() && cfg.APIKeyEnabled {
		s.logger.Warn("SERVICE_ACCOUNT_JSON not set, API key requests will return 503")
	}
	analytics := ga4.NewService(clients, cfg.GA4Timeout, s.logger)
	lister := ga4.NewPropertyLister(cfg.OAuthTimeout, o.googleOpts...)

	// === SERVICES ===
	accounts := service.NewAccountService(s.db, s.db, s.db, provider, lister, s.logger)
	users := service.NewUserService(s.db, s.db)
	keys := service.NewAPIKeyService(s.db, s.db, s.logger)
	properties := service.NewPropertyService(s.db, s.logger)

	s.recorder = usage.NewRecorder(s.db, s.logger, usage.WithFailureCounter(m))

	// === HANDLERS ===
	pages, err := handler.NewPageRenderer(s.logger)
	if err != nil {
		return fmt.Errorf("parsing templates: %w", err)
	}
	systemHandler := handler.NewSystemHandler(s.db, handler.SystemStatus{
		OAuthEnabled:              cfg.OAuthEnabled,
		OAuthConfigured:           provider.Configured(),
		APIKeyEnabled:             cfg.APIKeyEnabled,
		StaticKeys:                len(cfg.StaticKeys),
		DefaultPropertyConfigured: cfg.DefaultPropertyID != "",
		ServiceAccountConfigured:  clients.ServiceAccountConfigured(),
		RateLimitBackend:          s.limiterBackend(),
		Database:                  s.db.Dialect(),
	}, s.logger)
	authHandler := handler.NewAuthHandler(cfg.OAuthEnabled, provider, states, accounts, pages, s.logger)
	analyticsHandler := handler.NewAnalyticsHandler(analytics)
	userHandler := handler.NewUserHandler(users, keys, properties)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(m.Middleware)

	s.router.NotFound(handler.HandleNotFound)
	s.router.MethodNotAllowed(handler.HandleMethodNotAllowed)

	// === Public Routes ===
	s.router.Get("/", systemHandler.HandleRoot)
	s.router.Get("/health", systemHandler.HandleHealth)
	s.router.Handle("/metrics", m.Handler())

	s.router.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(authLimiter, "ip:", cfg.AuthRateLimitWindow, handler.WriteError, s.logger))
		r.Get("/google", authHandler.HandleGoogle)
		r.Get("/google/url", authHandler.HandleGoogleURL)
		r.Get("/callback", authHandler.HandleCallback)
		r.Get("/callback/json", authHandler.HandleCallbackJSON)
		r.Get("/status", authHandler.HandleStatus)
	})

	// === Identity-protected Routes ===
	// The resolver runs first; usage recording wraps the handler so only
	// resolved callers are logged.
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireIdentity(resolver, handler.WriteError))
		r.Use(usage.Middleware(s.recorder))

		r.Get("/active-users", analyticsHandler.HandleActiveUsers)
		r.Get("/realtime/overview", analyticsHandler.HandleRealtimeOverview)
		r.Get("/realtime/top-pages", analyticsHandler.HandleRealtimeTopPages)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/traffic-sources", analyticsHandler.HandleTrafficSources)
			r.Get("/pageviews", analyticsHandler.HandlePageViews)
			r.Get("/devices", analyticsHandler.HandleDevices)
			r.Get("/geographic", analyticsHandler.HandleGeographic)
			r.Get("/top-pages", analyticsHandler.HandleTopPages)
			r.Get("/search-terms", analyticsHandler.HandleSearchTerms)
			r.Get("/performance", analyticsHandler.HandlePerformance)
			r.Get("/single-page", analyticsHandler.HandleSinglePage)
		})

		// OAuth-only; the handlers reject other identity kinds with 403
		r.Get("/user/info", userHandler.HandleInfo)
		r.Route("/api/user", func(r chi.Router) {
			r.Post("/api-keys", userHandler.HandleCreateKey)
			r.Get("/api-keys", userHandler.HandleListKeys)
			r.Delete("/api-keys/{key_id}", userHandler.HandleDeleteKey)
			r.Post("/properties", userHandler.HandleAddProperty)
			r.Get("/properties", userHandler.HandleListProperties)
			r.Delete("/properties/{id}", userHandler.HandleDeleteProperty)
			r.Put("/properties/{id}/default", userHandler.HandleSetDefaultProperty)
		})
	})

	s.logger.Info("routes configured",
		slog.Bool("oauth_mode", cfg.OAuthEnabled),
		slog.Bool("oauth_configured", provider.Configured()),
		slog.Bool("api_key_mode", cfg.APIKeyEnabled),
		slog.Int("static_keys", len(cfg.StaticKeys)),
		slog.String("database", s.db.Dialect()),
		slog.String("rate_limit_backend", s.limiterBackend()),
	)
	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait for in-flight requests (30s timeout)
//  3. Wait for pending usage log writes
//  4. Close Redis and the database
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		// GA4 reports can take up to GA4Timeout; leave room to write them
		WriteTimeout: s.config.GA4Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close releases everything New acquired. Start calls it on return; tests
// that only use Handler call it themselves.
func (s *Server) Close() {
	s.close()
}

func (s *Server) close() {
	s.stop()
	if s.recorder != nil {
		s.recorder.Wait()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("closing redis", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}
