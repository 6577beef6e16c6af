package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/cache"
	"github.com/noah-isme/backend-bizops/internal/checkout"
	"github.com/noah-isme/backend-bizops/internal/common"
	"github.com/noah-isme/backend-bizops/internal/config"
	"github.com/noah-isme/backend-bizops/internal/health"
	"github.com/noah-isme/backend-bizops/internal/invoice"
	"github.com/noah-isme/backend-bizops/internal/lock"
	"github.com/noah-isme/backend-bizops/internal/obs"
	"github.com/noah-isme/backend-bizops/internal/options"
	"github.com/noah-isme/backend-bizops/internal/payment"
	"github.com/noah-isme/backend-bizops/internal/prefs"
	"github.com/noah-isme/backend-bizops/internal/pricing"
	"github.com/noah-isme/backend-bizops/internal/queue"
	"github.com/noah-isme/backend-bizops/internal/ratelimit"
	"github.com/noah-isme/backend-bizops/internal/resilience"
	"github.com/noah-isme/backend-bizops/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.OTelEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			Enabled:       true,
			ServiceName:   cfg.OTelServiceName,
			Process:       "api",
			Endpoint:      cfg.OTelEndpoint,
			Exporter:      cfg.OTelExporter,
			SamplingRatio: cfg.OTelSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.RunMigrations {
		if err := invoice.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "bizops-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	upstream := newUpstreamClient(cfg, obs.Component(logger, "breaker"))
	api := apiclient.New(cfg.APIBaseURL, cfg.APIToken, upstream, obs.Component(logger, "apiclient"))

	prefStore := &prefs.Store{R: redisClient, OrdersLimit: cfg.RecentOrdersLimit}
	prefsHandler := &prefs.Handler{Store: prefStore}

	optionsSvc := &options.Service{
		Source: api,
		Cache:  cache.NewJSON(redisClient, cfg.OptionsCacheTTL),
		Logger: obs.Component(logger, "options"),
	}
	optionsHandler := &options.Handler{Svc: optionsSvc}

	orgs := &invoice.OrgResolver{
		Source:   api,
		Cache:    cache.NewJSON(redisClient, cfg.OptionsCacheTTL),
		Defaults: organizationDefaults(cfg),
		Logger:   obs.Component(logger, "organization"),
	}
	invoiceStore := invoice.NewStore(pool)
	invoiceHandler := &invoice.Handler{
		Store:    invoiceStore,
		Prefs:    prefStore,
		Orgs:     orgs,
		Currency: cfg.CurrencyCode,
		Logger:   obs.Component(logger, "invoice"),
	}

	recorder := payment.APIRecorder{Client: api, Logger: obs.Component(logger, "payment")}
	paymentHandler := &payment.Handler{Recorder: recorder}

	checkoutSvc := &checkout.Service{
		Sessions:       checkout.NewStore(redisClient, cfg.SessionTTL),
		Orders:         api,
		Payments:       recorder,
		Book:           prefStore,
		Invoices:       invoiceStore,
		ArchiveRetry:   queue.Enqueuer{R: redisClient, Prefix: cfg.QueuePrefix, DedupTTL: cfg.IdempotencyTTL, MaxAttempts: cfg.QueueMaxAttempts},
		Orgs:           orgs,
		Locker:         lock.Locker{R: redisClient},
		LockTTL:        cfg.LockTTL,
		NumberTemplate: cfg.InvoiceNumberTemplate,
		Currency:       cfg.CurrencyCode,
		Logger:         obs.Component(logger, "checkout"),
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}
	pricingHandler := &pricing.Handler{}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	rateLimiter := newRateLimiter(cfg, redisClient, logger)

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBucketsMS), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.ClientIDHeader, common.IdempotencyHeader},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(securityHeaders(cfg).Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{Pool: pool, Redis: redisClient},
		DBTimeout:    500 * time.Millisecond,
		RedisTimeout: 300 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
		v.Use(common.ClientIDMiddleware)
		v.Use(ratelimit.Handler{
			Limiter: rateLimiter,
			OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
		}.Middleware)

		v.Post("/pricing/quote", pricingHandler.Quote)

		v.Route("/checkout/sessions", func(c chi.Router) {
			checkoutHandler.Routes(c, idem.Middleware)
		})

		v.Post("/invoices/preview", invoiceHandler.Preview)
		v.Get("/invoices/{number}", invoiceHandler.Get)

		v.Get("/preferences", prefsHandler.Get)
		v.Put("/preferences", prefsHandler.Update)
		v.Get("/wishlist", prefsHandler.Wishlist)
		v.Post("/wishlist", prefsHandler.AddWishlist)
		v.Delete("/wishlist/{productId}", prefsHandler.RemoveWishlist)
		v.Get("/orders/recent", prefsHandler.RecentOrders)

		v.Get("/options/{kind}", optionsHandler.List)

		v.Get("/payments/methods", paymentHandler.Methods)
		v.With(idem.Middleware).Post("/payments", paymentHandler.Create)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	health.SetReady(true)
	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func securityHeaders(cfg *config.Config) security.Headers {
	h := security.Headers{Enabled: cfg.SecurityHeaders}
	if cfg.AppEnv == "production" {
		h.HSTS = 365 * 24 * time.Hour
	}
	return h
}

func newUpstreamClient(cfg *config.Config, logger zerolog.Logger) resilience.HTTPClient {
	return resilience.HTTPClient{
		Client:      apiclient.NewHTTPClient(cfg.APITimeout),
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Target:       "business-api",
			MinRequests:  cfg.BreakerMinReq,
			FailureRatio: cfg.BreakerFailRate,
			OpenFor:      cfg.BreakerOpenFor,
			Logger:       logger,
		}),
		BaseBackoff: cfg.APIRetryBase,
		MaxAttempts: cfg.APIMaxAttempts,
		Jitter:      cfg.APIRetryJitter,
	}
}

// newRateLimiter prefers the shared Redis store and falls back to an
// in-process store so a limiter misconfiguration never blocks startup.
func newRateLimiter(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) *limiter.Limiter {
	store, err := ratelimit.NewRedisStore(rdb)
	if err != nil {
		logger.Warn().Err(err).Msg("redis rate limit store, using memory")
		store = limitermemory.NewStore()
	}
	lim, err := ratelimit.New(store, cfg.RateLimit)
	if err != nil {
		logger.Error().Err(err).Str("rate", cfg.RateLimit).Msg("invalid rate limit, limiting disabled")
		return nil
	}
	return lim
}

func organizationDefaults(cfg *config.Config) invoice.Organization {
	return invoice.Organization{
		Name:    cfg.OrgName,
		GSTIN:   cfg.OrgGSTIN,
		Address: cfg.OrgAddress,
		Phone:   cfg.OrgPhone,
		Email:   cfg.OrgEmail,
		LogoURL: cfg.OrgLogoURL,
		Bank: invoice.Bank{
			Name:    cfg.BankName,
			Account: cfg.BankAcct,
			IFSC:    cfg.BankIFSC,
			Branch:  cfg.BankBranch,
		},
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
