package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	conversationshandler "github.com/relaycore/courier/domains/conversations/be/handler"
	conversationsrepo "github.com/relaycore/courier/domains/conversations/be/repo"
	conversationsservice "github.com/relaycore/courier/domains/conversations/be/service"
	dispatchhandler "github.com/relaycore/courier/domains/dispatch/be/handler"
	"github.com/relaycore/courier/domains/dispatch/be/queue"
	dispatchservice "github.com/relaycore/courier/domains/dispatch/be/service"
	tenantshandler "github.com/relaycore/courier/domains/tenants/be/handler"
	tenantsrepo "github.com/relaycore/courier/domains/tenants/be/repo"
	tenantsservice "github.com/relaycore/courier/domains/tenants/be/service"
	webhookshandler "github.com/relaycore/courier/domains/webhooks/be/handler"
	webhooksservice "github.com/relaycore/courier/domains/webhooks/be/service"
	"github.com/relaycore/courier/platform/go/carrier"
	"github.com/relaycore/courier/platform/go/connpool"
	platformlogging "github.com/relaycore/courier/platform/go/logging"
	platformmiddleware "github.com/relaycore/courier/platform/go/middleware"
)

type queueConfig struct {
	Enabled     bool          `env:"ENABLED" envDefault:"true"`
	Workers     int           `env:"WORKERS" envDefault:"4"`
	Buffer      int           `env:"BUFFER" envDefault:"256"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BaseBackoff time.Duration `env:"BASE_BACKOFF" envDefault:"500ms"`
	MaxBackoff  time.Duration `env:"MAX_BACKOFF" envDefault:"10s"`
}

func (c queueConfig) toQueue() queue.Config {
	return queue.Config{
		Enabled: c.Enabled,
		Workers: c.Workers,
		Buffer:  c.Buffer,
		Retry: queue.RetryPolicy{
			MaxAttempts: c.MaxAttempts,
			BaseBackoff: c.BaseBackoff,
			MaxBackoff:  c.MaxBackoff,
		},
	}
}

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	ControlDatabaseURL string `env:"CONTROL_DATABASE_URL,required"`

	TenantDBUser       string        `env:"TENANT_DB_USER,required"`
	TenantDBPassword   string        `env:"TENANT_DB_PASSWORD,required"`
	TenantCacheTTL     time.Duration `env:"TENANT_CACHE_TTL" envDefault:"1m"`
	PoolPerTenantMax   int           `env:"POOL_PER_TENANT_MAX" envDefault:"4"`
	PoolGlobalMax      int           `env:"POOL_GLOBAL_MAX" envDefault:"64"`
	PoolAcquireWait    time.Duration `env:"POOL_ACQUIRE_WAIT" envDefault:"5s"`
	PoolIdleTTL        time.Duration `env:"POOL_IDLE_TTL" envDefault:"5m"`
	PoolJanitorEvery   time.Duration `env:"POOL_JANITOR_INTERVAL" envDefault:"30s"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	CarrierBaseURL string        `env:"CARRIER_BASE_URL,required"`
	CarrierAPIKey  string        `env:"CARRIER_API_KEY"`
	CarrierTimeout time.Duration `env:"CARRIER_TIMEOUT" envDefault:"15s"`

	DispatchIndexTTL time.Duration `env:"DISPATCH_INDEX_TTL" envDefault:"168h"`
	WebhookSeenTTL   time.Duration `env:"WEBHOOK_SEEN_TTL" envDefault:"24h"`

	Mail      queueConfig `envPrefix:"QUEUE_MAIL_"`
	SMS       queueConfig `envPrefix:"QUEUE_SMS_"`
	MMS       queueConfig `envPrefix:"QUEUE_MMS_"`
	Analytics queueConfig `envPrefix:"QUEUE_ANALYTICS_"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "dispatch-api",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Control plane: the shared registry database.
	controlPool, err := pgxpool.New(ctx, cfg.ControlDatabaseURL)
	if err != nil {
		logger.Fatal("init control-plane pool", zap.Error(err))
	}
	defer controlPool.Close()
	if err := controlPool.Ping(ctx); err != nil {
		logger.Fatal("ping control-plane database", zap.Error(err))
	}
	if err := tenantsrepo.EnsureSchema(ctx, controlPool); err != nil {
		logger.Fatal("ensure registry schema", zap.Error(err))
	}

	tenantRepo := tenantsrepo.NewPostgresRepository(controlPool)
	tenantService := tenantsservice.New(tenantRepo, cfg.TenantCacheTTL)
	tenantHTTPHandler := tenantshandler.New(tenantService, logger)

	// Data plane: one arena of per-tenant connections.
	factory := connpool.NewPgxFactory(tenantCredentials(cfg))
	poolManager := connpool.NewManager(connpool.Config{
		PerTenantMax:    cfg.PoolPerTenantMax,
		GlobalMax:       cfg.PoolGlobalMax,
		AcquireWait:     cfg.PoolAcquireWait,
		IdleTTL:         cfg.PoolIdleTTL,
		JanitorInterval: cfg.PoolJanitorEvery,
	}, factory, tenantService, logger)

	conversationRepo := conversationsrepo.NewPostgresRepository(poolManager)
	conversationService := conversationsservice.New(conversationRepo)
	conversationHTTPHandler := conversationshandler.New(conversationService, logger)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		_ = rdb.Close()
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("ping redis", zap.Error(err))
	}

	carrierClient := carrier.NewClient(carrier.Config{
		BaseURL: cfg.CarrierBaseURL,
		APIKey:  cfg.CarrierAPIKey,
		Timeout: cfg.CarrierTimeout,
	}, logger)

	dispatchIndex := dispatchservice.NewDispatchIndex(rdb, cfg.DispatchIndexTTL)
	analyticsRecorder := dispatchservice.NewAnalyticsRecorder(rdb)

	queueMetrics := queue.NewMetrics(registry)
	router := queue.NewRouter(queue.RouterConfig{
		Queues: map[queue.Name]queue.Config{
			queue.Mail:      cfg.Mail.toQueue(),
			queue.SMS:       cfg.SMS.toQueue(),
			queue.MMS:       cfg.MMS.toQueue(),
			queue.Analytics: cfg.Analytics.toQueue(),
		},
	}, map[queue.Name]queue.ProcessFunc{
		queue.Mail:      dispatchservice.CarrierProcessor(carrierClient, conversationsservice.ChannelMail),
		queue.SMS:       dispatchservice.CarrierProcessor(carrierClient, conversationsservice.ChannelSMS),
		queue.MMS:       dispatchservice.CarrierProcessor(carrierClient, conversationsservice.ChannelMMS),
		queue.Analytics: dispatchservice.AnalyticsProcessor(analyticsRecorder),
	}, carrier.IsPermanent, logger, queueMetrics)
	router.RegisterDepthGauges(registry)

	tracker := dispatchservice.NewTracker(conversationService, dispatchIndex, router, logger, 0)
	tracker.Attach()
	router.Start()

	sender := dispatchservice.NewSender(conversationService, router, logger)
	dispatchHTTPHandler := dispatchhandler.New(sender, analyticsRecorder, logger)
	queueAdminHandler := dispatchhandler.NewAdmin(router)

	reconciler := webhooksservice.NewReconciler(conversationService, dispatchIndex, analyticsRecorder, rdb, logger, cfg.WebhookSeenTTL)
	webhookHTTPHandler := webhookshandler.New(reconciler, logger)

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := controlPool.Ping(r.Context()); err != nil {
			http.Error(w, "control database unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Carrier callbacks authenticate by URL, not tenant header.
	webhookHTTPHandler.Register(rootRouter)

	apiRouter := chi.NewRouter()

	// Registry administration and operational state.
	apiRouter.Group(func(r chi.Router) {
		tenantHTTPHandler.Register(r)
		r.Route("/admin", func(r chi.Router) {
			queueAdminHandler.Register(r)
		})
	})

	// Tenant data plane.
	apiRouter.Group(func(r chi.Router) {
		r.Use(tenantshandler.RequireTenant(tenantService, logger))
		conversationHTTPHandler.Register(r)
		dispatchHTTPHandler.Register(r)
	})

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting dispatch api", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop intake first, then drain queues while the tracker still listens,
	// then release tenant connections.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful http shutdown failed", zap.Error(err))
	}
	queue.NewShutdownCoordinator(router, logger).Shutdown(shutdownCtx)
	tracker.Detach()
	poolManager.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

// tenantCredentials resolves per-tenant database credentials. A descriptor's
// credentials ref selects COURIER_TENANT_CRED_<REF>_USER/_PASSWORD from the
// environment; tenants without a ref share the default role.
func tenantCredentials(cfg config) connpool.CredentialLookup {
	return func(ctx context.Context, ref string) (string, string, error) {
		if ref == "" {
			return cfg.TenantDBUser, cfg.TenantDBPassword, nil
		}

		key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(ref))
		user, okUser := os.LookupEnv("COURIER_TENANT_CRED_" + key + "_USER")
		password, okPass := os.LookupEnv("COURIER_TENANT_CRED_" + key + "_PASSWORD")
		if !okUser || !okPass {
			return "", "", fmt.Errorf("credentials %q not configured", ref)
		}
		return user, password, nil
	}
}
