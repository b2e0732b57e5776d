package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-licensing/internal/config"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/adapter"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/api"
	"crm-licensing/internal/infra/db/memory"
	pg "crm-licensing/internal/infra/db/postgres"
	"crm-licensing/internal/infra/events"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/infra/metrics"
	red "crm-licensing/internal/infra/redis"
	"crm-licensing/internal/infra/sched"
	"crm-licensing/internal/infra/storage"
	"crm-licensing/internal/infra/worker"
	"crm-licensing/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

type repos struct {
	tiers      repository.TierRepository
	subs       repository.SubscriptionRepository
	invoices   repository.InvoiceRepository
	activation repository.ActivationCodeRepository
	discount   repository.DiscountCodeRepository
	issued     repository.IssuedCodeRepository
	tm         repository.TransactionManager
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("storage", cfg.Storage.Driver).Bool("dev", cfg.Runtime.Dev).Msg("starting")

	health := map[string]api.HealthCheck{}

	// ---- Storage ----
	var st repos
	switch cfg.Storage.Driver {
	case "memory":
		s := memory.NewStore()
		st = repos{
			tiers:      memory.NewTierRepo(s),
			subs:       memory.NewSubscriptionRepo(s),
			invoices:   memory.NewInvoiceRepo(s),
			activation: memory.NewActivationCodeRepo(s),
			discount:   memory.NewDiscountCodeRepo(s),
			issued:     memory.NewIssuedCodeRepo(s),
			tm:         memory.NewTxManager(s),
		}
		logger.Warn().Msg("memory storage driver: state is lost on restart")
	default:
		pool, err := pg.Connect(ctx, &cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer pool.Close()
		if cfg.Database.MigrateOnStart {
			if err := pg.Migrate(ctx, pool); err != nil {
				logger.Fatal().Err(err).Msg("migrate")
			}
		}
		go pg.ReportPoolStats(ctx, pool, 15*time.Second)
		health["postgres"] = pool.Ping
		st = repos{
			tiers:      pg.NewTierRepo(pool),
			subs:       pg.NewSubscriptionRepo(pool),
			invoices:   pg.NewInvoiceRepo(pool),
			activation: pg.NewActivationCodeRepo(pool),
			discount:   pg.NewDiscountCodeRepo(pool),
			issued:     pg.NewIssuedCodeRepo(pool),
			tm:         pg.NewTxManager(pool),
		}
	}

	// ---- Redis (optional) ----
	var (
		tenantCache adapter.TenantStateCache = memory.NewTenantStateCache(cfg.Redis.TTL)
		locker      adapter.Locker
		limiter     api.Limiter
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer rc.Close()
		health["redis"] = rc.Ping
		tenantCache = red.NewTenantStateCache(rc, cfg.Redis.TTL)
		st.tiers = pg.NewTierRepoCacheDecorator(st.tiers, rc, cfg.Redis.TTL, logger)
		locker = red.NewLocker(rc)
		limiter = red.NewRateLimiter(rc)
	} else {
		logger.Info().Msg("redis not configured: in-process tenant cache, no rate limiting, sweeper runs on every replica")
	}

	// ---- Events ----
	var publisher adapter.EventPublisher
	if cfg.Events.Driver == "amqp" {
		p, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("amqp")
		}
		pool := worker.NewPool(4, 1024, logger)
		pool.Start(context.WithoutCancel(ctx))
		publisher = events.NewAsyncPublisher(p, pool, 5*time.Second, logger)
	} else {
		publisher = events.NewLogPublisher(logger)
	}
	defer publisher.Close()

	// ---- Proof-of-payment storage (optional) ----
	var proofs adapter.ProofStore
	if ps, err := storage.NewProofStore(cfg.ObjectStore); err != nil {
		logger.Fatal().Err(err).Msg("object store")
	} else if ps != nil {
		proofs = ps
	}

	// ---- Use cases ----
	policy := model.DefaultCodePolicy()
	if len(cfg.Licensing.AllowedSources) > 0 {
		policy.AllowedSources = cfg.Licensing.AllowedSources
	}
	policy.Charset = cfg.Licensing.Charset
	policy.GenerationRetries = cfg.Licensing.GenerationRetries
	policy.MaxBatch = cfg.Licensing.MaxBatch

	free, err := freePlan(cfg.Licensing)
	if err != nil {
		logger.Fatal().Err(err).Msg("free plan")
	}

	tiers := usecase.NewTierUseCase(st.tiers, logger)
	entitlements := usecase.NewEntitlementUseCase(st.subs, tiers, tenantCache, free, logger).
		WithGrace(cfg.Licensing.GracePeriod)
	lifecycle := usecase.NewSubscriptionUseCase(st.subs, st.invoices, tiers, st.tm, proofs,
		usecase.Notifications{Publisher: publisher, Invalidator: entitlements},
		cfg.Licensing.GracePeriod, logger)
	redemption := usecase.NewRedemptionUseCase(st.activation, st.discount, lifecycle, st.tm, cfg.Licensing.RedemptionRetries, logger).
		WithDevLogging(cfg.Runtime.Dev)
	codes := usecase.NewCodeUseCase(st.activation, st.discount, st.issued, tiers, st.tm, policy, logger)

	// ---- HTTP ----
	srv := api.NewServer(api.Deps{
		Tiers:           tiers,
		Codes:           codes,
		Purchase:        usecase.NewPurchaseUseCase(redemption, lifecycle, logger),
		Payments:        usecase.NewPaymentUseCase(lifecycle, logger),
		Lifecycle:       lifecycle,
		Entitlements:    entitlements,
		Auth:            api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Limiter:         limiter,
		RedeemPerMinute: cfg.HTTP.RedeemPerMinute,
		RequestTimeout:  cfg.HTTP.RequestTimeout,
		MaxProofBytes:   cfg.ObjectStore.MaxBytes,
		Health:          health,
	}, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	// ---- Lifecycle sweeper ----
	sweeper, err := sched.NewLifecycleSweeper(cfg.Scheduler, lifecycle, locker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper")
	}
	sweeper.Start()

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := sweeper.Stop(); err != nil {
		logger.Error().Err(err).Msg("sweeper shutdown")
	}
	logger.Info().Msg("bye")
}

func freePlan(cfg config.LicensingConfig) (model.FreePlan, error) {
	mods, err := model.ParseModules(cfg.FreeModules)
	if err != nil {
		return model.FreePlan{}, err
	}
	return model.FreePlan{
		Modules: mods,
		Limits: model.Limits{
			MaxSalesReps: cfg.FreeLimits.MaxSalesReps,
			MaxContacts:  cfg.FreeLimits.MaxContacts,
			StorageBytes: cfg.FreeLimits.StorageBytes,
		},
	}, nil
}
