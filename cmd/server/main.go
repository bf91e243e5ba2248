package main

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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"klarogeo/internal/platform/config"
	"klarogeo/internal/platform/database"
	"klarogeo/internal/platform/health"
	"klarogeo/internal/platform/kafka"
	"klarogeo/internal/platform/kafka/producer"
	"klarogeo/internal/platform/logger"
	"klarogeo/internal/platform/metrics"
	"klarogeo/internal/platform/middleware"
	redisclient "klarogeo/internal/platform/redis"
	ratelimitMW "klarogeo/internal/ratelimit/middleware"
	ratelimitmodels "klarogeo/internal/ratelimit/models"
	ratelimitstore "klarogeo/internal/ratelimit/store"
	"klarogeo/internal/receipt/handler"
	"klarogeo/internal/receipt/nonce"
	"klarogeo/internal/receipt/service"
	"klarogeo/internal/receipt/store"
	httptransport "klarogeo/internal/transport/http"
	"klarogeo/migrations"
)

const (
	redisStatsInterval = 15 * time.Second
	rateLimitSweep     = 5 * time.Minute
	rateLimitPrefix    = "klaro_geo:ratelimit:"
)

// main wires the receipt endpoint's dependencies and runs the HTTP server
// until SIGINT or SIGTERM. Business logic lives in internal/receipt.
func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New()
	if err := run(cfg, log); err != nil {
		log.Error("receipt server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	checks := health.New(cfg.Environment)

	log.Info("initializing klaro-geo receipt server",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"receipt_action", cfg.ReceiptAction,
	)

	receipts, closeStore, err := openStore(ctx, cfg, reg, checks, log)
	if err != nil {
		return err
	}
	defer closeStore()

	rdb, err := redisclient.New(cfg.Redis, reg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close() //nolint:errcheck // shutdown path
		checks.RegisterOptional("redis", rdb.Health)
		log.Info("redis connected")
	}

	opts := []service.Option{
		service.WithAction(cfg.ReceiptAction),
		service.WithMetrics(m),
		service.WithLogger(log.With("component", "receipts")),
	}
	if cfg.KafkaBrokers != "" {
		pcfg := producer.DefaultConfig()
		pcfg.Brokers = cfg.KafkaBrokers
		pub, err := producer.New(pcfg, log.With("component", "kafka"))
		if err != nil {
			return err
		}
		defer pub.Close() //nolint:errcheck // flushes on shutdown
		kafkaHealth, err := kafka.NewHealthChecker(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer kafkaHealth.Close()
		checks.RegisterOptional("kafka", kafkaHealth.Check)
		opts = append(opts, service.WithPublisher(pub, producer.ReceiptsTopic))
		log.Info("publishing receipts to kafka", "topic", producer.ReceiptsTopic)
	}

	issuer := nonce.NewIssuer(cfg.NonceSecret, cfg.NonceTTL)
	svc := service.NewService(receipts, issuer, opts...)

	trusted, err := middleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}
	policy := ratelimitmodels.Policy{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}
	var (
		limiter  ratelimitMW.Limiter
		memLimit *ratelimitstore.InMemoryBucketStore
	)
	if rdb != nil {
		limiter = ratelimitstore.NewRedis(rdb.Client, rateLimitPrefix)
	} else {
		memLimit = ratelimitstore.NewInMemoryBucketStore()
		limiter = memLimit
	}
	throttle := ratelimitMW.New(limiter, policy,
		ratelimitMW.WithTrustedProxies(trusted),
		ratelimitMW.WithLogger(log.With("component", "ratelimit")),
		ratelimitMW.WithMetrics(m),
	)
	if policy.Enabled() {
		log.Info("throttling receipt submissions", "limit", policy.Limit, "window", policy.Window.String())
	}

	receiptRoutes := handler.New(svc, log, handler.WithSubmitMiddleware(throttle.Handler))
	router := httptransport.NewRouter(log, m, reg, checks, receiptRoutes)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if rdb != nil {
		g.Go(func() error {
			return rdb.RunStats(gctx, redisStatsInterval)
		})
	}
	if memLimit != nil && policy.Enabled() {
		g.Go(func() error {
			return ratelimitstore.RunSweeper(gctx, memLimit, policy.Window, rateLimitSweep, log.With("component", "ratelimit"))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore returns the Postgres store when DATABASE_URL is set and the
// in-memory store otherwise. Pending migrations are applied on startup.
func openStore(ctx context.Context, cfg config.Server, reg prometheus.Registerer, checks *health.Handler, log *slog.Logger) (service.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, receipts are kept in memory")
		return store.New(), func() {}, nil
	}
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}
	applied, err := database.Migrate(ctx, pool.DB(), migrations.FS)
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	if err := pool.RegisterMetrics(reg); err != nil {
		log.Warn("database pool metrics not registered", "error", err)
	}
	checks.RegisterCheck("receipt_store", pool.Health)
	log.Info("database connected", "migrations_applied", len(applied))
	return store.NewPostgres(pool.DB()), func() { _ = pool.Close() }, nil
}
