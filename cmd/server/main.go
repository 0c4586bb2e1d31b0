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

	log "github.com/sirupsen/logrus"

	"assistec/backend/internal/cart"
	"assistec/backend/internal/config"
	"assistec/backend/internal/domain"
	"assistec/backend/internal/events"
	"assistec/backend/internal/housekeeping"
	"assistec/backend/internal/httpapi"
	"assistec/backend/internal/metrics"
	"assistec/backend/internal/service"
	"assistec/backend/internal/store"
	"assistec/backend/internal/store/kv"
	"assistec/backend/internal/store/memory"
	pgstore "assistec/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(cfg.Level())
	logger := log.WithField("component", "server")

	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("repository unavailable")
	}

	var publisher events.Publisher = events.Noop{}
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		if err != nil {
			logger.WithError(err).Warn("kafka unavailable, sale events disabled")
		} else {
			publisher = kafka
			closers = append(closers, kafka.Close)
			logger.WithField("topic", cfg.KafkaTopic).Info("sale events: kafka")
		}
	} else {
		logger.Info("sale events: disabled")
	}

	saleMetrics := metrics.NewSaleMetrics()
	svc := service.New(repo,
		service.WithPublisher(publisher),
		service.WithMetrics(saleMetrics),
	)
	sessions := cart.NewSessions(svc.Products())
	sweeper := housekeeping.NewQuoteSweeper(repo, cfg.QuoteRetention(),
		housekeeping.WithInterval(cfg.QuoteSweepInterval()),
		housekeeping.WithIdleCarts(sessions, cfg.CartIdleTimeout()),
		housekeeping.WithPublisher(publisher),
		housekeeping.WithMetrics(saleMetrics),
		housekeeping.WithAuditStore(repo),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin,
		httpapi.WithSweeper(sweeper),
		httpapi.WithSessions(sessions),
		httpapi.WithMetrics(saleMetrics),
	)

	runCtx, stopWorkers := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(runCtx)
	}()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("assistec backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	stopWorkers()
	<-sweeperDone

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}

	logger.Info("server stopped")
}

// openRepository picks postgres when DATABASE_URL is set, then redis when
// REDIS_ADDR is set, and the seeded in-memory store otherwise.
func openRepository(ctx context.Context, cfg config.Config, logger *log.Entry) (store.Repository, []func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		if err := seedIfEmpty(ctx, pg, memory.NewSeeded()); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		logger.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil

	case cfg.RedisAddr != "":
		backend := kv.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
		if err := backend.Ping(ctx); err != nil {
			_ = backend.Close()
			return nil, nil, fmt.Errorf("redis unavailable and REDIS_ADDR is set: %w", err)
		}
		repo := kv.New(backend)
		if err := seedIfEmpty(ctx, repo, memory.NewSeeded()); err != nil {
			_ = backend.Close()
			return nil, nil, err
		}
		logger.Info("repository: redis")
		return repo, []func() error{backend.Close}, nil

	default:
		logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

type seedTarget interface {
	store.Repository
	PutProduct(ctx context.Context, p domain.Product) error
	PutServiceOrder(ctx context.Context, o domain.ServiceOrder) error
}

// seedIfEmpty copies the demo catalog, service orders and users into a fresh
// durable store. A store that already has products is left untouched.
func seedIfEmpty(ctx context.Context, dst seedTarget, src *memory.Store) error {
	existing, err := dst.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("seed: list products: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	products, _ := src.ListProducts(ctx)
	for _, p := range products {
		if err := dst.PutProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	orders, _ := src.ListServiceOrders(ctx)
	for _, o := range orders {
		if err := dst.PutServiceOrder(ctx, o); err != nil {
			return fmt.Errorf("seed service order %s: %w", o.ID, err)
		}
	}
	users, _ := src.ListUsers(ctx)
	for _, u := range users {
		if err := dst.CreateUser(ctx, u); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
