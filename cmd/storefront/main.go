package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/macstore/internal/cache"
	"github.com/fjod/macstore/internal/config"
	"github.com/fjod/macstore/internal/gateway/webpay"
	storegrpc "github.com/fjod/macstore/internal/grpc"
	h "github.com/fjod/macstore/internal/http"
	"github.com/fjod/macstore/internal/logger"
	"github.com/fjod/macstore/internal/notify"
	"github.com/fjod/macstore/internal/publisher"
	"github.com/fjod/macstore/internal/repository"
	"github.com/fjod/macstore/internal/service"
	"github.com/fjod/macstore/internal/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		slog.Error("storefront exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("storefront starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MongoDB cart slots
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()

	cartRepo := repository.NewMongoRepository(mongoDB)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}
	log.Info("connected to MongoDB", "db", cfg.MongoDBName)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// cache misses fall back to MongoDB
		log.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	}

	// Postgres payment ledger and outbox
	paymentRepo, err := repository.NewPostgresRepository(&cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer paymentRepo.Close()

	if err := paymentRepo.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed")

	writer := publisher.NewKafkaWriter(cfg.KafkaTopic, cfg.KafkaBrokers...)
	poller := publisher.NewOutboxPoller(paymentRepo, writer, log.With("component", "outbox"))
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(ctx)
	}()

	sessions := store.NewMemoryStore(cfg.CheckoutSessionTTL)
	defer sessions.Close()

	notifier := notify.ContextNotifier{}
	gateway := webpay.NewClient(cfg.Webpay, log.With("component", "webpay"))

	cartService := service.NewCartService(cartRepo, cache.NewRedisCache(redisClient), notifier, log.With("component", "cart"))
	paymentService := service.NewPaymentService(gateway, paymentRepo, notifier, cfg.ReturnURL(), log.With("component", "payment"))
	checkoutService := service.NewCheckoutService(sessions, cartService, paymentService, paymentRepo, notifier, log.With("component", "checkout"))
	flow := service.NewConfirmationFlow(paymentService, cartService, notifier, log.With("component", "confirmation"))

	limiter := h.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Close()

	router := h.NewRouter(h.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		JWTSecret:          []byte(cfg.AuthJWTSecret),
		Limiter:            limiter,
		Ready:              paymentRepo.PingContext,
	}, h.Handlers{
		Cart:     h.NewCartHandler(cartService, cfg.RequestTimeout),
		Checkout: h.NewCheckoutHandler(checkoutService, cfg.RequestTimeout),
		Webpay:   h.NewWebpayHandler(paymentService, flow, cfg.RequestTimeout),
		Pages:    h.NewPageHandler(flow, paymentService, gateway.BaseURL(), cfg.RequestTimeout, log.With("component", "pages")),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	healthServer := storegrpc.NewHealthServer(map[string]storegrpc.Check{
		"storefront.cart": func(ctx context.Context) error {
			return mongoDB.Client().Ping(ctx, nil)
		},
		"storefront.payments": paymentRepo.PingContext,
	}, log.With("component", "health"))

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info("gRPC health server listening", "port", cfg.GRPCPort)
		if err := healthServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server failed", "error", err)
	}
	stop()

	log.Info("shutting down storefront...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	healthServer.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	<-pollerDone
	if err := poller.Close(); err != nil {
		log.Warn("failed to close kafka writer", "error", err)
	}

	log.Info("storefront stopped")
	return nil
}
