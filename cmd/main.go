package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/go_cart/shop-service/internal/cart"
	"github.com/fjod/go_cart/shop-service/internal/config"
	"github.com/fjod/go_cart/shop-service/internal/events"
	h "github.com/fjod/go_cart/shop-service/internal/http"
	"github.com/fjod/go_cart/shop-service/internal/messaging"
	"github.com/fjod/go_cart/shop-service/internal/notify"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"github.com/fjod/go_cart/shop-service/internal/service"
	"github.com/fjod/go_cart/shop-service/pkg/circuitbreaker"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.App.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Fatal("shop-service stopped with error", logger.Error(err))
	}
	appLogger.Info("shop-service stopped")
}

func run(cfg *config.Config, appLogger logger.Logger) error {
	appLogger.Info("shop-service starting",
		logger.String("env", cfg.App.Env),
		logger.String("push_channel", cfg.Notify.PushChannel),
		logger.String("notify_state", cfg.Notify.State))

	// Database setup
	creds := &repository.Credentials{
		Host:              cfg.DB.Host,
		Port:              cfg.DB.Port,
		User:              cfg.DB.User,
		Password:          cfg.DB.Password,
		DBName:            cfg.DB.DBName,
		SSLMode:           cfg.DB.SSLMode,
		MigrationsDirPath: cfg.DB.MigrationsDir,
		MaxOpenConns:      cfg.DB.MaxOpenConns,
		MaxIdleConns:      cfg.DB.MaxIdleConns,
	}
	repo, err := repository.NewRepository(creds, appLogger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	appLogger.Info("database migrations completed")

	breaker := circuitbreaker.New("order-store", circuitbreaker.Options{
		ConsecutiveFailures: uint32(cfg.DB.BreakerFailures),
		OpenTimeout:         cfg.DB.BreakerOpenPeriod,
		IsSuccessful:        repository.IsStoreAnswer,
	}, appLogger)
	store := repository.NewBreakerStore(repo, breaker)

	// Redis setup
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	composer, err := messaging.NewComposer(cfg.Checkout.ShopName)
	if err != nil {
		return fmt.Errorf("load message templates: %w", err)
	}

	var serviceOpts []service.Option
	if cfg.Checkout.StrictTransitions {
		serviceOpts = append(serviceOpts, service.WithStrictTransitions())
	}
	orderService := service.NewOrderService(store, composer, appLogger, serviceOpts...)
	sessions := cart.NewSessions(cart.NewRedisPersister(redisClient, cfg.Redis.CartTTL), appLogger,
		cart.WithIdleTTL(cfg.Redis.CartTTL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Outbox relay feeds the kafka push channel
	if cfg.Notify.PushChannel == config.PushChannelKafka {
		publisher := events.NewOutboxPublisher(repo, cfg.Kafka.OrderTopic, cfg.Kafka.OutboxTick, appLogger, cfg.Kafka.Brokers...)
		g.Go(func() error {
			publisher.Run(gctx)
			return publisher.Close()
		})
	}

	var reconciler *notify.Reconciler
	if cfg.Notify.Enabled {
		var closeState func()
		reconciler, closeState, err = newReconciler(cfg, creds, store, redisClient, appLogger)
		if err != nil {
			return err
		}
		defer closeState()
		if err := reconciler.Start(gctx); err != nil {
			return fmt.Errorf("start order notifications: %w", err)
		}
		defer reconciler.Stop()
	}

	handlers := h.Handlers{
		Cart:     h.NewCartHandler(sessions),
		Checkout: h.NewCheckoutHandler(orderService, sessions, cfg.HTTP.RequestTimeout, appLogger),
		Orders:   h.NewOrdersHandler(orderService, nil, cfg.HTTP.RequestTimeout, appLogger),
	}
	if reconciler != nil {
		handlers.Orders = h.NewOrdersHandler(orderService, reconciler, cfg.HTTP.RequestTimeout, appLogger)
		handlers.Notifications = h.NewNotificationsHandler(reconciler)
	}

	router := h.NewRouter(handlers, h.RouterConfig{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxRequestBodySize,
		Health: func(r *http.Request) error {
			if err := repo.Ping(r.Context()); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	}, appLogger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      otelhttp.NewHandler(router, cfg.App.Name),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		appLogger.Info("http server listening", logger.String("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newReconciler(cfg *config.Config, creds *repository.Credentials, store repository.OrderStore,
	redisClient *redis.Client, appLogger logger.Logger) (*notify.Reconciler, func(), error) {
	closeState := func() {}
	opts := []notify.Option{
		notify.WithLogger(appLogger.WithFields(logger.String("operator_id", cfg.Notify.OperatorID))),
		notify.WithIntervals(cfg.Notify.PollInterval, cfg.Notify.ReminderInterval, cfg.Notify.SnoozeDuration),
		notify.WithOrdersRoute(cfg.Notify.OrdersRoute),
		notify.WithSounder(notify.NewBellSounder(bellOutput())),
	}

	switch cfg.Notify.PushChannel {
	case config.PushChannelPostgres:
		opts = append(opts, notify.WithPush(repository.NewListener(creds, store, appLogger)))
	case config.PushChannelKafka:
		opts = append(opts, notify.WithPush(events.NewKafkaSubscriber(
			cfg.Kafka.OrderTopic, cfg.Kafka.ConsumerGroup, appLogger, cfg.Kafka.Brokers...)))
	}

	switch cfg.Notify.State {
	case config.StateRedis:
		opts = append(opts, notify.WithStateStore(notify.NewRedisState(redisClient, cfg.Notify.OperatorID)))
	case config.StateSQLite:
		state, err := notify.OpenSQLiteState(cfg.Notify.SQLitePath, cfg.Notify.OperatorID)
		if err != nil {
			return nil, nil, fmt.Errorf("open notification state: %w", err)
		}
		closeState = func() { _ = state.Close() }
		opts = append(opts, notify.WithStateStore(state))
	}

	if cfg.Notify.WebhookURL != "" {
		opts = append(opts, notify.WithNotifier(notify.NewWebhookNotifier(cfg.Notify.WebhookURL)))
	}

	return notify.NewReconciler(store, opts...), closeState, nil
}

// bellOutput rings the terminal when one is attached.
func bellOutput() io.Writer {
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		return os.Stderr
	}
	return io.Discard
}
