package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/minhpham/flashsale/internal/adapter/event"
	"github.com/minhpham/flashsale/internal/adapter/handler"
	"github.com/minhpham/flashsale/internal/adapter/payment"
	"github.com/minhpham/flashsale/internal/adapter/storage"
	"github.com/minhpham/flashsale/internal/config"
	"github.com/minhpham/flashsale/internal/core/domain"
	"github.com/minhpham/flashsale/internal/core/service"
	"github.com/minhpham/flashsale/internal/metrics"
	"github.com/minhpham/flashsale/internal/port"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis holds the sale window for both modes and the stock ledger for
	// instant sales.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping mysql")
	}
	logger.Info().Msg("connected to mysql")

	ledger := storage.NewRedisLedger(rdb)
	store := storage.NewMySQLStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	var publisher port.PurchasePublisher = event.NoopPublisher{}
	var kafkaPublisher *event.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher = event.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = kafkaPublisher
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka publisher enabled")
	}

	var gateway port.PaymentGateway
	if cfg.PaymentURL != "" {
		gateway = payment.NewHTTPGateway(cfg.PaymentURL)
	} else {
		gateway = payment.NewStubGateway()
		logger.Warn().Msg("no payment gateway configured, using stub")
	}

	clock := service.NewSystemClock()

	var (
		strategy service.ClaimStrategy
		instant  *service.InstantStrategy
	)
	switch cfg.SaleMode {
	case config.ModeReserve:
		strategy = service.NewReserveStrategy(store, store, gateway, clock, logger, cfg.ReservationTTL)
	default:
		instant = service.NewInstantStrategy(ledger, clock, logger, cfg.QueueSize)
		strategy = instant
	}

	purchaseService := service.NewPurchaseService(ledger, strategy, publisher, clock, logger, cfg.ItemID)

	var wg sync.WaitGroup

	// Instant mode: drain claims into MySQL through the worker pool and
	// announce them downstream.
	if instant != nil {
		for i := 0; i < cfg.WorkerCount; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				persistWorker(id, instant.Records(), store, publisher, logger)
			}(i)
		}
		logger.Info().Int("workers", cfg.WorkerCount).Msg("persistence workers started")
	}

	// Reserve mode: sweep overdue reservations. Liveness checks are
	// expiry-aware regardless, so the sweep is bookkeeping, not correctness.
	if cfg.SaleMode == config.ModeReserve {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweepLoop(ctx, store, cfg.SweepInterval, logger)
		}()
	}

	httpHandler := handler.NewHTTPHandler(purchaseService)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", httpHandler.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/sale/status", httpHandler.Status)
	mux.HandleFunc("POST /api/sale/init", httpHandler.InitSale)
	mux.HandleFunc("POST /api/sale/reset", httpHandler.Reset)

	switch cfg.SaleMode {
	case config.ModeReserve:
		mux.HandleFunc("POST /api/sale/reserve", httpHandler.Reserve)
		mux.HandleFunc("POST /api/sale/confirm", httpHandler.Confirm)
		mux.HandleFunc("POST /api/sale/cancel-reservation", httpHandler.CancelReservation)
		mux.HandleFunc("GET /api/sale/check/{userId}", httpHandler.UserStatus)
	default:
		mux.HandleFunc("POST /api/sale/purchase", httpHandler.Purchase)
		mux.HandleFunc("GET /api/sale/user/{userId}", httpHandler.UserStatus)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("mode", cfg.SaleMode).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info().Msg("HTTP server stopped")

	cancel()
	if instant != nil {
		instant.Close()
	}
	wg.Wait()
	logger.Info().Msg("workers stopped")

	if kafkaPublisher != nil {
		kafkaPublisher.Close()
	}
	rdb.Close()
	db.Close()
	logger.Info().Msg("connections closed")
}

// persistWorker mirrors claims into the durable purchase store. The ledger
// claim is authoritative, so failures are retried rather than rolled back; a
// duplicate row means another worker already landed it.
func persistWorker(id int, records <-chan domain.PurchaseRecord, store port.PurchaseStore, publisher port.PurchasePublisher, logger zerolog.Logger) {
	for rec := range records {
		ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)

		var err error
		for attempt := 0; attempt < 3; attempt++ {
			err = store.CreatePurchase(ctx, rec)
			if err == nil || errors.Is(err, domain.ErrAlreadyPurchased) {
				err = nil
				break
			}
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}

		if err != nil {
			metrics.PersistFailures.Inc()
			logger.Error().Err(err).
				Int("worker", id).
				Str("user_id", rec.UserID).
				Msg("failed to persist purchase")
		} else {
			if pubErr := publisher.PublishPurchase(ctx, rec); pubErr != nil {
				logger.Error().Err(pubErr).Str("user_id", rec.UserID).Msg("failed to publish purchase event")
			}
		}

		cancelFn()
	}
}

func sweepLoop(ctx context.Context, store port.ReservationStore, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			swept, err := store.ExpireOverdue(ctx, now.UTC())
			if err != nil {
				logger.Error().Err(err).Msg("reservation sweep failed")
				continue
			}
			if swept > 0 {
				metrics.ReservationEvents.WithLabelValues("expired").Add(float64(swept))
				logger.Info().Int64("count", swept).Msg("expired overdue reservations")
			}
		}
	}
}
