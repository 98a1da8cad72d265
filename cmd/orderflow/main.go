// Package main запускает HTTP-сервер сервиса заказов.
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/orderflow/internal/config"
	"github.com/mmeshcher/orderflow/internal/handler"
	"github.com/mmeshcher/orderflow/internal/middleware"
	"github.com/mmeshcher/orderflow/internal/notify"
	"github.com/mmeshcher/orderflow/internal/payment"
	"github.com/mmeshcher/orderflow/internal/repository"
	"github.com/mmeshcher/orderflow/internal/service"
)

// readiness проверяет базу данных и, если настроен, брокер уведомлений.
type readiness struct {
	repo   *repository.PostgresRepository
	broker *notify.AMQPSink
}

func (r readiness) Ping(ctx context.Context) error {
	if err := r.repo.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if r.broker != nil {
		if err := r.broker.Ping(); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
	}
	return nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var sink notify.Sink = notify.NewLogSink(logger)
	var broker *notify.AMQPSink
	if cfg.AMQPURL != "" {
		broker, err = notify.DialAMQP(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			sugar.Fatalw("broker initialization error", "error", err.Error())
		}
		defer broker.Close()
		sink = broker
	}

	gateways, err := payment.NewResolver(repo,
		payment.NewStripeProvider(cfg.StripeAPIURL, cfg.ProviderTimeout),
		payment.NewMercadoPagoProvider(cfg.MercadoPagoAPIURL, cfg.ProviderTimeout),
	)
	if err != nil {
		sugar.Fatalw("payment providers initialization error", "error", err.Error())
	}

	svc := service.NewService(repo, repo, gateways, sink, logger, service.Options{
		Currency:        cfg.Currency,
		PixExpiration:   cfg.PixExpiration,
		ProviderTimeout: cfg.ProviderTimeout,
		NotifyTimeout:   cfg.NotifyTimeout,
		CatalogTimeout:  cfg.CatalogTimeout,
	})
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, issued tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, handler.Options{
		AutoConfirmPaidOrders: cfg.AutoConfirmPaidOrders,
		Health:                readiness{repo: repo, broker: broker},
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Сверка незавершённых платежей с провайдерами
	g.Go(func() error {
		svc.StartPaymentSync(ctx, cfg.PaymentSyncInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting orderflow server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
