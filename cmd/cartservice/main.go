// Package main запускает HTTP-сервер сервиса корзины.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mariko-app/cart-system/internal/config"
	"github.com/mariko-app/cart-system/internal/handler"
	"github.com/mariko-app/cart-system/internal/iiko"
	"github.com/mariko-app/cart-system/internal/middleware"
	"github.com/mariko-app/cart-system/internal/repository"
	"github.com/mariko-app/cart-system/internal/service"
	"github.com/mariko-app/cart-system/internal/yookassa"
)

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
	defer repo.Close()

	posClient := iiko.NewClient(iiko.Options{
		BaseURL:  cfg.IikoBaseURL,
		Timeout:  cfg.IikoTimeout,
		TokenTTL: cfg.IikoTokenTTL,
	})
	paymentClient := yookassa.NewClient(cfg.YooKassaBaseURL)

	svc := service.NewService(repo, posClient, paymentClient, logger, cfg.MaxOrdersLimit)
	defer svc.Close()

	identity := middleware.NewIdentityMiddleware(cfg.TelegramBotToken)
	h := handler.NewHandler(svc, logger, identity)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой отправки заказов в POS
	g.Go(func() error {
		svc.StartDispatchWorker(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting cart server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
