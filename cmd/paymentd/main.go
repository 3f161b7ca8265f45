// Package main запускает HTTP-сервер платёжного сервиса.
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

	"github.com/mmeshcher/storefront-payments/internal/config"
	"github.com/mmeshcher/storefront-payments/internal/handler"
	"github.com/mmeshcher/storefront-payments/internal/middleware"
	"github.com/mmeshcher/storefront-payments/internal/qrgateway"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/service"
	"github.com/mmeshcher/storefront-payments/internal/slipok"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, all bearer tokens will be rejected")
	}
	if cfg.QRGatewayAddress == "" || cfg.QRGatewayAPIKey == "" || cfg.QRGatewaySecretKey == "" {
		sugar.Warn("QR gateway is not configured, deposit endpoints will fail")
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	gateway := qrgateway.NewClient(qrgateway.Config{
		BaseURL:   cfg.QRGatewayAddress,
		APIKey:    cfg.QRGatewayAPIKey,
		SecretKey: cfg.QRGatewaySecretKey,
		PartnerID: cfg.QRGatewayPartnerID,
		Timeout:   cfg.ProviderTimeout,
	})
	slips := slipok.NewClient(cfg.SlipAPIAddress, cfg.ProviderTimeout)

	svc := service.NewService(repo, slips, gateway, logger, cfg.SlipProvider)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	scope := func(userID string) service.OrderScope { return repo.ForUser(userID) }
	h := handler.NewHandler(svc, scope, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting payment server", "addr", cfg.RunAddress, "slipProvider", cfg.SlipProvider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Завершение по сигналу или при ошибке сервера.
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		// Запас на завершение запросов, ожидающих ответа провайдера.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout+5*time.Second)
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
