package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pressroom/internal/docstore"
	"pressroom/internal/http/handlers"
	"pressroom/internal/http/httpapi"
	"pressroom/internal/infra"
	"pressroom/internal/quota"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	docs := docstore.NewPostgres(dbpool, logger)
	if err := docs.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	plans, err := quota.LoadPlanLimits(cfg.PlanLimitsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load plan limits")
	}
	ledger := quota.NewLedger(quota.Options{
		Store:    docs,
		Plans:    plans,
		CacheTTL: cfg.QuotaCacheTTL,
		Logger:   logger,
	})

	app := handlers.NewApp(ledger, docs, logger)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
