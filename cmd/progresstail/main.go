package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pressroom/internal/domain"
	"pressroom/internal/infra"
	"pressroom/internal/notify"
)

// progresstail follows a progress channel and logs every event. Useful
// when watching a long publisher run from another terminal.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv, "progresstail")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("channel", cfg.ProgressChannel).Msg("tailing progress events")
	err = notify.Listen(ctx, cfg.DatabaseURL, cfg.ProgressChannel, logger, func(event domain.ProgressEvent) {
		entry := logger.Info().
			Str("stage", event.Stage).
			Str("status", event.Status).
			Int("completed", event.Completed).
			Int("total", event.Total)
		if event.ItemID != "" {
			entry = entry.Str("item_id", event.ItemID).Str("profile_id", event.ProfileID)
		}
		entry.Msg("progress")
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("listener stopped")
	}
	logger.Info().Msg("stopped")
}
