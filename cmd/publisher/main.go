package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pressroom/internal/automation"
	"pressroom/internal/docstore"
	"pressroom/internal/domain"
	"pressroom/internal/infra"
	"pressroom/internal/notify"
	"pressroom/internal/orchestrator"
	"pressroom/internal/publish"
	"pressroom/internal/quota"
)

// manifest is the batch selection handed to one publisher invocation.
// Content selection itself happens upstream; the runner only executes.
type manifest struct {
	UserID   string               `json:"user_id"`
	Profiles []string             `json:"profiles"`
	Items    []domain.ContentItem `json:"items"`
}

func main() {
	var manifestPath string
	flag.StringVar(&manifestPath, "manifest", "", "path to the batch manifest JSON")
	flag.Parse()

	if manifestPath == "" {
		exitWithError(errors.New("-manifest is required"))
	}

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "publisher")

	m, err := loadManifest(manifestPath)
	if err != nil {
		exitWithError(err)
	}

	// SIGINT/SIGTERM cancels the batch between pairs; pairs already in
	// flight commit before the run stops.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("publisher: db connection failed")
	}
	defer pool.Close()

	docs := docstore.NewPostgres(pool, logger)
	if err := docs.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("publisher: failed to ensure schema")
	}

	plans, err := quota.LoadPlanLimits(cfg.PlanLimitsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("publisher: failed to load plan limits")
	}

	var notifier notify.Notifier
	pgNotifier, err := notify.NewPostgres(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("publisher: progress notifier unavailable, logging progress instead")
		notifier = notify.LogNotifier{Logger: logger}
	} else {
		defer pgNotifier.Close()
		notifier = pgNotifier
	}

	runner := orchestrator.New(orchestrator.Options{
		Quota: quota.NewLedger(quota.Options{
			Store:    docs,
			Plans:    plans,
			CacheTTL: cfg.QuotaCacheTTL,
			Logger:   logger,
		}),
		State: automation.NewStore(automation.Options{
			Docs:           docs,
			LivenessWindow: cfg.ClaimLivenessWindow,
			Logger:         logger,
		}),
		Target: publish.NewHTTPTarget(publish.Options{
			Timeout:    cfg.PublishTimeout,
			MaxRetries: cfg.PublishMaxRetries,
			Logger:     logger,
		}),
		Notifier:    notifier,
		Docs:        docs,
		Logger:      logger,
		Concurrency: cfg.BatchConcurrency,
		Channel:     cfg.ProgressChannel,
	})

	result, err := runner.RunBatch(ctx, m.UserID, m.Items, m.Profiles)
	if err != nil {
		logger.Fatal().Err(err).Msg("publisher: batch failed to start")
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		exitWithError(err)
	}
	fmt.Println(string(out))

	if result.Cancelled {
		os.Exit(2)
	}
}

func loadManifest(path string) (*manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m := &manifest{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.UserID == "" {
		return nil, errors.New("manifest: user_id is required")
	}
	if len(m.Items) == 0 || len(m.Profiles) == 0 {
		return nil, errors.New("manifest: items and profiles must be non-empty")
	}
	return m, nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
