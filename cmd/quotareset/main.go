package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"pressroom/internal/docstore"
	"pressroom/internal/infra"
	"pressroom/internal/quota"
)

// quotareset is the monthly housekeeping sweep: it rolls every elapsed
// quota period forward so dashboards show fresh numbers immediately.
// Lazy rollover on the read path keeps the system correct without it.
func main() {
	var (
		dryRunFlag bool
		userFlag   string
	)
	flag.BoolVar(&dryRunFlag, "dry-run", false, "report intended resets without writing")
	flag.StringVar(&userFlag, "user", "", "reset a single user instead of sweeping")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", "quotareset")
	docs := docstore.NewPostgres(pool, logger)
	ledger := quota.NewLedger(quota.Options{Store: docs, Logger: logger})

	if userFlag != "" {
		if dryRunFlag {
			fmt.Printf("would reset user %s\n", userFlag)
			return
		}
		if err := ledger.ResetPeriod(ctx, strings.TrimSpace(userFlag)); err != nil {
			exitWithError(fmt.Errorf("failed to reset user %s: %w", userFlag, err))
		}
		fmt.Printf("reset user %s\n", userFlag)
		return
	}

	swept, err := ledger.SweepExpired(ctx, dryRunFlag)
	if err != nil {
		exitWithError(fmt.Errorf("sweep failed after %d users: %w", len(swept), err))
	}

	verb := "reset"
	if dryRunFlag {
		verb = "would reset"
	}
	fmt.Printf("%s %d users\n", verb, len(swept))
	for _, userID := range swept {
		fmt.Println(userID)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
