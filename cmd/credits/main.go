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

	"mediaforge/internal/adapter/repo"
)

// credits is an operational tool: grant credits to a user or inspect their
// balance.
func main() {
	var (
		userFlag    string
		grantFlag   int
		balanceFlag bool
		historyFlag int
	)

	flag.StringVar(&userFlag, "user", "", "user ID to operate on")
	flag.IntVar(&grantFlag, "grant", 0, "credits to grant (top-up)")
	flag.BoolVar(&balanceFlag, "balance", false, "print the user's current balance")
	flag.IntVar(&historyFlag, "history", 0, "print the user's most recent ledger entries")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if grantFlag <= 0 && !balanceFlag && historyFlag <= 0 {
		exitWithError(errors.New("one of -grant, -balance or -history must be provided"))
	}

	_ = godotenv.Load()
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("connect database: %w", err))
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		exitWithError(err)
	}
	ledger := repo.NewLedgerRepository(pool)

	if grantFlag > 0 {
		if err := ledger.TopUp(ctx, userID, grantFlag); err != nil {
			exitWithError(fmt.Errorf("top up: %w", err))
		}
		fmt.Printf("granted %d credits to %s\n", grantFlag, userID)
	}

	balance, err := ledger.Balance(ctx, userID)
	if err != nil {
		exitWithError(fmt.Errorf("read balance: %w", err))
	}
	fmt.Printf("balance for %s: %d credits\n", userID, balance)

	if historyFlag > 0 {
		entries, err := ledger.ListTransactions(ctx, userID, historyFlag)
		if err != nil {
			exitWithError(fmt.Errorf("read ledger: %w", err))
		}
		for _, e := range entries {
			job := e.JobID
			if job == "" {
				job = "-"
			}
			fmt.Printf("%s  %-7s %+6d  job=%s\n", e.CreatedAt.Format(time.RFC3339), e.Type, e.Amount, job)
		}
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
