package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"pocketexpense/internal/config"
	"pocketexpense/internal/export"
	"pocketexpense/internal/stats"
	"pocketexpense/internal/storage"
)

// pocket-report computes one user's monthly report from the server database
// and appends it to the configured Google Sheets spreadsheet.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	now := time.Now()
	email := flag.String("email", "", "account email to report on")
	month := flag.Int("month", int(now.Month()), "report month (1-12)")
	year := flag.Int("year", now.Year(), "report year")
	flag.Parse()

	if *email == "" {
		logger.Error("Missing required -email flag")
		os.Exit(2)
	}
	if *month < 1 || *month > 12 {
		logger.Error("Invalid month", "month", *month)
		os.Exit(2)
	}

	cfg := config.Load()
	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID must be set")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()

	user, err := repo.GetUserByEmail(ctx, *email)
	if err != nil {
		logger.Error("Failed to look up user", "error", err, "email", *email)
		os.Exit(1)
	}

	engine := stats.NewEngine(repo, repo)
	monthly, err := engine.Monthly(ctx, user.ID, *year, *month)
	if err != nil {
		logger.Error("Failed to compute monthly report", "error", err)
		os.Exit(1)
	}
	budgets, err := engine.BudgetStatuses(ctx, user.ID, *month, *year)
	if err != nil {
		logger.Error("Failed to compute budget standings", "error", err)
		os.Exit(1)
	}

	sheets, err := export.NewSheetsClient(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}

	ref, err := sheets.AppendMonthlyReport(ctx, monthly, budgets)
	if err != nil {
		logger.Error("Failed to export report", "error", err)
		os.Exit(1)
	}

	logger.Info("Report exported",
		"email", *email,
		"year", *year,
		"month", *month,
		"total_cents", monthly.Total.Cents,
		"range", ref)
}
