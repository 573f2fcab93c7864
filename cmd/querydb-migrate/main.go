package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/renjiajia-patsnap/llmdemo/internal/config"
	"github.com/renjiajia-patsnap/llmdemo/internal/migrations"
	"github.com/renjiajia-patsnap/llmdemo/internal/observability"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair/sqlstore"
)

func main() {
	direction := flag.String("direction", "up", "up, down or status")
	steps := flag.Int("steps", 0, "migrations to apply or roll back; 0 means all pending for up and one for down")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	cfg, err := config.LoadFromEnv("querydb-migrate")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, *direction, *steps, os.Stdout, logger); err != nil {
		logger.Error("migration failed", slog.String("direction", *direction), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, direction string, steps int, out io.Writer, logger *slog.Logger) error {
	if cfg.Store.DSN == "" {
		return fmt.Errorf("QUERYDB_STORE_DSN is required")
	}
	db, err := sqlstore.Open(ctx, sqlstore.DBConfig{DSN: cfg.Store.DSN})
	if err != nil {
		return fmt.Errorf("open qa store: %w", err)
	}
	defer func() { _ = db.Close() }()

	driver, _ := sqlstore.DriverFor(cfg.Store.DSN)
	runner := migrations.NewRunner()
	switch direction {
	case "up":
		n, err := runner.Up(ctx, db, steps)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", slog.Int("count", n), slog.String("driver", driver))
	case "down":
		n, err := runner.Down(ctx, db, steps)
		if err != nil {
			return err
		}
		logger.Info("migrations rolled back", slog.Int("count", n), slog.String("driver", driver))
	case "status":
		statuses, err := runner.Status(ctx, db)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			_, _ = fmt.Fprintf(out, "%04d  %-20s  %s\n", s.Version, s.Name, state)
		}
	default:
		return fmt.Errorf("unknown direction %q", direction)
	}
	return nil
}
