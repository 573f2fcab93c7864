package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/renjiajia-patsnap/llmdemo/internal/config"
	"github.com/renjiajia-patsnap/llmdemo/internal/importer"
	"github.com/renjiajia-patsnap/llmdemo/internal/observability"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair/sqlstore"
	"github.com/renjiajia-patsnap/llmdemo/internal/sqlguard"
)

func main() {
	file := flag.String("file", "", "CSV file with question, sql and answer columns")
	apiURL := flag.String("api-url", "", "write through this querydb API instead of the store DSN")
	apiKey := flag.String("api-key", os.Getenv("QUERYDB_API_KEY"), "API key used with -api-url (qa_curator role)")
	dryRun := flag.Bool("dry-run", false, "validate rows without writing")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv("querydb-import")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(*file)
	if err != nil {
		logger.Error("failed to open csv", slog.Any("error", err))
		os.Exit(1)
	}
	pairs, invalid, err := importer.ReadCSV(f)
	_ = f.Close()
	if err != nil {
		logger.Error("failed to read csv", slog.Any("error", err))
		os.Exit(1)
	}
	for _, rowErr := range invalid {
		logger.Warn("skipping csv row", slog.Int("line", rowErr.Line), slog.Any("error", rowErr.Err))
	}

	imp := &importer.Importer{Validator: sqlguard.New(), DryRun: *dryRun, Logger: logger}
	switch {
	case *dryRun:
	case *apiURL != "":
		sink, err := importer.NewAPISink(*apiURL, *apiKey, 30*time.Second)
		if err != nil {
			logger.Error("failed to configure api sink", slog.Any("error", err))
			os.Exit(1)
		}
		imp.Sink = sink
	default:
		db, err := sqlstore.Open(ctx, sqlstore.DBConfig{
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open qa store", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		imp.Sink = importer.StoreSink{Store: sqlstore.NewRepository(db)}
	}

	summary, err := imp.Import(ctx, pairs)
	if err != nil {
		logger.Error("import interrupted", slog.Any("error", err))
	}
	encoded, _ := json.Marshal(map[string]any{
		"read":     summary.Read,
		"imported": summary.Imported,
		"rejected": summary.Rejected,
		"failed":   summary.Failed,
		"invalid":  len(invalid),
	})
	fmt.Println(string(encoded))
	if err != nil || summary.Failed > 0 {
		os.Exit(1)
	}
}
