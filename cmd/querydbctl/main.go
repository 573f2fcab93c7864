package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/renjiajia-patsnap/llmdemo/internal/cli/querydbctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	baseURL := os.Getenv("QUERYDB_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	timeout := 2 * time.Minute
	if raw := os.Getenv("QUERYDB_CLI_TIMEOUT"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ignoring QUERYDB_CLI_TIMEOUT %q: %v\n", raw, err)
		} else {
			timeout = parsed
		}
	}

	os.Exit(querydbctl.Run(ctx, os.Args[1:], querydbctl.Options{
		BaseURL:     baseURL,
		APIKey:      os.Getenv("QUERYDB_API_KEY"),
		BearerToken: os.Getenv("QUERYDB_API_TOKEN"),
		Timeout:     timeout,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}))
}
