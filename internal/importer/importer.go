package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
)

// Sink receives validated pairs.
type Sink interface {
	Put(ctx context.Context, pair qapair.Pair) error
}

// Validator is the read-only SQL check applied before a pair is written.
type Validator interface {
	Validate(sql string) (bool, string)
}

type Summary struct {
	Read     int `json:"read"`
	Imported int `json:"imported"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

type Importer struct {
	Sink      Sink
	Validator Validator
	DryRun    bool
	Logger    *slog.Logger
}

// Import writes pairs to the sink one by one. A write failure is counted and
// logged; only context cancellation stops the run early.
func (i *Importer) Import(ctx context.Context, pairs []qapair.Pair) (Summary, error) {
	if i.Sink == nil && !i.DryRun {
		return Summary{}, fmt.Errorf("import sink is required")
	}
	logger := i.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	summary := Summary{Read: len(pairs)}
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if i.Validator != nil {
			if ok, reason := i.Validator.Validate(pair.SQL); !ok {
				summary.Rejected++
				logger.Warn("qa pair rejected", slog.String("question", pair.Question), slog.String("reason", reason))
				continue
			}
		}
		if i.DryRun {
			summary.Imported++
			continue
		}
		if err := i.Sink.Put(ctx, pair); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return summary, err
			}
			summary.Failed++
			logger.Error("qa pair import failed", slog.String("question", pair.Question), slog.Any("error", err))
			continue
		}
		summary.Imported++
	}
	logger.Info("qa import finished",
		slog.Int("read", summary.Read),
		slog.Int("imported", summary.Imported),
		slog.Int("rejected", summary.Rejected),
		slog.Int("failed", summary.Failed),
		slog.Bool("dry_run", i.DryRun),
	)
	return summary, nil
}

// StoreSink upserts straight into the QA store. A running api only sees
// these pairs in its matcher after a restart.
type StoreSink struct {
	Store qapair.Store
}

func (s StoreSink) Put(ctx context.Context, pair qapair.Pair) error {
	_, err := s.Store.Upsert(ctx, pair)
	return err
}

// APISink writes through PUT /v1/qa so the api indexes each pair as it
// arrives.
type APISink struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewAPISink(baseURL, apiKey string, timeout time.Duration) (*APISink, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APISink{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  strings.TrimSpace(apiKey),
		HTTP:    &http.Client{Timeout: timeout},
	}, nil
}

func (s *APISink) Put(ctx context.Context, pair qapair.Pair) error {
	raw, err := json.Marshal(map[string]string{
		"question": pair.Question,
		"sql":      pair.SQL,
		"answer":   pair.Answer,
	})
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.BaseURL+"/v1/qa", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("X-API-Key", s.APIKey)
	}

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("put qa status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
