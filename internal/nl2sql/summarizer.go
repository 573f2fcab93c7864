package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/renjiajia-patsnap/llmdemo/internal/apperr"
)

type Summarizer struct {
	completer Completer
}

func NewSummarizer(completer Completer) (*Summarizer, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	return &Summarizer{completer: completer}, nil
}

// Summarize turns query rows into a short Chinese answer to question.
func (s *Summarizer) Summarize(ctx context.Context, question, sql string, rows []map[string]any) (string, error) {
	response, err := s.completer.Complete(ctx, SummaryPrompt(question, sql, rows))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInference, "nl2sql.summarize", "summarization failed", err)
	}
	answer := strings.TrimSpace(response)
	if answer == "" {
		return "", apperr.New(apperr.KindInference, "nl2sql.summarize", "model returned an empty summary")
	}
	return answer, nil
}
