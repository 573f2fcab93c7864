package nl2sql

import (
	"context"

	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
)

// Completer sends a single prompt to a language model and returns its text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Request struct {
	NaturalLanguage string                `json:"natural_language"`
	Intent          string                `json:"intent,omitempty"`
	Tables          []catalog.TableDetail `json:"tables"`
}

type Result struct {
	SQL      string   `json:"sql"`
	Tables   []string `json:"tables"`
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// Describer is implemented by completers that can report which backend
// and model served a prompt.
type Describer interface {
	Provider() string
	Model() string
}
