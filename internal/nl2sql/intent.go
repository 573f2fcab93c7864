package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/renjiajia-patsnap/llmdemo/internal/apperr"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
)

type IntentResult struct {
	Intent           string   `json:"intent"`
	Tables           []string `json:"tables"`
	OriginalQuestion string   `json:"original_question"`
	Confidence       float64  `json:"confidence,omitempty"`
	Complexity       string   `json:"complexity,omitempty"`
	Error            string   `json:"error,omitempty"`
}

type IntentAnalyzer struct {
	completer Completer
}

func NewIntentAnalyzer(completer Completer) (*IntentAnalyzer, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	return &IntentAnalyzer{completer: completer}, nil
}

// Analyze asks the model which tables the question needs. An unreadable
// model response is reported in IntentResult.Error rather than as an error;
// only a failed inference call returns one.
func (a *IntentAnalyzer) Analyze(ctx context.Context, question string, tables []catalog.TableDescriptor) (IntentResult, error) {
	result := IntentResult{OriginalQuestion: question, Tables: []string{}}

	response, err := a.completer.Complete(ctx, IntentPrompt(question, tables))
	if err != nil {
		return result, apperr.Wrap(apperr.KindInference, "nl2sql.analyze_intent", "intent analysis failed", err)
	}
	decoded := DecodeObject(response)
	if !decoded.OK() {
		result.Error = decoded.Err
		return result, nil
	}

	result.Intent = decoded.String("intent")
	result.Tables = knownTables(decoded.Strings("tables"), tables)
	result.Confidence = decoded.Float("confidence")
	result.Complexity = decoded.String("complexity")
	return result, nil
}

// knownTables keeps the model's table picks that exist in the listing,
// spelled as the listing spells them. With no listing every pick is kept.
func knownTables(picked []string, listing []catalog.TableDescriptor) []string {
	if len(listing) == 0 {
		return picked
	}
	canonical := make(map[string]string, len(listing))
	for _, table := range listing {
		canonical[strings.ToLower(table.Name)] = table.Name
	}
	out := make([]string, 0, len(picked))
	seen := map[string]struct{}{}
	for _, name := range picked {
		name, ok := canonical[strings.ToLower(strings.Trim(name, "` "))]
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
