package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/renjiajia-patsnap/llmdemo/internal/apperr"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
)

type GeneratedSQL struct {
	SQL    string   `json:"sql"`
	Tables []string `json:"tables"`
}

type SQLGenerator struct {
	completer Completer
}

func NewSQLGenerator(completer Completer) (*SQLGenerator, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	return &SQLGenerator{completer: completer}, nil
}

// Generate writes a single read query for intent over the given tables.
// When the model emits several statements only the last one is kept.
func (g *SQLGenerator) Generate(ctx context.Context, intent IntentResult, details []catalog.TableDetail) (GeneratedSQL, error) {
	description := strings.TrimSpace(intent.Intent)
	if description == "" {
		description = intent.OriginalQuestion
	}

	response, err := g.completer.Complete(ctx, SQLPrompt(description, details))
	if err != nil {
		return GeneratedSQL{}, apperr.Wrap(apperr.KindInference, "nl2sql.generate_sql", "sql generation failed", err)
	}
	decoded := DecodeObject(response)
	if !decoded.OK() {
		return GeneratedSQL{}, apperr.New(apperr.KindParse, "nl2sql.generate_sql", "model response is not a JSON object")
	}
	sql := ExtractSQL(decoded.String("sql"))
	if sql == "" {
		return GeneratedSQL{}, apperr.New(apperr.KindParse, "nl2sql.generate_sql", "model returned no sql")
	}
	if strings.Contains(strings.ToLower(normalizeJSON(sql)), unknownAnswer) {
		return GeneratedSQL{}, apperr.New(apperr.KindParse, "nl2sql.generate_sql", "question is unrelated to the available tables")
	}

	tables := intent.Tables
	if len(tables) == 0 {
		tables = tableNames(details)
	}
	return GeneratedSQL{SQL: sql, Tables: tables}, nil
}

func (g *SQLGenerator) Translate(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.NaturalLanguage)
	if question == "" {
		return Result{}, apperr.New(apperr.KindInvalidInput, "nl2sql.translate", "natural_language is required")
	}
	intent := req.Intent
	if strings.TrimSpace(intent) == "" {
		intent = question
	}
	generated, err := g.Generate(ctx, IntentResult{
		Intent:           intent,
		OriginalQuestion: question,
		Tables:           tableNames(req.Tables),
	}, req.Tables)
	if err != nil {
		return Result{}, err
	}

	result := Result{SQL: generated.SQL, Tables: generated.Tables}
	if describer, ok := g.completer.(Describer); ok {
		result.Provider = describer.Provider()
		result.Model = describer.Model()
	}
	return result, nil
}

func tableNames(details []catalog.TableDetail) []string {
	names := make([]string, 0, len(details))
	for _, detail := range details {
		names = append(names, detail.Name)
	}
	return names
}
