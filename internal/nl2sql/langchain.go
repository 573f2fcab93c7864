package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

type LangchainConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// LangchainCompleter routes prompts through a langchaingo model.
type LangchainCompleter struct {
	llm         llms.Model
	provider    string
	model       string
	temperature float64
}

func NewLangchainCompleter(cfg LangchainConfig) (*LangchainCompleter, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	var (
		model llms.Model
		err   error
	)
	switch provider {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
	case "openai", "":
		provider = "openai"
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("openai api key is required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", cfg.Provider)
	}
	return NewLangchainCompleterWithModel(model, provider, cfg.Model, cfg.Temperature), nil
}

func NewLangchainCompleterWithModel(model llms.Model, provider, modelName string, temperature float64) *LangchainCompleter {
	return &LangchainCompleter{llm: model, provider: provider, model: modelName, temperature: temperature}
}

func (c *LangchainCompleter) Provider() string { return "langchain-" + c.provider }

func (c *LangchainCompleter) Model() string { return c.model }

func (c *LangchainCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return response, nil
}
