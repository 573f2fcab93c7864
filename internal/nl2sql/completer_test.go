package nl2sql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOpenAICompleterSendsChatRequest(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"sql\": \"SELECT 1\"}"}}]}`))
	}))
	defer srv.Close()

	completer, err := NewOpenAICompleter(OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "o3-mini", SystemPrompt: "be brief", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewOpenAICompleter() error = %v", err)
	}
	out, err := completer.Complete(context.Background(), "问题")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"sql": "SELECT 1"}` {
		t.Fatalf("Complete() = %q", out)
	}
	messages, _ := captured["messages"].([]any)
	if captured["model"] != "o3-mini" || len(messages) != 2 {
		t.Fatalf("payload = %#v", captured)
	}
	if completer.Provider() != "openai-compatible" || completer.Model() != "o3-mini" {
		t.Fatalf("Provider/Model = %s/%s", completer.Provider(), completer.Model())
	}
}

func TestOpenAICompleterSurfacesHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	completer, _ := NewOpenAICompleter(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	_, err := completer.Complete(context.Background(), "q")
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("Complete() error = %v", err)
	}
}

func TestNewOpenAICompleterValidates(t *testing.T) {
	if _, err := NewOpenAICompleter(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewOpenAICompleter(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestLangchainCompleterOverOpenAIProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"共有 42 个用户。"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`))
	}))
	defer srv.Close()

	completer, err := NewLangchainCompleter(LangchainConfig{Provider: "openai", BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewLangchainCompleter() error = %v", err)
	}
	out, err := completer.Complete(context.Background(), "总结")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != "共有 42 个用户。" {
		t.Fatalf("Complete() = %q", out)
	}
	if completer.Provider() != "langchain-openai" {
		t.Fatalf("Provider() = %q", completer.Provider())
	}
}

func TestNewLangchainCompleterRejectsUnknownProvider(t *testing.T) {
	if _, err := NewLangchainCompleter(LangchainConfig{Provider: "bedrock"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
