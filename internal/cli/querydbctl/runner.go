package querydbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Stdout      io.Writer
	Stderr      io.Writer
}

// request is one resolved API call plus the renderer used in table mode.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	render func(io.Writer, []byte) error
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querydbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querydb API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	token := fs.String("token", defaults.BearerToken, "JWT bearer token (used instead of -api-key)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")
	output := fs.String("o", "table", "output format: table or json")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	if *output != "table" && *output != "json" {
		_, _ = fmt.Fprintf(stderr, "unknown output format %q\n", *output)
		return 2
	}

	command := strings.TrimSpace(fs.Arg(0))
	req, err := buildRequest(command, fs.Args()[1:], stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}
	code, responseBody, err := doRequest(ctx, client, req.method, endpoint, req.body, *apiKey, *token)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if *output == "table" && req.render != nil {
		if err := req.render(stdout, responseBody); err != nil {
			_, _ = fmt.Fprintf(stderr, "render failed: %v\n", err)
			return 1
		}
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string, stderr io.Writer) (request, error) {
	rest := strings.TrimSpace(strings.Join(args, " "))
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "ask":
		if rest == "" {
			return request{}, fmt.Errorf("ask requires a question")
		}
		return request{method: http.MethodPost, path: "/v1/ask", body: map[string]string{"question": rest}, render: renderAsk}, nil
	case "translate":
		if rest == "" {
			return request{}, fmt.Errorf("translate requires a question")
		}
		return request{method: http.MethodPost, path: "/v1/sql/translate", body: map[string]string{"question": rest}}, nil
	case "validate":
		if rest == "" {
			return request{}, fmt.Errorf("validate requires a sql statement")
		}
		return request{method: http.MethodPost, path: "/v1/sql/validate", body: map[string]string{"sql": rest}}, nil
	case "tables":
		query := url.Values{}
		if rest != "" {
			query.Set("prefix", rest)
		}
		return request{method: http.MethodGet, path: "/v1/tables", query: query, render: renderTables}, nil
	case "table":
		if rest == "" {
			return request{}, fmt.Errorf("table requires a table name")
		}
		return request{method: http.MethodGet, path: "/v1/tables/" + url.PathEscape(rest), render: renderTableDetail}, nil
	case "qa-list":
		sub := flag.NewFlagSet("qa-list", flag.ContinueOnError)
		sub.SetOutput(stderr)
		limit := sub.Int("limit", 50, "page size")
		offset := sub.Int("offset", 0, "page offset")
		if err := sub.Parse(args); err != nil {
			return request{}, err
		}
		query := url.Values{}
		query.Set("limit", strconv.Itoa(*limit))
		query.Set("offset", strconv.Itoa(*offset))
		return request{method: http.MethodGet, path: "/v1/qa", query: query, render: renderQAList}, nil
	case "qa-lookup":
		if rest == "" {
			return request{}, fmt.Errorf("qa-lookup requires a question")
		}
		return request{method: http.MethodGet, path: "/v1/qa/lookup", query: url.Values{"question": {rest}}}, nil
	case "qa-put":
		sub := flag.NewFlagSet("qa-put", flag.ContinueOnError)
		sub.SetOutput(stderr)
		question := sub.String("question", "", "question text")
		sql := sub.String("sql", "", "verified SQL")
		answer := sub.String("answer", "", "answer text")
		if err := sub.Parse(args); err != nil {
			return request{}, err
		}
		if strings.TrimSpace(*question) == "" || strings.TrimSpace(*sql) == "" || strings.TrimSpace(*answer) == "" {
			return request{}, fmt.Errorf("qa-put requires -question, -sql and -answer")
		}
		return request{method: http.MethodPut, path: "/v1/qa", body: map[string]string{
			"question": *question,
			"sql":      *sql,
			"answer":   *answer,
		}}, nil
	case "qa-delete":
		if rest == "" {
			return request{}, fmt.Errorf("qa-delete requires a question")
		}
		return request{method: http.MethodDelete, path: "/v1/qa", query: url.Values{"question": {rest}}}, nil
	case "schema-refresh":
		return request{method: http.MethodPost, path: "/v1/schema/refresh"}, nil
	case "warmup-run":
		return request{method: http.MethodPost, path: "/v1/warmup/run"}, nil
	case "export-run":
		return request{method: http.MethodPost, path: "/v1/export/run"}, nil
	case "retention-run":
		return request{method: http.MethodPost, path: "/v1/retention/run"}, nil
	case "integrity-run":
		return request{method: http.MethodPost, path: "/v1/integrity/run"}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint string, body any, apiKey, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	} else if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querydbctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  ask <question>          POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  translate <question>    POST /v1/sql/translate")
	_, _ = fmt.Fprintln(w, "  validate <sql>          POST /v1/sql/validate")
	_, _ = fmt.Fprintln(w, "  tables [prefix]         GET /v1/tables")
	_, _ = fmt.Fprintln(w, "  table <name>            GET /v1/tables/{table}")
	_, _ = fmt.Fprintln(w, "  qa-list [-limit -offset]")
	_, _ = fmt.Fprintln(w, "  qa-lookup <question>    GET /v1/qa/lookup")
	_, _ = fmt.Fprintln(w, "  qa-put -question -sql -answer")
	_, _ = fmt.Fprintln(w, "  qa-delete <question>    DELETE /v1/qa")
	_, _ = fmt.Fprintln(w, "  schema-refresh          POST /v1/schema/refresh")
	_, _ = fmt.Fprintln(w, "  warmup-run              POST /v1/warmup/run")
	_, _ = fmt.Fprintln(w, "  export-run              POST /v1/export/run")
	_, _ = fmt.Fprintln(w, "  retention-run           POST /v1/retention/run")
	_, _ = fmt.Fprintln(w, "  integrity-run           POST /v1/integrity/run")
	_, _ = fmt.Fprintln(w, "  health | ready")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
