package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/renjiajia-patsnap/llmdemo/internal/apperr"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
	"github.com/renjiajia-patsnap/llmdemo/internal/observability"
	"github.com/renjiajia-patsnap/llmdemo/internal/query"
)

const maxErrorBody = 2048

type Config struct {
	BaseURL  string
	Username string
	Password string
	DBName   string
	SourceID string
	UserID   string
	Timeout  time.Duration
	TokenTTL time.Duration
}

// Client talks to the remote data catalog: login, table listing and JDBC
// query execution. It satisfies catalog.Lister and query.Engine.
type Client struct {
	baseURL  string
	username string
	password string
	dbName   string
	sourceID string
	userID   string
	http     *http.Client
	tokens   *TokenManager
	logger   *slog.Logger
}

var errUnauthorized = errors.New("catalog rejected token")

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("catalog base URL is required")
	}
	if strings.TrimSpace(cfg.DBName) == "" {
		return nil, fmt.Errorf("catalog db name is required")
	}
	if strings.TrimSpace(cfg.SourceID) == "" {
		return nil, fmt.Errorf("catalog source id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		username: cfg.Username,
		password: cfg.Password,
		dbName:   strings.TrimSpace(cfg.DBName),
		sourceID: strings.TrimSpace(cfg.SourceID),
		userID:   strings.TrimSpace(cfg.UserID),
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
	c.tokens = NewTokenManager(c.Login, cfg.TokenTTL, logger)
	return c, nil
}

func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

func (c *Client) Login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	if err != nil {
		return "", fmt.Errorf("marshal login payload: %w", err)
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, "")
	observability.ObserveCatalogRequest("login", statusLabel(status, err))
	if err != nil {
		return "", fmt.Errorf("request login: %w", err)
	}
	if status >= 400 {
		return "", fmt.Errorf("login failed status=%d body=%s", status, truncate(raw))
	}

	var parsed struct {
		Token string `json:"token"`
		Body  struct {
			Token string `json:"token"`
		} `json:"body"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	token := strings.TrimSpace(parsed.Body.Token)
	if token == "" {
		token = strings.TrimSpace(parsed.Token)
	}
	if token == "" {
		return "", fmt.Errorf("login response carried no token")
	}
	return token, nil
}

func (c *Client) ListTables(ctx context.Context) ([]catalog.TableDescriptor, error) {
	params := url.Values{}
	params.Set("dbName", c.dbName)
	params.Set("sourceId", c.sourceID)

	raw, err := c.authorized(ctx, "list_tables", http.MethodGet, "/query/jdbc/table/list", params, nil)
	if err != nil {
		if apperr.IsKind(err, apperr.KindAuth) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindSchemaFetch, "catalog.list_tables", "table listing failed", err)
	}

	var parsed struct {
		Body struct {
			MetadataList map[string]struct {
				BusinessDescription string `json:"business_description"`
			} `json:"metadata_list"`
		} `json:"body"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindSchemaFetch, "catalog.list_tables", "decode table listing", err)
	}

	tables := make([]catalog.TableDescriptor, 0, len(parsed.Body.MetadataList))
	for name, meta := range parsed.Body.MetadataList {
		tables = append(tables, catalog.TableDescriptor{Name: name, Description: meta.BusinessDescription})
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}

func (c *Client) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := strings.TrimSpace(request.SQL)
	if sqlText == "" {
		return query.Result{}, apperr.New(apperr.KindInvalidInput, "catalog.query", "sql is required")
	}

	start := time.Now()
	body, err := json.Marshal(map[string]any{
		"sql":       sqlText,
		"db_name":   c.dbName,
		"source_id": c.sourceID,
		"export":    false,
	})
	if err != nil {
		return query.Result{}, fmt.Errorf("marshal query payload: %w", err)
	}

	raw, err := c.authorized(ctx, "query", http.MethodPost, "/query/jdbc", nil, body)
	if err != nil {
		if apperr.IsKind(err, apperr.KindAuth) {
			return query.Result{}, err
		}
		return query.Result{}, apperr.Wrap(apperr.KindQueryExecution, "catalog.query", "remote query failed", err)
	}

	var parsed struct {
		Body struct {
			Rows json.RawMessage `json:"rows"`
		} `json:"body"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return query.Result{}, apperr.Wrap(apperr.KindQueryExecution, "catalog.query", "decode query response", err)
	}
	columns, rows, err := decodeRows(parsed.Body.Rows)
	if err != nil {
		return query.Result{}, apperr.Wrap(apperr.KindQueryExecution, "catalog.query", "decode query rows", err)
	}
	if request.RowLimit > 0 && len(rows) > request.RowLimit {
		rows = rows[:request.RowLimit]
	}
	return query.Result{
		Columns:  columns,
		Rows:     rows,
		Duration: time.Since(start),
	}, nil
}

// authorized runs a token-bearing call. A 401 drops the cached token and the
// call is replayed once with a fresh login.
func (c *Client) authorized(ctx context.Context, call, method, path string, params url.Values, body []byte) ([]byte, error) {
	raw, err := c.authorizedOnce(ctx, call, method, path, params, body)
	if errors.Is(err, errUnauthorized) {
		c.tokens.Invalidate()
		raw, err = c.authorizedOnce(ctx, call, method, path, params, body)
		if errors.Is(err, errUnauthorized) {
			return nil, apperr.Wrap(apperr.KindAuth, "catalog."+call, "token rejected after re-login", err)
		}
	}
	return raw, err
}

func (c *Client) authorizedOnce(ctx context.Context, call, method, path string, params url.Values, body []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	status, raw, err := c.do(ctx, method, path, params, body, token)
	observability.ObserveCatalogRequest(call, statusLabel(status, err))
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, errUnauthorized
	}
	if status >= 400 {
		return nil, fmt.Errorf("catalog %s failed status=%d body=%s", call, status, truncate(raw))
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte, token string) (int, []byte, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	if token != "" {
		req.Header.Set("X-Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func statusLabel(status int, err error) string {
	if err != nil && status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

// truncate caps an error body at maxErrorBody bytes without splitting a
// multi-byte rune; catalog errors are often Chinese.
func truncate(raw []byte) string {
	if len(raw) <= maxErrorBody {
		return string(raw)
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return string(raw[:cut]) + "..."
}
