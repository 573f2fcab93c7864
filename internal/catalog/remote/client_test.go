package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/renjiajia-patsnap/llmdemo/internal/apperr"
	"github.com/renjiajia-patsnap/llmdemo/internal/query"
)

type fakeCatalog struct {
	mu            sync.Mutex
	loginCalls    int
	loginFailures int
	token         string
	queryStatus   int
	queryBody     string
	lastQuery     map[string]any
	lastHeaders   http.Header
}

func (f *fakeCatalog) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.loginCalls++
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode login body: %v", err)
		}
		if body["username"] != "svc" || body["password"] != "pw" {
			t.Errorf("login body = %v", body)
		}
		if f.loginFailures > 0 {
			f.loginFailures--
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"login backend down"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"body": map[string]string{"token": f.token}})
	})
	mux.HandleFunc("GET /query/jdbc/table/list", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorize(w, r) {
			return
		}
		if r.URL.Query().Get("dbName") != "phs_ads" || r.URL.Query().Get("sourceId") != "42" {
			t.Errorf("list query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"body":{"metadata_list":{
			"patent":{"business_description":"专利表"},
			"drug":{"business_description":"药物表"}
		}}}`))
	})
	mux.HandleFunc("POST /query/jdbc", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorize(w, r) {
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastQuery = body
		status, payload := f.queryStatus, f.queryBody
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
		_, _ = w.Write([]byte(payload))
	})
	return mux
}

func (f *fakeCatalog) authorize(w http.ResponseWriter, r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHeaders = r.Header.Clone()
	token := r.Header.Get("X-Authorization")
	if token != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func newTestClient(t *testing.T, fake *fakeCatalog) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{
		BaseURL:  srv.URL,
		Username: "svc",
		Password: "pw",
		DBName:   "phs_ads",
		SourceID: "42",
		UserID:   "w-dw-omp-service",
		Timeout:  2 * time.Second,
		TokenTTL: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestListTablesSortedWithAuthHeaders(t *testing.T) {
	fake := &fakeCatalog{token: "tok-1"}
	client := newTestClient(t, fake)

	tables, err := client.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if len(tables) != 2 || tables[0].Name != "drug" || tables[0].Description != "药物表" || tables[1].Name != "patent" {
		t.Fatalf("ListTables() = %#v", tables)
	}
	if got := fake.lastHeaders.Get("X-Authorization"); got != "Bearer tok-1" {
		t.Fatalf("X-Authorization = %q", got)
	}
	if got := fake.lastHeaders.Get("X-User-ID"); got != "w-dw-omp-service" {
		t.Fatalf("X-User-ID = %q", got)
	}
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	fake := &fakeCatalog{token: "tok-1", queryBody: `{"body":{"rows":[]}}`}
	client := newTestClient(t, fake)
	ctx := context.Background()

	if _, err := client.ListTables(ctx); err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if _, err := client.Execute(ctx, query.Request{SQL: "SELECT 1"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if fake.loginCalls != 1 {
		t.Fatalf("loginCalls = %d, want 1", fake.loginCalls)
	}
}

func TestLoginRetriedOnceBeforeAuthError(t *testing.T) {
	fake := &fakeCatalog{token: "tok-1", loginFailures: 2}
	client := newTestClient(t, fake)

	_, err := client.ListTables(context.Background())
	if !apperr.IsKind(err, apperr.KindAuth) {
		t.Fatalf("ListTables() error = %v, want auth kind", err)
	}
	if fake.loginCalls != 2 {
		t.Fatalf("loginCalls = %d, want 2", fake.loginCalls)
	}
}

func TestLoginSucceedsOnRetry(t *testing.T) {
	fake := &fakeCatalog{token: "tok-1", loginFailures: 1}
	client := newTestClient(t, fake)

	token, err := client.Tokens().Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "tok-1" || fake.loginCalls != 2 {
		t.Fatalf("token=%q loginCalls=%d", token, fake.loginCalls)
	}
}

func TestUnauthorizedTriggersSingleRelogin(t *testing.T) {
	fake := &fakeCatalog{token: "tok-1", queryBody: `{"body":{"rows":[{"n":1}]}}`}
	client := newTestClient(t, fake)
	ctx := context.Background()

	if _, err := client.Tokens().Token(ctx); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	fake.mu.Lock()
	fake.token = "tok-2"
	fake.mu.Unlock()

	result, err := client.Execute(ctx, query.Request{SQL: "SELECT 1 AS n"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 || fake.loginCalls != 2 {
		t.Fatalf("rows=%d loginCalls=%d", len(result.Rows), fake.loginCalls)
	}
}

func TestExecutePreservesColumnOrder(t *testing.T) {
	fake := &fakeCatalog{
		token:     "tok-1",
		queryBody: `{"body":{"rows":[{"zeta":"a","alpha":2,"mid":1.5},{"zeta":"b","alpha":3,"mid":null}]}}`,
	}
	client := newTestClient(t, fake)

	result, err := client.Execute(context.Background(), query.Request{SQL: "SELECT zeta, alpha, mid FROM t"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []string{"zeta", "alpha", "mid"}
	for i, column := range want {
		if result.Columns[i] != column {
			t.Fatalf("Columns = %v, want %v", result.Columns, want)
		}
	}
	if result.Rows[0][1] != int64(2) || result.Rows[0][2] != 1.5 || result.Rows[1][2] != nil {
		t.Fatalf("Rows = %#v", result.Rows)
	}
	if fake.lastQuery["db_name"] != "phs_ads" || fake.lastQuery["source_id"] != "42" || fake.lastQuery["export"] != false {
		t.Fatalf("query payload = %#v", fake.lastQuery)
	}
}

func TestExecuteZeroRowsIsNotAnError(t *testing.T) {
	fake := &fakeCatalog{token: "tok-1", queryBody: `{"body":{"rows":[]}}`}
	client := newTestClient(t, fake)

	result, err := client.Execute(context.Background(), query.Request{SQL: "SELECT 1 WHERE 1=0"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 0 {
		t.Fatalf("Rows = %#v", result.Rows)
	}
}

func TestExecuteRemoteFailureIsQueryExecutionError(t *testing.T) {
	fake := &fakeCatalog{token: "tok-1", queryStatus: http.StatusInternalServerError, queryBody: `{"message":"Table 'phs_ads.nope' doesn't exist"}`}
	client := newTestClient(t, fake)

	_, err := client.Execute(context.Background(), query.Request{SQL: "SELECT x FROM nope"})
	if !apperr.IsKind(err, apperr.KindQueryExecution) {
		t.Fatalf("Execute() error = %v, want query_execution kind", err)
	}
	if want := "doesn't exist"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q should carry remote text %q", err.Error(), want)
	}
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	logins := 0
	manager := NewTokenManager(func(context.Context) (string, error) {
		logins++
		return "opaque-token", nil
	}, time.Hour, nil)
	manager.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, _ = manager.Token(ctx)
	now = now.Add(59 * time.Minute)
	_, _ = manager.Token(ctx)
	if logins != 1 {
		t.Fatalf("logins = %d before expiry", logins)
	}
	now = now.Add(time.Minute)
	_, _ = manager.Token(ctx)
	if logins != 2 {
		t.Fatalf("logins = %d after expiry", logins)
	}
}

func TestTokenTTLClampedToJWTExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "svc",
		"exp": now.Add(10 * time.Minute).Unix(),
	}).SignedString([]byte("catalog-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	logins := 0
	manager := NewTokenManager(func(context.Context) (string, error) {
		logins++
		return signed, nil
	}, time.Hour, nil)
	manager.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, _ = manager.Token(ctx)
	now = now.Add(9*time.Minute + 31*time.Second)
	_, _ = manager.Token(ctx)
	if logins != 2 {
		t.Fatalf("logins = %d, token should expire 30s before its exp claim", logins)
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	body := []byte(strings.Repeat("a", maxErrorBody-1) + "查询失败")
	got := truncate(body)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate() produced invalid UTF-8: %q", got[len(got)-8:])
	}
	if !strings.HasSuffix(got, "...") || len(got) > maxErrorBody+3 {
		t.Fatalf("truncate() length = %d", len(got))
	}
	if short := truncate([]byte("远端错误")); short != "远端错误" {
		t.Fatalf("truncate(short) = %q", short)
	}
}
