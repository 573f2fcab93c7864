package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/renjiajia-patsnap/llmdemo/internal/matcher"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
	"github.com/renjiajia-patsnap/llmdemo/internal/sqlguard"
)

func newQAHandler(t *testing.T, pairs *qapair.Memory, index *fakeIndex) http.Handler {
	t.Helper()
	return NewHandler(loadConfig(t, nil), Dependencies{
		Pairs:     pairs,
		Index:     index,
		Validator: sqlguard.New(),
	})
}

func doRequest(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestPutQAStoresAndIndexes(t *testing.T) {
	pairs := qapair.NewMemory()
	index := &fakeIndex{}
	h := newQAHandler(t, pairs, index)

	rr := doRequest(h, http.MethodPut, "/v1/qa", `{"question":" 药物总数 ","sql":"SELECT COUNT(*) FROM drug","answer":"共 42 种"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if body := decodeJSON(t, rr); body["indexed"] != true {
		t.Fatalf("body = %v", body)
	}
	stored, err := pairs.Get(context.Background(), "药物总数")
	if err != nil || stored.Answer != "共 42 种" {
		t.Fatalf("stored = %+v err = %v", stored, err)
	}
	if len(index.added) != 1 || index.added[0].Question != "药物总数" {
		t.Fatalf("indexed = %+v", index.added)
	}
}

func TestPutQARejectsDML(t *testing.T) {
	pairs := qapair.NewMemory()
	h := newQAHandler(t, pairs, &fakeIndex{})

	rr := doRequest(h, http.MethodPut, "/v1/qa", `{"question":"清空药物","sql":"DELETE FROM drug","answer":"done"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
	if count, _ := pairs.Count(context.Background()); count != 0 {
		t.Fatalf("count = %d", count)
	}
}

func TestPutQAIndexFailureStillStores(t *testing.T) {
	pairs := qapair.NewMemory()
	h := newQAHandler(t, pairs, &fakeIndex{addErr: errBoom})

	rr := doRequest(h, http.MethodPut, "/v1/qa", `{"question":"药物总数","sql":"SELECT 1","answer":"一"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["indexed"] != false {
		t.Fatalf("body = %v", body)
	}
}

func TestPutQAValidatesFields(t *testing.T) {
	h := newQAHandler(t, qapair.NewMemory(), &fakeIndex{})
	if rr := doRequest(h, http.MethodPut, "/v1/qa", `{"question":"药物总数","sql":"SELECT 1"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing answer status = %d", rr.Code)
	}
}

func TestListQAPaginates(t *testing.T) {
	pairs := qapair.NewMemory()
	for _, q := range []string{"a", "b", "c"} {
		_, _ = pairs.Upsert(context.Background(), qapair.Pair{Question: q, SQL: "SELECT 1", Answer: "x"})
	}
	h := newQAHandler(t, pairs, &fakeIndex{})

	rr := doRequest(h, http.MethodGet, "/v1/qa?limit=2&offset=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	if got := body["pairs"].([]any); len(got) != 2 || body["total"] != float64(3) {
		t.Fatalf("body = %v", body)
	}
	if rr := doRequest(h, http.MethodGet, "/v1/qa?limit=0", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d", rr.Code)
	}
}

func TestLookupQAExactThenSimilar(t *testing.T) {
	pairs := qapair.NewMemory()
	_, _ = pairs.Upsert(context.Background(), qapair.Pair{Question: "药物总数", SQL: "SELECT COUNT(*) FROM drug", Answer: "42"})
	index := &fakeIndex{match: matcher.MatchResult{MatchedQuestion: "药物总数", SQL: "SELECT COUNT(*) FROM drug", Answer: "42", Similarity: 0.97}}
	h := newQAHandler(t, pairs, index)

	exact := decodeJSON(t, doRequest(h, http.MethodGet, "/v1/qa/lookup?question="+url.QueryEscape("药物总数"), ""))
	if exact["match"] != "exact" {
		t.Fatalf("exact = %v", exact)
	}

	similar := decodeJSON(t, doRequest(h, http.MethodGet, "/v1/qa/lookup?question="+url.QueryEscape("药物一共多少"), ""))
	if similar["match"] != "similar" || similar["similarity"] != 0.97 {
		t.Fatalf("similar = %v", similar)
	}

	index.match = matcher.MatchResult{}
	if rr := doRequest(h, http.MethodGet, "/v1/qa/lookup?question=x", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("miss status = %d", rr.Code)
	}
	if rr := doRequest(h, http.MethodGet, "/v1/qa/lookup?question=x&threshold=2", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad threshold status = %d", rr.Code)
	}
}

func TestDeleteQAForgetsIndexEntry(t *testing.T) {
	pairs := qapair.NewMemory()
	_, _ = pairs.Upsert(context.Background(), qapair.Pair{Question: "药物总数", SQL: "SELECT 1", Answer: "42"})
	index := &fakeIndex{}
	h := newQAHandler(t, pairs, index)

	target := "/v1/qa?question=" + url.QueryEscape("药物总数")
	if rr := doRequest(h, http.MethodDelete, target, ""); rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(index.forgotten) != 1 || index.forgotten[0] != "药物总数" {
		t.Fatalf("forgotten = %v", index.forgotten)
	}
	if rr := doRequest(h, http.MethodDelete, target, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
}
