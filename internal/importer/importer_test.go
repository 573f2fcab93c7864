package importer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
	"github.com/renjiajia-patsnap/llmdemo/internal/sqlguard"
)

const sampleCSV = "\ufeffanswer,question,sql,owner\n" +
	"共 42 种,药物总数,SELECT COUNT(*) FROM drug,alice\n" +
	",缺少答案,SELECT 1,bob\n" +
	"\n" +
	"\"已删除\",删除药物,DELETE FROM drug,carol\n"

func TestReadCSVMapsHeaderColumns(t *testing.T) {
	pairs, invalid, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs = %+v", pairs)
	}
	if pairs[0].Question != "药物总数" || pairs[0].SQL != "SELECT COUNT(*) FROM drug" || pairs[0].Answer != "共 42 种" {
		t.Fatalf("pairs[0] = %+v", pairs[0])
	}
	if len(invalid) != 1 || invalid[0].Line != 3 {
		t.Fatalf("invalid = %+v", invalid)
	}
}

func TestReadCSVRequiresColumns(t *testing.T) {
	if _, _, err := ReadCSV(strings.NewReader("question,answer\nq,a\n")); err == nil {
		t.Fatal("expected missing column error")
	}
	if _, _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected empty csv error")
	}
}

func TestImportRejectsWritesAndStores(t *testing.T) {
	pairs, _, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	store := qapair.NewMemory()
	imp := &Importer{Sink: StoreSink{Store: store}, Validator: sqlguard.New()}

	summary, err := imp.Import(context.Background(), pairs)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if summary.Read != 2 || summary.Imported != 1 || summary.Rejected != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if _, err := store.Get(context.Background(), "药物总数"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	store := qapair.NewMemory()
	imp := &Importer{Sink: StoreSink{Store: store}, DryRun: true}

	summary, err := imp.Import(context.Background(), []qapair.Pair{{Question: "q", SQL: "SELECT 1", Answer: "a"}})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if summary.Imported != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if count, _ := store.Count(context.Background()); count != 0 {
		t.Fatalf("count = %d", count)
	}
}

func TestAPISinkPutsPairs(t *testing.T) {
	var got map[string]string
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPut || r.URL.Path != "/v1/qa" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if key := r.Header.Get("X-API-Key"); key != "curator-key" {
			t.Fatalf("X-API-Key = %q", key)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if got["question"] == "失败" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error_code":"SQL_REJECTED"}`))
			return
		}
		_, _ = w.Write([]byte(`{"indexed":true}`))
	}))
	defer server.Close()

	sink, err := NewAPISink(server.URL+"/", "curator-key", time.Second)
	if err != nil {
		t.Fatalf("NewAPISink() error = %v", err)
	}
	imp := &Importer{Sink: sink}
	summary, err := imp.Import(context.Background(), []qapair.Pair{
		{Question: "药物总数", SQL: "SELECT COUNT(*) FROM drug", Answer: "42"},
		{Question: "失败", SQL: "SELECT 1", Answer: "x"},
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if calls != 2 || summary.Imported != 1 || summary.Failed != 1 {
		t.Fatalf("calls = %d summary = %+v", calls, summary)
	}
}

func TestImportStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	imp := &Importer{Sink: StoreSink{Store: qapair.NewMemory()}}
	if _, err := imp.Import(ctx, []qapair.Pair{{Question: "q", SQL: "SELECT 1", Answer: "a"}}); err == nil {
		t.Fatal("expected context error")
	}
}
