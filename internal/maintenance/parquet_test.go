package maintenance

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
)

func TestEncodePairs(t *testing.T) {
	created := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	pairs := []qapair.Pair{
		{Question: "药物总数", SQL: "SELECT COUNT(*) FROM drug", Answer: "共 42 种", CreatedAt: created, UpdatedAt: created.Add(time.Hour)},
		{Question: "专利总数", SQL: "SELECT COUNT(*) FROM patent", Answer: "共 7 件", CreatedAt: created, UpdatedAt: created},
	}

	result, err := EncodePairs(pairs)
	if err != nil {
		t.Fatalf("EncodePairs() error = %v", err)
	}
	if result.RowCount != 2 || len(result.Data) == 0 {
		t.Fatalf("result = rows %d, %d bytes", result.RowCount, len(result.Data))
	}

	reader := parquet.NewGenericReader[parquetPair](bytes.NewReader(result.Data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquetPair, 2)
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("read %d rows", n)
	}
	if rows[0].Question != "药物总数" || rows[0].SQLText != "SELECT COUNT(*) FROM drug" || rows[0].Answer != "共 42 种" {
		t.Fatalf("row[0] = %+v", rows[0])
	}
	if rows[0].UpdatedAtUnixMs != created.Add(time.Hour).UnixMilli() {
		t.Fatalf("UpdatedAtUnixMs = %d", rows[0].UpdatedAtUnixMs)
	}
}

func TestEncodePairsRejectsEmptyInput(t *testing.T) {
	if _, err := EncodePairs(nil); err == nil {
		t.Fatal("expected error for no pairs")
	}
	if _, err := EncodePairs([]qapair.Pair{{Question: "  ", SQL: "SELECT 1"}}); err == nil {
		t.Fatal("expected error for blank question")
	}
}
