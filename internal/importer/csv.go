// Package importer seeds the QA store from a spreadsheet export.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
)

// RowError describes a CSV row that could not become a pair. Line is
// 1-based and counts the header; zero when the reader could not tell.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// ReadCSV reads pairs from r. The header row names the question, sql and
// answer columns in any order; other columns are ignored. Rows missing a
// field are reported and skipped rather than failing the file.
func ReadCSV(r io.Reader) ([]qapair.Pair, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("csv is empty")
		}
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	columns, err := headerColumns(header)
	if err != nil {
		return nil, nil, err
	}

	var (
		pairs   []qapair.Pair
		invalid []RowError
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			invalid = append(invalid, RowError{Line: line, Err: err})
			continue
		}
		line, _ := reader.FieldPos(0)
		if blankRecord(record) {
			continue
		}
		pair := qapair.Pair{
			Question: qapair.Normalize(field(record, columns["question"])),
			SQL:      strings.TrimSpace(field(record, columns["sql"])),
			Answer:   strings.TrimSpace(field(record, columns["answer"])),
		}
		if err := pair.Validate(); err != nil {
			invalid = append(invalid, RowError{Line: line, Err: err})
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs, invalid, nil
}

func headerColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, 3)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		switch key {
		case "question", "sql", "answer":
			if _, dup := columns[key]; !dup {
				columns[key] = i
			}
		}
	}
	for _, required := range []string{"question", "sql", "answer"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("csv header is missing column %q", required)
		}
	}
	return columns, nil
}

func field(record []string, index int) string {
	if index < len(record) {
		return record[index]
	}
	return ""
}

func blankRecord(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}
