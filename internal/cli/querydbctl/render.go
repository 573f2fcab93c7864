package querydbctl

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

type askView struct {
	Answer          string   `json:"answer"`
	SQL             string   `json:"sql"`
	FastPath        bool     `json:"fast_path"`
	MatchedQuestion string   `json:"matched_question"`
	Similarity      float64  `json:"similarity"`
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	ExecutionTimeMS float64  `json:"execution_time_ms"`
}

func renderAsk(w io.Writer, raw []byte) error {
	var view askView
	if err := json.Unmarshal(raw, &view); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, view.Answer)
	_, _ = fmt.Fprintln(w)
	if view.FastPath {
		_, _ = fmt.Fprintf(w, "matched %q (similarity %.3f)\n", view.MatchedQuestion, view.Similarity)
	}
	if view.SQL != "" {
		_, _ = fmt.Fprintf(w, "sql: %s\n", view.SQL)
	}
	if len(view.Columns) == 0 {
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	header := make(table.Row, len(view.Columns))
	for i, col := range view.Columns {
		header[i] = col
	}
	t.AppendHeader(header)
	for _, row := range view.Rows {
		out := make(table.Row, len(row))
		for i, value := range row {
			out[i] = formatValue(value)
		}
		t.AppendRow(out)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows, %.1f ms)\n", len(view.Rows), view.ExecutionTimeMS)
	return nil
}

func renderTables(w io.Writer, raw []byte) error {
	var view struct {
		Tables []struct {
			Name        string `json:"table_name"`
			Description string `json:"description"`
		} `json:"tables"`
	}
	if err := json.Unmarshal(raw, &view); err != nil {
		return err
	}
	if len(view.Tables) == 0 {
		_, _ = fmt.Fprintln(w, "(0 tables)")
		return nil
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"table", "description"})
	for _, item := range view.Tables {
		t.AppendRow(table.Row{item.Name, item.Description})
	}
	t.Render()
	return nil
}

func renderTableDetail(w io.Writer, raw []byte) error {
	var view struct {
		DDL        string           `json:"ddl"`
		SampleRows []map[string]any `json:"sample_rows"`
	}
	if err := json.Unmarshal(raw, &view); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, view.DDL)
	if len(view.SampleRows) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(w)
	for _, row := range view.SampleRows {
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, string(encoded))
	}
	return nil
}

func renderQAList(w io.Writer, raw []byte) error {
	var view struct {
		Pairs []struct {
			Question string `json:"question"`
			SQL      string `json:"sql"`
			Answer   string `json:"answer"`
		} `json:"pairs"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(raw, &view); err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"question", "sql", "answer"})
	for _, pair := range view.Pairs {
		t.AppendRow(table.Row{pair.Question, truncate(pair.SQL, 60), truncate(pair.Answer, 60)})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d of %d pairs)\n", len(view.Pairs), view.Total)
	return nil
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case string:
		return value
	case float64:
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%g", value)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(encoded)
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
