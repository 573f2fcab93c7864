package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeRows turns a JSON array of row objects into column-ordered rows. The
// column order is the key order of the first object; keys first seen in later
// rows are appended.
func decodeRows(raw json.RawMessage) ([]string, [][]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}, [][]any{}, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := expectDelim(decoder, '['); err != nil {
		return nil, nil, err
	}

	columns := []string{}
	index := map[string]int{}
	records := []map[string]any{}

	for decoder.More() {
		if err := expectDelim(decoder, '{'); err != nil {
			return nil, nil, err
		}
		record := map[string]any{}
		for decoder.More() {
			keyToken, err := decoder.Token()
			if err != nil {
				return nil, nil, fmt.Errorf("read column name: %w", err)
			}
			key, ok := keyToken.(string)
			if !ok {
				return nil, nil, fmt.Errorf("unexpected column token %v", keyToken)
			}
			var value any
			if err := decoder.Decode(&value); err != nil {
				return nil, nil, fmt.Errorf("read column %q: %w", key, err)
			}
			if _, seen := index[key]; !seen {
				index[key] = len(columns)
				columns = append(columns, key)
			}
			record[key] = normalizeNumber(value)
		}
		if err := expectDelim(decoder, '}'); err != nil {
			return nil, nil, err
		}
		records = append(records, record)
	}
	if err := expectDelim(decoder, ']'); err != nil {
		return nil, nil, err
	}

	rows := make([][]any, 0, len(records))
	for _, record := range records {
		row := make([]any, len(columns))
		for name, value := range record {
			row[index[name]] = value
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

func expectDelim(decoder *json.Decoder, want json.Delim) error {
	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("read rows: %w", err)
	}
	delim, ok := token.(json.Delim)
	if !ok || delim != want {
		return fmt.Errorf("expected %q in rows, got %v", want, token)
	}
	return nil
}

func normalizeNumber(value any) any {
	number, ok := value.(json.Number)
	if !ok {
		return value
	}
	if i, err := number.Int64(); err == nil {
		return i
	}
	if f, err := number.Float64(); err == nil {
		return f
	}
	return number.String()
}
