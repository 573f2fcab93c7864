package maintenance

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
)

// ExportTable is the view name export files are mounted under when the
// integrity check counts their rows.
const ExportTable = "qa_export"

type ParquetEncodeResult struct {
	Data     []byte
	RowCount int64
}

type parquetPair struct {
	Question        string `parquet:"question"`
	SQLText         string `parquet:"sql_text"`
	Answer          string `parquet:"answer"`
	CreatedAtUnixMs int64  `parquet:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `parquet:"updated_at_unix_ms"`
}

func EncodePairs(pairs []qapair.Pair) (ParquetEncodeResult, error) {
	if len(pairs) == 0 {
		return ParquetEncodeResult{}, fmt.Errorf("pairs are required")
	}

	rows := make([]parquetPair, 0, len(pairs))
	for _, pair := range pairs {
		if qapair.Normalize(pair.Question) == "" {
			return ParquetEncodeResult{}, fmt.Errorf("pair with empty question")
		}
		rows = append(rows, parquetPair{
			Question:        pair.Question,
			SQLText:         pair.SQL,
			Answer:          pair.Answer,
			CreatedAtUnixMs: pair.CreatedAt.UnixMilli(),
			UpdatedAtUnixMs: pair.UpdatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetPair](buf)
	if _, err := writer.Write(rows); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return ParquetEncodeResult{
		Data:     buf.Bytes(),
		RowCount: int64(len(rows)),
	}, nil
}
