package catalog

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("catalog: not found")

type TableDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type TableDetail struct {
	Name       string           `json:"name"`
	DDL        string           `json:"ddl"`
	SampleRows []map[string]any `json:"sample_rows"`
}

// Lister returns the tables of the configured database together with their
// business descriptions.
type Lister interface {
	ListTables(ctx context.Context) ([]TableDescriptor, error)
}
