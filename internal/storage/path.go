package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

const exportRoot = "qa-exports"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath lays exports out by UTC day:
// qa-exports/date=2025-03-01/qa-pairs-<id>.parquet
func BuildExportPath(exportID string, createdAt time.Time) (string, error) {
	if err := validatePathComponent(exportID, "export id"); err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return path.Join(
		exportRoot,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("qa-pairs-%s.parquet", exportID),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
