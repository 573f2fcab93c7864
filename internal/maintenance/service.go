// Package maintenance runs the background jobs of the worker: schema cache
// warmup, QA pair export to parquet, export retention and export integrity
// checks. Every job is also callable once through the admin API.
package maintenance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
	"github.com/renjiajia-patsnap/llmdemo/internal/query"
	"github.com/renjiajia-patsnap/llmdemo/internal/storage"
)

const maxIssueSamples = 20

type Schema interface {
	Refresh(ctx context.Context) ([]catalog.TableDescriptor, error)
	TableDetail(ctx context.Context, name string) (catalog.TableDetail, error)
}

type Config struct {
	WarmupInterval    time.Duration
	ExportInterval    time.Duration
	RetentionInterval time.Duration
	IntegrityInterval time.Duration
	WarmupConcurrency int
	KeepExports       int
	IntegrityLimit    int
	CreatedBy         string
}

type Service struct {
	Schema      Schema
	Pairs       qapair.Store
	Exports     qapair.ExportLog
	ObjectStore storage.ObjectStore
	// Counter reads export files back to count their rows. Nil skips the
	// row-count comparison.
	Counter query.Engine
	Config  Config
	Logger  *slog.Logger
	Clock   func() time.Time
	NewID   func() string

	defaultsOnce sync.Once
}

type WarmupSummary struct {
	TablesListed  int `json:"tables_listed"`
	DetailsWarmed int `json:"details_warmed"`
	Failures      int `json:"failures"`
}

type ExportSummary struct {
	ExportID   string `json:"export_id,omitempty"`
	ObjectPath string `json:"object_path,omitempty"`
	RowCount   int64  `json:"row_count"`
	SizeBytes  int64  `json:"size_bytes"`
	Skipped    bool   `json:"skipped"`
}

type RetentionSummary struct {
	ExportsScanned int `json:"exports_scanned"`
	ExportsDeleted int `json:"exports_deleted"`
	Failures       int `json:"failures"`
}

type IntegritySummary struct {
	ExportsChecked      int `json:"exports_checked"`
	MissingObjects      int `json:"missing_objects"`
	SizeMismatches      int `json:"size_mismatches"`
	RowCountMismatches  int `json:"row_count_mismatches"`
	OperationalFailures int `json:"operational_failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	exportsEnabled := s.ObjectStore != nil && s.Exports != nil
	warmup, stopWarmup := tick(s.Config.WarmupInterval, s.Schema != nil)
	defer stopWarmup()
	export, stopExport := tick(s.Config.ExportInterval, exportsEnabled && s.Pairs != nil)
	defer stopExport()
	retention, stopRetention := tick(s.Config.RetentionInterval, exportsEnabled)
	defer stopRetention()
	integrity, stopIntegrity := tick(s.Config.IntegrityInterval, exportsEnabled)
	defer stopIntegrity()

	if s.Schema != nil {
		summary, err := s.RunWarmupOnce(ctx)
		s.logCycle(ctx, "schema warmup", summary, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-warmup:
			summary, err := s.RunWarmupOnce(ctx)
			s.logCycle(ctx, "schema warmup", summary, err)
		case <-export:
			summary, err := s.RunExportOnce(ctx)
			s.logCycle(ctx, "export", summary, err)
		case <-retention:
			summary, err := s.RunRetentionOnce(ctx)
			s.logCycle(ctx, "retention", summary, err)
		case <-integrity:
			summary, err := s.RunIntegrityCheckOnce(ctx)
			s.logCycle(ctx, "integrity", summary, err)
		}
	}
}

// RunWarmupOnce refetches the table listing and loads every table detail
// into the schema cache.
func (s *Service) RunWarmupOnce(ctx context.Context) (WarmupSummary, error) {
	s.ensureDefaults()
	if s.Schema == nil {
		return WarmupSummary{}, fmt.Errorf("schema cache is required")
	}

	tables, err := s.Schema.Refresh(ctx)
	if err != nil {
		warmupRunsTotal.WithLabelValues("failed").Inc()
		return WarmupSummary{}, fmt.Errorf("refresh table listing: %w", err)
	}
	summary := WarmupSummary{TablesListed: len(tables)}

	var (
		mu       sync.Mutex
		failures []string
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.Config.WarmupConcurrency)
	for _, table := range tables {
		name := table.Name
		group.Go(func() error {
			_, err := s.Schema.TableDetail(groupCtx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failures++
				if len(failures) < maxIssueSamples {
					failures = append(failures, fmt.Sprintf("table %s: %v", name, err))
				}
				return nil
			}
			summary.DetailsWarmed++
			return nil
		})
	}
	_ = group.Wait()

	if summary.Failures > 0 {
		warmupRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("warmup encountered %d failure(s): %s", summary.Failures, strings.Join(failures, "; "))
	}
	warmupRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// RunExportOnce writes every stored QA pair into one parquet object and
// records it in the export log. An empty store is skipped.
func (s *Service) RunExportOnce(ctx context.Context) (ExportSummary, error) {
	s.ensureDefaults()
	if s.Pairs == nil {
		return ExportSummary{}, fmt.Errorf("qa store is required")
	}
	if err := s.requireExportDeps(); err != nil {
		return ExportSummary{}, err
	}

	pairs, err := s.Pairs.List(ctx, 0, 0)
	if err != nil {
		exportRunsTotal.WithLabelValues("failed").Inc()
		return ExportSummary{}, fmt.Errorf("list qa pairs: %w", err)
	}
	if len(pairs) == 0 {
		exportRunsTotal.WithLabelValues("skipped").Inc()
		return ExportSummary{Skipped: true}, nil
	}

	summary, err := s.writeExport(ctx, pairs)
	if err != nil {
		exportRunsTotal.WithLabelValues("failed").Inc()
		return summary, err
	}
	exportRowsTotal.Add(float64(summary.RowCount))
	exportRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) writeExport(ctx context.Context, pairs []qapair.Pair) (ExportSummary, error) {
	encoded, err := EncodePairs(pairs)
	if err != nil {
		return ExportSummary{}, fmt.Errorf("encode qa pairs: %w", err)
	}

	createdAt := s.Clock().UTC()
	exportID := s.NewID()
	objectPath, err := storage.BuildExportPath(exportID, createdAt)
	if err != nil {
		return ExportSummary{}, fmt.Errorf("build export object path: %w", err)
	}

	info, err := s.ObjectStore.Put(ctx, objectPath, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: storage.ContentTypeParquet,
		Metadata: map[string]string{
			"row-count":  strconv.FormatInt(encoded.RowCount, 10),
			"created-by": s.Config.CreatedBy,
		},
	})
	if err != nil {
		return ExportSummary{}, fmt.Errorf("upload export parquet: %w", err)
	}
	size := info.Size
	if size <= 0 {
		size = int64(len(encoded.Data))
	}

	export := qapair.Export{
		ExportID:   exportID,
		ObjectPath: objectPath,
		RowCount:   encoded.RowCount,
		SizeBytes:  size,
		CreatedAt:  createdAt,
	}
	if err := s.Exports.RecordExport(ctx, export); err != nil {
		_ = s.ObjectStore.Delete(ctx, objectPath)
		return ExportSummary{}, fmt.Errorf("record export %s: %w", exportID, err)
	}

	return ExportSummary{
		ExportID:   exportID,
		ObjectPath: objectPath,
		RowCount:   encoded.RowCount,
		SizeBytes:  size,
	}, nil
}

// RunRetentionOnce keeps the newest KeepExports exports and deletes the rest,
// object first, then the log entry.
func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if err := s.requireExportDeps(); err != nil {
		return RetentionSummary{}, err
	}

	exports, err := s.Exports.ListExports(ctx, 0)
	if err != nil {
		return RetentionSummary{}, fmt.Errorf("list exports: %w", err)
	}
	summary := RetentionSummary{ExportsScanned: len(exports)}
	if len(exports) <= s.Config.KeepExports {
		return summary, nil
	}

	failures := make([]string, 0)
	for _, export := range exports[s.Config.KeepExports:] {
		if err := s.ObjectStore.Delete(ctx, export.ObjectPath); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("delete object %s: %v", export.ObjectPath, err))
			continue
		}
		if err := s.Exports.DeleteExport(ctx, export.ExportID); err != nil && !errors.Is(err, qapair.ErrNotFound) {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("delete export %s: %v", export.ExportID, err))
			continue
		}
		summary.ExportsDeleted++
	}

	if summary.ExportsDeleted > 0 {
		retentionExportsDeletedTotal.Add(float64(summary.ExportsDeleted))
	}
	if len(failures) > 0 {
		return summary, fmt.Errorf("retention encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return summary, nil
}

// RunIntegrityCheckOnce verifies the newest IntegrityLimit exports: the
// object exists, its size matches the log and, when a Counter is set, its
// parquet row count matches too.
func (s *Service) RunIntegrityCheckOnce(ctx context.Context) (IntegritySummary, error) {
	s.ensureDefaults()
	if err := s.requireExportDeps(); err != nil {
		return IntegritySummary{}, err
	}

	exports, err := s.Exports.ListExports(ctx, s.Config.IntegrityLimit)
	if err != nil {
		return IntegritySummary{}, fmt.Errorf("list exports: %w", err)
	}

	summary := IntegritySummary{}
	issueSamples := make([]string, 0, maxIssueSamples)
	issueCount := 0
	addIssue := func(kind, message string) {
		issueCount++
		integrityIssuesTotal.WithLabelValues(kind).Inc()
		if len(issueSamples) < maxIssueSamples {
			issueSamples = append(issueSamples, message)
		}
	}

	for _, export := range exports {
		summary.ExportsChecked++

		info, err := s.ObjectStore.Stat(ctx, export.ObjectPath)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				summary.MissingObjects++
				addIssue("missing", fmt.Sprintf("export %s missing object %s", export.ExportID, export.ObjectPath))
				continue
			}
			summary.OperationalFailures++
			addIssue("operational", fmt.Sprintf("export %s stat %s: %v", export.ExportID, export.ObjectPath, err))
			continue
		}
		if info.Size != export.SizeBytes {
			summary.SizeMismatches++
			addIssue("size_mismatch", fmt.Sprintf("export %s size mismatch for %s (expected=%d actual=%d)", export.ExportID, export.ObjectPath, export.SizeBytes, info.Size))
			continue
		}

		if s.Counter == nil {
			continue
		}
		rows, err := s.countRows(ctx, export)
		if err != nil {
			summary.OperationalFailures++
			addIssue("operational", fmt.Sprintf("export %s count rows: %v", export.ExportID, err))
			continue
		}
		if rows != export.RowCount {
			summary.RowCountMismatches++
			addIssue("row_count_mismatch", fmt.Sprintf("export %s row count mismatch (expected=%d actual=%d)", export.ExportID, export.RowCount, rows))
		}
	}

	if issueCount > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		extra := issueCount - len(issueSamples)
		if extra > 0 {
			return summary, fmt.Errorf("integrity check found %d issue(s): %s; ... plus %d more", issueCount, strings.Join(issueSamples, "; "), extra)
		}
		return summary, fmt.Errorf("integrity check found %d issue(s): %s", issueCount, strings.Join(issueSamples, "; "))
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) countRows(ctx context.Context, export qapair.Export) (int64, error) {
	result, err := s.Counter.Execute(ctx, query.Request{
		SQL: "SELECT COUNT(*) AS n FROM " + ExportTable,
		Files: []query.TableFile{{
			TableName:     ExportTable,
			ObjectPath:    export.ObjectPath,
			FileSizeBytes: export.SizeBytes,
		}},
	})
	if err != nil {
		return 0, err
	}
	if len(result.Rows) != 1 || len(result.Rows[0]) != 1 {
		return 0, fmt.Errorf("unexpected count result shape")
	}
	return toInt64(result.Rows[0][0])
}

func toInt64(value any) (int64, error) {
	switch typed := value.(type) {
	case int64:
		return typed, nil
	case int32:
		return int64(typed), nil
	case int:
		return int64(typed), nil
	case uint64:
		return int64(typed), nil
	case float64:
		return int64(typed), nil
	default:
		return 0, fmt.Errorf("unexpected count value %T", value)
	}
}

func (s *Service) requireExportDeps() error {
	if s.Exports == nil {
		return fmt.Errorf("export log is required")
	}
	if s.ObjectStore == nil {
		return fmt.Errorf("object store is required")
	}
	return nil
}

func (s *Service) logCycle(ctx context.Context, name string, summary any, err error) {
	if s.Logger == nil {
		return
	}
	if err != nil {
		s.Logger.ErrorContext(ctx, name+" cycle failed", slog.Any("error", err), slog.Any("summary", summary))
		return
	}
	s.Logger.InfoContext(ctx, name+" cycle completed", slog.Any("summary", summary))
}

func tick(interval time.Duration, enabled bool) (<-chan time.Time, func()) {
	if !enabled {
		return nil, func() {}
	}
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

func (s *Service) ensureDefaults() {
	s.defaultsOnce.Do(func() {
		if s.Clock == nil {
			s.Clock = time.Now
		}
		if s.NewID == nil {
			s.NewID = func() string { return uuid.NewString() }
		}
		if s.Config.WarmupInterval <= 0 {
			s.Config.WarmupInterval = 6 * time.Hour
		}
		if s.Config.ExportInterval <= 0 {
			s.Config.ExportInterval = 24 * time.Hour
		}
		if s.Config.RetentionInterval <= 0 {
			s.Config.RetentionInterval = time.Hour
		}
		if s.Config.IntegrityInterval <= 0 {
			s.Config.IntegrityInterval = 6 * time.Hour
		}
		if s.Config.WarmupConcurrency <= 0 {
			s.Config.WarmupConcurrency = 4
		}
		if s.Config.KeepExports < 1 {
			s.Config.KeepExports = 7
		}
		if s.Config.IntegrityLimit <= 0 {
			s.Config.IntegrityLimit = 20
		}
		if s.Config.CreatedBy == "" {
			s.Config.CreatedBy = "querydb-worker"
		}
	})
}
