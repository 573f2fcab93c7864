package api

import (
	"context"
	"errors"

	"github.com/renjiajia-patsnap/llmdemo/internal/apperr"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
	"github.com/renjiajia-patsnap/llmdemo/internal/maintenance"
	"github.com/renjiajia-patsnap/llmdemo/internal/matcher"
	"github.com/renjiajia-patsnap/llmdemo/internal/nl2sql"
	"github.com/renjiajia-patsnap/llmdemo/internal/pipeline"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
)

type fakeResolver struct {
	rc          *pipeline.ResolutionContext
	err         error
	translation pipeline.Translation
	questions   []string
	deadline    bool
}

func (f *fakeResolver) Resolve(ctx context.Context, question string) (*pipeline.ResolutionContext, error) {
	f.questions = append(f.questions, question)
	_, f.deadline = ctx.Deadline()
	rc := f.rc
	if rc == nil {
		rc = &pipeline.ResolutionContext{RunID: "run-1", Question: question}
	}
	rc.Err = f.err
	return rc, f.err
}

func (f *fakeResolver) Translate(_ context.Context, question string) (pipeline.Translation, error) {
	f.questions = append(f.questions, question)
	return f.translation, f.err
}

type fakeSchema struct {
	tables     []catalog.TableDescriptor
	details    map[string]catalog.TableDetail
	err        error
	refreshes  int
	detailKeys []string
}

func (f *fakeSchema) ListTables(context.Context) ([]catalog.TableDescriptor, error) {
	return f.tables, f.err
}

func (f *fakeSchema) TableDetail(_ context.Context, name string) (catalog.TableDetail, error) {
	f.detailKeys = append(f.detailKeys, name)
	if f.err != nil {
		return catalog.TableDetail{}, f.err
	}
	detail, ok := f.details[name]
	if !ok {
		return catalog.TableDetail{}, apperr.New(apperr.KindSchemaFetch, "schema.table_detail", "no DDL returned for table")
	}
	return detail, nil
}

func (f *fakeSchema) Refresh(context.Context) ([]catalog.TableDescriptor, error) {
	f.refreshes++
	return f.tables, f.err
}

type fakeIndex struct {
	match     matcher.MatchResult
	err       error
	addErr    error
	added     []qapair.Pair
	forgotten []string
}

func (f *fakeIndex) FindSimilar(_ context.Context, question string, _ float64) (matcher.MatchResult, error) {
	if f.err != nil {
		return matcher.MatchResult{}, f.err
	}
	match := f.match
	match.Question = question
	return match, nil
}

func (f *fakeIndex) Add(_ context.Context, pair qapair.Pair) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, pair)
	return nil
}

func (f *fakeIndex) Forget(question string) {
	f.forgotten = append(f.forgotten, question)
}

type fakeGenerator struct {
	result nl2sql.Result
	err    error
	last   nl2sql.Request
}

func (f *fakeGenerator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.last = req
	return f.result, f.err
}

type fakeMaintenance struct {
	export    maintenance.ExportSummary
	integrity maintenance.IntegritySummary
	err       error
	calls     []string
}

func (f *fakeMaintenance) RunWarmupOnce(context.Context) (maintenance.WarmupSummary, error) {
	f.calls = append(f.calls, "warmup")
	return maintenance.WarmupSummary{TablesListed: 3, DetailsWarmed: 3}, f.err
}

func (f *fakeMaintenance) RunExportOnce(context.Context) (maintenance.ExportSummary, error) {
	f.calls = append(f.calls, "export")
	return f.export, f.err
}

func (f *fakeMaintenance) RunRetentionOnce(context.Context) (maintenance.RetentionSummary, error) {
	f.calls = append(f.calls, "retention")
	return maintenance.RetentionSummary{}, f.err
}

func (f *fakeMaintenance) RunIntegrityCheckOnce(context.Context) (maintenance.IntegritySummary, error) {
	f.calls = append(f.calls, "integrity")
	return f.integrity, f.err
}

var errBoom = errors.New("boom")
