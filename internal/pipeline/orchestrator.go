package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/renjiajia-patsnap/llmdemo/internal/apperr"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
	"github.com/renjiajia-patsnap/llmdemo/internal/matcher"
	"github.com/renjiajia-patsnap/llmdemo/internal/nl2sql"
	"github.com/renjiajia-patsnap/llmdemo/internal/observability"
	"github.com/renjiajia-patsnap/llmdemo/internal/qapair"
	"github.com/renjiajia-patsnap/llmdemo/internal/query"
)

const (
	FailureMessage  = "查询处理失败，请稍后再试"
	NoTablesMessage = "未找到相关表"

	OpAnalyzeIntent = "pipeline.analyze_intent"
	OpValidate      = "pipeline.validate"
)

type Matcher interface {
	FindSimilar(ctx context.Context, question string, threshold float64) (matcher.MatchResult, error)
	Add(ctx context.Context, pair qapair.Pair) error
}

type Schema interface {
	ListTables(ctx context.Context) ([]catalog.TableDescriptor, error)
	TableDetail(ctx context.Context, name string) (catalog.TableDetail, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, question string, tables []catalog.TableDescriptor) (nl2sql.IntentResult, error)
}

type Generator interface {
	Generate(ctx context.Context, intent nl2sql.IntentResult, details []catalog.TableDetail) (nl2sql.GeneratedSQL, error)
}

type Validator interface {
	Validate(sql string) (bool, string)
}

type Summarizer interface {
	Summarize(ctx context.Context, question, sql string, rows []map[string]any) (string, error)
}

type Dependencies struct {
	Matcher    Matcher
	Schema     Schema
	Analyzer   Analyzer
	Generator  Generator
	Validator  Validator
	Engine     query.Engine
	Summarizer Summarizer
	Store      qapair.Store
}

type Config struct {
	MatchThreshold    float64
	RowLimit          int
	DetailConcurrency int
}

type Orchestrator struct {
	deps     Dependencies
	cfg      Config
	logger   *slog.Logger
	clock    func() time.Time
	newRunID func() string
}

func New(deps Dependencies, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Matcher == nil:
		return nil, fmt.Errorf("matcher is required")
	case deps.Schema == nil:
		return nil, fmt.Errorf("schema cache is required")
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("intent analyzer is required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("sql generator is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("sql validator is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("query engine is required")
	case deps.Summarizer == nil:
		return nil, fmt.Errorf("summarizer is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("qa store is required")
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = matcher.DefaultThreshold
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = 4
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
		newRunID: uuid.NewString,
	}, nil
}

// Resolve answers question. The returned context is never nil; its Err is
// also returned as the error.
func (o *Orchestrator) Resolve(ctx context.Context, question string) (*ResolutionContext, error) {
	rc := &ResolutionContext{RunID: o.newRunID(), Question: qapair.Normalize(question)}
	ctx = observability.ContextWithRunID(ctx, rc.RunID)
	if rc.Question == "" {
		rc.Err = apperr.New(apperr.KindInvalidInput, "pipeline.resolve", "question is required")
		return rc, rc.Err
	}

	start := o.clock()
	state := StateStart
	for state != StateEnd {
		if err := ctx.Err(); err != nil && rc.Err == nil {
			rc.Err = fmt.Errorf("resolution abandoned at %s: %w", state, err)
			break
		}
		stageStart := o.clock()
		o.runStage(ctx, state, rc)
		if state != StateStart {
			o.recordStage(ctx, rc, state, o.clock().Sub(stageStart))
		}
		state = Route(state, rc)
	}

	path := "slow"
	if rc.FastPath {
		path = "fast"
	}
	outcome := resolutionOutcome(rc)
	observability.ObserveResolution(path, outcome)
	level := slog.LevelInfo
	if rc.Err != nil {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("run_id", rc.RunID),
		slog.String("path", path),
		slog.String("outcome", outcome),
		slog.Duration("duration", o.clock().Sub(start)),
	}
	if rc.Err != nil {
		attrs = append(attrs, slog.Any("error", rc.Err))
	}
	o.logger.LogAttrs(ctx, level, "question resolved", attrs...)
	return rc, rc.Err
}

// Translation is the SQL produced for a question without running it.
type Translation struct {
	Question   string              `json:"question"`
	Intent     nl2sql.IntentResult `json:"intent"`
	SQL        string              `json:"sql"`
	Tables     []string            `json:"tables"`
	Validation Validation          `json:"validation"`
}

// Translate runs intent analysis, generation and validation only. A rejected
// statement is returned alongside a validation error.
func (o *Orchestrator) Translate(ctx context.Context, question string) (Translation, error) {
	rc := &ResolutionContext{RunID: o.newRunID(), Question: qapair.Normalize(question)}
	ctx = observability.ContextWithRunID(ctx, rc.RunID)
	if rc.Question == "" {
		return Translation{}, apperr.New(apperr.KindInvalidInput, "pipeline.translate", "question is required")
	}
	for _, state := range []State{StateAnalyzeIntent, StateGenerateSQL, StateValidate} {
		if err := ctx.Err(); err != nil {
			return Translation{}, err
		}
		stageStart := o.clock()
		o.runStage(ctx, state, rc)
		o.recordStage(ctx, rc, state, o.clock().Sub(stageStart))
		if rc.Err != nil {
			break
		}
	}
	out := Translation{
		Question:   rc.Question,
		Intent:     rc.Intent,
		SQL:        rc.GeneratedSQL.SQL,
		Tables:     rc.GeneratedSQL.Tables,
		Validation: rc.Validation,
	}
	return out, rc.Err
}

func (o *Orchestrator) runStage(ctx context.Context, state State, rc *ResolutionContext) {
	switch state {
	case StateMatchSimilar:
		o.matchSimilar(ctx, rc)
	case StateAnalyzeIntent:
		o.analyzeIntent(ctx, rc)
	case StateGenerateSQL:
		o.generateSQL(ctx, rc)
	case StateValidate:
		o.validate(rc)
	case StateExecute:
		o.execute(ctx, rc)
	case StateSummarize:
		o.summarize(ctx, rc)
	}
}

// matchSimilar treats a matcher failure as a miss so the slow path still
// answers the question.
func (o *Orchestrator) matchSimilar(ctx context.Context, rc *ResolutionContext) {
	match, err := o.deps.Matcher.FindSimilar(ctx, rc.Question, o.cfg.MatchThreshold)
	if err != nil {
		o.logger.WarnContext(ctx, "similar question lookup failed", slog.String("run_id", rc.RunID), slog.Any("error", err))
		match = matcher.MatchResult{Question: rc.Question}
	}
	rc.Match = match
}

func (o *Orchestrator) analyzeIntent(ctx context.Context, rc *ResolutionContext) {
	tables, err := o.deps.Schema.ListTables(ctx)
	if err != nil {
		rc.Err = err
		return
	}
	intent, err := o.deps.Analyzer.Analyze(ctx, rc.Question, tables)
	rc.Intent = intent
	if err != nil {
		rc.Err = err
		return
	}
	if intent.Error != "" || len(intent.Tables) == 0 {
		rc.Err = apperr.New(apperr.KindParse, OpAnalyzeIntent, "no relevant tables found")
	}
}

func (o *Orchestrator) generateSQL(ctx context.Context, rc *ResolutionContext) {
	details, err := o.tableDetails(ctx, rc.Intent.Tables)
	if err != nil {
		rc.Err = err
		return
	}
	generated, err := o.deps.Generator.Generate(ctx, rc.Intent, details)
	if err != nil {
		rc.Err = err
		return
	}
	rc.GeneratedSQL = generated
}

func (o *Orchestrator) validate(rc *ResolutionContext) {
	ok, reason := o.deps.Validator.Validate(rc.GeneratedSQL.SQL)
	rc.Validation = Validation{OK: ok, Reason: reason}
	if !ok {
		observability.IncrementSQLRejections()
		rc.Err = apperr.New(apperr.KindValidation, OpValidate, reason)
	}
}

func (o *Orchestrator) execute(ctx context.Context, rc *ResolutionContext) {
	result, err := o.deps.Engine.Execute(ctx, query.Request{SQL: rc.GeneratedSQL.SQL, RowLimit: o.cfg.RowLimit})
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.Wrap(apperr.KindQueryExecution, "pipeline.execute", "query execution failed", err)
		}
		rc.Err = err
		return
	}
	rc.Columns = result.Columns
	rc.Rows = result.Rows
	rc.ExecutionTime = result.Duration
}

func (o *Orchestrator) summarize(ctx context.Context, rc *ResolutionContext) {
	if rc.Match.Answer != "" && rc.GeneratedSQL.SQL == "" {
		rc.FastPath = true
		rc.Answer = rc.Match.Answer
		rc.GeneratedSQL = nl2sql.GeneratedSQL{SQL: rc.Match.SQL}
		return
	}

	records := query.Result{Columns: rc.Columns, Rows: rc.Rows}.Records()
	answer, err := o.deps.Summarizer.Summarize(ctx, rc.Question, rc.GeneratedSQL.SQL, records)
	if err != nil {
		rc.Err = err
		return
	}
	rc.Answer = answer

	pair, err := o.deps.Store.Upsert(ctx, qapair.Pair{Question: rc.Question, SQL: rc.GeneratedSQL.SQL, Answer: answer})
	if err != nil {
		o.logger.ErrorContext(ctx, "qa pair upsert failed", slog.String("run_id", rc.RunID), slog.Any("error", err))
		return
	}
	if err := o.deps.Matcher.Add(ctx, pair); err != nil {
		o.logger.WarnContext(ctx, "matcher index add failed", slog.String("run_id", rc.RunID), slog.Any("error", err))
	}
}

// tableDetails fetches details concurrently and keeps the requested order.
func (o *Orchestrator) tableDetails(ctx context.Context, names []string) ([]catalog.TableDetail, error) {
	details := make([]catalog.TableDetail, len(names))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.cfg.DetailConcurrency)
	for i, name := range names {
		group.Go(func() error {
			detail, err := o.deps.Schema.TableDetail(groupCtx, name)
			if err != nil {
				return err
			}
			details[i] = detail
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return details, nil
}

func (o *Orchestrator) recordStage(ctx context.Context, rc *ResolutionContext, state State, elapsed time.Duration) {
	outcome := "ok"
	if rc.Err != nil {
		outcome = "error"
	} else if state == StateMatchSimilar {
		outcome = "miss"
		if rc.Match.Answer != "" {
			outcome = "hit"
		}
	}
	rc.Trace = append(rc.Trace, StageTiming{Stage: state, Duration: elapsed, Outcome: outcome})
	observability.ObserveStage(strings.ToLower(string(state)), elapsed)
	o.logger.DebugContext(ctx, "pipeline stage finished",
		slog.String("run_id", rc.RunID),
		slog.String("stage", string(state)),
		slog.Duration("duration", elapsed),
		slog.String("outcome", outcome),
	)
}

func resolutionOutcome(rc *ResolutionContext) string {
	switch {
	case rc.Err == nil:
		return "answered"
	case apperr.IsKind(rc.Err, apperr.KindValidation):
		return "rejected"
	case IsNoTables(rc.Err):
		return "no_tables"
	case errors.Is(rc.Err, context.Canceled), errors.Is(rc.Err, context.DeadlineExceeded):
		return "abandoned"
	default:
		return "failed"
	}
}

// IsNoTables reports whether err is the intent stage finding nothing to query.
func IsNoTables(err error) bool {
	var appErr *apperr.Error
	return errors.As(err, &appErr) && appErr.Kind == apperr.KindParse && appErr.Op == OpAnalyzeIntent
}

// UserMessage is the text shown to the asker for a finished run.
func UserMessage(rc *ResolutionContext) string {
	if rc.Err == nil {
		return rc.Answer
	}
	if IsNoTables(rc.Err) {
		return NoTablesMessage
	}
	switch apperr.KindOf(rc.Err) {
	case apperr.KindAuth, apperr.KindSchemaFetch, apperr.KindInvalidInput:
		return apperr.MessageOf(rc.Err)
	default:
		return FailureMessage
	}
}
