package schema

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/renjiajia-patsnap/llmdemo/internal/apperr"
	"github.com/renjiajia-patsnap/llmdemo/internal/cache"
	"github.com/renjiajia-patsnap/llmdemo/internal/catalog"
	"github.com/renjiajia-patsnap/llmdemo/internal/observability"
	"github.com/renjiajia-patsnap/llmdemo/internal/query"
)

const (
	tablesKey         = "all_tables"
	detailKeyPrefix   = "table:"
	createTableColumn = "Create Table"
	defaultTTL        = 30 * 24 * time.Hour
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_$]+(\.[A-Za-z0-9_$]+)?$`)

type Config struct {
	TTL        time.Duration
	SampleRows int
}

// Cache fronts the catalog's table listing and per-table structure with a
// TTL cache. Concurrent misses on the same key are not collapsed; each caller
// fetches and the last write wins.
type Cache struct {
	lister  catalog.Lister
	engine  query.Engine
	tables  cache.Store[[]catalog.TableDescriptor]
	details cache.Store[catalog.TableDetail]
	cfg     Config
	logger  *slog.Logger
}

func New(lister catalog.Lister, engine query.Engine, tables cache.Store[[]catalog.TableDescriptor], details cache.Store[catalog.TableDetail], cfg Config, logger *slog.Logger) (*Cache, error) {
	if lister == nil {
		return nil, fmt.Errorf("table lister is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if tables == nil {
		tables = cache.NewMemory[[]catalog.TableDescriptor]()
	}
	if details == nil {
		details = cache.NewMemory[catalog.TableDetail]()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = 2
	}
	return &Cache{lister: lister, engine: engine, tables: tables, details: details, cfg: cfg, logger: logger}, nil
}

func (c *Cache) ListTables(ctx context.Context) ([]catalog.TableDescriptor, error) {
	cached, ok, err := c.tables.Get(ctx, tablesKey)
	if err != nil {
		c.warn(ctx, "schema cache read failed", tablesKey, err)
	}
	observability.ObserveCacheLookup("tables", ok)
	if ok {
		return cached, nil
	}

	tables, err := c.lister.ListTables(ctx)
	if err != nil {
		if apperr.KindOf(err) != "" {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindSchemaFetch, "schema.list_tables", "table listing failed", err)
	}
	if err := c.tables.Set(ctx, tablesKey, tables, c.cfg.TTL); err != nil {
		c.warn(ctx, "schema cache write failed", tablesKey, err)
	}
	return tables, nil
}

func (c *Cache) TableDetail(ctx context.Context, name string) (catalog.TableDetail, error) {
	name = strings.TrimSpace(name)
	if !tableNamePattern.MatchString(name) {
		return catalog.TableDetail{}, apperr.New(apperr.KindInvalidInput, "schema.table_detail", fmt.Sprintf("invalid table name %q", name))
	}

	key := detailKeyPrefix + name
	cached, ok, err := c.details.Get(ctx, key)
	if err != nil {
		c.warn(ctx, "schema cache read failed", key, err)
	}
	observability.ObserveCacheLookup("table_detail", ok)
	if ok {
		return cached, nil
	}

	detail, err := c.fetchDetail(ctx, name)
	if err != nil {
		return catalog.TableDetail{}, err
	}
	if err := c.details.Set(ctx, key, detail, c.cfg.TTL); err != nil {
		c.warn(ctx, "schema cache write failed", key, err)
	}
	return detail, nil
}

// Refresh drops the cached listing and fetches it again. Per-table details
// keep their own expiry.
func (c *Cache) Refresh(ctx context.Context) ([]catalog.TableDescriptor, error) {
	if err := c.tables.Delete(ctx, tablesKey); err != nil {
		c.warn(ctx, "schema cache delete failed", tablesKey, err)
	}
	return c.ListTables(ctx)
}

func (c *Cache) Invalidate(ctx context.Context, name string) error {
	return c.details.Delete(ctx, detailKeyPrefix+strings.TrimSpace(name))
}

func (c *Cache) fetchDetail(ctx context.Context, name string) (catalog.TableDetail, error) {
	ddlResult, err := c.engine.Execute(ctx, query.Request{SQL: "show create table " + name})
	if err != nil {
		return catalog.TableDetail{}, fetchErr(name, "show create table", err)
	}
	ddl := ""
	records := ddlResult.Records()
	if len(records) > 0 {
		if value, ok := records[0][createTableColumn]; ok && value != nil {
			ddl = fmt.Sprint(value)
		}
	}
	if ddl == "" {
		return catalog.TableDetail{}, apperr.New(apperr.KindSchemaFetch, "schema.table_detail", fmt.Sprintf("no DDL returned for table %q", name))
	}

	sampleResult, err := c.engine.Execute(ctx, query.Request{
		SQL:      fmt.Sprintf("select * from %s limit %d", name, c.cfg.SampleRows),
		RowLimit: c.cfg.SampleRows,
	})
	if err != nil {
		return catalog.TableDetail{}, fetchErr(name, "sample rows", err)
	}

	return catalog.TableDetail{
		Name:       name,
		DDL:        ddl,
		SampleRows: sampleResult.Records(),
	}, nil
}

func fetchErr(name, step string, err error) error {
	if apperr.IsKind(err, apperr.KindAuth) {
		return err
	}
	return apperr.Wrap(apperr.KindSchemaFetch, "schema.table_detail", fmt.Sprintf("%s for %q failed", step, name), err)
}

func (c *Cache) warn(ctx context.Context, msg, key string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.WarnContext(ctx, msg, slog.String("key", key), slog.Any("error", err))
}
