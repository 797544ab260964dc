// Package query runs SQL over exported traces with DuckDB.
//
// The service registers two views over the Parquet files of an export
// directory:
//
//	events  one row per record (see export.EventRow)
//	bins    one row per histogram bin (see export.BinRow)
//
// Views are only created for file kinds that exist; call Refresh after
// exporting more traces.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/export"
	"github.com/xtxerr/tracelens/internal/logging"
)

var log = logging.Component("query")

// View names.
const (
	EventsView = "events"
	BinsView   = "bins"
)

// Config configures the query service.
type Config struct {
	// Dir is the export directory.
	Dir string

	// MemoryLimit is passed to DuckDB, e.g. "1GB". Empty keeps the default.
	MemoryLimit string
}

// Service provides query capabilities over exported traces.
type Service struct {
	mu sync.RWMutex

	cfg Config
	db  *sql.DB

	views  map[string]bool
	closed bool

	// Statistics
	stats ServiceStats
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// TraceSummary describes one exported trace.
type TraceSummary struct {
	Trace   string
	Records int64
	Reads   int64
	Writes  int64
	FirstNs int64
	LastNs  int64
}

// New creates a new query service.
func New(cfg Config) (*Service, error) {
	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// Configure DuckDB
	if cfg.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", quote(cfg.MemoryLimit)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	s := &Service{
		cfg:   cfg,
		db:    db,
		views: make(map[string]bool),
	}
	if err := s.Refresh(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the query service. Queries after Close fail with ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Service) requireOpen() error {
	if s.closed {
		return errors.Wrap(errors.ErrClosed, "query service")
	}
	return nil
}

// Refresh (re)creates the views over the files currently in the export
// directory.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return err
	}

	for view, suffix := range map[string]string{EventsView: export.EventsSuffix, BinsView: export.BinsSuffix} {
		pattern := filepath.Join(s.cfg.Dir, "*"+suffix)
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("glob %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			s.views[view] = false
			continue
		}

		stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet('%s')", view, quote(pattern))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create view %s: %w", view, err)
		}
		s.views[view] = true
		log.Debug("view created", "view", view, "files", len(matches))
	}
	return nil
}

// HasView reports whether a view exists.
func (s *Service) HasView(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.views[name]
}

func (s *Service) requireView(name string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	if !s.views[name] {
		return errors.NewNotFound("view", name)
	}
	return nil
}

// Traces summarizes every exported trace.
func (s *Service) Traces(ctx context.Context) ([]TraceSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireView(EventsView); err != nil {
		return nil, err
	}

	query := `
		SELECT
			trace,
			COUNT(*),
			COUNT(*) FILTER (WHERE rw_flag = 1),
			COUNT(*) FILTER (WHERE rw_flag = 0),
			MIN(time_ns),
			MAX(time_ns)
		FROM events
		GROUP BY trace
		ORDER BY trace
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var results []TraceSummary
	for rows.Next() {
		var t TraceSummary
		if err := rows.Scan(&t.Trace, &t.Records, &t.Reads, &t.Writes, &t.FirstNs, &t.LastNs); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, t)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))
	return results, rows.Err()
}

// Counts returns the read and write counts of an exported trace.
func (s *Service) Counts(ctx context.Context, trace string) (analysis.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireView(EventsView); err != nil {
		return analysis.Counts{}, err
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE rw_flag = 1),
			COUNT(*) FILTER (WHERE rw_flag = 0)
		FROM events
		WHERE trace = $1
	`

	var c analysis.Counts
	if err := s.db.QueryRowContext(ctx, query, trace).Scan(&c.Read, &c.Write); err != nil {
		s.stats.Errors++
		return analysis.Counts{}, fmt.Errorf("query counts: %w", err)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned++
	return c, nil
}

// Histogram returns the stored histogram bins of an exported trace.
func (s *Service) Histogram(ctx context.Context, trace string) (analysis.Histogram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireView(BinsView); err != nil {
		return analysis.Histogram{}, err
	}

	query := `
		SELECT bin_start, bin_size_lba, reads, writes
		FROM bins
		WHERE trace = $1
		ORDER BY bin_start
	`

	rows, err := s.db.QueryContext(ctx, query, trace)
	if err != nil {
		s.stats.Errors++
		return analysis.Histogram{}, fmt.Errorf("query histogram: %w", err)
	}
	defer rows.Close()

	h := analysis.Histogram{Bins: []analysis.Bin{}}
	for rows.Next() {
		var b analysis.Bin
		if err := rows.Scan(&b.Start, &h.BinSizeLBA, &b.Read, &b.Write); err != nil {
			return analysis.Histogram{}, fmt.Errorf("scan row: %w", err)
		}
		h.Bins = append(h.Bins, b)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(h.Bins))
	return h, rows.Err()
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// This is useful for ad-hoc queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]string, []map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return columns, results, rows.Err()
}

// quote escapes a string for a single-quoted SQL literal.
func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
