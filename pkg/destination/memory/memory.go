// Package memory implements a destination.Loader that keeps tables in memory.
// It backs dry runs (DESTINATION=memory) and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/acled-bq/pkg/destination"
	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
	"github.com/ajitpratap0/acled-bq/pkg/models"
)

// Table is the in-memory state of one destination table.
type Table struct {
	Columns []string
	Rows    []models.Row
}

// Loader stores loaded batches per table reference.
type Loader struct {
	policy destination.SchemaPolicy
	logger *zap.Logger

	mu       sync.Mutex
	tables   map[string]*Table
	trackers map[string]*destination.SchemaTracker
	jobs     int
}

// NewLoader creates an empty in-memory loader.
func NewLoader(policy destination.SchemaPolicy, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		policy:   policy,
		logger:   logger.With(zap.String("component", "memory_loader")),
		tables:   make(map[string]*Table),
		trackers: make(map[string]*destination.SchemaTracker),
	}
}

// Load applies the batch to the table. A truncating load replaces both the
// rows and the schema of the table.
func (l *Loader) Load(ctx context.Context, req destination.LoadRequest) (*destination.LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "load canceled")
	}
	if req.Batch == nil {
		return nil, ingesterrors.New(ingesterrors.ErrorTypeValidation, "load request has no batch")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.jobs++
	key := req.Table.String()

	tracker, ok := l.trackers[key]
	if !ok {
		tracker = destination.NewSchemaTracker(l.policy)
		l.trackers[key] = tracker
	}
	if req.Disposition == destination.DispositionTruncate {
		tracker.Reset()
	}

	columns, err := tracker.Resolve(req.Batch)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "batch rejected").
			WithDetail("table", key)
	}

	table, ok := l.tables[key]
	if !ok || req.Disposition == destination.DispositionTruncate {
		table = &Table{}
		l.tables[key] = table
	}
	table.Columns = columns
	for _, row := range req.Batch.Rows {
		cp := make(models.Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		table.Rows = append(table.Rows, cp)
	}

	jobID := fmt.Sprintf("memory_%d", l.jobs)
	l.logger.Debug("batch loaded",
		zap.String("job_id", jobID),
		zap.String("table", key),
		zap.String("disposition", string(req.Disposition)),
		zap.Int("rows", req.Batch.Len()))

	return &destination.LoadResult{
		JobID:      jobID,
		OutputRows: int64(req.Batch.Len()),
		Columns:    columns,
	}, nil
}

// Rows returns a copy of the rows currently stored for ref.
func (l *Loader) Rows(ref destination.TableRef) []models.Row {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tables[ref.String()]
	if !ok {
		return nil
	}
	return append([]models.Row(nil), t.Rows...)
}

// Columns returns the column list currently stored for ref.
func (l *Loader) Columns(ref destination.TableRef) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tables[ref.String()]
	if !ok {
		return nil
	}
	return append([]string(nil), t.Columns...)
}

// Seed replaces the contents of ref, as if the table already existed.
func (l *Loader) Seed(ref destination.TableRef, columns []string, rows []models.Row) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tracker := destination.NewSchemaTracker(l.policy)
	tracker.Seed(columns)
	l.trackers[ref.String()] = tracker
	l.tables[ref.String()] = &Table{
		Columns: append([]string(nil), columns...),
		Rows:    append([]models.Row(nil), rows...),
	}
}

// Jobs returns the number of load attempts seen so far.
func (l *Loader) Jobs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.jobs
}

// Close implements destination.Loader.
func (l *Loader) Close() error {
	return nil
}
