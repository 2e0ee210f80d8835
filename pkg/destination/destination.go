// Package destination defines how a batch reaches the warehouse.
//
// A Loader submits one batch as a load job and blocks until the job reaches a
// terminal state. Loaders are constructed by the caller and passed to the
// ingestion loop, so a test can hand it an in-memory loader instead of a
// BigQuery client.
package destination

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajitpratap0/acled-bq/pkg/models"
)

// TableRef addresses a destination table as project.dataset.table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// ParseTableRef parses a three-part "project.dataset.table" identifier.
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return TableRef{}, fmt.Errorf("table reference %q must have the form project.dataset.table", s)
	}
	ref := TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}
	if err := ref.Validate(); err != nil {
		return TableRef{}, err
	}
	return ref, nil
}

// Validate checks that no part is empty.
func (r TableRef) Validate() error {
	if r.Project == "" || r.Dataset == "" || r.Table == "" {
		return fmt.Errorf("table reference %q has an empty part", r.String())
	}
	return nil
}

// String returns the three-part identifier.
func (r TableRef) String() string {
	return r.Project + "." + r.Dataset + "." + r.Table
}

// WriteMode is the run-level write behaviour.
type WriteMode string

const (
	// WriteModeAppend keeps existing rows
	WriteModeAppend WriteMode = "append"
	// WriteModeTruncate replaces existing rows with the first batch of the run
	WriteModeTruncate WriteMode = "truncate"
)

// ParseWriteMode parses a write mode name.
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(strings.ToLower(strings.TrimSpace(s))) {
	case WriteModeAppend:
		return WriteModeAppend, nil
	case WriteModeTruncate:
		return WriteModeTruncate, nil
	default:
		return "", fmt.Errorf("unknown write mode %q (want append or truncate)", s)
	}
}

// Disposition is the write behaviour of a single load job.
type Disposition string

const (
	// DispositionAppend appends the batch to the table
	DispositionAppend Disposition = "WRITE_APPEND"
	// DispositionTruncate replaces the table contents with the batch
	DispositionTruncate Disposition = "WRITE_TRUNCATE"
)

// Disposition returns the disposition for the batch at batchIndex (0-based).
// Only the first batch of a truncate run truncates; every later batch appends
// so the run never discards its own earlier batches.
func (m WriteMode) Disposition(batchIndex int) Disposition {
	if m == WriteModeTruncate && batchIndex == 0 {
		return DispositionTruncate
	}
	return DispositionAppend
}

// LoadRequest is one batch to load.
type LoadRequest struct {
	Table       TableRef
	Batch       *models.Batch
	Disposition Disposition
	// BatchIndex is the 0-based position of the batch within the run
	BatchIndex int
}

// LoadResult describes a completed load job.
type LoadResult struct {
	JobID      string
	OutputRows int64
	Columns    []string
}

// Loader submits a batch as a load job and waits for its terminal state.
// A returned error means the batch was not committed.
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (*LoadResult, error)
	Close() error
}
