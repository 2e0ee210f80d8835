package destination

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
	"github.com/ajitpratap0/acled-bq/pkg/models"
)

// SchemaPolicy decides what happens when a batch carries columns that earlier
// batches did not.
type SchemaPolicy string

const (
	// SchemaPolicyEvolve adds unseen columns as nullable STRING columns
	SchemaPolicyEvolve SchemaPolicy = "evolve"
	// SchemaPolicyPinned fixes the column set from the table or the first batch
	// and rejects batches with unknown columns
	SchemaPolicyPinned SchemaPolicy = "pinned"
)

// ParseSchemaPolicy parses a schema policy name.
func ParseSchemaPolicy(s string) (SchemaPolicy, error) {
	switch SchemaPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case SchemaPolicyEvolve:
		return SchemaPolicyEvolve, nil
	case SchemaPolicyPinned:
		return SchemaPolicyPinned, nil
	default:
		return "", fmt.Errorf("unknown schema policy %q (want evolve or pinned)", s)
	}
}

// SchemaTracker keeps the column set of one destination table across the
// batches of a run. Columns keep their first-seen order and are never removed,
// so every load is submitted with a superset of the previous schema.
type SchemaTracker struct {
	policy  SchemaPolicy
	columns []string
	known   map[string]struct{}
	mu      sync.Mutex
}

// NewSchemaTracker creates an empty tracker.
func NewSchemaTracker(policy SchemaPolicy) *SchemaTracker {
	if policy == "" {
		policy = SchemaPolicyEvolve
	}
	return &SchemaTracker{
		policy: policy,
		known:  make(map[string]struct{}),
	}
}

// Policy returns the tracker's policy.
func (s *SchemaTracker) Policy() SchemaPolicy {
	return s.policy
}

// Seeded reports whether any column is known yet.
func (s *SchemaTracker) Seeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.columns) > 0
}

// Seed records columns that already exist in the destination table.
func (s *SchemaTracker) Seed(columns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(columns)
}

// Reset forgets every known column. Used when a truncating load replaces the
// table schema.
func (s *SchemaTracker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns = nil
	s.known = make(map[string]struct{})
}

// Columns returns a copy of the known columns.
func (s *SchemaTracker) Columns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.columns...)
}

// Resolve returns the column list to load the batch with. Under the pinned
// policy a batch introducing a column is rejected with an ErrorTypeSchema
// error once the column set is fixed; under evolve new columns are appended.
// The tracker is only updated when Resolve succeeds.
func (s *SchemaTracker) Resolve(batch *models.Batch) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unknown []string
	for _, col := range batch.Columns {
		if _, ok := s.known[col]; !ok {
			unknown = append(unknown, col)
		}
	}

	if len(unknown) > 0 && s.policy == SchemaPolicyPinned && len(s.columns) > 0 {
		return nil, ingesterrors.New(ingesterrors.ErrorTypeSchema, "batch has columns outside the pinned schema").
			WithDetail("unknown_columns", unknown).
			WithDetail("pinned_columns", len(s.columns))
	}

	s.addLocked(unknown)
	return append([]string(nil), s.columns...), nil
}

// Added returns the columns in next that are not in prev.
func Added(prev, next []string) []string {
	seen := make(map[string]struct{}, len(prev))
	for _, c := range prev {
		seen[c] = struct{}{}
	}
	var added []string
	for _, c := range next {
		if _, ok := seen[c]; !ok {
			added = append(added, c)
		}
	}
	return added
}

func (s *SchemaTracker) addLocked(columns []string) {
	for _, col := range columns {
		if _, ok := s.known[col]; ok {
			continue
		}
		s.known[col] = struct{}{}
		s.columns = append(s.columns, col)
	}
}
