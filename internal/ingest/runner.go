// Package ingest runs the fetch-and-load loop that copies ACLED events into a
// destination table.
//
// The loop requests one page at a time, converts it into a batch of text-only
// rows and loads it as a single job, waiting for the job before asking for the
// next page. It stops normally when the API returns no more records and stops
// with a failure on the first fetch or load error. Nothing is retried.
package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/acled-bq/pkg/destination"
	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
	"github.com/ajitpratap0/acled-bq/pkg/metrics"
	"github.com/ajitpratap0/acled-bq/pkg/models"
	"github.com/ajitpratap0/acled-bq/pkg/source"
)

// Outcome is how a run ended.
type Outcome string

const (
	// OutcomeExhausted means the source ran out of records or the record
	// limit was reached
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeFailed means a fetch or load error ended the run
	OutcomeFailed Outcome = "failed"
)

// Options are the loop parameters of a run.
type Options struct {
	Table      destination.TableRef
	Strategy   source.Strategy
	BatchSize  int
	WriteMode  destination.WriteMode
	MaxRecords int
}

// Validate checks that the options can drive a run.
func (o Options) Validate() error {
	if err := o.Table.Validate(); err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeValidation, "invalid table")
	}
	if _, err := source.ParseStrategy(string(o.Strategy)); err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeValidation, "invalid pagination strategy")
	}
	if _, err := destination.ParseWriteMode(string(o.WriteMode)); err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeValidation, "invalid write mode")
	}
	if o.BatchSize <= 0 {
		return ingesterrors.Newf(ingesterrors.ErrorTypeValidation, "batch size must be positive, got %d", o.BatchSize)
	}
	if o.MaxRecords < 0 {
		return ingesterrors.Newf(ingesterrors.ErrorTypeValidation, "max records must not be negative, got %d", o.MaxRecords)
	}
	return nil
}

// Result summarizes a finished run.
type Result struct {
	Outcome Outcome
	// Uploaded is the number of records in batches whose load job succeeded
	Uploaded int
	// Batches is the number of successful load jobs
	Batches int
	// Cursor is the position the run stopped at. On failure it is the
	// position of the failed request.
	Cursor source.Cursor
	// Err is the error that ended a failed run
	Err error
}

// Runner drives one ingestion run.
type Runner struct {
	fetcher  source.Fetcher
	loader   destination.Loader
	opts     Options
	reporter Reporter
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewRunner creates a runner. A nil reporter discards progress output and a
// nil collector records into a private registry.
func NewRunner(fetcher source.Fetcher, loader destination.Loader, opts Options, reporter Reporter, collector *metrics.Collector, logger *zap.Logger) (*Runner, error) {
	if fetcher == nil {
		return nil, ingesterrors.New(ingesterrors.ErrorTypeValidation, "fetcher is required")
	}
	if loader == nil {
		return nil, ingesterrors.New(ingesterrors.ErrorTypeValidation, "loader is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	if collector == nil {
		collector = metrics.NewCollector("acled-bq")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		fetcher:  fetcher,
		loader:   loader,
		opts:     opts,
		reporter: reporter,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "ingest")),
	}, nil
}

// Run executes the loop until the source is exhausted or an error occurs.
// The returned result is never nil.
func (r *Runner) Run(ctx context.Context) *Result {
	res := &Result{Cursor: source.NewCursor(r.opts.Strategy)}

	r.logger.Info("ingestion started",
		zap.String("pagination", string(r.opts.Strategy)),
		zap.Int("batch_size", r.opts.BatchSize),
		zap.String("write_mode", string(r.opts.WriteMode)),
		zap.Int("max_records", r.opts.MaxRecords))
	r.reporter.Started()

	r.loop(ctx, res)

	r.metrics.RecordOutcome(string(res.Outcome))
	if res.Outcome == OutcomeFailed {
		r.logger.Error("ingestion failed",
			zap.Error(res.Err),
			zap.String("error_type", string(ingesterrors.TypeOf(res.Err))),
			zap.String("cursor", res.Cursor.String()),
			zap.Int("uploaded", res.Uploaded),
			zap.Int("batches", res.Batches))
	} else {
		r.logger.Info("ingestion finished",
			zap.Int("uploaded", res.Uploaded),
			zap.Int("batches", res.Batches))
	}
	r.reporter.Finished(res)
	return res
}

func (r *Runner) loop(ctx context.Context, res *Result) {
	for {
		if r.opts.MaxRecords > 0 && res.Uploaded >= r.opts.MaxRecords {
			r.logger.Info("record limit reached", zap.Int("max_records", r.opts.MaxRecords))
			res.Outcome = OutcomeExhausted
			return
		}
		limit := r.limit(res.Uploaded)

		timer := metrics.NewTimer()
		page, err := r.fetcher.Fetch(ctx, res.Cursor, limit)
		r.metrics.ObserveFetch(timer.Stop(), err)
		if err != nil {
			r.reporter.FetchFailed(res.Cursor, err)
			r.fail(ctx, res, err)
			return
		}

		if len(page.Records) == 0 {
			r.logger.Debug("source exhausted", zap.String("cursor", res.Cursor.String()))
			res.Outcome = OutcomeExhausted
			return
		}

		records := page.Records
		if r.opts.MaxRecords > 0 {
			if remaining := r.opts.MaxRecords - res.Uploaded; len(records) > remaining {
				// the source ignored the limit
				r.logger.Warn("page exceeds record limit, dropping extra records",
					zap.Int("page_records", len(records)),
					zap.Int("remaining", remaining))
				records = records[:remaining]
			}
		}

		batch, err := models.NewBatch(records)
		if err != nil {
			err = ingesterrors.Wrap(err, ingesterrors.ErrorTypeDecode, "failed to convert records").
				WithDetail("cursor", res.Cursor.String())
			r.reporter.FetchFailed(res.Cursor, err)
			r.fail(ctx, res, err)
			return
		}

		req := destination.LoadRequest{
			Table:       r.opts.Table,
			Batch:       batch,
			Disposition: r.opts.WriteMode.Disposition(res.Batches),
			BatchIndex:  res.Batches,
		}

		timer = metrics.NewTimer()
		loaded, err := r.loader.Load(ctx, req)
		r.metrics.ObserveLoad(timer.Stop(), err)
		if err != nil {
			r.reporter.LoadFailed(res.Cursor, err)
			r.fail(ctx, res, err)
			return
		}

		n := batch.Len()
		if loaded != nil && loaded.OutputRows != int64(n) {
			r.logger.Warn("load job row count differs from batch size",
				zap.String("job_id", loaded.JobID),
				zap.Int64("output_rows", loaded.OutputRows),
				zap.Int("batch_rows", n))
		}

		res.Uploaded += n
		res.Batches++
		r.metrics.RecordBatch(n)
		r.reporter.BatchUploaded(res.Cursor, n, res.Uploaded)

		res.Cursor = res.Cursor.Advance(limit)
	}
}

// limit returns the page size for the next request, clamped to the remaining
// record budget.
func (r *Runner) limit(uploaded int) int {
	limit := r.opts.BatchSize
	if r.opts.MaxRecords > 0 {
		if remaining := r.opts.MaxRecords - uploaded; remaining < limit {
			limit = remaining
		}
	}
	return limit
}

func (r *Runner) fail(ctx context.Context, res *Result, err error) {
	if ctx.Err() != nil && !ingesterrors.IsType(err, ingesterrors.ErrorTypeCanceled) {
		err = ingesterrors.Wrap(err, ingesterrors.ErrorTypeCanceled, "run interrupted")
	}
	res.Outcome = OutcomeFailed
	res.Err = err
}
