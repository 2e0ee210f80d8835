// Package bigquery loads batches into BigQuery with load jobs.
//
// Each batch becomes one load job whose source is either the NDJSON-encoded
// batch streamed in the request body or, when a Stager is configured, a
// gzip-compressed object in Cloud Storage. The loader blocks until the job is
// done and reports failure through ingesterrors.ErrorTypeLoad errors.
package bigquery

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/ajitpratap0/acled-bq/pkg/destination"
	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
)

const (
	defaultLoadTimeout = 10 * time.Minute
	defaultLocation    = "US"
	jobIDPrefix        = "acled_"
)

// Options configures a Loader.
type Options struct {
	// Policy decides how new columns are handled across batches
	Policy destination.SchemaPolicy
	// Location is used when the dataset has to be created. Jobs always run in
	// the location of the dataset itself.
	Location string
	// LoadTimeout bounds how long a single job is waited on
	LoadTimeout time.Duration
	// RunID ties job IDs, labels and staging objects to one run
	RunID string
	// Stager, when set, stages batches in Cloud Storage before loading
	Stager *Stager
}

// Loader implements destination.Loader on top of BigQuery load jobs.
type Loader struct {
	client *bigquery.Client
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	datasets map[string]string
	tables   map[string]*tableState
}

// tableState is what the loader knows about one destination table.
type tableState struct {
	tracker   *destination.SchemaTracker
	existing  map[string]*bigquery.FieldSchema
	inspected bool
}

// NewLoader creates a loader that owns client (and the stager's storage
// client, if any); Close releases both.
func NewLoader(client *bigquery.Client, opts Options, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Policy == "" {
		opts.Policy = destination.SchemaPolicyEvolve
	}
	if opts.Location == "" {
		opts.Location = defaultLocation
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	return &Loader{
		client:   client,
		opts:     opts,
		logger:   logger.With(zap.String("component", "bigquery_loader")),
		datasets: make(map[string]string),
		tables:   make(map[string]*tableState),
	}
}

// Load submits req.Batch as a load job and waits for it to finish.
func (l *Loader) Load(ctx context.Context, req destination.LoadRequest) (*destination.LoadResult, error) {
	if req.Batch == nil || req.Batch.Len() == 0 {
		return nil, ingesterrors.New(ingesterrors.ErrorTypeValidation, "load request has no rows")
	}

	location, err := l.ensureDataset(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	table := l.client.DatasetInProject(req.Table.Project, req.Table.Dataset).Table(req.Table.Table)

	state, err := l.state(ctx, req, table)
	if err != nil {
		return nil, err
	}

	prev := state.tracker.Columns()
	columns, err := state.tracker.Resolve(req.Batch)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "batch rejected").
			WithDetail("table", req.Table.String()).
			WithDetail("batch", req.BatchIndex)
	}
	if added := destination.Added(prev, columns); len(added) > 0 && len(prev) > 0 {
		l.logger.Info("adding columns to destination schema",
			zap.String("table", req.Table.String()),
			zap.Strings("columns", added))
	}

	schema := buildSchema(columns, state.existing)

	src, cleanup, err := l.loadSource(ctx, req, schema)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	loader := table.LoaderFrom(src)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = bigquery.TableWriteDisposition(req.Disposition)
	if req.Disposition == destination.DispositionAppend && l.opts.Policy == destination.SchemaPolicyEvolve {
		loader.SchemaUpdateOptions = []string{"ALLOW_FIELD_ADDITION"}
	}
	loader.JobIDConfig = bigquery.JobIDConfig{
		JobID:          jobID(l.opts.RunID, req.BatchIndex),
		AddJobIDSuffix: true,
		Location:       location,
	}
	loader.Labels = jobLabels(l.opts.RunID, req)

	l.logger.Debug("submitting load job",
		zap.String("table", req.Table.String()),
		zap.String("disposition", string(req.Disposition)),
		zap.String("location", location),
		zap.Int("rows", req.Batch.Len()),
		zap.Int("columns", len(columns)))

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "failed to submit load job").
			WithDetail("table", req.Table.String()).
			WithDetail("batch", req.BatchIndex)
	}

	jobCtx, cancel := context.WithTimeout(ctx, l.opts.LoadTimeout)
	defer cancel()

	status, err := job.Wait(jobCtx)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "load job failed or timed out").
			WithDetail("job_id", job.ID()).
			WithDetail("table", req.Table.String())
	}

	if status.Err() != nil {
		l.logger.Error("load job failed",
			zap.Error(status.Err()),
			zap.String("job_id", job.ID()))

		for i, jobErr := range status.Errors {
			if jobErr == nil {
				continue
			}
			l.logger.Error("load job error detail",
				zap.Int("error_index", i),
				zap.String("message", jobErr.Message),
				zap.String("reason", jobErr.Reason),
				zap.String("location", jobErr.Location))
		}

		return nil, ingesterrors.Wrap(status.Err(), ingesterrors.ErrorTypeLoad, "load job failed").
			WithDetail("job_id", job.ID()).
			WithDetail("table", req.Table.String())
	}

	result := &destination.LoadResult{
		JobID:      job.ID(),
		OutputRows: int64(req.Batch.Len()),
		Columns:    columns,
	}
	if status.Statistics != nil {
		if loadStats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
			result.OutputRows = loadStats.OutputRows
			l.logger.Debug("load job completed",
				zap.String("job_id", job.ID()),
				zap.Int64("input_file_bytes", loadStats.InputFileBytes),
				zap.Int64("output_rows", loadStats.OutputRows))
		}
	}

	return result, nil
}

// Close closes the BigQuery client and the stager, if any.
func (l *Loader) Close() error {
	var errs []error
	if l.opts.Stager != nil {
		if err := l.opts.Stager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if l.client != nil {
		if err := l.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ensureDataset creates the dataset on first use if it does not exist and
// returns the dataset's location.
func (l *Loader) ensureDataset(ctx context.Context, ref destination.TableRef) (string, error) {
	key := ref.Project + "." + ref.Dataset

	l.mu.Lock()
	location, done := l.datasets[key]
	l.mu.Unlock()
	if done {
		return location, nil
	}

	dataset := l.client.DatasetInProject(ref.Project, ref.Dataset)
	md, err := dataset.Metadata(ctx)
	switch {
	case err == nil:
		location = md.Location
	case isNotFound(err):
		err := dataset.Create(ctx, &bigquery.DatasetMetadata{Location: l.opts.Location})
		switch {
		case err == nil:
			location = l.opts.Location
			l.logger.Info("dataset created", zap.String("dataset", key), zap.String("location", location))
		case isAlreadyExists(err):
			// created concurrently; its location may differ from ours
			md, err := dataset.Metadata(ctx)
			if err != nil {
				return "", ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "failed to read dataset metadata").
					WithDetail("dataset", key)
			}
			location = md.Location
		default:
			return "", ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "failed to create dataset").
				WithDetail("dataset", key)
		}
	default:
		return "", ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "failed to read dataset metadata").
			WithDetail("dataset", key)
	}

	l.mu.Lock()
	l.datasets[key] = location
	l.mu.Unlock()
	return location, nil
}

// state returns the table state, inspecting the existing table schema the
// first time an appending load reaches it. A truncating load discards the
// known schema since the job replaces it.
func (l *Loader) state(ctx context.Context, req destination.LoadRequest, table *bigquery.Table) (*tableState, error) {
	key := req.Table.String()

	l.mu.Lock()
	st, ok := l.tables[key]
	if !ok {
		st = &tableState{
			tracker:  destination.NewSchemaTracker(l.opts.Policy),
			existing: map[string]*bigquery.FieldSchema{},
		}
		l.tables[key] = st
	}
	l.mu.Unlock()

	if req.Disposition == destination.DispositionTruncate {
		st.tracker.Reset()
		st.existing = map[string]*bigquery.FieldSchema{}
		st.inspected = true
		return st, nil
	}

	if st.inspected {
		return st, nil
	}

	md, err := table.Metadata(ctx)
	switch {
	case err == nil:
		names, fields := schemaFields(md.Schema)
		st.tracker.Seed(names)
		st.existing = fields
		l.logger.Debug("existing table schema loaded",
			zap.String("table", key),
			zap.Int("columns", len(names)))
	case isNotFound(err):
		l.logger.Debug("destination table does not exist yet", zap.String("table", key))
	default:
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "failed to read table metadata").
			WithDetail("table", key)
	}
	st.inspected = true
	return st, nil
}

// loadSource builds the job source for a batch and a cleanup func that must
// run once the job is done.
func (l *Loader) loadSource(ctx context.Context, req destination.LoadRequest, schema bigquery.Schema) (bigquery.LoadSource, func(), error) {
	if l.opts.Stager != nil {
		name := l.opts.Stager.ObjectName(l.opts.RunID, req.BatchIndex)
		ref, cleanup, err := l.opts.Stager.Stage(ctx, name, req.Batch.Rows, schema)
		if err != nil {
			return nil, nil, err
		}
		return ref, cleanup, nil
	}

	reader := ndjsonReader(req.Batch.Rows)
	src := bigquery.NewReaderSource(reader)
	src.SourceFormat = bigquery.JSON
	src.Schema = schema

	return src, func() { _ = reader.Close() }, nil
}

// jobID returns the job ID prefix for a batch; BigQuery appends a random suffix.
func jobID(runID string, batchIndex int) string {
	id := jobIDPrefix
	if runID != "" {
		id += sanitizeJobID(runID) + "_"
	}
	return id + "b" + strconv.Itoa(batchIndex) + "_"
}

func jobLabels(runID string, req destination.LoadRequest) map[string]string {
	labels := map[string]string{
		"source":      "acled",
		"batch":       strconv.Itoa(req.BatchIndex),
		"disposition": strings.ToLower(string(req.Disposition)),
	}
	if runID != "" {
		labels["run_id"] = strings.ToLower(sanitizeJobID(runID))
	}
	return labels
}

// sanitizeJobID keeps only characters BigQuery accepts in job IDs.
func sanitizeJobID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 63 {
		out = out[:63]
	}
	return out
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
