package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
	"github.com/ajitpratap0/acled-bq/pkg/models"
)

// Stager writes batches to Cloud Storage as gzip-compressed NDJSON so the load
// job reads from a GCS URI instead of a request body.
type Stager struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewStager creates a stager writing under gs://bucket/prefix.
func NewStager(client *storage.Client, bucket, prefix string, logger *zap.Logger) *Stager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stager{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With(zap.String("component", "gcs_stager")),
	}
}

// ObjectName returns the staging object name for a batch.
func (s *Stager) ObjectName(runID string, batchIndex int) string {
	name := fmt.Sprintf("%s/batch-%06d.json.gz", runID, batchIndex)
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Stage uploads rows and returns a GCS load source configured with schema,
// plus a cleanup func that deletes the staged object.
func (s *Stager) Stage(ctx context.Context, name string, rows []models.Row, schema bigquery.Schema) (*bigquery.GCSReference, func(), error) {
	obj := s.client.Bucket(s.bucket).Object(name)

	w := obj.NewWriter(ctx)
	w.ContentType = "application/x-ndjson"

	gz := gzip.NewWriter(w)
	if err := writeNDJSON(gz, rows); err != nil {
		_ = gz.Close()
		_ = w.Close()
		return nil, nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "failed to write staging object").
			WithDetail("object", name)
	}
	if err := gz.Close(); err != nil {
		_ = w.Close()
		return nil, nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "failed to compress staging object").
			WithDetail("object", name)
	}
	if err := w.Close(); err != nil {
		return nil, nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "failed to upload staging object").
			WithDetail("object", name)
	}

	uri := fmt.Sprintf("gs://%s/%s", s.bucket, name)
	s.logger.Debug("batch staged", zap.String("uri", uri), zap.Int("rows", len(rows)))

	ref := bigquery.NewGCSReference(uri)
	ref.SourceFormat = bigquery.JSON
	ref.Compression = bigquery.Gzip
	ref.Schema = schema

	cleanup := func() {
		if err := obj.Delete(context.Background()); err != nil {
			s.logger.Warn("failed to delete staging object", zap.String("uri", uri), zap.Error(err))
		}
	}
	return ref, cleanup, nil
}

// Close closes the storage client.
func (s *Stager) Close() error {
	return s.client.Close()
}
