package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/acled-bq/internal/ingest"
	"github.com/ajitpratap0/acled-bq/pkg/clients"
	"github.com/ajitpratap0/acled-bq/pkg/config"
	"github.com/ajitpratap0/acled-bq/pkg/destination"
	bqdest "github.com/ajitpratap0/acled-bq/pkg/destination/bigquery"
	"github.com/ajitpratap0/acled-bq/pkg/destination/memory"
	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
	"github.com/ajitpratap0/acled-bq/pkg/logger"
	"github.com/ajitpratap0/acled-bq/pkg/metrics"
	"github.com/ajitpratap0/acled-bq/pkg/source"
)

const pushTimeout = 10 * time.Second

// run executes one ingestion with the configuration from the environment.
func run(parent context.Context, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Format,
	}); err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "invalid logging configuration")
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	ctx = logger.ContextWithRun(ctx, runID, cfg.Destination.Table.String())
	log := logger.WithContext(ctx).With(zap.String("component", "acled-bq-cli"))

	log.Info("starting ingestion",
		zap.String("profile", cfg.Profile),
		zap.String("destination", cfg.Destination.Kind),
		zap.String("api_url", source.RedactURL(cfg.Source.APIURL)))

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RequestTimeout = cfg.Source.HTTPTimeout
	httpCfg.ResponseHeaderTimeout = cfg.Source.HTTPTimeout
	httpClient := clients.NewHTTPClient(httpCfg, log)
	defer func() { _ = httpClient.Close() }()

	src := source.NewACLEDSource(cfg.Source.APIURL, httpClient, log)

	loader, err := newLoader(ctx, cfg, runID, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := loader.Close(); err != nil {
			log.Warn("failed to close destination", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector("acled-bq")

	runner, err := ingest.NewRunner(src, loader, ingest.Options{
		Table:      cfg.Destination.Table,
		Strategy:   cfg.Source.Pagination,
		BatchSize:  cfg.Source.BatchSize,
		WriteMode:  cfg.Destination.WriteMode,
		MaxRecords: cfg.Source.MaxRecords,
	}, ingest.NewConsoleReporter(out), collector, log)
	if err != nil {
		return err
	}

	res := runner.Run(ctx)

	pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := collector.Push(pushCtx, cfg.Metrics.PushgatewayURL); err != nil {
		log.Warn("failed to push metrics", zap.Error(err))
	}

	stats := httpClient.GetStats()
	log.Info("run summary",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("uploaded", res.Uploaded),
		zap.Int("batches", res.Batches),
		zap.Int64("requests", stats.TotalRequests),
		zap.Int64("failed_requests", stats.FailedRequests))

	if res.Outcome == ingest.OutcomeFailed && cfg.FailOnError {
		return errors.Join(errRunFailed, res.Err)
	}
	return nil
}

// newLoader builds the destination selected by cfg.
func newLoader(ctx context.Context, cfg *config.Config, runID string, log *zap.Logger) (destination.Loader, error) {
	if cfg.Destination.Kind == config.DestinationMemory {
		log.Warn("using the in-memory destination, nothing will be written to BigQuery")
		return memory.NewLoader(cfg.Destination.SchemaPolicy, log), nil
	}

	var opts []option.ClientOption
	if cfg.Destination.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Destination.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.Destination.Table.Project, opts...)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConnection, "failed to create BigQuery client")
	}

	var stager *bqdest.Stager
	if cfg.Destination.StagingBucket != "" {
		gcs, err := storage.NewClient(ctx, opts...)
		if err != nil {
			_ = client.Close()
			return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConnection, "failed to create Cloud Storage client")
		}
		stager = bqdest.NewStager(gcs, cfg.Destination.StagingBucket, cfg.Destination.StagingPrefix, log)
		log.Info("staging batches in Cloud Storage",
			zap.String("bucket", cfg.Destination.StagingBucket),
			zap.String("prefix", cfg.Destination.StagingPrefix))
	}

	return bqdest.NewLoader(client, bqdest.Options{
		Policy:      cfg.Destination.SchemaPolicy,
		Location:    cfg.Destination.Location,
		LoadTimeout: cfg.Destination.LoadTimeout,
		RunID:       runID,
		Stager:      stager,
	}, log), nil
}
