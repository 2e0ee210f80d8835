// Package config loads the run configuration from the environment.
//
// Every setting comes from an environment variable (a .env file is loaded by
// the CLI first). A profile supplies the pagination strategy, batch size,
// write mode and record limit; individual variables override the profile.
//
// Example usage:
//
//	cfg, err := config.FromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Destination.Table)
package config

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/acled-bq/pkg/destination"
	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
	"github.com/ajitpratap0/acled-bq/pkg/source"
)

// Environment variable names, lower-cased the way viper keys them.
const (
	KeyAPIURL          = "acled_api_url"
	KeyProjectID       = "project_id"
	KeyDatasetID       = "dataset_id"
	KeyTableID         = "table_id"
	KeyProfile         = "ingest_profile"
	KeyPagination      = "pagination"
	KeyBatchSize       = "batch_size"
	KeyWriteMode       = "write_mode"
	KeyMaxRecords      = "max_records"
	KeySchemaPolicy    = "schema_policy"
	KeyDestination     = "destination"
	KeyLocation        = "bq_location"
	KeyCredentialsFile = "google_credentials_file"
	KeyStagingBucket   = "staging_bucket"
	KeyStagingPrefix   = "staging_prefix"
	KeyHTTPTimeout     = "http_timeout"
	KeyLoadTimeout     = "load_timeout"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyLogDevelopment  = "log_development"
	KeyPushgatewayURL  = "pushgateway_url"
	KeyFailOnError     = "fail_on_error"
)

// Destination kinds.
const (
	DestinationBigQuery = "bigquery"
	DestinationMemory   = "memory"
)

// Default table identifiers used when the variables are unset.
const (
	DefaultProjectID = "my-acled-events"
	DefaultDatasetID = "acled_events"
	DefaultTableID   = "acled_events"
)

// Config is the complete run configuration.
type Config struct {
	// Profile is the name of the profile the defaults came from
	Profile string

	Source      SourceConfig
	Destination DestinationConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig

	// FailOnError makes the process exit non-zero on the failed outcome
	FailOnError bool
}

// SourceConfig describes how the API is paged.
type SourceConfig struct {
	// APIURL is the base query URL, including filters and credentials
	APIURL string
	// Pagination selects page or offset cursors
	Pagination source.Strategy
	// BatchSize is the number of records requested per call
	BatchSize int
	// MaxRecords stops the run once this many records are loaded (0 = unbounded)
	MaxRecords int
	// HTTPTimeout bounds a single request
	HTTPTimeout time.Duration
}

// DestinationConfig describes where batches are loaded.
type DestinationConfig struct {
	// Kind is bigquery or memory
	Kind            string
	Table           destination.TableRef
	WriteMode       destination.WriteMode
	SchemaPolicy    destination.SchemaPolicy
	// Location applies only when the dataset is created
	Location        string
	CredentialsFile string
	// StagingBucket enables staging batches in Cloud Storage
	StagingBucket string
	StagingPrefix string
	LoadTimeout   time.Duration
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string
	Format      string
	Development bool
}

// MetricsConfig configures the optional metrics push.
type MetricsConfig struct {
	PushgatewayURL string
}

// FromEnv loads the configuration from environment variables.
func FromEnv() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	return Load(v)
}

// Load reads the configuration from v, applying defaults and the selected
// profile, and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	profileName := strings.ToLower(strings.TrimSpace(v.GetString(KeyProfile)))
	profile, ok := profiles[profileName]
	if !ok {
		return nil, ingesterrors.Newf(ingesterrors.ErrorTypeConfig, "unknown profile %q (want one of %s)",
			profileName, strings.Join(ProfileNames(), ", "))
	}
	v.SetDefault(KeyPagination, string(profile.Pagination))
	v.SetDefault(KeyBatchSize, profile.BatchSize)
	v.SetDefault(KeyWriteMode, string(profile.WriteMode))
	v.SetDefault(KeyMaxRecords, profile.MaxRecords)

	strategy, err := source.ParseStrategy(v.GetString(KeyPagination))
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "invalid "+strings.ToUpper(KeyPagination))
	}
	mode, err := destination.ParseWriteMode(v.GetString(KeyWriteMode))
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "invalid "+strings.ToUpper(KeyWriteMode))
	}
	policy, err := destination.ParseSchemaPolicy(v.GetString(KeySchemaPolicy))
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "invalid "+strings.ToUpper(KeySchemaPolicy))
	}

	cfg := &Config{
		Profile: profileName,
		Source: SourceConfig{
			APIURL:      strings.TrimSpace(v.GetString(KeyAPIURL)),
			Pagination:  strategy,
			BatchSize:   v.GetInt(KeyBatchSize),
			MaxRecords:  v.GetInt(KeyMaxRecords),
			HTTPTimeout: v.GetDuration(KeyHTTPTimeout),
		},
		Destination: DestinationConfig{
			Kind: strings.ToLower(strings.TrimSpace(v.GetString(KeyDestination))),
			Table: destination.TableRef{
				Project: v.GetString(KeyProjectID),
				Dataset: v.GetString(KeyDatasetID),
				Table:   v.GetString(KeyTableID),
			},
			WriteMode:       mode,
			SchemaPolicy:    policy,
			Location:        v.GetString(KeyLocation),
			CredentialsFile: v.GetString(KeyCredentialsFile),
			StagingBucket:   v.GetString(KeyStagingBucket),
			StagingPrefix:   v.GetString(KeyStagingPrefix),
			LoadTimeout:     v.GetDuration(KeyLoadTimeout),
		},
		Logging: LoggingConfig{
			Level:       v.GetString(KeyLogLevel),
			Format:      v.GetString(KeyLogFormat),
			Development: v.GetBool(KeyLogDevelopment),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: v.GetString(KeyPushgatewayURL),
		},
		FailOnError: v.GetBool(KeyFailOnError),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyProjectID, DefaultProjectID)
	v.SetDefault(KeyDatasetID, DefaultDatasetID)
	v.SetDefault(KeyTableID, DefaultTableID)
	v.SetDefault(KeyProfile, ProfileFull)
	v.SetDefault(KeySchemaPolicy, string(destination.SchemaPolicyEvolve))
	v.SetDefault(KeyDestination, DestinationBigQuery)
	v.SetDefault(KeyLocation, "US")
	v.SetDefault(KeyStagingPrefix, "acled-bq")
	v.SetDefault(KeyHTTPTimeout, 60*time.Second)
	v.SetDefault(KeyLoadTimeout, 10*time.Minute)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyFailOnError, false)
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	if c.Source.APIURL == "" {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "ACLED_API_URL is required")
	}
	u, err := url.Parse(c.Source.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "ACLED_API_URL must be an absolute http(s) URL")
	}
	if c.Source.BatchSize <= 0 {
		return ingesterrors.Newf(ingesterrors.ErrorTypeConfig, "BATCH_SIZE must be positive, got %d", c.Source.BatchSize)
	}
	if c.Source.MaxRecords < 0 {
		return ingesterrors.Newf(ingesterrors.ErrorTypeConfig, "MAX_RECORDS must not be negative, got %d", c.Source.MaxRecords)
	}
	if c.Source.HTTPTimeout <= 0 {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "HTTP_TIMEOUT must be a positive duration")
	}
	if err := c.Destination.Table.Validate(); err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "invalid destination table")
	}
	switch c.Destination.Kind {
	case DestinationBigQuery, DestinationMemory:
	default:
		return ingesterrors.Newf(ingesterrors.ErrorTypeConfig, "DESTINATION must be bigquery or memory, got %q", c.Destination.Kind)
	}
	if c.Destination.LoadTimeout <= 0 {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "LOAD_TIMEOUT must be a positive duration")
	}
	return nil
}

// Profile is a named set of loop parameters. The three profiles correspond to
// the ways the ingestion is run: a full page-by-page append, a small sample
// that replaces the table, and a bulk offset-based append.
type Profile struct {
	Name        string
	Description string
	Pagination  source.Strategy
	BatchSize   int
	WriteMode   destination.WriteMode
	MaxRecords  int
}

// Profile names.
const (
	ProfileFull   = "full"
	ProfileSample = "sample"
	ProfileBulk   = "bulk"
)

var profiles = map[string]Profile{
	ProfileFull: {
		Name:        ProfileFull,
		Description: "page through every record and append",
		Pagination:  source.StrategyPage,
		BatchSize:   5000,
		WriteMode:   destination.WriteModeAppend,
	},
	ProfileSample: {
		Name:        ProfileSample,
		Description: "load a small sample, replacing the table",
		Pagination:  source.StrategyPage,
		BatchSize:   10,
		WriteMode:   destination.WriteModeTruncate,
		MaxRecords:  10,
	},
	ProfileBulk: {
		Name:        ProfileBulk,
		Description: "page by record offset in large batches and append",
		Pagination:  source.StrategyOffset,
		BatchSize:   5000,
		WriteMode:   destination.WriteModeAppend,
	},
}

// Profiles returns every profile sorted by name.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, name := range ProfileNames() {
		out = append(out, profiles[name])
	}
	return out
}

// ProfileNames returns the profile names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
