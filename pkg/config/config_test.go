package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/acled-bq/pkg/destination"
	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
	"github.com/ajitpratap0/acled-bq/pkg/source"
)

const testURL = "https://api.acleddata.com/acled/read?key=k&email=e&country=Nigeria"

func newViper(values map[string]interface{}) *viper.Viper {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(map[string]interface{}{KeyAPIURL: testURL}))
	require.NoError(t, err)

	assert.Equal(t, ProfileFull, cfg.Profile)
	assert.Equal(t, testURL, cfg.Source.APIURL)
	assert.Equal(t, source.StrategyPage, cfg.Source.Pagination)
	assert.Equal(t, 5000, cfg.Source.BatchSize)
	assert.Equal(t, 0, cfg.Source.MaxRecords)
	assert.Equal(t, 60*time.Second, cfg.Source.HTTPTimeout)

	assert.Equal(t, DestinationBigQuery, cfg.Destination.Kind)
	assert.Equal(t, destination.TableRef{
		Project: DefaultProjectID,
		Dataset: DefaultDatasetID,
		Table:   DefaultTableID,
	}, cfg.Destination.Table)
	assert.Equal(t, destination.WriteModeAppend, cfg.Destination.WriteMode)
	assert.Equal(t, destination.SchemaPolicyEvolve, cfg.Destination.SchemaPolicy)
	assert.Equal(t, "US", cfg.Destination.Location)
	assert.Equal(t, 10*time.Minute, cfg.Destination.LoadTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.False(t, cfg.FailOnError)
	assert.Empty(t, cfg.Metrics.PushgatewayURL)
}

func TestLoadProfiles(t *testing.T) {
	tests := []struct {
		profile    string
		strategy   source.Strategy
		batchSize  int
		mode       destination.WriteMode
		maxRecords int
	}{
		{ProfileFull, source.StrategyPage, 5000, destination.WriteModeAppend, 0},
		{ProfileSample, source.StrategyPage, 10, destination.WriteModeTruncate, 10},
		{ProfileBulk, source.StrategyOffset, 5000, destination.WriteModeAppend, 0},
	}

	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			cfg, err := Load(newViper(map[string]interface{}{
				KeyAPIURL:  testURL,
				KeyProfile: tt.profile,
			}))
			require.NoError(t, err)
			assert.Equal(t, tt.profile, cfg.Profile)
			assert.Equal(t, tt.strategy, cfg.Source.Pagination)
			assert.Equal(t, tt.batchSize, cfg.Source.BatchSize)
			assert.Equal(t, tt.mode, cfg.Destination.WriteMode)
			assert.Equal(t, tt.maxRecords, cfg.Source.MaxRecords)
		})
	}
}

func TestLoadOverridesProfile(t *testing.T) {
	cfg, err := Load(newViper(map[string]interface{}{
		KeyAPIURL:     testURL,
		KeyProfile:    ProfileSample,
		KeyBatchSize:  250,
		KeyWriteMode:  "append",
		KeyMaxRecords: 0,
		KeyPagination: "offset",
	}))
	require.NoError(t, err)

	assert.Equal(t, source.StrategyOffset, cfg.Source.Pagination)
	assert.Equal(t, 250, cfg.Source.BatchSize)
	assert.Equal(t, destination.WriteModeAppend, cfg.Destination.WriteMode)
	assert.Equal(t, 0, cfg.Source.MaxRecords)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("ACLED_API_URL", testURL)
	t.Setenv("PROJECT_ID", "proj")
	t.Setenv("DATASET_ID", "ds")
	t.Setenv("TABLE_ID", "events")
	t.Setenv("INGEST_PROFILE", "bulk")
	t.Setenv("BATCH_SIZE", "1000")
	t.Setenv("SCHEMA_POLICY", "pinned")
	t.Setenv("DESTINATION", "memory")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("FAIL_ON_ERROR", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "proj.ds.events", cfg.Destination.Table.String())
	assert.Equal(t, ProfileBulk, cfg.Profile)
	assert.Equal(t, source.StrategyOffset, cfg.Source.Pagination)
	assert.Equal(t, 1000, cfg.Source.BatchSize)
	assert.Equal(t, destination.SchemaPolicyPinned, cfg.Destination.SchemaPolicy)
	assert.Equal(t, DestinationMemory, cfg.Destination.Kind)
	assert.Equal(t, 5*time.Second, cfg.Source.HTTPTimeout)
	assert.True(t, cfg.FailOnError)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
		want   string
	}{
		{
			name:   "missing url",
			values: map[string]interface{}{},
			want:   "ACLED_API_URL is required",
		},
		{
			name:   "relative url",
			values: map[string]interface{}{KeyAPIURL: "/acled/read"},
			want:   "absolute http(s) URL",
		},
		{
			name:   "unknown profile",
			values: map[string]interface{}{KeyAPIURL: testURL, KeyProfile: "nightly"},
			want:   "unknown profile",
		},
		{
			name:   "bad pagination",
			values: map[string]interface{}{KeyAPIURL: testURL, KeyPagination: "cursor"},
			want:   "PAGINATION",
		},
		{
			name:   "bad write mode",
			values: map[string]interface{}{KeyAPIURL: testURL, KeyWriteMode: "merge"},
			want:   "WRITE_MODE",
		},
		{
			name:   "bad schema policy",
			values: map[string]interface{}{KeyAPIURL: testURL, KeySchemaPolicy: "strict"},
			want:   "SCHEMA_POLICY",
		},
		{
			name:   "zero batch size",
			values: map[string]interface{}{KeyAPIURL: testURL, KeyBatchSize: 0},
			want:   "BATCH_SIZE",
		},
		{
			name:   "negative max records",
			values: map[string]interface{}{KeyAPIURL: testURL, KeyMaxRecords: -1},
			want:   "MAX_RECORDS",
		},
		{
			name:   "empty table",
			values: map[string]interface{}{KeyAPIURL: testURL, KeyTableID: ""},
			want:   "invalid destination table",
		},
		{
			name:   "unknown destination",
			values: map[string]interface{}{KeyAPIURL: testURL, KeyDestination: "s3"},
			want:   "DESTINATION",
		},
		{
			name:   "zero load timeout",
			values: map[string]interface{}{KeyAPIURL: testURL, KeyLoadTimeout: "0s"},
			want:   "LOAD_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(tt.values))
			require.Error(t, err)
			assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestProfiles(t *testing.T) {
	assert.Equal(t, []string{ProfileBulk, ProfileFull, ProfileSample}, ProfileNames())

	all := Profiles()
	require.Len(t, all, 3)
	for _, p := range all {
		assert.NotEmpty(t, p.Description)
		assert.Positive(t, p.BatchSize)
	}
}
