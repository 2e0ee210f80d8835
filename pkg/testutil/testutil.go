// Package testutil provides testing utilities for acled-bq
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/acled-bq/pkg/models"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// Events returns n ACLED-shaped event records numbered from start. Values use
// the mix of types the API returns: strings, numbers, nulls and a nested array.
func Events(start, n int) []models.Record {
	records := make([]models.Record, 0, n)
	for i := start; i < start+n; i++ {
		records = append(records, models.Record{
			"event_id_cnty":      fmt.Sprintf("NIG%05d", i),
			"event_date":         "2024-03-01",
			"year":               gojson.Number("2024"),
			"event_type":         "Protests",
			"country":            "Nigeria",
			"fatalities":         gojson.Number(fmt.Sprintf("%d", i%3)),
			"latitude":           gojson.Number("9.0820"),
			"civilian_targeting": nil,
			"tags":               []interface{}{"crowd size=no report"},
		})
	}
	return records
}
