package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
	"github.com/ajitpratap0/acled-bq/pkg/source"
)

// Reporter receives the user-facing progress of a run.
type Reporter interface {
	Started()
	BatchUploaded(cursor source.Cursor, count, total int)
	FetchFailed(cursor source.Cursor, err error)
	LoadFailed(cursor source.Cursor, err error)
	Finished(res *Result)
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) Started()                              {}
func (NopReporter) BatchUploaded(source.Cursor, int, int) {}
func (NopReporter) FetchFailed(source.Cursor, error)      {}
func (NopReporter) LoadFailed(source.Cursor, error)       {}
func (NopReporter) Finished(*Result)                      {}

const (
	bannerStarted   = "********** Fetching ACLED Data Started **********"
	bannerCompleted = "********** Fetching ACLED Data Completed **********"
)

// ConsoleReporter prints progress lines for a human watching the run.
type ConsoleReporter struct {
	w io.Writer
}

// NewConsoleReporter writes to w, or to stdout when w is nil.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleReporter{w: w}
}

// Started prints the opening banner.
func (c *ConsoleReporter) Started() {
	fmt.Fprintln(c.w, bannerStarted)
}

// BatchUploaded prints one line per loaded batch.
func (c *ConsoleReporter) BatchUploaded(cursor source.Cursor, count, total int) {
	fmt.Fprintf(c.w, "%s: Uploaded %d records. Total so far: %d\n", cursor, count, total)
}

// FetchFailed prints the response body of a failed request, or the error
// when there is no body.
func (c *ConsoleReporter) FetchFailed(cursor source.Cursor, err error) {
	fmt.Fprintf(c.w, "Error fetching %s: %s\n", strings.ToLower(cursor.String()), diagnostic(err))
}

// LoadFailed prints the load error.
func (c *ConsoleReporter) LoadFailed(cursor source.Cursor, err error) {
	fmt.Fprintf(c.w, "Failed to upload data on %s: %v\n", strings.ToLower(cursor.String()), err)
}

// Finished prints the summary and the closing banner.
func (c *ConsoleReporter) Finished(res *Result) {
	switch res.Outcome {
	case OutcomeExhausted:
		fmt.Fprintf(c.w, "Completed fetching all pages. Total records uploaded: %d.\n", res.Uploaded)
	default:
		fmt.Fprintf(c.w, "Stopped at %s after an error. Total records uploaded: %d.\n",
			strings.ToLower(res.Cursor.String()), res.Uploaded)
	}
	fmt.Fprintln(c.w, bannerCompleted)
}

func diagnostic(err error) string {
	var ierr *ingesterrors.Error
	if errors.As(err, &ierr) {
		if body, ok := ierr.Detail("body"); ok {
			if s, ok := body.(string); ok && s != "" {
				return s
			}
		}
	}
	return err.Error()
}
