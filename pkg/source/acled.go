// Package source fetches pages of event records from the ACLED REST API.
package source

import (
	"context"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/acled-bq/pkg/clients"
	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
	jsonpool "github.com/ajitpratap0/acled-bq/pkg/json"
	"github.com/ajitpratap0/acled-bq/pkg/models"
)

// maxDiagnosticBody caps how much of an error response body is kept.
const maxDiagnosticBody = 4 << 10

// redactedParams are query parameters that carry credentials in ACLED URLs.
var redactedParams = []string{"key", "email", "api_key", "token", "access_token"}

// Fetcher returns one page of records at a cursor.
type Fetcher interface {
	Fetch(ctx context.Context, cursor Cursor, limit int) (*Page, error)
}

// Page is the decoded result of one request.
type Page struct {
	Records    []models.Record
	StatusCode int
	Bytes      int
}

// response is the envelope returned by the API. Other envelope keys such as
// success and count are ignored.
type response struct {
	Data []models.Record `json:"data"`
}

// ACLEDSource fetches pages from the ACLED API.
type ACLEDSource struct {
	baseURL string
	client  *clients.HTTPClient
	logger  *zap.Logger
}

// NewACLEDSource creates a source for baseURL. The URL must already carry any
// filters and credentials the API needs.
func NewACLEDSource(baseURL string, client *clients.HTTPClient, logger *zap.Logger) *ACLEDSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ACLEDSource{
		baseURL: baseURL,
		client:  client,
		logger:  logger.With(zap.String("component", "acled_source")),
	}
}

// Fetch requests limit records at cursor. A non-2xx status returns an
// ErrorTypeFetch error whose "body" detail holds the response body. A body
// without a data key yields a page with no records.
func (s *ACLEDSource) Fetch(ctx context.Context, cursor Cursor, limit int) (*Page, error) {
	reqURL := BuildURL(s.baseURL, cursor, limit)
	safeURL := RedactURL(reqURL)

	s.logger.Debug("fetching page",
		zap.String("cursor", cursor.String()),
		zap.Int("limit", limit),
		zap.String("url", safeURL))

	resp, err := s.client.Get(ctx, reqURL, nil)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFetch, "request failed").
			WithDetail("cursor", cursor.String()).
			WithDetail("url", safeURL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFetch, "failed to read response body").
			WithDetail("cursor", cursor.String()).
			WithDetail("status", resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ingesterrors.Newf(ingesterrors.ErrorTypeFetch, "unexpected response status %d", resp.StatusCode).
			WithDetail("cursor", cursor.String()).
			WithDetail("status", resp.StatusCode).
			WithDetail("url", safeURL).
			WithDetail("body", truncate(string(body), maxDiagnosticBody))
	}

	var decoded response
	if err := jsonpool.Unmarshal(body, &decoded); err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeDecode, "failed to decode response body").
			WithDetail("cursor", cursor.String()).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", truncate(string(body), maxDiagnosticBody))
	}

	return &Page{
		Records:    decoded.Data,
		StatusCode: resp.StatusCode,
		Bytes:      len(body),
	}, nil
}

// RedactURL masks credential-bearing query parameters so the URL can be logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	changed := false
	for _, p := range redactedParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "...(truncated)"
}
