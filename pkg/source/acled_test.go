package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/acled-bq/pkg/clients"
	"github.com/ajitpratap0/acled-bq/pkg/ingesterrors"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *ACLEDSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := zaptest.NewLogger(t)
	return NewACLEDSource(srv.URL+"/acled/read?key=secret&email=me@example.com", clients.NewHTTPClient(nil, logger), logger)
}

func TestACLEDSource_Fetch(t *testing.T) {
	var gotQuery map[string][]string
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":200,"success":true,"count":2,"data":[
			{"event_id_cnty":"YEM1","fatalities":"3","latitude":15.35},
			{"event_id_cnty":"YEM2","fatalities":0,"tags":null}
		]}`))
	})

	page, err := src.Fetch(context.Background(), Cursor{Strategy: StrategyPage, Position: 2}, 500)
	require.NoError(t, err)

	assert.Equal(t, []string{"500"}, gotQuery["limit"])
	assert.Equal(t, []string{"2"}, gotQuery["page"])
	assert.Equal(t, []string{"secret"}, gotQuery["key"])

	require.Len(t, page.Records, 2)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "YEM1", page.Records[0]["event_id_cnty"])
	// numbers keep their literal form
	assert.Equal(t, "15.35", page.Records[0]["latitude"].(interface{ String() string }).String())
	assert.Nil(t, page.Records[1]["tags"])
}

func TestACLEDSource_FetchEmptyAndMissingData(t *testing.T) {
	for name, body := range map[string]string{
		"empty":   `{"success":true,"count":0,"data":[]}`,
		"missing": `{"success":true,"count":0}`,
	} {
		t.Run(name, func(t *testing.T) {
			src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})

			page, err := src.Fetch(context.Background(), NewCursor(StrategyOffset), 10)
			require.NoError(t, err)
			assert.Empty(t, page.Records)
		})
	}
}

func TestACLEDSource_FetchErrorStatus(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Access denied"}`))
	})

	_, err := src.Fetch(context.Background(), NewCursor(StrategyPage), 10)
	require.Error(t, err)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeFetch))

	var ierr *ingesterrors.Error
	require.ErrorAs(t, err, &ierr)
	body, ok := ierr.Detail("body")
	require.True(t, ok)
	assert.Equal(t, `{"error":"Access denied"}`, body)

	status, _ := ierr.Detail("status")
	assert.Equal(t, http.StatusForbidden, status)

	u, _ := ierr.Detail("url")
	assert.NotContains(t, u, "secret")
}

func TestACLEDSource_FetchInvalidJSON(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := src.Fetch(context.Background(), NewCursor(StrategyPage), 10)
	require.Error(t, err)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeDecode))
}

func TestACLEDSource_FetchCanceled(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Fetch(ctx, NewCursor(StrategyPage), 10)
	require.Error(t, err)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeFetch))
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("https://api.acleddata.com/acled/read?key=abc&email=me%40x.org&country=Yemen")
	assert.NotContains(t, got, "abc")
	assert.NotContains(t, got, "me%40x.org")
	assert.Contains(t, got, "country=Yemen")

	assert.Equal(t, "https://example.com/read?country=Yemen", RedactURL("https://example.com/read?country=Yemen"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	got := truncate(strings.Repeat("a", 20), 10)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("a", 10)))
	assert.True(t, strings.HasSuffix(got, "...(truncated)"))
}
