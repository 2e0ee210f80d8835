package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/acled-bq/pkg/models"
)

// ACLEDServer is a fake ACLED API. The nth request is answered with the nth
// page; requests past the last page get an empty data list.
type ACLEDServer struct {
	*httptest.Server

	mu         sync.Mutex
	pages      [][]models.Record
	requests   []url.Values
	failAt     int
	failStatus int
	failBody   string
}

// NewACLEDServer starts a fake API serving pages. It is closed when the test
// ends.
func NewACLEDServer(t *testing.T, pages ...[]models.Record) *ACLEDServer {
	t.Helper()

	s := &ACLEDServer{pages: pages}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// FailOn makes the nth request (1-based) answer with status and body.
func (s *ACLEDServer) FailOn(n, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = n
	s.failStatus = status
	s.failBody = body
}

// QueryURL returns the base query URL, with a filter already in the query string.
func (s *ACLEDServer) QueryURL() string {
	return s.Server.URL + "/acled/read?country=Nigeria"
}

// Requests returns the query parameters of every request received so far.
func (s *ACLEDServer) Requests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *ACLEDServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.Query())
	n := len(s.requests)
	failAt, failStatus, failBody := s.failAt, s.failStatus, s.failBody
	var data []models.Record
	if n <= len(s.pages) {
		data = s.pages[n-1]
	}
	s.mu.Unlock()

	if failAt == n {
		w.WriteHeader(failStatus)
		_, _ = w.Write([]byte(failBody))
		return
	}

	if data == nil {
		data = []models.Record{}
	}
	body, err := gojson.Marshal(map[string]interface{}{
		"success": true,
		"count":   len(data),
		"data":    data,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
