package bigquery

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/bigquery"
	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const (
	testProject = "p"
	testDataset = "d"
	testTable   = "events"
)

type jobField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// insertedJob is the job metadata and NDJSON payload of one jobs.insert upload.
type insertedJob struct {
	JobReference struct {
		ProjectID string `json:"projectId"`
		JobID     string `json:"jobId"`
		Location  string `json:"location"`
	} `json:"jobReference"`
	Configuration struct {
		Labels map[string]string `json:"labels"`
		Load   struct {
			WriteDisposition    string   `json:"writeDisposition"`
			CreateDisposition   string   `json:"createDisposition"`
			SchemaUpdateOptions []string `json:"schemaUpdateOptions"`
			SourceFormat        string   `json:"sourceFormat"`
			Schema              struct {
				Fields []jobField `json:"fields"`
			} `json:"schema"`
			DestinationTable struct {
				ProjectID string `json:"projectId"`
				DatasetID string `json:"datasetId"`
				TableID   string `json:"tableId"`
			} `json:"destinationTable"`
		} `json:"load"`
	} `json:"configuration"`

	rows []string
}

// bigQueryServer serves the slice of the BigQuery REST API the loader uses:
// dataset and table metadata, dataset creation, multipart load job uploads
// and job polling.
type bigQueryServer struct {
	t   *testing.T
	srv *httptest.Server

	mu sync.Mutex
	// datasetLocation is empty while the dataset does not exist
	datasetLocation string
	// tableFields is nil while the table does not exist
	tableFields []jobField
	// failJobs makes every job finish with an errorResult
	failJobs bool

	created []string
	jobs    []*insertedJob
	// polls records the location query parameter of every job poll
	polls []string
}

func newBigQueryServer(t *testing.T) *bigQueryServer {
	t.Helper()
	s := &bigQueryServer{t: t}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *bigQueryServer) client(t *testing.T) *bigquery.Client {
	t.Helper()
	client, err := bigquery.NewClient(context.Background(), testProject,
		option.WithEndpoint(s.srv.URL+"/"),
		option.WithoutAuthentication())
	require.NoError(t, err)
	return client
}

func (s *bigQueryServer) insertedJobs() []*insertedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*insertedJob(nil), s.jobs...)
}

func (s *bigQueryServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	datasetPath := "/projects/" + testProject + "/datasets/" + testDataset
	jobsPrefix := "/projects/" + testProject + "/jobs/"

	switch {
	case r.Method == http.MethodGet && r.URL.Path == datasetPath:
		if s.datasetLocation == "" {
			s.notFound(w, "dataset")
			return
		}
		s.reply(w, map[string]interface{}{
			"datasetReference": map[string]string{"projectId": testProject, "datasetId": testDataset},
			"location":         s.datasetLocation,
		})

	case r.Method == http.MethodPost && r.URL.Path == "/projects/"+testProject+"/datasets":
		var body struct {
			Location string `json:"location"`
		}
		if !s.decode(w, r.Body, &body) {
			return
		}
		s.created = append(s.created, body.Location)
		s.datasetLocation = body.Location
		s.reply(w, map[string]interface{}{
			"datasetReference": map[string]string{"projectId": testProject, "datasetId": testDataset},
			"location":         body.Location,
		})

	case r.Method == http.MethodGet && r.URL.Path == datasetPath+"/tables/"+testTable:
		if s.tableFields == nil {
			s.notFound(w, "table")
			return
		}
		s.reply(w, map[string]interface{}{
			"tableReference": map[string]string{"projectId": testProject, "datasetId": testDataset, "tableId": testTable},
			"schema":         map[string]interface{}{"fields": s.tableFields},
		})

	case r.Method == http.MethodPost && r.URL.Path == "/upload/bigquery/v2/projects/"+testProject+"/jobs":
		job, ok := s.readUpload(w, r)
		if !ok {
			return
		}
		s.jobs = append(s.jobs, job)
		s.reply(w, map[string]interface{}{
			"jobReference": job.JobReference,
			"status":       map[string]string{"state": "RUNNING"},
		})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, jobsPrefix):
		s.polls = append(s.polls, r.URL.Query().Get("location"))
		job := s.job(strings.TrimPrefix(r.URL.Path, jobsPrefix))
		if job == nil {
			s.notFound(w, "job")
			return
		}
		status := map[string]interface{}{"state": "DONE"}
		if s.failJobs {
			bad := map[string]string{"reason": "invalid", "message": "bad row"}
			status["errorResult"] = bad
			status["errors"] = []map[string]string{bad}
		}
		s.reply(w, map[string]interface{}{
			"jobReference": job.JobReference,
			"status":       status,
			"statistics": map[string]interface{}{
				"load": map[string]string{"outputRows": strconv.Itoa(len(job.rows))},
			},
		})

	default:
		s.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
	}
}

// readUpload splits a multipart/related jobs.insert body into the job
// metadata and the NDJSON rows.
func (s *bigQueryServer) readUpload(w http.ResponseWriter, r *http.Request) (*insertedJob, bool) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		s.t.Errorf("upload content type %q: %v", r.Header.Get("Content-Type"), err)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	meta, err := mr.NextPart()
	if err != nil {
		s.t.Errorf("reading metadata part: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	job := &insertedJob{}
	if !s.decode(w, meta, job) {
		return nil, false
	}

	media, err := mr.NextPart()
	if err != nil {
		s.t.Errorf("reading media part: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	data, err := io.ReadAll(media)
	if err != nil {
		s.t.Errorf("reading media: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) > 0 {
			job.rows = append(job.rows, string(line))
		}
	}
	return job, true
}

func (s *bigQueryServer) job(id string) *insertedJob {
	for _, job := range s.jobs {
		if job.JobReference.JobID == id {
			return job
		}
	}
	return nil
}

func (s *bigQueryServer) decode(w http.ResponseWriter, r io.Reader, v interface{}) bool {
	if err := gojson.NewDecoder(r).Decode(v); err != nil {
		s.t.Errorf("decoding request: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	return true
}

func (s *bigQueryServer) reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := gojson.NewEncoder(w).Encode(v); err != nil {
		s.t.Errorf("encoding response: %v", err)
	}
}

func (s *bigQueryServer) notFound(w http.ResponseWriter, what string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = gojson.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"code": http.StatusNotFound, "message": "Not found: " + what},
	})
}
