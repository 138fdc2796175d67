package cds

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCDS serves one job that reports running once before succeeding.
func fakeCDS(t *testing.T, finalStatus string) (*httptest.Server, *Request) {
	t.Helper()
	var (
		got   Request
		polls atomic.Int32
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/retrieve/v1/processes/reanalysis-era5-single-levels/execution", method(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Inputs Request `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got = body.Inputs
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(job{JobID: "job-1", Status: StatusAccepted})
	}))
	mux.HandleFunc("/api/retrieve/v1/jobs/job-1", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		status := StatusRunning
		if polls.Add(1) > 1 {
			status = finalStatus
		}
		json.NewEncoder(w).Encode(job{JobID: "job-1", Status: status})
	}))
	var srv *httptest.Server
	mux.HandleFunc("/api/retrieve/v1/jobs/job-1/results", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		if finalStatus != StatusSuccessful {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"title": "The job failed with: MARS returned no data"})
			return
		}
		var res results
		res.Asset.Value.Href = srv.URL + "/download/payload.nc"
		json.NewEncoder(w).Encode(res)
	}))
	mux.HandleFunc("/download/payload.nc", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("CDF payload"))
	}))
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &got
}

func testRequest() Request {
	return Request{
		ProductType:    []string{"reanalysis"},
		Variable:       []string{"2m_temperature"},
		Year:           []string{"2020"},
		Month:          []string{"01"},
		Day:            []string{"01"},
		Time:           []string{"00:00", "01:00"},
		Area:           []float64{90, -180, -90, 180},
		DataFormat:     "netcdf",
		DownloadFormat: "unarchived",
	}
}

func TestRetrieve(t *testing.T) {
	srv, got := fakeCDS(t, StatusSuccessful)
	c, err := NewClient(testLogger(), srv.URL+"/api", "secret", 2, 10*time.Millisecond)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "raw.nc")
	require.NoError(t, c.Retrieve(context.Background(), "reanalysis-era5-single-levels", testRequest(), dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "CDF payload", string(data))
	assert.Equal(t, testRequest(), *got)
	assert.NoFileExists(t, dest+".part")
}

func TestRetrieveFailedJob(t *testing.T) {
	srv, _ := fakeCDS(t, StatusFailed)
	c, err := NewClient(testLogger(), srv.URL+"/api", "secret", 2, 10*time.Millisecond)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "raw.nc")
	err = c.Retrieve(context.Background(), "reanalysis-era5-single-levels", testRequest(), dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, errJobFailed)
	assert.NoFileExists(t, dest)
}

func TestRetrieveUnauthorized(t *testing.T) {
	srv, _ := fakeCDS(t, StatusSuccessful)
	c, err := NewClient(testLogger(), srv.URL+"/api", "wrong", 2, 10*time.Millisecond)
	require.NoError(t, err)

	err = c.Retrieve(context.Background(), "reanalysis-era5-single-levels", testRequest(), filepath.Join(t.TempDir(), "raw.nc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRetrieveCancelled(t *testing.T) {
	srv, _ := fakeCDS(t, StatusRunning)
	c, err := NewClient(testLogger(), srv.URL+"/api", "secret", 2, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = c.Retrieve(ctx, "reanalysis-era5-single-levels", testRequest(), filepath.Join(t.TempDir(), "raw.nc"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(testLogger(), "ftp://example.com", "k", 1, time.Second)
	assert.Error(t, err)
	_, err = NewClient(testLogger(), "https://cds.climate.copernicus.eu/api", "k", 1, 0)
	assert.Error(t, err)
}

// method restricts h to requests using method m.
func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
