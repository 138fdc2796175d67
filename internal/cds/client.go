// Package cds is a client for the Copernicus Climate Data Store retrieve API.
package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Request holds the inputs of a retrieval job.
type Request struct {
	ProductType    []string  `json:"product_type"`
	Variable       []string  `json:"variable"`
	Year           []string  `json:"year"`
	Month          []string  `json:"month"`
	Day            []string  `json:"day"`
	Time           []string  `json:"time"`
	Area           []float64 `json:"area"`
	DataFormat     string    `json:"data_format"`
	DownloadFormat string    `json:"download_format"`
}

// Job states reported by the API.
const (
	StatusAccepted   = "accepted"
	StatusRunning    = "running"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusRejected   = "rejected"
	StatusDismissed  = "dismissed"
)

var errJobFailed = errors.New("retrieval job did not succeed")

type job struct {
	JobID  string `json:"jobID"`
	Status string `json:"status"`
}

type results struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
			Size int64  `json:"file:size"`
		} `json:"value"`
	} `json:"asset"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Client submits retrieval jobs, waits for them and downloads their results.
// Every request goes through a circuit breaker so that an unavailable service
// fails fast instead of piling up slow attempts.
type Client struct {
	logger       *slog.Logger
	httpCli      *http.Client
	baseURL      string
	key          string
	pollInterval time.Duration
	cb           *gobreaker.CircuitBreaker
}

// NewClient creates a new CDS client for the API rooted at baseURL, e.g.
// https://cds.climate.copernicus.eu/api.
func NewClient(logger *slog.Logger, baseURL, key string, maxConns int, pollInterval time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("CDS URL %q must be http or https", baseURL)
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", pollInterval)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cds",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		logger: logger,
		httpCli: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        maxConns,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
			},
		},
		baseURL:      strings.TrimRight(u.String(), "/"),
		key:          key,
		pollInterval: pollInterval,
		cb:           cb,
	}, nil
}

// Retrieve runs a retrieval job of dataset and stores its result at dest.
func (c *Client) Retrieve(ctx context.Context, dataset string, req Request, dest string) error {
	j, err := c.submit(ctx, dataset, req)
	if err != nil {
		return err
	}
	c.logger.Info("submitted retrieval job", "dataset", dataset, "job", j.JobID, "status", j.Status)

	if err := c.wait(ctx, j); err != nil {
		return err
	}
	res, err := c.results(ctx, j.JobID)
	if err != nil {
		return err
	}
	if res.Asset.Value.Href == "" {
		return fmt.Errorf("job %s: results have no asset", j.JobID)
	}
	n, err := c.download(ctx, res.Asset.Value.Href, dest)
	if err != nil {
		return err
	}
	c.logger.Info("downloaded retrieval result", "job", j.JobID, "bytes", n, "file", dest)
	return nil
}

func (c *Client) submit(ctx context.Context, dataset string, req Request) (*job, error) {
	body, err := json.Marshal(map[string]Request{"inputs": req})
	if err != nil {
		return nil, err
	}
	var j job
	u := c.baseURL + "/retrieve/v1/processes/" + url.PathEscape(dataset) + "/execution"
	if err := c.doJSON(ctx, http.MethodPost, u, body, &j); err != nil {
		return nil, fmt.Errorf("submit %s: %w", dataset, err)
	}
	if j.JobID == "" {
		return nil, fmt.Errorf("submit %s: response has no job id", dataset)
	}
	return &j, nil
}

func (c *Client) wait(ctx context.Context, j *job) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	status := j.Status
	for {
		switch status {
		case StatusSuccessful:
			return nil
		case StatusFailed, StatusRejected, StatusDismissed:
			detail := status
			if res, err := c.results(ctx, j.JobID); err == nil && res.Title != "" {
				detail = res.Title
			} else if err != nil {
				detail = err.Error()
			}
			return fmt.Errorf("job %s: %w: %s", j.JobID, errJobFailed, detail)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var cur job
		if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/retrieve/v1/jobs/"+url.PathEscape(j.JobID), nil, &cur); err != nil {
			return fmt.Errorf("poll job %s: %w", j.JobID, err)
		}
		if cur.Status != status {
			c.logger.Debug("retrieval job status", "job", j.JobID, "status", cur.Status)
		}
		status = cur.Status
	}
}

func (c *Client) results(ctx context.Context, jobID string) (*results, error) {
	var res results
	u := c.baseURL + "/retrieve/v1/jobs/" + url.PathEscape(jobID) + "/results"
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &res); err != nil {
		return nil, fmt.Errorf("results of job %s: %w", jobID, err)
	}
	return &res, nil
}

// download streams href into a sibling of dest and renames it into place once
// complete.
func (c *Client) download(ctx context.Context, href, dest string) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, href, nil, false)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", href, err)
	}
	defer resp.Body.Close()

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		os.Remove(part)
		return 0, fmt.Errorf("download %s: %w", href, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return 0, err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		os.Remove(part)
		return 0, fmt.Errorf("download %s: got %d bytes, want %d", href, n, resp.ContentLength)
	}
	return n, os.Rename(part, dest)
}

func (c *Client) doJSON(ctx context.Context, method, u string, body []byte, out any) error {
	resp, err := c.do(ctx, method, u, body, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends a request through the circuit breaker. Responses outside the 2xx
// range are turned into errors.
func (c *Client) do(ctx context.Context, method, u string, body []byte, auth bool) (*http.Response, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if auth {
			req.Header.Set("PRIVATE-TOKEN", c.key)
		}
		resp, err := c.httpCli.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}
