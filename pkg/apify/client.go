// Package apify is a client for the Apify v2 actor API.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.apify.com/v2"

// Run statuses reported by the actor service.
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusTimingOut = "TIMING-OUT"
	StatusTimedOut  = "TIMED-OUT"
	StatusAborting  = "ABORTING"
	StatusAborted   = "ABORTED"
)

// Client defines the actor service operations.
type Client interface {
	StartRun(ctx context.Context, actorID string, input any, opts RunOptions) (*Run, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	GetDatasetItems(ctx context.Context, datasetID string, limit int) ([]json.RawMessage, error)
	AbortRun(ctx context.Context, runID string) (*Run, error)
}

// RunOptions are optional query parameters for StartRun.
type RunOptions struct {
	TimeoutSecs int
	MemoryMB    int
	MaxItems    int
}

// Run is an actor run as returned by the API.
type Run struct {
	ID               string    `json:"id"`
	ActID            string    `json:"actId"`
	Status           string    `json:"status"`
	StatusMessage    string    `json:"statusMessage"`
	DefaultDatasetID string    `json:"defaultDatasetId"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
}

// Terminal reports whether the run has stopped.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusAborted:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the run finished successfully.
func (r *Run) Succeeded() bool {
	return r.Status == StatusSucceeded
}

type runEnvelope struct {
	Data Run `json:"data"`
}

// APIError is returned when the actor service responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apify: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a new actor service client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) StartRun(ctx context.Context, actorID string, input any, opts RunOptions) (*Run, error) {
	q := url.Values{}
	if opts.TimeoutSecs > 0 {
		q.Set("timeout", strconv.Itoa(opts.TimeoutSecs))
	}
	if opts.MemoryMB > 0 {
		q.Set("memory", strconv.Itoa(opts.MemoryMB))
	}
	if opts.MaxItems > 0 {
		q.Set("maxItems", strconv.Itoa(opts.MaxItems))
	}
	path := "/acts/" + url.PathEscape(actorID) + "/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var env runEnvelope
	if err := c.post(ctx, path, input, &env); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apify: start run %s", actorID))
	}
	return &env.Data, nil
}

func (c *httpClient) GetRun(ctx context.Context, runID string) (*Run, error) {
	var env runEnvelope
	if err := c.get(ctx, "/actor-runs/"+url.PathEscape(runID), &env); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apify: get run %s", runID))
	}
	return &env.Data, nil
}

func (c *httpClient) GetDatasetItems(ctx context.Context, datasetID string, limit int) ([]json.RawMessage, error) {
	q := url.Values{"format": {"json"}, "clean": {"true"}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var items []json.RawMessage
	path := "/datasets/" + url.PathEscape(datasetID) + "/items?" + q.Encode()
	if err := c.get(ctx, path, &items); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apify: get dataset items %s", datasetID))
	}
	return items, nil
}

func (c *httpClient) AbortRun(ctx context.Context, runID string) (*Run, error) {
	var env runEnvelope
	if err := c.post(ctx, "/actor-runs/"+url.PathEscape(runID)+"/abort", nil, &env); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apify: abort run %s", runID))
	}
	return &env.Data, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
