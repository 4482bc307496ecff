package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/engine"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// Client is a typed HTTP client for the admin API. It mirrors the server
// routes one method per endpoint and translates 404 and 503 responses back
// into the queue's sentinel errors, so callers can errors.Is against
// jobqueue.ErrNotFound and jobqueue.ErrStoreUnavailable exactly as they
// would against a local store.
//
//	c := api.NewClient("http://localhost:8085")
//	stats, err := c.Stats(ctx)
type Client struct {
	baseURL string
	httpc   *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying http.Client, e.g. to control timeouts
// or inject a transport.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// NewClient creates a client for the admin API served at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks store connectivity through the server. A nil return means
// the server answered 200.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil)
}

// Stats returns job counts by status.
func (c *Client) Stats(ctx context.Context) (*engine.Stats, error) {
	var stats engine.Stats
	if err := c.do(ctx, http.MethodGet, "/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListJobs returns jobs matching opts, newest first. A zero Limit leaves
// paging to the server default.
func (c *Client) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Kind != "" {
		q.Set("kind", opts.Kind)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob retrieves one job record.
func (c *Client) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+jobID.String(), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// RequeueJob returns a failed job to pending with a fresh attempt budget.
func (c *Client) RequeueJob(ctx context.Context, jobID id.JobID) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+jobID.String()+"/requeue", nil)
}

// DeleteJob removes a job record.
func (c *Client) DeleteJob(ctx context.Context, jobID id.JobID) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+jobID.String(), nil)
}

// do issues one request and decodes a JSON body into out when out is
// non-nil. Responses of 400 and above become errors.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("jobqueue/api: new request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("jobqueue/api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.apiError(resp, path)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("jobqueue/api: decode %s response: %w", path, err)
	}
	return nil
}

// apiError translates an error response into the matching sentinel where
// one exists, carrying the server's message otherwise.
func (c *Client) apiError(resp *http.Response, path string) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("jobqueue/api: %s: %w", path, jobqueue.ErrNotFound)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("jobqueue/api: %s: %w", path, jobqueue.ErrStoreUnavailable)
	}

	var body errorResponse
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return fmt.Errorf("jobqueue/api: %s: %s (status %d)", path, msg, resp.StatusCode)
}
