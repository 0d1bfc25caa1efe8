// Package isaac is a typed HTTP client for the Isaac Lab synthetic data
// generation service.
package isaac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/remote"
)

const serviceName = "isaac lab"

// GenerateRequest asks Isaac Lab to generate trajectories.
type GenerateRequest struct {
	Task            string `json:"task"`
	Embodiment      string `json:"embodiment"`
	TrajectoryCount int    `json:"trajectory_count"`
}

// Job is a generation job as reported by Isaac Lab.
type Job struct {
	JobID           string  `json:"job_id"`
	Task            string  `json:"task"`
	Embodiment      string  `json:"embodiment"`
	TrajectoryCount int     `json:"trajectory_count"`
	Status          string  `json:"status"` // queued, running, completed, failed, canceled
	Progress        float64 `json:"progress"`
	DatasetPath     string  `json:"dataset_path,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// Client talks to the Isaac Lab job API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an Isaac Lab client. A non-positive timeout falls
// back to 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Generate submits a new generation job.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches one job by upstream ID.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs fetches all jobs known upstream.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var resp struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// CancelJob cancels a job and returns its post-cancel state.
func (c *Client) CancelJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListDatasets fetches the generated datasets available for download.
func (c *Client) ListDatasets(ctx context.Context) ([]domain.Dataset, error) {
	var resp struct {
		Datasets []domain.Dataset `json:"datasets"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/datasets", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Datasets, nil
}

// do issues one request. Transport failures become remote.NetworkError,
// non-2xx replies become remote.APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &remote.NetworkError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &remote.APIError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage pulls a message out of an error body, falling back to the
// raw text.
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return strings.TrimSpace(string(data))
}
