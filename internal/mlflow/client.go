// Package mlflow is a typed HTTP client for the MLflow tracking server's
// REST 2.0 API, covering the experiment, run, and model registry surface
// the dashboard uses.
package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/remote"
)

const serviceName = "mlflow"

// Client talks to an MLflow tracking server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an MLflow client. A non-positive timeout falls back
// to 15 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SearchExperiments lists experiments on the tracking server.
func (c *Client) SearchExperiments(ctx context.Context, maxResults int) ([]domain.Experiment, error) {
	req := map[string]interface{}{"max_results": maxResults}
	var resp struct {
		Experiments []domain.Experiment `json:"experiments"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/2.0/mlflow/experiments/search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Experiments, nil
}

// SearchRuns lists runs for the given experiments, newest first.
func (c *Client) SearchRuns(ctx context.Context, experimentIDs []string, maxResults int) ([]domain.Run, error) {
	req := map[string]interface{}{
		"experiment_ids": experimentIDs,
		"max_results":    maxResults,
		"order_by":       []string{"attributes.start_time DESC"},
	}
	var resp struct {
		Runs []domain.Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/2.0/mlflow/runs/search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun fetches one run by ID.
func (c *Client) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var resp struct {
		Run domain.Run `json:"run"`
	}
	path := "/api/2.0/mlflow/runs/get?run_id=" + url.QueryEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

// SearchRegisteredModels lists models in the registry.
func (c *Client) SearchRegisteredModels(ctx context.Context, maxResults int) ([]domain.RegisteredModel, error) {
	var resp struct {
		RegisteredModels []domain.RegisteredModel `json:"registered_models"`
	}
	path := fmt.Sprintf("/api/2.0/mlflow/registered-models/search?max_results=%d", maxResults)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.RegisteredModels, nil
}

// GetRegisteredModel fetches one registry entry by name. Unknown names
// surface as a remote.APIError with the upstream 404.
func (c *Client) GetRegisteredModel(ctx context.Context, name string) (*domain.RegisteredModel, error) {
	var resp struct {
		RegisteredModel domain.RegisteredModel `json:"registered_model"`
	}
	path := "/api/2.0/mlflow/registered-models/get?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.RegisteredModel, nil
}

// SearchModelVersions lists all versions of a registered model.
func (c *Client) SearchModelVersions(ctx context.Context, name string) ([]domain.ModelVersion, error) {
	filter := fmt.Sprintf("name='%s'", name)
	var resp struct {
		ModelVersions []domain.ModelVersion `json:"model_versions"`
	}
	path := "/api/2.0/mlflow/model-versions/search?filter=" + url.QueryEscape(filter)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.ModelVersions, nil
}

// TransitionModelVersionStage moves a model version to a new stage.
func (c *Client) TransitionModelVersionStage(ctx context.Context, name, version, stage string, archiveExisting bool) (*domain.ModelVersion, error) {
	req := map[string]interface{}{
		"name":                      name,
		"version":                   version,
		"stage":                     stage,
		"archive_existing_versions": archiveExisting,
	}
	var resp struct {
		ModelVersion domain.ModelVersion `json:"model_version"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/2.0/mlflow/model-versions/transition-stage", req, &resp); err != nil {
		return nil, err
	}
	return &resp.ModelVersion, nil
}

// do issues one request. Transport failures become remote.NetworkError,
// non-2xx replies become remote.APIError carrying MLflow's error message.
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

// errorMessage extracts MLflow's error fields, falling back to raw text.
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		if body.ErrorCode != "" {
			return body.ErrorCode + ": " + body.Message
		}
		return body.Message
	}
	return strings.TrimSpace(string(data))
}
