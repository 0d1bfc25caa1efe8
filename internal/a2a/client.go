package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robofleet/robofleet/internal/domain"
)

// AgentCardPath is the well-known location of an agent's card.
const AgentCardPath = "/.well-known/agent.json"

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object returned by an agent.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("agent error %d: %s", e.Code, e.Message)
}

// MessageSendParams are the params for the message/send method.
type MessageSendParams struct {
	Message domain.Message `json:"message"`
}

// TaskIDParams are the params for the tasks/get and tasks/cancel methods.
type TaskIDParams struct {
	ID string `json:"id"`
}

// SendResult is the outcome of message/send. Agents reply with either a
// task (long-running work) or a direct message; exactly one is non-nil.
type SendResult struct {
	Task    *domain.Task
	Message *domain.Message
}

// Client is a JSON-RPC client for remote A2A agents.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an agent client. A non-positive timeout falls back to
// 30 seconds.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchCard retrieves the agent card from the well-known path under the
// agent's base URL.
func (c *Client) FetchCard(ctx context.Context, agentURL string) (*domain.AgentCard, error) {
	url := strings.TrimSuffix(agentURL, "/") + AgentCardPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("agent card returned status %d: %s", resp.StatusCode, string(body))
	}

	var card domain.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}
	return &card, nil
}

// SendMessage calls message/send on the agent and decodes the result as
// either a task or a message.
func (c *Client) SendMessage(ctx context.Context, agentURL string, msg domain.Message) (*SendResult, error) {
	result, err := c.call(ctx, agentURL, "message/send", MessageSendParams{Message: msg})
	if err != nil {
		return nil, err
	}

	// The result object carries a task_id only when the agent created a
	// task; otherwise it is a plain message.
	var probe struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(result, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode send result: %w", err)
	}

	if probe.TaskID != "" {
		var task domain.Task
		if err := json.Unmarshal(result, &task); err != nil {
			return nil, fmt.Errorf("failed to decode task result: %w", err)
		}
		return &SendResult{Task: &task}, nil
	}

	var reply domain.Message
	if err := json.Unmarshal(result, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode message result: %w", err)
	}
	return &SendResult{Message: &reply}, nil
}

// GetTask calls tasks/get on the agent.
func (c *Client) GetTask(ctx context.Context, agentURL, taskID string) (*domain.Task, error) {
	result, err := c.call(ctx, agentURL, "tasks/get", TaskIDParams{ID: taskID})
	if err != nil {
		return nil, err
	}
	var task domain.Task
	if err := json.Unmarshal(result, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

// CancelTask calls tasks/cancel on the agent and returns the task in its
// post-cancel state.
func (c *Client) CancelTask(ctx context.Context, agentURL, taskID string) (*domain.Task, error) {
	result, err := c.call(ctx, agentURL, "tasks/cancel", TaskIDParams{ID: taskID})
	if err != nil {
		return nil, err
	}
	var task domain.Task
	if err := json.Unmarshal(result, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

// call posts a JSON-RPC request to the agent's base URL and returns the
// raw result. JSON-RPC level errors come back as *RPCError.
func (c *Client) call(ctx context.Context, agentURL, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	url := strings.TrimSuffix(agentURL, "/") + "/"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}
