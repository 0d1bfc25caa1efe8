package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/robofleet/internal/domain"
)

func TestClientFetchCard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, AgentCardPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.AgentCard{
			Name:    "pick-and-place",
			URL:     "http://agent.local",
			Version: "1.2.0",
			Skills:  []domain.AgentSkill{{ID: "pick", Name: "Pick objects"}},
		})
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	card, err := client.FetchCard(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "pick-and-place", card.Name)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, "pick", card.Skills[0].ID)
}

func TestClientSendMessageReturnsTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "message/send", req.Method)

		result, _ := json.Marshal(domain.Task{
			TaskID: "task_1",
			Status: domain.TaskStatus{State: domain.TaskStateWorking},
		})
		json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Result: result})
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	res, err := client.SendMessage(context.Background(), srv.URL, domain.Message{
		MessageID: "msg_1",
		Role:      "user",
		Parts:     []domain.Part{domain.TextPart("inspect bay 3")},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Task)
	assert.Nil(t, res.Message)
	assert.Equal(t, "task_1", res.Task.TaskID)
	assert.Equal(t, domain.TaskStateWorking, res.Task.Status.State)
}

func TestClientSendMessageReturnsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, _ := json.Marshal(domain.Message{
			MessageID: "msg_2",
			Role:      "agent",
			Parts:     []domain.Part{domain.TextPart("bay 3 is clear")},
		})
		json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Result: result})
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	res, err := client.SendMessage(context.Background(), srv.URL, domain.Message{MessageID: "msg_1", Role: "user"})
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Nil(t, res.Task)
	assert.Equal(t, "bay 3 is clear", res.Message.Text())
}

func TestClientSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: -32001, Message: "task not found"},
		})
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	_, err := client.GetTask(context.Background(), srv.URL, "task_missing")
	require.Error(t, err)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32001, rpcErr.Code)
}

func TestClientSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	_, err := client.CancelTask(context.Background(), srv.URL, "task_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
