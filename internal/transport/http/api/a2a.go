package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/robofleet/robofleet/internal/domain"
)

// RegisterAgent registers an A2A agent. The agent card is fetched from
// the agent's well-known path unless one is provided.
// POST /api/a2a/agents
func (h *Handler) RegisterAgent(c echo.Context) error {
	var req domain.RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Name == "" {
		return badRequest(c, "name is required")
	}
	if req.URL == "" {
		return badRequest(c, "url is required")
	}

	agent, err := h.svc.RegisterAgent(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, agent)
}

// ListAgents lists registered agents.
// GET /api/a2a/agents
func (h *Handler) ListAgents(c echo.Context) error {
	agents, err := h.svc.ListAgents(c.Request().Context())
	if err != nil {
		return h.respondError(c, err)
	}
	if agents == nil {
		agents = []domain.Agent{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"agents": agents})
}

// GetAgent returns one agent.
// GET /api/a2a/agents/:agent_id
func (h *Handler) GetAgent(c echo.Context) error {
	agent, err := h.svc.GetAgent(c.Request().Context(), c.Param("agent_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// DeleteAgent removes an agent.
// DELETE /api/a2a/agents/:agent_id
func (h *Handler) DeleteAgent(c echo.Context) error {
	if err := h.svc.DeleteAgent(c.Request().Context(), c.Param("agent_id")); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HeartbeatAgent records an agent-initiated keepalive.
// POST /api/a2a/agents/:agent_id/heartbeat
func (h *Handler) HeartbeatAgent(c echo.Context) error {
	agent, err := h.svc.HeartbeatAgent(c.Request().Context(), c.Param("agent_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// CreateConversation opens a conversation with an agent.
// POST /api/a2a/conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	var req domain.CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.AgentID == "" {
		return badRequest(c, "agent_id is required")
	}

	conv, err := h.svc.CreateConversation(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, conv)
}

// ListConversations lists conversations, most recently touched first.
// GET /api/a2a/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	convs, err := h.svc.ListConversations(c.Request().Context())
	if err != nil {
		return h.respondError(c, err)
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": convs})
}

// GetConversation returns one conversation.
// GET /api/a2a/conversations/:conversation_id
func (h *Handler) GetConversation(c echo.Context) error {
	conv, err := h.svc.GetConversation(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// DeleteConversation removes a conversation and its messages.
// DELETE /api/a2a/conversations/:conversation_id
func (h *Handler) DeleteConversation(c echo.Context) error {
	if err := h.svc.DeleteConversation(c.Request().Context(), c.Param("conversation_id")); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListMessages lists a conversation's messages, oldest first.
// GET /api/a2a/conversations/:conversation_id/messages
func (h *Handler) ListMessages(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	msgs, err := h.svc.ListMessages(c.Request().Context(), c.Param("conversation_id"), limit, c.QueryParam("before"))
	if err != nil {
		return h.respondError(c, err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": msgs})
}

// SendMessage records a user message and dispatches it to the
// conversation's agent in the background.
// POST /api/a2a/conversations/:conversation_id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req domain.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Text == "" && len(req.Parts) == 0 {
		return badRequest(c, "text or parts is required")
	}

	msg, err := h.svc.SendMessage(c.Request().Context(), c.Param("conversation_id"), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// ListTasks lists known tasks, newest first.
// GET /api/a2a/tasks
func (h *Handler) ListTasks(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	}

	tasks, err := h.svc.ListTasks(c.Request().Context(), limit)
	if err != nil {
		return h.respondError(c, err)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// GetTask returns one task with artifacts and history.
// GET /api/a2a/tasks/:task_id
func (h *Handler) GetTask(c echo.Context) error {
	task, err := h.svc.GetTask(c.Request().Context(), c.Param("task_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// ListTaskEvents returns a task's persisted events for replay.
// GET /api/a2a/tasks/:task_id/events
func (h *Handler) ListTaskEvents(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	afterTs, _ := strconv.ParseInt(c.QueryParam("after_ts"), 10, 64)

	events, err := h.svc.ListTaskEvents(c.Request().Context(), c.Param("task_id"), afterTs, limit)
	if err != nil {
		return h.respondError(c, err)
	}
	if events == nil {
		events = []domain.TaskEvent{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

// CancelTask asks the owning agent to cancel a task.
// POST /api/a2a/tasks/:task_id/cancel
func (h *Handler) CancelTask(c echo.Context) error {
	task, err := h.svc.CancelTask(c.Request().Context(), c.Param("task_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// IngestEvent accepts a pushed A2A event from an agent. The body is an
// event envelope discriminated by "type".
// POST /api/a2a/events
func (h *Handler) IngestEvent(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest(c, "failed to read body")
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return badRequest(c, "invalid request body")
	}

	ctx := c.Request().Context()
	switch envelope.Type {
	case string(domain.EventTypeTaskStatusUpdate):
		var ev domain.TaskStatusUpdateEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return badRequest(c, "invalid task_status_update event")
		}
		if ev.TaskID == "" {
			return badRequest(c, "task_id is required")
		}
		task, err := h.svc.IngestTaskStatus(ctx, ev)
		if err != nil {
			return h.respondError(c, err)
		}
		return c.JSON(http.StatusOK, task)

	case string(domain.EventTypeTaskArtifactUpdate):
		var ev domain.TaskArtifactUpdateEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return badRequest(c, "invalid task_artifact_update event")
		}
		if ev.TaskID == "" {
			return badRequest(c, "task_id is required")
		}
		task, err := h.svc.IngestTaskArtifact(ctx, ev)
		if err != nil {
			return h.respondError(c, err)
		}
		return c.JSON(http.StatusOK, task)

	default:
		return badRequest(c, "unknown event type: "+envelope.Type)
	}
}
