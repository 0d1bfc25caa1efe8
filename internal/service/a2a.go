package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robofleet/robofleet/internal/a2a"
	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/protocol"
)

// agentProbeInterval is the cadence of the background agent health check;
// agents silent for three intervals are flipped offline.
const agentProbeInterval = 30 * time.Second

// RegisterAgent registers an agent. When no card is supplied, the card is
// fetched from the agent's well-known path; an unreachable agent is still
// registered, offline, with a minimal card.
func (s *Service) RegisterAgent(ctx context.Context, req domain.RegisterAgentRequest) (*domain.Agent, error) {
	now := time.Now()
	agent := &domain.Agent{
		AgentID:   newID("agt"),
		Status:    domain.AgentStatusOffline,
		CreatedAt: now,
	}

	if req.Card != nil {
		agent.Card = *req.Card
		agent.Status = domain.AgentStatusOnline
		agent.LastHeartbeat = &now
	} else {
		card, err := s.a2a.FetchCard(ctx, req.URL)
		if err != nil {
			s.log.Warn("agent card fetch failed", "url", req.URL, "err", err)
			agent.Card = domain.AgentCard{Name: req.Name, Description: req.Description, URL: req.URL}
		} else {
			agent.Card = *card
			agent.Status = domain.AgentStatusOnline
			agent.LastHeartbeat = &now
		}
	}
	if agent.Card.Name == "" {
		agent.Card.Name = req.Name
	}
	// Dispatch goes to the URL the agent was registered under, not
	// whatever the card advertises.
	if req.URL != "" {
		agent.Card.URL = req.URL
	}

	if err := s.store.RegisterAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}
	s.log.Info("agent registered", "agent_id", agent.AgentID, "name", agent.Card.Name, "status", agent.Status)
	s.broadcastA2A(protocol.AgentEvent{Type: string(domain.EventTypeAgentUpdate), Agent: *agent})
	s.journal.Record(ctx, domain.EventTypeAgentUpdate, agent.AgentID, agent)
	return agent, nil
}

// GetAgent returns an agent by ID.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return agent, nil
}

// ListAgents returns all registered agents.
func (s *Service) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	return s.store.ListAgents(ctx)
}

// DeleteAgent removes an agent.
func (s *Service) DeleteAgent(ctx context.Context, agentID string) error {
	ok, err := s.store.DeleteAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

// HeartbeatAgent records a keepalive from the agent itself and marks it
// online.
func (s *Service) HeartbeatAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if _, err := s.store.UpdateAgentHeartbeat(ctx, agentID, now); err != nil {
		return nil, fmt.Errorf("failed to update heartbeat: %w", err)
	}
	wasOffline := agent.Status == domain.AgentStatusOffline
	agent.Status = domain.AgentStatusOnline
	agent.LastHeartbeat = &now
	if wasOffline {
		s.broadcastA2A(protocol.AgentEvent{Type: string(domain.EventTypeAgentUpdate), Agent: *agent})
	}
	return agent, nil
}

// RunAgentHealthMonitor periodically probes each agent's card endpoint and
// flips agents with no recent heartbeat to offline.
func (s *Service) RunAgentHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(agentProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeAgents(ctx)
		}
	}
}

func (s *Service) probeAgents(ctx context.Context) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		s.log.Error("agent listing failed", "err", err)
		return
	}

	var unreachable []domain.Agent
	for _, agent := range agents {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := s.a2a.FetchCard(probeCtx, agent.Card.URL)
		cancel()
		if err != nil {
			if agent.Status == domain.AgentStatusOnline {
				unreachable = append(unreachable, agent)
			}
			continue
		}
		now := time.Now()
		if _, err := s.store.UpdateAgentHeartbeat(ctx, agent.AgentID, now); err != nil {
			s.log.Error("heartbeat update failed", "agent_id", agent.AgentID, "err", err)
			continue
		}
		if agent.Status == domain.AgentStatusOffline {
			agent.Status = domain.AgentStatusOnline
			agent.LastHeartbeat = &now
			s.log.Info("agent online", "agent_id", agent.AgentID)
			s.broadcastA2A(protocol.AgentEvent{Type: string(domain.EventTypeAgentUpdate), Agent: agent})
		}
	}

	cutoff := time.Now().Add(-3 * agentProbeInterval)
	n, err := s.store.MarkStaleAgentsOffline(ctx, cutoff)
	if err != nil {
		s.log.Error("stale agent sweep failed", "err", err)
		return
	}
	if n == 0 {
		return
	}
	for _, agent := range unreachable {
		if agent.LastHeartbeat != nil && agent.LastHeartbeat.After(cutoff) {
			continue
		}
		agent.Status = domain.AgentStatusOffline
		s.log.Warn("agent offline", "agent_id", agent.AgentID)
		s.broadcastA2A(protocol.AgentEvent{Type: string(domain.EventTypeAgentUpdate), Agent: agent})
	}
}

// CreateConversation opens a conversation with a registered agent.
func (s *Service) CreateConversation(ctx context.Context, req domain.CreateConversationRequest) (*domain.Conversation, error) {
	if _, err := s.GetAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}
	now := time.Now()
	conv := &domain.Conversation{
		ConversationID: newID("conv"),
		Title:          req.Title,
		AgentID:        req.AgentID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation by ID.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return conv, nil
}

// ListConversations returns all conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// DeleteConversation removes a conversation and its messages.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	ok, err := s.store.DeleteConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]domain.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID, limit, before)
}

// SendMessage records a user message and dispatches it to the
// conversation's agent in the background. The agent's reply, whether a
// direct message or a task, lands on the a2a feed when it arrives.
func (s *Service) SendMessage(ctx context.Context, conversationID string, req domain.SendMessageRequest) (*domain.Message, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	agent, err := s.GetAgent(ctx, conv.AgentID)
	if err != nil {
		return nil, err
	}

	parts := req.Parts
	if len(parts) == 0 {
		if req.Text == "" {
			return nil, errors.New("message has no content")
		}
		parts = []domain.Part{domain.TextPart(req.Text)}
	}

	now := time.Now()
	msg := &domain.Message{
		MessageID:      newID("msg"),
		ConversationID: conv.ConversationID,
		Role:           "user",
		Parts:          parts,
		ContextID:      conv.ConversationID,
		CreatedAt:      now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ConversationID, now); err != nil {
		s.log.Error("conversation touch failed", "conversation_id", conv.ConversationID, "err", err)
	}
	s.broadcastA2A(protocol.MessageEvent{Type: string(domain.EventTypeMessage), Message: *msg})
	s.journal.Record(ctx, domain.EventTypeMessage, msg.MessageID, msg)

	go s.deliverMessage(agent.AgentID, agent.Card.URL, conv.ConversationID, *msg)
	return msg, nil
}

// deliverMessage dispatches a user message to the agent and records the
// outcome. Runs detached from the request that created the message.
func (s *Service) deliverMessage(agentID, agentURL, conversationID string, msg domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := s.a2a.SendMessage(ctx, agentURL, msg)
	if err != nil {
		s.log.Error("agent dispatch failed", "agent_id", agentID, "conversation_id", conversationID, "err", err)
		s.recordAgentReply(ctx, conversationID, domain.Message{
			MessageID:      newID("msg"),
			ConversationID: conversationID,
			Role:           "agent",
			Parts:          []domain.Part{domain.TextPart("agent error: " + err.Error())},
			ContextID:      msg.ContextID,
			CreatedAt:      time.Now(),
		})
		return
	}

	switch {
	case result.Message != nil:
		reply := *result.Message
		if reply.MessageID == "" {
			reply.MessageID = newID("msg")
		}
		reply.ConversationID = conversationID
		if reply.Role == "" {
			reply.Role = "agent"
		}
		if reply.ContextID == "" {
			reply.ContextID = msg.ContextID
		}
		if reply.CreatedAt.IsZero() {
			reply.CreatedAt = time.Now()
		}
		s.recordAgentReply(ctx, conversationID, reply)
	case result.Task != nil:
		s.ingestTask(ctx, result.Task, agentID, conversationID)
	}
}

// recordAgentReply persists an agent message and announces it on the feed.
func (s *Service) recordAgentReply(ctx context.Context, conversationID string, reply domain.Message) {
	if err := s.store.CreateMessage(ctx, &reply); err != nil {
		s.log.Error("agent reply persist failed", "conversation_id", conversationID, "err", err)
		return
	}
	if err := s.store.TouchConversation(ctx, conversationID, reply.CreatedAt); err != nil {
		s.log.Error("conversation touch failed", "conversation_id", conversationID, "err", err)
	}
	s.broadcastA2A(protocol.MessageEvent{Type: string(domain.EventTypeMessage), Message: reply})
	s.journal.Record(ctx, domain.EventTypeMessage, reply.MessageID, reply)
}

// ingestTask persists a whole task returned by an agent and announces it
// as a snapshot on the a2a feed.
func (s *Service) ingestTask(ctx context.Context, task *domain.Task, agentID, conversationID string) {
	now := time.Now()
	if task.AgentID == "" {
		task.AgentID = agentID
	}
	if task.ContextID == "" {
		task.ContextID = conversationID
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}

	if err := s.store.UpsertTask(ctx, task); err != nil {
		s.log.Error("task upsert failed", "task_id", task.TaskID, "err", err)
		return
	}
	for i := range task.Artifacts {
		if task.Artifacts[i].ArtifactID == "" {
			task.Artifacts[i].ArtifactID = newID("art")
		}
		if err := s.store.UpsertArtifact(ctx, task.TaskID, &task.Artifacts[i]); err != nil {
			s.log.Error("artifact upsert failed", "task_id", task.TaskID, "err", err)
		}
	}
	// Persist the agent side of the task history; the user side is
	// already recorded locally. Replayed IDs collide and are skipped.
	for _, hm := range task.History {
		if hm.Role != "agent" {
			continue
		}
		if hm.MessageID == "" {
			hm.MessageID = newID("msg")
		}
		hm.TaskID = task.TaskID
		if hm.ConversationID == "" {
			hm.ConversationID = conversationID
		}
		if hm.CreatedAt.IsZero() {
			hm.CreatedAt = now
		}
		if err := s.store.CreateMessage(ctx, &hm); err != nil {
			s.log.Debug("history message skipped", "task_id", task.TaskID, "message_id", hm.MessageID)
		}
	}

	statusEv := domain.TaskStatusUpdateEvent{
		TaskID:    task.TaskID,
		ContextID: task.ContextID,
		AgentID:   task.AgentID,
		Status:    task.Status,
		Final:     task.Status.State.Terminal(),
	}
	if err := s.recordTaskEvent(ctx, task.TaskID, domain.EventTypeTaskStatusUpdate, statusEv); err != nil {
		s.log.Error("task event record failed", "task_id", task.TaskID, "err", err)
	}
	s.log.Info("task ingested", "task_id", task.TaskID, "state", task.Status.State)
	s.broadcastA2A(protocol.TaskSnapshotEvent{Type: string(domain.EventTypeTaskSnapshot), Tasks: []domain.Task{*task}})
	s.journal.Record(ctx, domain.EventTypeTaskStatusUpdate, task.TaskID, statusEv)
}

// IngestTaskStatus applies a status update event pushed by an agent:
// reduce into the stored task, persist, record for replay, broadcast.
func (s *Service) IngestTaskStatus(ctx context.Context, ev domain.TaskStatusUpdateEvent) (*domain.Task, error) {
	if ev.TaskID == "" {
		return nil, errors.New("event missing task_id")
	}

	task, err := s.reduceTask(ctx, ev.TaskID, func(set *a2a.TaskSet) *domain.Task {
		return set.ApplyStatus(ev)
	})
	if err != nil {
		return nil, err
	}
	if ev.Status.Message != nil {
		s.persistTaskMessage(ctx, task, *ev.Status.Message)
	}

	if err := s.recordTaskEvent(ctx, task.TaskID, domain.EventTypeTaskStatusUpdate, ev); err != nil {
		s.log.Error("task event record failed", "task_id", task.TaskID, "err", err)
	}
	s.broadcastA2A(protocol.TaskStatusEvent{Type: string(domain.EventTypeTaskStatusUpdate), TaskStatusUpdateEvent: ev})
	s.journal.Record(ctx, domain.EventTypeTaskStatusUpdate, task.TaskID, ev)
	return task, nil
}

// IngestTaskArtifact applies an artifact update event pushed by an agent.
func (s *Service) IngestTaskArtifact(ctx context.Context, ev domain.TaskArtifactUpdateEvent) (*domain.Task, error) {
	if ev.TaskID == "" {
		return nil, errors.New("event missing task_id")
	}

	task, err := s.reduceTask(ctx, ev.TaskID, func(set *a2a.TaskSet) *domain.Task {
		return set.ApplyArtifact(ev)
	})
	if err != nil {
		return nil, err
	}

	merged := mergedArtifact(task, ev.Artifact)
	if merged.ArtifactID == "" {
		merged.ArtifactID = newID("art")
	}
	if err := s.store.UpsertArtifact(ctx, task.TaskID, merged); err != nil {
		return nil, fmt.Errorf("failed to upsert artifact: %w", err)
	}

	if err := s.recordTaskEvent(ctx, task.TaskID, domain.EventTypeTaskArtifactUpdate, ev); err != nil {
		s.log.Error("task event record failed", "task_id", task.TaskID, "err", err)
	}
	s.broadcastA2A(protocol.TaskArtifactEvent{Type: string(domain.EventTypeTaskArtifactUpdate), TaskArtifactUpdateEvent: ev})
	s.journal.Record(ctx, domain.EventTypeTaskArtifactUpdate, task.TaskID, ev)
	return task, nil
}

// reduceTask loads the stored task (if any), applies a reducer step, and
// persists the result. Unknown tasks get a placeholder row so events
// arriving ahead of the task listing are not lost.
func (s *Service) reduceTask(ctx context.Context, taskID string, apply func(*a2a.TaskSet) *domain.Task) (*domain.Task, error) {
	set := a2a.NewTaskSet()
	existing, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if existing != nil {
		set.Seed([]domain.Task{*existing})
	}
	task := apply(set)
	if err := s.store.UpsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to upsert task: %w", err)
	}
	return task, nil
}

// mergedArtifact locates the artifact the reducer merged the event into.
func mergedArtifact(task *domain.Task, incoming domain.Artifact) *domain.Artifact {
	for i := range task.Artifacts {
		a := &task.Artifacts[i]
		if incoming.ArtifactID != "" && a.ArtifactID == incoming.ArtifactID {
			return a
		}
		if incoming.ArtifactID == "" && incoming.Name != "" && a.Name == incoming.Name {
			return a
		}
	}
	if len(task.Artifacts) > 0 {
		// no identity: the reducer appended it last
		return &task.Artifacts[len(task.Artifacts)-1]
	}
	return &incoming
}

// persistTaskMessage stores a status message against the task history.
func (s *Service) persistTaskMessage(ctx context.Context, task *domain.Task, msg domain.Message) {
	if msg.MessageID == "" {
		msg.MessageID = newID("msg")
	}
	msg.TaskID = task.TaskID
	if msg.ContextID == "" {
		msg.ContextID = task.ContextID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := s.store.CreateMessage(ctx, &msg); err != nil {
		s.log.Debug("task message skipped", "task_id", task.TaskID, "message_id", msg.MessageID)
	}
}

// ListTasks returns known tasks, most recently updated first.
func (s *Service) ListTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	return s.store.ListTasks(ctx, limit)
}

// GetTask returns a task with its artifacts and message history.
func (s *Service) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	history, err := s.store.ListTaskMessages(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task messages: %w", err)
	}
	task.History = history
	return task, nil
}

// ListTaskEvents returns persisted task events after the given timestamp,
// for feed replay.
func (s *Service) ListTaskEvents(ctx context.Context, taskID string, afterTs int64, limit int) ([]domain.TaskEvent, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListTaskEvents(ctx, taskID, afterTs, limit)
}

// CancelTask asks the owning agent to cancel a task and ingests the
// post-cancel state.
func (s *Service) CancelTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.State.Terminal() {
		return task, nil
	}
	if task.AgentID == "" {
		return nil, fmt.Errorf("task %s has no owning agent", taskID)
	}
	agent, err := s.GetAgent(ctx, task.AgentID)
	if err != nil {
		return nil, err
	}

	canceled, err := s.a2a.CancelTask(ctx, agent.Card.URL, taskID)
	if err != nil {
		return nil, err
	}
	s.ingestTask(ctx, canceled, agent.AgentID, task.ContextID)
	return canceled, nil
}
