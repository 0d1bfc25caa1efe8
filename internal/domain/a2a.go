package domain

import (
	"encoding/json"
	"time"
)

// AgentCard describes an A2A agent, as served from /.well-known/agent.json.
type AgentCard struct {
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	URL             string             `json:"url"`
	Version         string             `json:"version,omitempty"`
	ProtocolVersion string             `json:"protocol_version,omitempty"`
	Capabilities    *AgentCapabilities `json:"capabilities,omitempty"`
	Skills          []AgentSkill       `json:"skills,omitempty"`
}

// AgentCapabilities describes optional A2A protocol features an agent supports.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming,omitempty"`
	PushNotifications      bool `json:"push_notifications,omitempty"`
	StateTransitionHistory bool `json:"state_transition_history,omitempty"`
}

// AgentSkill describes a capability advertised in an agent card.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// Agent represents a registered agent.
type Agent struct {
	AgentID       string      `json:"agent_id"`
	Card          AgentCard   `json:"card"`
	Status        AgentStatus `json:"status"`
	LastHeartbeat *time.Time  `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Part is one content part of a message or artifact.
type Part struct {
	Kind     string          `json:"kind"` // text, data, file
	Text     string          `json:"text,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	URI      string          `json:"uri,omitempty"`
	MimeType string          `json:"mime_type,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Kind: "text", Text: text}
}

// Message represents a single A2A message.
type Message struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           string    `json:"role"` // user or agent
	Parts          []Part    `json:"parts"`
	TaskID         string    `json:"task_id,omitempty"`
	ContextID      string    `json:"context_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == "text" {
			out += p.Text
		}
	}
	return out
}

// Conversation represents a chat thread with an agent.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Artifact represents a task output artifact.
type Artifact struct {
	ArtifactID  string `json:"artifact_id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parts       []Part `json:"parts"`
}

// TaskStatus represents the current status of a task.
type TaskStatus struct {
	State     TaskState  `json:"state"`
	Message   *Message   `json:"message,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Task represents an A2A task.
type Task struct {
	TaskID    string     `json:"task_id"`
	ContextID string     `json:"context_id,omitempty"`
	AgentID   string     `json:"agent_id,omitempty"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	History   []Message  `json:"history,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TaskStatusUpdateEvent announces a task status change.
type TaskStatusUpdateEvent struct {
	TaskID    string     `json:"task_id"`
	ContextID string     `json:"context_id,omitempty"`
	AgentID   string     `json:"agent_id,omitempty"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}

// TaskArtifactUpdateEvent announces a new or updated task artifact.
type TaskArtifactUpdateEvent struct {
	TaskID    string   `json:"task_id"`
	ContextID string   `json:"context_id,omitempty"`
	Artifact  Artifact `json:"artifact"`
	Append    bool     `json:"append,omitempty"`
	LastChunk bool     `json:"last_chunk,omitempty"`
}

// TaskEvent is the persisted record of a task event, for replay.
type TaskEvent struct {
	EventID string          `json:"event_id"`
	TaskID  string          `json:"task_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
