package domain

import "encoding/json"

// RegisterRobotRequest represents the request to register a robot.
type RegisterRobotRequest struct {
	RobotID    string `json:"robot_id,omitempty"`
	Name       string `json:"name"`
	Embodiment string `json:"embodiment"`
	URDFPath   string `json:"urdf_path,omitempty"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

// UpdateRobotRequest represents a partial robot update.
type UpdateRobotRequest struct {
	Name       *string `json:"name,omitempty"`
	Embodiment *string `json:"embodiment,omitempty"`
	URDFPath   *string `json:"urdf_path,omitempty"`
	MetricsURL *string `json:"metrics_url,omitempty"`
}

// CommandRequest represents the request to issue a robot command.
type CommandRequest struct {
	Type      CommandType     `json:"type"`
	Params    json.RawMessage `json:"params,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// RegisterAgentRequest represents the request to register an A2A agent.
type RegisterAgentRequest struct {
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Description string     `json:"description,omitempty"`
	Card        *AgentCard `json:"card,omitempty"` // fetched from the agent when omitted
}

// CreateConversationRequest represents the request to open a conversation.
type CreateConversationRequest struct {
	Title   string `json:"title,omitempty"`
	AgentID string `json:"agent_id"`
}

// SendMessageRequest represents the request to send a message in a conversation.
type SendMessageRequest struct {
	Text  string `json:"text,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// SyntheticGenerateRequest represents the request to start a generation job.
// Field names match the dashboard client contract.
type SyntheticGenerateRequest struct {
	Task            string `json:"task"`
	Embodiment      string `json:"embodiment"`
	TrajectoryCount int    `json:"trajectoryCount"`
}

// StageTransitionRequest represents the request to move a model version to a stage.
type StageTransitionRequest struct {
	Stage                   string `json:"stage"`
	ArchiveExistingVersions bool   `json:"archive_existing_versions,omitempty"`
}
