// Package protocol defines the WebSocket message protocol between the
// fleet service, dashboard feeds, and robot uplinks.
//
// Feed events are JSON envelopes carrying a type discriminator alongside
// the payload fields; uplink messages follow the hello/hello_ack
// handshake shape.
package protocol

import (
	"time"

	"github.com/robofleet/robofleet/internal/domain"
)

// Message types on the robot uplink (/ws/robot).
const (
	TypeHello         = "hello"
	TypeHelloAck      = "hello_ack"
	TypeTelemetry     = "telemetry"
	TypeCommand       = "command"
	TypeCommandResult = "command_result"
	TypeError         = "error"
)

// Error codes sent on the uplink when a frame is rejected.
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnauthorized   = "unauthorized"
	ErrorCodeHelloRequired  = "hello_required"
	ErrorCodeUnknownRobot   = "unknown_robot"
)

// BaseMessage contains the common fields of uplink messages.
type BaseMessage struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts,omitempty"`
}

// HelloMessage is sent by a robot to authenticate its uplink.
type HelloMessage struct {
	BaseMessage
	RobotID string `json:"robot_id"`
	APIKey  string `json:"api_key,omitempty"`
}

// HelloAckMessage is sent by the server after a successful hello.
type HelloAckMessage struct {
	BaseMessage
	RobotID string `json:"robot_id"`
}

// TelemetryMessage carries one telemetry sample from a robot.
type TelemetryMessage struct {
	BaseMessage
	Telemetry domain.Telemetry `json:"telemetry"`
}

// CommandMessage is pushed by the server to dispatch a command.
type CommandMessage struct {
	BaseMessage
	Command domain.Command `json:"command"`
}

// CommandResultMessage is sent by a robot after executing a command.
type CommandResultMessage struct {
	BaseMessage
	CommandID string `json:"command_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// ErrorMessage is sent by the server when an uplink message is rejected.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RawMessage is used to read the type discriminator before dispatch.
type RawMessage struct {
	Type string `json:"type"`
}

// NewError builds an ErrorMessage with the current timestamp.
func NewError(code, message string) ErrorMessage {
	return ErrorMessage{
		BaseMessage: BaseMessage{Type: TypeError, Ts: time.Now().UnixMilli()},
		Code:        code,
		Message:     message,
	}
}

// --- feed envelopes ---
//
// Events on /ws/a2a and /ws/fleet inline the payload fields next to the
// type discriminator, matching the A2A event wire shapes. Commands are
// the exception: domain.Command has its own "type" field, so command
// updates nest the record instead.

// TaskStatusEvent announces a task status change on the a2a feed.
type TaskStatusEvent struct {
	Type string `json:"type"` // task_status_update
	domain.TaskStatusUpdateEvent
}

// TaskArtifactEvent announces an artifact update on the a2a feed.
type TaskArtifactEvent struct {
	Type string `json:"type"` // task_artifact_update
	domain.TaskArtifactUpdateEvent
}

// TaskSnapshotEvent carries full task records; sent on feed connect and
// after a dispatch returns a whole task.
type TaskSnapshotEvent struct {
	Type  string        `json:"type"` // task_snapshot
	Tasks []domain.Task `json:"tasks"`
}

// MessageEvent announces a conversation message on the a2a feed.
type MessageEvent struct {
	Type string `json:"type"` // message
	domain.Message
}

// AgentEvent announces an agent registration or status change.
type AgentEvent struct {
	Type string `json:"type"` // agent_update
	domain.Agent
}

// FleetSnapshotEvent is sent once when a fleet feed connects.
type FleetSnapshotEvent struct {
	Type      string             `json:"type"` // fleet_snapshot
	Robots    []domain.Robot     `json:"robots"`
	Telemetry []domain.Telemetry `json:"telemetry"`
	Alerts    []domain.Alert     `json:"alerts"`
}

// RobotStatusEvent announces a robot state transition on the fleet feed.
type RobotStatusEvent struct {
	Type string `json:"type"` // robot_status
	domain.Robot
}

// TelemetryEvent carries one telemetry sample on the fleet feed.
type TelemetryEvent struct {
	Type string `json:"type"` // telemetry
	domain.Telemetry
}

// CommandEvent announces a command status change on the fleet feed.
type CommandEvent struct {
	Type    string         `json:"type"` // command_update
	Command domain.Command `json:"command"`
}

// AlertEvent announces a fired or resolved alert on the fleet feed.
type AlertEvent struct {
	Type string `json:"type"` // alert
	domain.Alert
}

// SyntheticJobEvent announces generation job progress on the fleet feed.
type SyntheticJobEvent struct {
	Type string `json:"type"` // synthetic_job_update
	domain.SyntheticJob
}
