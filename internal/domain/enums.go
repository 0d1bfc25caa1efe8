// Package domain defines the core domain models for the fleet service.
package domain

// RobotState represents the operating state of a robot.
type RobotState string

const (
	RobotStateOffline  RobotState = "offline"
	RobotStateIdle     RobotState = "idle"
	RobotStateActive   RobotState = "active"
	RobotStateCharging RobotState = "charging"
	RobotStateError    RobotState = "error"
	RobotStateEstopped RobotState = "estopped"
)

// CommandType represents the type of a robot command.
type CommandType string

const (
	CommandTypeMove       CommandType = "move"
	CommandTypeStop       CommandType = "stop"
	CommandTypeEStop      CommandType = "e_stop"
	CommandTypeSetJoints  CommandType = "set_joints"
	CommandTypeDock       CommandType = "dock"
	CommandTypeResetError CommandType = "reset_error"
)

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	switch t {
	case CommandTypeMove, CommandTypeStop, CommandTypeEStop,
		CommandTypeSetJoints, CommandTypeDock, CommandTypeResetError:
		return true
	}
	return false
}

// CommandStatus represents the status of a robot command.
type CommandStatus string

const (
	CommandStatusPending CommandStatus = "PENDING"
	CommandStatusDenied  CommandStatus = "DENIED"
	CommandStatusSent    CommandStatus = "SENT"
	CommandStatusAcked   CommandStatus = "ACKED"
	CommandStatusFailed  CommandStatus = "FAILED"
	CommandStatusTimeout CommandStatus = "TIMEOUT"
)

// TaskState represents the lifecycle state of an A2A task.
// Values follow the A2A protocol wire format.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateUnknown       TaskState = "unknown"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

// AgentStatus represents the reachability of a registered agent.
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusOffline AgentStatus = "offline"
)

// SyntheticJobStatus represents the status of a synthetic data generation job.
type SyntheticJobStatus string

const (
	SyntheticJobQueued    SyntheticJobStatus = "queued"
	SyntheticJobRunning   SyntheticJobStatus = "running"
	SyntheticJobCompleted SyntheticJobStatus = "completed"
	SyntheticJobFailed    SyntheticJobStatus = "failed"
	SyntheticJobCanceled  SyntheticJobStatus = "canceled"
)

// Terminal reports whether the job will see no further upstream updates.
func (s SyntheticJobStatus) Terminal() bool {
	switch s {
	case SyntheticJobCompleted, SyntheticJobFailed, SyntheticJobCanceled:
		return true
	}
	return false
}

// EventType represents the type of a fleet or A2A event.
type EventType string

const (
	// A2A feed events
	EventTypeTaskSnapshot       EventType = "task_snapshot"
	EventTypeTaskStatusUpdate   EventType = "task_status_update"
	EventTypeTaskArtifactUpdate EventType = "task_artifact_update"
	EventTypeMessage            EventType = "message"
	EventTypeAgentUpdate        EventType = "agent_update"

	// Fleet feed events
	EventTypeFleetSnapshot      EventType = "fleet_snapshot"
	EventTypeRobotStatus        EventType = "robot_status"
	EventTypeTelemetry          EventType = "telemetry"
	EventTypeCommandUpdate      EventType = "command_update"
	EventTypeAlert              EventType = "alert"
	EventTypeSyntheticJobUpdate EventType = "synthetic_job_update"
)
