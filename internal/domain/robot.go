package domain

import (
	"encoding/json"
	"time"
)

// Robot represents a registered robot.
type Robot struct {
	RobotID    string     `json:"robot_id"`
	Name       string     `json:"name"`
	Embodiment string     `json:"embodiment"`
	URDFPath   string     `json:"urdf_path,omitempty"`
	MetricsURL string     `json:"metrics_url,omitempty"`
	State      RobotState `json:"state"`
	BatteryPct float64    `json:"battery_pct"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Pose represents a planar robot pose.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Telemetry represents one telemetry sample from a robot.
type Telemetry struct {
	RobotID         string             `json:"robot_id"`
	State           RobotState         `json:"state"`
	BatteryPct      float64            `json:"battery_pct"`
	Pose            Pose               `json:"pose"`
	JointPositions  []float64          `json:"joint_positions,omitempty"`
	JointVelocities []float64          `json:"joint_velocities,omitempty"`
	Extras          map[string]float64 `json:"extras,omitempty"`
	Error           string             `json:"error,omitempty"`
	Ts              int64              `json:"ts"` // Unix milliseconds
}

// Command represents a robot command record.
type Command struct {
	CommandID    string          `json:"command_id"`
	RobotID      string          `json:"robot_id"`
	Type         CommandType     `json:"type"`
	Params       json.RawMessage `json:"params,omitempty"`
	Status       CommandStatus   `json:"status"`
	Reason       string          `json:"reason,omitempty"` // policy decision reason
	Error        string          `json:"error,omitempty"`
	TimeoutMs    int             `json:"timeout_ms,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Alert represents a triggered telemetry alert.
type Alert struct {
	AlertID    string     `json:"alert_id"`
	Rule       string     `json:"rule"`
	RobotID    string     `json:"robot_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
