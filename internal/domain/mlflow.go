package domain

// MLflow DTOs mirror the MLflow REST 2.0 wire shapes. Timestamps are Unix
// milliseconds as sent by the tracking server.

// Experiment represents an MLflow experiment.
type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty"`
	CreationTime     int64  `json:"creation_time,omitempty"`
	LastUpdateTime   int64  `json:"last_update_time,omitempty"`
}

// Run represents an MLflow run.
type Run struct {
	Info RunInfo `json:"info"`
	Data RunData `json:"data"`
}

// RunInfo represents the identity and lifecycle of a run.
type RunInfo struct {
	RunID        string `json:"run_id"`
	RunName      string `json:"run_name,omitempty"`
	ExperimentID string `json:"experiment_id"`
	Status       string `json:"status"` // RUNNING, FINISHED, FAILED, KILLED
	StartTime    int64  `json:"start_time,omitempty"`
	EndTime      int64  `json:"end_time,omitempty"`
	ArtifactURI  string `json:"artifact_uri,omitempty"`
}

// RunData holds logged metrics and params of a run.
type RunData struct {
	Metrics []RunMetric `json:"metrics,omitempty"`
	Params  []RunParam  `json:"params,omitempty"`
}

// RunMetric is one logged metric value.
type RunMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Step      int64   `json:"step,omitempty"`
}

// RunParam is one logged parameter.
type RunParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RegisteredModel represents a model in the MLflow registry.
type RegisteredModel struct {
	Name                 string         `json:"name"`
	Description          string         `json:"description,omitempty"`
	CreationTimestamp    int64          `json:"creation_timestamp,omitempty"`
	LastUpdatedTimestamp int64          `json:"last_updated_timestamp,omitempty"`
	LatestVersions       []ModelVersion `json:"latest_versions,omitempty"`
}

// ModelVersion represents one version of a registered model.
type ModelVersion struct {
	Name                 string `json:"name"`
	Version              string `json:"version"`
	CurrentStage         string `json:"current_stage,omitempty"` // None, Staging, Production, Archived
	Description          string `json:"description,omitempty"`
	Source               string `json:"source,omitempty"`
	RunID                string `json:"run_id,omitempty"`
	Status               string `json:"status,omitempty"`
	CreationTimestamp    int64  `json:"creation_timestamp,omitempty"`
	LastUpdatedTimestamp int64  `json:"last_updated_timestamp,omitempty"`
}
