package domain

import "time"

// SyntheticJob represents a synthetic data generation job.
type SyntheticJob struct {
	JobID           string             `json:"job_id"`
	Task            string             `json:"task"`
	Embodiment      string             `json:"embodiment"`
	TrajectoryCount int                `json:"trajectory_count"`
	Status          SyntheticJobStatus `json:"status"`
	Progress        float64            `json:"progress"` // 0..1
	DatasetPath     string             `json:"dataset_path,omitempty"`
	Error           string             `json:"error,omitempty"`
	UpstreamJobID   string             `json:"upstream_job_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Dataset represents a generated dataset available for download.
type Dataset struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Embodiment   string `json:"embodiment,omitempty"`
	Task         string `json:"task,omitempty"`
	Trajectories int    `json:"trajectories,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	CreatedAt    int64  `json:"created_at,omitempty"` // Unix milliseconds
}
