package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/isaac"
	"github.com/robofleet/robofleet/internal/metrics"
	"github.com/robofleet/robofleet/internal/protocol"
)

// StartGeneration submits a generation job to Isaac Lab and tracks it. The
// upstream submission happens first; nothing is persisted when it fails.
func (s *Service) StartGeneration(ctx context.Context, req domain.SyntheticGenerateRequest) (*domain.SyntheticJob, error) {
	upstream, err := s.isaac.Generate(ctx, isaac.GenerateRequest{
		Task:            req.Task,
		Embodiment:      req.Embodiment,
		TrajectoryCount: req.TrajectoryCount,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &domain.SyntheticJob{
		JobID:           newID("job"),
		Task:            req.Task,
		Embodiment:      req.Embodiment,
		TrajectoryCount: req.TrajectoryCount,
		Status:          jobStatus(upstream.Status),
		Progress:        upstream.Progress,
		UpstreamJobID:   upstream.JobID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateSyntheticJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.log.Info("generation started", "job_id", job.JobID, "upstream_job_id", job.UpstreamJobID, "task", job.Task)
	s.announceJob(ctx, job)
	return job, nil
}

// GetSyntheticJob returns a job by ID.
func (s *Service) GetSyntheticJob(ctx context.Context, jobID string) (*domain.SyntheticJob, error) {
	job, err := s.store.GetSyntheticJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, nil
}

// ListSyntheticJobs returns known jobs, newest first.
func (s *Service) ListSyntheticJobs(ctx context.Context, limit int) ([]domain.SyntheticJob, error) {
	return s.store.ListSyntheticJobs(ctx, limit)
}

// CancelGeneration cancels a job upstream and records the terminal state.
func (s *Service) CancelGeneration(ctx context.Context, jobID string) (*domain.SyntheticJob, error) {
	job, err := s.GetSyntheticJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	upstream, err := s.isaac.CancelJob(ctx, job.UpstreamJobID)
	if err != nil {
		return nil, err
	}
	s.applyUpstream(ctx, job, upstream)
	return job, nil
}

// ListDatasets returns the datasets generated upstream.
func (s *Service) ListDatasets(ctx context.Context) ([]domain.Dataset, error) {
	return s.isaac.ListDatasets(ctx)
}

// RunSyntheticPoller advances active jobs by polling Isaac Lab until each
// reaches a terminal status.
func (s *Service) RunSyntheticPoller(ctx context.Context) {
	interval := s.cfg.IsaacPoll
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollSyntheticJobs(ctx)
		}
	}
}

func (s *Service) pollSyntheticJobs(ctx context.Context) {
	active, err := s.store.ListActiveSyntheticJobs(ctx)
	if err != nil {
		s.log.Error("active job scan failed", "err", err)
		return
	}
	for i := range active {
		job := &active[i]
		pollCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		upstream, err := s.isaac.GetJob(pollCtx, job.UpstreamJobID)
		cancel()
		if err != nil {
			s.log.Warn("job poll failed", "job_id", job.JobID, "upstream_job_id", job.UpstreamJobID, "err", err)
			continue
		}
		s.applyUpstream(ctx, job, upstream)
	}
}

// applyUpstream folds the upstream job state into the local record and
// announces any change.
func (s *Service) applyUpstream(ctx context.Context, job *domain.SyntheticJob, upstream *isaac.Job) {
	status := jobStatus(upstream.Status)
	if status == job.Status && upstream.Progress == job.Progress {
		return
	}

	ok, err := s.store.UpdateSyntheticJob(ctx, job.JobID, status, upstream.Progress, upstream.DatasetPath, upstream.Error)
	if err != nil {
		s.log.Error("job update failed", "job_id", job.JobID, "err", err)
		return
	}
	if !ok {
		return
	}

	job.Status = status
	job.Progress = upstream.Progress
	job.DatasetPath = upstream.DatasetPath
	job.Error = upstream.Error
	job.UpdatedAt = time.Now()

	if status.Terminal() {
		metrics.SyntheticJobs.WithLabelValues(string(status)).Inc()
		s.log.Info("generation finished", "job_id", job.JobID, "status", status, "dataset", job.DatasetPath)
	}
	s.announceJob(ctx, job)
}

func (s *Service) announceJob(ctx context.Context, job *domain.SyntheticJob) {
	s.broadcastFleet(protocol.SyntheticJobEvent{Type: string(domain.EventTypeSyntheticJobUpdate), SyntheticJob: *job})
	s.journal.Record(ctx, domain.EventTypeSyntheticJobUpdate, job.JobID, job)
}

// jobStatus maps an upstream status string to the local enum. Unknown
// strings count as running so polling continues.
func jobStatus(status string) domain.SyntheticJobStatus {
	switch status {
	case "queued":
		return domain.SyntheticJobQueued
	case "running":
		return domain.SyntheticJobRunning
	case "completed":
		return domain.SyntheticJobCompleted
	case "failed":
		return domain.SyntheticJobFailed
	case "canceled":
		return domain.SyntheticJobCanceled
	default:
		return domain.SyntheticJobRunning
	}
}
