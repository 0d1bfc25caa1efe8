// Package a2a implements the agent-to-agent protocol layer: a reducer that
// folds status and artifact update events into task state, and an HTTP
// client for talking to remote agents.
package a2a

import (
	"sort"
	"time"

	"github.com/robofleet/robofleet/internal/domain"
)

// TaskSet holds the reduced view of all known tasks, keyed by task ID.
// It is not safe for concurrent use; callers serialize access.
type TaskSet struct {
	tasks map[string]*domain.Task
	now   func() time.Time
}

// NewTaskSet creates an empty task set.
func NewTaskSet() *TaskSet {
	return &TaskSet{
		tasks: make(map[string]*domain.Task),
		now:   time.Now,
	}
}

// Seed loads existing tasks into the set, replacing any previous state
// for the same IDs. Used to prime a fresh set from a snapshot.
func (s *TaskSet) Seed(tasks []domain.Task) {
	for i := range tasks {
		t := tasks[i]
		s.tasks[t.TaskID] = &t
	}
}

// Get returns the task with the given ID, or nil if unknown.
func (s *TaskSet) Get(taskID string) *domain.Task {
	return s.tasks[taskID]
}

// Len returns the number of tasks in the set.
func (s *TaskSet) Len() int {
	return len(s.tasks)
}

// Tasks returns all tasks ordered by creation time, newest first.
func (s *TaskSet) Tasks() []domain.Task {
	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// ApplyStatus folds a status update into the set. Unknown task IDs create
// a placeholder task so that events arriving out of order are not lost.
// The task's status is replaced, not merged, and the status message (if
// any) is appended to the task history. Returns the updated task.
func (s *TaskSet) ApplyStatus(ev domain.TaskStatusUpdateEvent) *domain.Task {
	task := s.ensure(ev.TaskID, ev.ContextID, ev.AgentID)
	task.Status = ev.Status
	if ev.Status.Message != nil {
		task.History = append(task.History, *ev.Status.Message)
	}
	if ev.AgentID != "" {
		task.AgentID = ev.AgentID
	}
	task.UpdatedAt = s.timestampOf(ev.Status)
	return task
}

// ApplyArtifact folds an artifact update into the set. Unknown task IDs
// create a placeholder task. The artifact is merged by identity: applying
// the same event twice replaces the artifact rather than duplicating it.
// Returns the updated task.
func (s *TaskSet) ApplyArtifact(ev domain.TaskArtifactUpdateEvent) *domain.Task {
	task := s.ensure(ev.TaskID, ev.ContextID, "")
	MergeArtifact(task, ev.Artifact, ev.Append)
	task.UpdatedAt = s.now().UTC()
	return task
}

// ensure returns the task for the given ID, creating a placeholder in
// submitted state when the ID is unknown.
func (s *TaskSet) ensure(taskID, contextID, agentID string) *domain.Task {
	if task, ok := s.tasks[taskID]; ok {
		if task.ContextID == "" {
			task.ContextID = contextID
		}
		return task
	}
	now := s.now().UTC()
	task := &domain.Task{
		TaskID:    taskID,
		ContextID: contextID,
		AgentID:   agentID,
		Status:    domain.TaskStatus{State: domain.TaskStateSubmitted, Timestamp: &now},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[taskID] = task
	return task
}

func (s *TaskSet) timestampOf(status domain.TaskStatus) time.Time {
	if status.Timestamp != nil {
		return status.Timestamp.UTC()
	}
	return s.now().UTC()
}

// MergeArtifact merges an artifact into the task's artifact list by
// identity: the incoming artifact's ID when it carries one, its name
// otherwise. A matching artifact is replaced in place, or has the incoming
// parts appended when appendParts is set (chunked delivery). Artifacts
// with no identity always occupy a fresh slot.
func MergeArtifact(task *domain.Task, artifact domain.Artifact, appendParts bool) {
	for i := range task.Artifacts {
		if !artifactMatches(task.Artifacts[i], artifact) {
			continue
		}
		if appendParts {
			task.Artifacts[i].Parts = append(task.Artifacts[i].Parts, artifact.Parts...)
			if artifact.Name != "" {
				task.Artifacts[i].Name = artifact.Name
			}
			if artifact.Description != "" {
				task.Artifacts[i].Description = artifact.Description
			}
		} else {
			if artifact.ArtifactID == "" {
				artifact.ArtifactID = task.Artifacts[i].ArtifactID
			}
			task.Artifacts[i] = artifact
		}
		return
	}
	task.Artifacts = append(task.Artifacts, artifact)
}

// artifactMatches reports whether an incoming artifact refers to an
// existing one. The incoming identity decides: ID when present, name
// otherwise. Artifacts with neither never match.
func artifactMatches(existing, incoming domain.Artifact) bool {
	if incoming.ArtifactID != "" {
		return existing.ArtifactID == incoming.ArtifactID
	}
	if incoming.Name != "" {
		return existing.Name == incoming.Name
	}
	return false
}
