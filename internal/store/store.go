package store

import (
	"context"
	"time"

	"github.com/robofleet/robofleet/internal/domain"
)

var _ Store = (*SQLiteStore)(nil)

// Store defines the interface for data persistence.
type Store interface {
	// Robot operations
	CreateRobot(ctx context.Context, robot *domain.Robot) error
	GetRobot(ctx context.Context, robotID string) (*domain.Robot, error)
	ListRobots(ctx context.Context) ([]domain.Robot, error)
	UpdateRobot(ctx context.Context, robot *domain.Robot) (bool, error)
	UpdateRobotStatus(ctx context.Context, robotID string, state domain.RobotState, batteryPct float64, seenAt time.Time) (bool, error)
	ListStaleRobots(ctx context.Context, cutoff time.Time) ([]domain.Robot, error)
	MarkRobotOffline(ctx context.Context, robotID string) (bool, error)
	DeleteRobot(ctx context.Context, robotID string) (bool, error)

	// Agent operations
	RegisterAgent(ctx context.Context, agent *domain.Agent) error
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	UpdateAgentHeartbeat(ctx context.Context, agentID string, at time.Time) (bool, error)
	MarkStaleAgentsOffline(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAgent(ctx context.Context, agentID string) (bool, error)

	// Conversation operations
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
	DeleteConversation(ctx context.Context, conversationID string) (bool, error)

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]domain.Message, error)
	ListTaskMessages(ctx context.Context, taskID string) ([]domain.Message, error)

	// Task operations
	UpsertTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	ListTasks(ctx context.Context, limit int) ([]domain.Task, error)
	UpsertArtifact(ctx context.Context, taskID string, artifact *domain.Artifact) error
	ListArtifacts(ctx context.Context, taskID string) ([]domain.Artifact, error)
	CreateTaskEvent(ctx context.Context, event *domain.TaskEvent) error
	ListTaskEvents(ctx context.Context, taskID string, afterTs int64, limit int) ([]domain.TaskEvent, error)

	// Command operations
	CreateCommand(ctx context.Context, cmd *domain.Command) error
	GetCommand(ctx context.Context, commandID string) (*domain.Command, error)
	ListCommands(ctx context.Context, robotID string, limit int) ([]domain.Command, error)
	MarkCommandDispatched(ctx context.Context, commandID string, at time.Time) (bool, error)
	CompleteCommand(ctx context.Context, commandID string, status domain.CommandStatus, errStr string) (bool, error)
	ListExpiredCommands(ctx context.Context, limit int) ([]domain.Command, error)

	// Synthetic job operations
	CreateSyntheticJob(ctx context.Context, job *domain.SyntheticJob) error
	GetSyntheticJob(ctx context.Context, jobID string) (*domain.SyntheticJob, error)
	ListSyntheticJobs(ctx context.Context, limit int) ([]domain.SyntheticJob, error)
	ListActiveSyntheticJobs(ctx context.Context) ([]domain.SyntheticJob, error)
	UpdateSyntheticJob(ctx context.Context, jobID string, status domain.SyntheticJobStatus, progress float64, datasetPath, errStr string) (bool, error)

	// Lifecycle
	Close() error
}
