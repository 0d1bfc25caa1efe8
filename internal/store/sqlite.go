// Package store provides SQLite persistence for the fleet service.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/robofleet/robofleet/internal/domain"
)

// SQLiteStore implements persistence using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS robots (
			robot_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			embodiment TEXT NOT NULL,
			urdf_path TEXT,
			metrics_url TEXT,
			state TEXT NOT NULL DEFAULT 'offline',
			battery_pct REAL NOT NULL DEFAULT 0,
			last_seen_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			card TEXT,
			status TEXT NOT NULL DEFAULT 'offline',
			last_heartbeat DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			title TEXT,
			agent_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT,
			role TEXT NOT NULL,
			parts TEXT NOT NULL,
			task_id TEXT,
			context_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			context_id TEXT,
			agent_id TEXT,
			state TEXT NOT NULL,
			status_message TEXT,
			status_ts DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at)`,
		`CREATE TABLE IF NOT EXISTS task_artifacts (
			task_id TEXT NOT NULL,
			artifact_id TEXT NOT NULL,
			name TEXT,
			description TEXT,
			parts TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (task_id, artifact_id),
			FOREIGN KEY (task_id) REFERENCES tasks(task_id)
		)`,
		`CREATE TABLE IF NOT EXISTS task_events (
			event_id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (task_id) REFERENCES tasks(task_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id, ts)`,
		`CREATE TABLE IF NOT EXISTS commands (
			command_id TEXT PRIMARY KEY,
			robot_id TEXT NOT NULL,
			type TEXT NOT NULL,
			params TEXT,
			status TEXT NOT NULL,
			reason TEXT,
			error TEXT,
			timeout_ms INTEGER NOT NULL DEFAULT 60000,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			dispatched_at DATETIME,
			completed_at DATETIME,
			FOREIGN KEY (robot_id) REFERENCES robots(robot_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_robot ON commands(robot_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_status_created ON commands(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS synthetic_jobs (
			job_id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			embodiment TEXT NOT NULL,
			trajectory_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			progress REAL NOT NULL DEFAULT 0,
			dataset_path TEXT,
			error TEXT,
			upstream_job_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Add new columns for existing DBs (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("robots", "metrics_url", "ALTER TABLE robots ADD COLUMN metrics_url TEXT"); err != nil {
		return err
	}
	if err := s.ensureColumn("commands", "timeout_ms", "ALTER TABLE commands ADD COLUMN timeout_ms INTEGER NOT NULL DEFAULT 60000"); err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- robots ---

// CreateRobot inserts a new robot.
func (s *SQLiteStore) CreateRobot(ctx context.Context, robot *domain.Robot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO robots (robot_id, name, embodiment, urdf_path, metrics_url, state, battery_pct, last_seen_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		robot.RobotID, robot.Name, robot.Embodiment, nullString(robot.URDFPath), nullString(robot.MetricsURL),
		robot.State, robot.BatteryPct, robot.LastSeenAt, robot.CreatedAt, robot.UpdatedAt)
	return err
}

func scanRobot(scan func(dest ...interface{}) error) (*domain.Robot, error) {
	var robot domain.Robot
	var urdfPath, metricsURL sql.NullString
	var lastSeen sql.NullTime
	err := scan(&robot.RobotID, &robot.Name, &robot.Embodiment, &urdfPath, &metricsURL,
		&robot.State, &robot.BatteryPct, &lastSeen, &robot.CreatedAt, &robot.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if urdfPath.Valid {
		robot.URDFPath = urdfPath.String
	}
	if metricsURL.Valid {
		robot.MetricsURL = metricsURL.String
	}
	if lastSeen.Valid {
		robot.LastSeenAt = &lastSeen.Time
	}
	return &robot, nil
}

const robotColumns = `robot_id, name, embodiment, urdf_path, metrics_url, state, battery_pct, last_seen_at, created_at, updated_at`

// GetRobot retrieves a robot by ID. Returns nil when not found.
func (s *SQLiteStore) GetRobot(ctx context.Context, robotID string) (*domain.Robot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+robotColumns+` FROM robots WHERE robot_id = ?`, robotID)
	robot, err := scanRobot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return robot, nil
}

// ListRobots lists all robots.
func (s *SQLiteStore) ListRobots(ctx context.Context) ([]domain.Robot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+robotColumns+` FROM robots ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var robots []domain.Robot
	for rows.Next() {
		robot, err := scanRobot(rows.Scan)
		if err != nil {
			return nil, err
		}
		robots = append(robots, *robot)
	}
	return robots, rows.Err()
}

// UpdateRobot updates the mutable registration fields of a robot.
func (s *SQLiteStore) UpdateRobot(ctx context.Context, robot *domain.Robot) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE robots SET name = ?, embodiment = ?, urdf_path = ?, metrics_url = ?, updated_at = ? WHERE robot_id = ?`,
		robot.Name, robot.Embodiment, nullString(robot.URDFPath), nullString(robot.MetricsURL), time.Now(), robot.RobotID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateRobotStatus records the state observed from telemetry.
func (s *SQLiteStore) UpdateRobotStatus(ctx context.Context, robotID string, state domain.RobotState, batteryPct float64, seenAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE robots SET state = ?, battery_pct = ?, last_seen_at = ?, updated_at = ? WHERE robot_id = ?`,
		state, batteryPct, seenAt, time.Now(), robotID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListStaleRobots lists robots not marked offline whose last telemetry is older than cutoff.
func (s *SQLiteStore) ListStaleRobots(ctx context.Context, cutoff time.Time) ([]domain.Robot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+robotColumns+` FROM robots
		 WHERE state != ? AND (last_seen_at IS NULL OR last_seen_at < ?)`,
		domain.RobotStateOffline, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var robots []domain.Robot
	for rows.Next() {
		robot, err := scanRobot(rows.Scan)
		if err != nil {
			return nil, err
		}
		robots = append(robots, *robot)
	}
	return robots, rows.Err()
}

// MarkRobotOffline flips a robot to offline, preserving last_seen_at so the
// record still shows when telemetry was last received.
func (s *SQLiteStore) MarkRobotOffline(ctx context.Context, robotID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE robots SET state = ?, updated_at = ? WHERE robot_id = ? AND state != ?`,
		domain.RobotStateOffline, time.Now(), robotID, domain.RobotStateOffline)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteRobot removes a robot and its command history.
func (s *SQLiteStore) DeleteRobot(ctx context.Context, robotID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM commands WHERE robot_id = ?`, robotID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM robots WHERE robot_id = ?`, robotID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// --- agents ---

// RegisterAgent registers or updates an agent.
func (s *SQLiteStore) RegisterAgent(ctx context.Context, agent *domain.Agent) error {
	card, _ := json.Marshal(agent.Card)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO agents (agent_id, name, url, card, status, last_heartbeat, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agent.AgentID, agent.Card.Name, agent.Card.URL, string(card), agent.Status, agent.LastHeartbeat, agent.CreatedAt)
	return err
}

func scanAgent(scan func(dest ...interface{}) error) (*domain.Agent, error) {
	var agent domain.Agent
	var name, url string
	var card sql.NullString
	var lastHeartbeat sql.NullTime
	err := scan(&agent.AgentID, &name, &url, &card, &agent.Status, &lastHeartbeat, &agent.CreatedAt)
	if err != nil {
		return nil, err
	}
	if card.Valid && card.String != "" {
		if err := json.Unmarshal([]byte(card.String), &agent.Card); err != nil {
			return nil, fmt.Errorf("decode agent card: %w", err)
		}
	}
	// Column values win over stale card copies.
	agent.Card.Name = name
	agent.Card.URL = url
	if lastHeartbeat.Valid {
		agent.LastHeartbeat = &lastHeartbeat.Time
	}
	return &agent, nil
}

// GetAgent retrieves an agent by ID. Returns nil when not found.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, name, url, card, status, last_heartbeat, created_at FROM agents WHERE agent_id = ?`, agentID)
	agent, err := scanAgent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents lists all agents.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, name, url, card, status, last_heartbeat, created_at FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// UpdateAgentHeartbeat marks an agent online at the given time.
func (s *SQLiteStore) UpdateAgentHeartbeat(ctx context.Context, agentID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, last_heartbeat = ? WHERE agent_id = ?`,
		domain.AgentStatusOnline, at, agentID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkStaleAgentsOffline flips agents without a recent heartbeat to offline.
func (s *SQLiteStore) MarkStaleAgentsOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ? WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		domain.AgentStatusOffline, domain.AgentStatusOnline, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAgent removes an agent.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, agentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// --- conversations and messages ---

// CreateConversation creates a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, title, agent_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ConversationID, nullString(conv.Title), nullString(conv.AgentID), conv.CreatedAt, conv.UpdatedAt)
	return err
}

// GetConversation retrieves a conversation by ID. Returns nil when not found.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var title, agentID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, title, agent_id, created_at, updated_at FROM conversations WHERE conversation_id = ?`,
		conversationID).Scan(&conv.ConversationID, &title, &agentID, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if title.Valid {
		conv.Title = title.String
	}
	if agentID.Valid {
		conv.AgentID = agentID.String
	}
	return &conv, nil
}

// ListConversations lists all conversations, most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, title, agent_id, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var title, agentID sql.NullString
		if err := rows.Scan(&conv.ConversationID, &title, &agentID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		if title.Valid {
			conv.Title = title.String
		}
		if agentID.Valid {
			conv.AgentID = agentID.String
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// TouchConversation bumps the conversation's updated_at.
func (s *SQLiteStore) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE conversation_id = ?`, at, conversationID)
	return err
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CreateMessage creates a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	parts, err := json.Marshal(message.Parts)
	if err != nil {
		return fmt.Errorf("encode parts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, role, parts, task_id, context_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID, nullString(message.ConversationID), message.Role, string(parts),
		nullString(message.TaskID), nullString(message.ContextID), message.CreatedAt)
	return err
}

// ListMessages retrieves messages for a conversation in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]domain.Message, error) {
	query := `SELECT message_id, conversation_id, role, parts, task_id, context_id, created_at FROM messages WHERE conversation_id = ?`
	args := []interface{}{conversationID}

	if before != "" {
		query += ` AND message_id < ?`
		args = append(args, before)
	}

	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// ListTaskMessages retrieves the message history of a task.
func (s *SQLiteStore) ListTaskMessages(ctx context.Context, taskID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, conversation_id, role, parts, task_id, context_id, created_at FROM messages WHERE task_id = ? ORDER BY created_at ASC`,
		taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func scanMessage(scan func(dest ...interface{}) error) (*domain.Message, error) {
	var msg domain.Message
	var conversationID, taskID, contextID sql.NullString
	var parts string
	if err := scan(&msg.MessageID, &conversationID, &msg.Role, &parts, &taskID, &contextID, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
		return nil, fmt.Errorf("decode parts: %w", err)
	}
	if conversationID.Valid {
		msg.ConversationID = conversationID.String
	}
	if taskID.Valid {
		msg.TaskID = taskID.String
	}
	if contextID.Valid {
		msg.ContextID = contextID.String
	}
	return &msg, nil
}

// --- tasks ---

// UpsertTask writes the full task row, replacing any existing row.
func (s *SQLiteStore) UpsertTask(ctx context.Context, task *domain.Task) error {
	var statusMessage sql.NullString
	if task.Status.Message != nil {
		b, err := json.Marshal(task.Status.Message)
		if err != nil {
			return fmt.Errorf("encode status message: %w", err)
		}
		statusMessage = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks (task_id, context_id, agent_id, state, status_message, status_ts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, nullString(task.ContextID), nullString(task.AgentID), task.Status.State,
		statusMessage, task.Status.Timestamp, task.CreatedAt, task.UpdatedAt)
	return err
}

func scanTask(scan func(dest ...interface{}) error) (*domain.Task, error) {
	var task domain.Task
	var contextID, agentID, statusMessage sql.NullString
	var statusTs sql.NullTime
	if err := scan(&task.TaskID, &contextID, &agentID, &task.Status.State, &statusMessage, &statusTs, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, err
	}
	if contextID.Valid {
		task.ContextID = contextID.String
	}
	if agentID.Valid {
		task.AgentID = agentID.String
	}
	if statusMessage.Valid && statusMessage.String != "" {
		var msg domain.Message
		if err := json.Unmarshal([]byte(statusMessage.String), &msg); err != nil {
			return nil, fmt.Errorf("decode status message: %w", err)
		}
		task.Status.Message = &msg
	}
	if statusTs.Valid {
		task.Status.Timestamp = &statusTs.Time
	}
	return &task, nil
}

// GetTask retrieves a task with its artifacts. Returns nil when not found.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, context_id, agent_id, state, status_message, status_ts, created_at, updated_at FROM tasks WHERE task_id = ?`,
		taskID)
	task, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	artifacts, err := s.ListArtifacts(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task.Artifacts = artifacts
	return task, nil
}

// ListTasks lists tasks with artifacts, most recently updated first.
func (s *SQLiteStore) ListTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	query := `SELECT task_id, context_id, agent_id, state, status_message, status_ts, created_at, updated_at FROM tasks ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tasks {
		artifacts, err := s.ListArtifacts(ctx, tasks[i].TaskID)
		if err != nil {
			return nil, err
		}
		tasks[i].Artifacts = artifacts
	}
	return tasks, nil
}

// UpsertArtifact writes an artifact keyed by (task_id, artifact_id).
// Writing the same artifact ID again replaces the previous row.
func (s *SQLiteStore) UpsertArtifact(ctx context.Context, taskID string, artifact *domain.Artifact) error {
	parts, err := json.Marshal(artifact.Parts)
	if err != nil {
		return fmt.Errorf("encode parts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_artifacts (task_id, artifact_id, name, description, parts, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id, artifact_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			parts = excluded.parts,
			updated_at = excluded.updated_at`,
		taskID, artifact.ArtifactID, nullString(artifact.Name), nullString(artifact.Description), string(parts), time.Now())
	return err
}

// ListArtifacts lists the artifacts of a task in insertion order.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, taskID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT artifact_id, name, description, parts FROM task_artifacts WHERE task_id = ? ORDER BY rowid`,
		taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var name, description sql.NullString
		var parts string
		if err := rows.Scan(&a.ArtifactID, &name, &description, &parts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(parts), &a.Parts); err != nil {
			return nil, fmt.Errorf("decode parts: %w", err)
		}
		if name.Valid {
			a.Name = name.String
		}
		if description.Valid {
			a.Description = description.String
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// CreateTaskEvent appends a task event for replay.
func (s *SQLiteStore) CreateTaskEvent(ctx context.Context, event *domain.TaskEvent) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_events (event_id, task_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.TaskID, event.Ts, event.Type, payload)
	return err
}

// ListTaskEvents retrieves events for a task ordered by timestamp.
func (s *SQLiteStore) ListTaskEvents(ctx context.Context, taskID string, afterTs int64, limit int) ([]domain.TaskEvent, error) {
	query := `SELECT event_id, task_id, ts, type, payload FROM task_events WHERE task_id = ?`
	args := []interface{}{taskID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	query += ` ORDER BY ts ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.TaskEvent
	for rows.Next() {
		var event domain.TaskEvent
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.TaskID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// --- commands ---

// CreateCommand inserts a new command record.
func (s *SQLiteStore) CreateCommand(ctx context.Context, cmd *domain.Command) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (command_id, robot_id, type, params, status, reason, error, timeout_ms, created_at, dispatched_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.CommandID, cmd.RobotID, cmd.Type, nullStringBytes(cmd.Params), cmd.Status,
		nullString(cmd.Reason), nullString(cmd.Error), cmd.TimeoutMs, cmd.CreatedAt, cmd.DispatchedAt, cmd.CompletedAt)
	return err
}

func scanCommand(scan func(dest ...interface{}) error) (*domain.Command, error) {
	var cmd domain.Command
	var params, reason, errStr sql.NullString
	var dispatchedAt, completedAt sql.NullTime
	if err := scan(&cmd.CommandID, &cmd.RobotID, &cmd.Type, &params, &cmd.Status, &reason, &errStr,
		&cmd.TimeoutMs, &cmd.CreatedAt, &dispatchedAt, &completedAt); err != nil {
		return nil, err
	}
	if params.Valid {
		cmd.Params = json.RawMessage(params.String)
	}
	if reason.Valid {
		cmd.Reason = reason.String
	}
	if errStr.Valid {
		cmd.Error = errStr.String
	}
	if dispatchedAt.Valid {
		cmd.DispatchedAt = &dispatchedAt.Time
	}
	if completedAt.Valid {
		cmd.CompletedAt = &completedAt.Time
	}
	return &cmd, nil
}

const commandColumns = `command_id, robot_id, type, params, status, reason, error, timeout_ms, created_at, dispatched_at, completed_at`

// GetCommand retrieves a command by ID. Returns nil when not found.
func (s *SQLiteStore) GetCommand(ctx context.Context, commandID string) (*domain.Command, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE command_id = ?`, commandID)
	cmd, err := scanCommand(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

// ListCommands lists commands for a robot, newest first.
func (s *SQLiteStore) ListCommands(ctx context.Context, robotID string, limit int) ([]domain.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE robot_id = ? ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, robotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []domain.Command
	for rows.Next() {
		cmd, err := scanCommand(rows.Scan)
		if err != nil {
			return nil, err
		}
		commands = append(commands, *cmd)
	}
	return commands, rows.Err()
}

// MarkCommandDispatched moves a pending command to SENT.
func (s *SQLiteStore) MarkCommandDispatched(ctx context.Context, commandID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE commands SET status = ?, dispatched_at = ? WHERE command_id = ? AND completed_at IS NULL`,
		domain.CommandStatusSent, at, commandID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CompleteCommand records the terminal status of a command.
func (s *SQLiteStore) CompleteCommand(ctx context.Context, commandID string, status domain.CommandStatus, errStr string) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE commands SET status = ?, error = ?, completed_at = ? WHERE command_id = ? AND completed_at IS NULL`,
		status, nullString(errStr), now, commandID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListExpiredCommands lists in-flight commands older than their timeout.
func (s *SQLiteStore) ListExpiredCommands(ctx context.Context, limit int) ([]domain.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commandColumns+`
		FROM commands
		WHERE completed_at IS NULL
		  AND status IN ('PENDING', 'SENT')
		  AND ((julianday('now') - julianday(created_at)) * 86400000.0) >= timeout_ms
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Command
	for rows.Next() {
		cmd, err := scanCommand(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *cmd)
	}
	return out, rows.Err()
}

// --- synthetic jobs ---

// CreateSyntheticJob inserts a new generation job record.
func (s *SQLiteStore) CreateSyntheticJob(ctx context.Context, job *domain.SyntheticJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO synthetic_jobs (job_id, task, embodiment, trajectory_count, status, progress, dataset_path, error, upstream_job_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Task, job.Embodiment, job.TrajectoryCount, job.Status, job.Progress,
		nullString(job.DatasetPath), nullString(job.Error), nullString(job.UpstreamJobID), job.CreatedAt, job.UpdatedAt)
	return err
}

func scanSyntheticJob(scan func(dest ...interface{}) error) (*domain.SyntheticJob, error) {
	var job domain.SyntheticJob
	var datasetPath, errStr, upstreamID sql.NullString
	if err := scan(&job.JobID, &job.Task, &job.Embodiment, &job.TrajectoryCount, &job.Status, &job.Progress,
		&datasetPath, &errStr, &upstreamID, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	if datasetPath.Valid {
		job.DatasetPath = datasetPath.String
	}
	if errStr.Valid {
		job.Error = errStr.String
	}
	if upstreamID.Valid {
		job.UpstreamJobID = upstreamID.String
	}
	return &job, nil
}

const syntheticJobColumns = `job_id, task, embodiment, trajectory_count, status, progress, dataset_path, error, upstream_job_id, created_at, updated_at`

// GetSyntheticJob retrieves a job by ID. Returns nil when not found.
func (s *SQLiteStore) GetSyntheticJob(ctx context.Context, jobID string) (*domain.SyntheticJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syntheticJobColumns+` FROM synthetic_jobs WHERE job_id = ?`, jobID)
	job, err := scanSyntheticJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListSyntheticJobs lists jobs, newest first.
func (s *SQLiteStore) ListSyntheticJobs(ctx context.Context, limit int) ([]domain.SyntheticJob, error) {
	query := `SELECT ` + syntheticJobColumns + ` FROM synthetic_jobs ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.SyntheticJob
	for rows.Next() {
		job, err := scanSyntheticJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListActiveSyntheticJobs lists jobs still awaiting upstream updates.
func (s *SQLiteStore) ListActiveSyntheticJobs(ctx context.Context) ([]domain.SyntheticJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syntheticJobColumns+` FROM synthetic_jobs WHERE status IN ('queued', 'running') ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.SyntheticJob
	for rows.Next() {
		job, err := scanSyntheticJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// UpdateSyntheticJob records upstream progress for a job.
func (s *SQLiteStore) UpdateSyntheticJob(ctx context.Context, jobID string, status domain.SyntheticJobStatus, progress float64, datasetPath, errStr string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE synthetic_jobs SET status = ?, progress = ?, dataset_path = ?, error = ?, updated_at = ? WHERE job_id = ?`,
		status, progress, nullString(datasetPath), nullString(errStr), time.Now(), jobID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
