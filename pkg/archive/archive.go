// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive persists terminal task snapshots in a SQL database so
// tasks remain queryable after they leave the orchestrator's memory.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/conductor/pkg/task"
)

// Supported dialects.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

const (
	createTableSQL = `
CREATE TABLE IF NOT EXISTS conductor_tasks (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    agent_type VARCHAR(255) NOT NULL,
    action VARCHAR(255) NOT NULL,
    context_id VARCHAR(255),
    state VARCHAR(32) NOT NULL,
    snapshot_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NULL,
    updated_at TIMESTAMP NOT NULL
)`

	createUserIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_conductor_tasks_user_id ON conductor_tasks(user_id)`

	createUpdatedAtIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_conductor_tasks_updated_at ON conductor_tasks(updated_at)`
)

const insertColumns = `INSERT INTO conductor_tasks (id, user_id, agent_type, action, context_id, state, snapshot_json, created_at, completed_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

var upsertSuffix = map[string]string{
	DialectMySQL: `
ON DUPLICATE KEY UPDATE
    state = VALUES(state),
    snapshot_json = VALUES(snapshot_json),
    completed_at = VALUES(completed_at),
    updated_at = VALUES(updated_at)`,
	DialectPostgres: `
ON CONFLICT (id) DO UPDATE SET
    state = EXCLUDED.state,
    snapshot_json = EXCLUDED.snapshot_json,
    completed_at = EXCLUDED.completed_at,
    updated_at = EXCLUDED.updated_at`,
	DialectSQLite: `
ON CONFLICT(id) DO UPDATE SET
    state = excluded.state,
    snapshot_json = excluded.snapshot_json,
    completed_at = excluded.completed_at,
    updated_at = excluded.updated_at`,
}

// snapshot is the JSON form of a task stored in snapshot_json.
type snapshot struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	AgentType       string          `json:"agent_type"`
	Action          string          `json:"action"`
	Payload         map[string]any  `json:"payload"`
	ContextID       string          `json:"context_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	State           task.State      `json:"state"`
	StatusMessage   string          `json:"status_message,omitempty"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Result          map[string]any  `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	History         []*a2a.Message  `json:"history"`
	Artifacts       []*a2a.Artifact `json:"artifacts"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	OriginMessage   *a2a.Message    `json:"origin_message,omitempty"`
}

// SQLArchive stores task snapshots in the conductor_tasks table.
type SQLArchive struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

// NormalizeDialect maps driver names to dialects.
func NormalizeDialect(name string) (string, error) {
	switch name {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case DialectPostgres, "postgresql":
		return DialectPostgres, nil
	case DialectMySQL:
		return DialectMySQL, nil
	}
	return "", fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", name)
}

// New creates the archive and its schema. The db handle is shared and not
// owned by the archive.
func New(db *sql.DB, dialect string, logger *slog.Logger) (*SQLArchive, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	d, err := NormalizeDialect(dialect)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &SQLArchive{db: db, dialect: d, logger: logger}
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

func (a *SQLArchive) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := a.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create conductor_tasks table: %w", err)
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS.
	if a.dialect == DialectMySQL {
		return nil
	}
	if _, err := a.db.ExecContext(ctx, createUserIndexSQL); err != nil {
		return fmt.Errorf("failed to create user_id index: %w", err)
	}
	if _, err := a.db.ExecContext(ctx, createUpdatedAtIndexSQL); err != nil {
		return fmt.Errorf("failed to create updated_at index: %w", err)
	}
	return nil
}

// Save upserts a point-in-time copy of t.
func (a *SQLArchive) Save(ctx context.Context, t *task.Task) error {
	if t == nil {
		return fmt.Errorf("task is required")
	}
	snap := t.Clone()

	data, err := json.Marshal(toSnapshot(snap))
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	var completedAt any
	if snap.CompletedAt != nil {
		completedAt = *snap.CompletedAt
	}

	query := a.bind(insertColumns + upsertSuffix[a.dialect])
	_, err = a.db.ExecContext(ctx, query,
		snap.ID, snap.UserID, snap.AgentType, snap.Action, snap.ContextID,
		string(snap.State), string(data),
		snap.CreatedAt, completedAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	a.logger.Debug("Archived task", "task_id", snap.ID, "state", snap.State)
	return nil
}

// Load returns the archived task or task.ErrTaskNotFound.
func (a *SQLArchive) Load(ctx context.Context, taskID string) (*task.Task, error) {
	query := a.bind(`SELECT snapshot_json FROM conductor_tasks WHERE id = ?`)

	var data string
	err := a.db.QueryRowContext(ctx, query, taskID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return fromSnapshot(&snap), nil
}

// Count returns the number of archived tasks owned by userID, or all tasks
// when userID is empty.
func (a *SQLArchive) Count(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM conductor_tasks`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}

	var n int
	if err := a.db.QueryRowContext(ctx, a.bind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// Purge deletes snapshots last written before cutoff.
func (a *SQLArchive) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, a.bind(`DELETE FROM conductor_tasks WHERE updated_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tasks: %w", err)
	}
	return res.RowsAffected()
}

// bind rewrites ? placeholders to $n for postgres.
func (a *SQLArchive) bind(query string) string {
	if a.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toSnapshot(t *task.Task) *snapshot {
	return &snapshot{
		ID:              t.ID,
		UserID:          t.UserID,
		AgentType:       t.AgentType,
		Action:          t.Action,
		Payload:         t.Payload,
		ContextID:       t.ContextID,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
		State:           t.State,
		StatusMessage:   t.StatusMessage,
		Progress:        t.Progress,
		ProgressMessage: t.ProgressMessage,
		Result:          t.Result,
		Error:           t.Error,
		History:         t.History,
		Artifacts:       t.Artifacts,
		Metadata:        t.Metadata,
		OriginMessage:   t.OriginMessage,
	}
}

func fromSnapshot(s *snapshot) *task.Task {
	t := &task.Task{
		ID:              s.ID,
		UserID:          s.UserID,
		AgentType:       s.AgentType,
		Action:          s.Action,
		Payload:         s.Payload,
		ContextID:       s.ContextID,
		CreatedAt:       s.CreatedAt,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		State:           s.State,
		StatusMessage:   s.StatusMessage,
		Progress:        s.Progress,
		ProgressMessage: s.ProgressMessage,
		Result:          s.Result,
		Error:           s.Error,
		History:         s.History,
		Artifacts:       s.Artifacts,
		Metadata:        s.Metadata,
		OriginMessage:   s.OriginMessage,
	}
	if t.Payload == nil {
		t.Payload = make(map[string]any)
	}
	if t.History == nil {
		t.History = make([]*a2a.Message, 0)
	}
	if t.Artifacts == nil {
		t.Artifacts = make([]*a2a.Artifact, 0)
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	return t
}
