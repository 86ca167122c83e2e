package checkpoint

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists checkpoints in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// checkpoint table exists. Pass ":memory:" for an ephemeral database. The
// caller is responsible for Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so subsequent pragmas wait on locks instead of
	// failing under concurrent initialization.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save inserts a new checkpoint row.
func (s *SQLiteStore) Save(cp *Checkpoint) (string, error) {
	stored := *cp
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(stored.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", stored.Kind, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO checkpoints
			(id, task_id, agent_id, project_id, kind, payload, created_at, step_index, step_name)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		stored.ID, stored.TaskID, stored.AgentID, stored.ProjectID,
		string(stored.Kind), string(payload),
		stored.CreatedAt, stored.StepIndex, stored.StepName,
	)
	if err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	return stored.ID, nil
}

// LoadLatest returns the newest checkpoint for the task, or (nil, nil).
func (s *SQLiteStore) LoadLatest(taskID string) (*Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT id, task_id, agent_id, project_id, kind, payload, created_at, step_index, step_name
		FROM checkpoints
		WHERE task_id = ?
		ORDER BY created_at DESC, step_index DESC
		LIMIT 1`, taskID)

	var cp Checkpoint
	var kind, payload string
	err := row.Scan(&cp.ID, &cp.TaskID, &cp.AgentID, &cp.ProjectID,
		&kind, &payload, &cp.CreatedAt, &cp.StepIndex, &cp.StepName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}

	cp.Kind = Kind(kind)
	cp.Payload, err = decodePayload(cp.Kind, []byte(payload))
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// DeleteForTask removes all checkpoints for the task.
func (s *SQLiteStore) DeleteForTask(taskID string) error {
	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete checkpoints for %s: %w", taskID, err)
	}
	return nil
}

// ExpireOlderThan removes checkpoints older than maxAge system-wide.
func (s *SQLiteStore) ExpireOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.Exec(`DELETE FROM checkpoints WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
