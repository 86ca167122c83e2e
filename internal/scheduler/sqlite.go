package scheduler

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/overseer/internal/models"
)

//go:embed schema.sql
var taskSchema string

// SQLiteStore is the durable TaskStore backend. Tasks are stored as JSON
// documents with status and priority lifted into indexed columns.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a task database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// busy_timeout must be set before any statement that may contend.
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(taskSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a task.
func (s *SQLiteStore) Put(task *models.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO tasks (id, status, priority, created_at, updated_at, doc)
		VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, string(task.Status), string(task.Priority),
		task.CreatedAt, task.UpdatedAt, string(doc))
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// Get returns the task with the given ID.
func (s *SQLiteStore) Get(id string) (*models.Task, error) {
	var doc string
	err := s.db.QueryRow(`SELECT doc FROM tasks WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	var task models.Task
	if err := json.Unmarshal([]byte(doc), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return &task, nil
}

// List returns all tasks in creation order.
func (s *SQLiteStore) List() ([]*models.Task, error) {
	rows, err := s.db.Query(`SELECT doc FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		var task models.Task
		if err := json.Unmarshal([]byte(doc), &task); err != nil {
			return nil, fmt.Errorf("failed to decode task: %w", err)
		}
		out = append(out, &task)
	}
	return out, rows.Err()
}

// UpdateStatus transitions a task's status inside a transaction so the
// read-validate-write sequence is atomic under WAL.
func (s *SQLiteStore) UpdateStatus(id string, status models.Status) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRow(`SELECT doc FROM tasks WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}

	var task models.Task
	if err := json.Unmarshal([]byte(doc), &task); err != nil {
		return fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	if !task.Status.CanTransitionTo(status) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", id, task.Status, status)
	}

	now := time.Now()
	task.Status = status
	task.UpdatedAt = now
	switch status {
	case models.StatusInProgress:
		task.StartedAt = &now
	case models.StatusCompleted, models.StatusFailed:
		task.CompletedAt = &now
	}

	updated, err := json.Marshal(&task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if _, err := tx.Exec(`UPDATE tasks SET status = ?, updated_at = ?, doc = ? WHERE id = ?`,
		string(status), now, string(updated), id); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return tx.Commit()
}
