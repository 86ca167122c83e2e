package cmd

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/scheduler"
)

func TestStatusCommand_ListsRecordedTasks(t *testing.T) {
	dataDir := t.TempDir()
	store, err := scheduler.NewSQLiteStore(filepath.Join(dataDir, "tasks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	base := time.Now().Add(-time.Minute)
	seed := []*models.Task{
		{ID: "task-1", Title: "First", Status: models.StatusCompleted, Priority: models.PriorityHigh, CreatedAt: base},
		{ID: "task-2", Title: "Second", Status: models.StatusFailed, Priority: models.PriorityMedium, Error: "exit status 1", CreatedAt: base.Add(time.Second)},
		{ID: "task-3", Title: "Third", Status: models.StatusBlocked, Priority: models.PriorityLow, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, task := range seed {
		if err := store.Put(task); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	store.Close()

	out, err := runWithArgs(t, "status", "--data-dir", dataDir)
	if err != nil {
		t.Fatalf("Execute: %v\noutput: %s", err, out)
	}

	if !strings.Contains(out, "task-1: First [high]") {
		t.Errorf("completed task missing: %q", out)
	}
	if !strings.Contains(out, "task-2: Second [medium]: exit status 1") {
		t.Errorf("failed task error missing: %q", out)
	}
	if !strings.Contains(out, "1/3 completed, 1 failed, 1 blocked") {
		t.Errorf("rollup missing: %q", out)
	}
}

func TestStatusCommand_NoRunState(t *testing.T) {
	_, err := runWithArgs(t, "status", "--data-dir", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "no run state") {
		t.Fatalf("err = %v, want missing-state error", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runWithArgs(t, "version")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "overseer "+Version) {
		t.Errorf("output = %q", out)
	}
}
