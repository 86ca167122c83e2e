package budget

import (
	"testing"

	"github.com/harrison/overseer/internal/llm"
)

func TestNewTracker(t *testing.T) {
	tr := NewTracker(1000, nil)
	if tr == nil {
		t.Fatal("expected non-nil tracker")
	}
	snap := tr.Snapshot()
	if snap.Budget != 1000 {
		t.Errorf("expected budget 1000, got %d", snap.Budget)
	}
	if snap.TotalTokens != 0 {
		t.Errorf("expected zero usage, got %d", snap.TotalTokens)
	}
}

func TestTracker_Record_AccumulatesTotals(t *testing.T) {
	tr := NewTracker(10000, nil)

	tr.Record(llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150})
	tr.Record(llm.Usage{PromptTokens: 200, CompletionTokens: 25, TotalTokens: 225})

	snap := tr.Snapshot()
	if snap.PromptTokens != 300 {
		t.Errorf("expected 300 prompt tokens, got %d", snap.PromptTokens)
	}
	if snap.CompletionTokens != 75 {
		t.Errorf("expected 75 completion tokens, got %d", snap.CompletionTokens)
	}
	if snap.TotalTokens != 375 {
		t.Errorf("expected 375 total tokens, got %d", snap.TotalTokens)
	}
	if snap.Remaining() != 9625 {
		t.Errorf("expected 9625 remaining, got %d", snap.Remaining())
	}
}

func TestTracker_Record_DerivesTotalWhenMissing(t *testing.T) {
	tr := NewTracker(1000, nil)
	tr.Record(llm.Usage{PromptTokens: 40, CompletionTokens: 10})

	if got := tr.Snapshot().TotalTokens; got != 50 {
		t.Errorf("expected derived total 50, got %d", got)
	}
}

func TestTracker_ThresholdSignals(t *testing.T) {
	var fired []Level
	tr := NewTracker(1000, func(level Level, used, budget int) {
		fired = append(fired, level)
		if budget != 1000 {
			t.Errorf("expected budget 1000 in callback, got %d", budget)
		}
	})

	tr.Record(llm.Usage{TotalTokens: 700})
	if len(fired) != 0 {
		t.Fatalf("no signal expected below 80%%, got %v", fired)
	}

	tr.Record(llm.Usage{TotalTokens: 150}) // 850 = 85%
	if len(fired) != 1 || fired[0] != LevelWarning {
		t.Fatalf("expected single warning, got %v", fired)
	}

	tr.Record(llm.Usage{TotalTokens: 100}) // 950 = 95%
	if len(fired) != 2 || fired[1] != LevelCritical {
		t.Fatalf("expected critical after warning, got %v", fired)
	}

	// Signals fire once per level.
	tr.Record(llm.Usage{TotalTokens: 10})
	if len(fired) != 2 {
		t.Errorf("signals should not repeat, got %v", fired)
	}
}

func TestTracker_ThresholdSignals_BothInOneRecord(t *testing.T) {
	var fired []Level
	tr := NewTracker(1000, func(level Level, _, _ int) {
		fired = append(fired, level)
	})

	tr.Record(llm.Usage{TotalTokens: 960})
	if len(fired) != 2 || fired[0] != LevelWarning || fired[1] != LevelCritical {
		t.Fatalf("expected warning then critical, got %v", fired)
	}
}

func TestTracker_CheckBudget(t *testing.T) {
	tr := NewTracker(1000, nil)
	tr.Record(llm.Usage{TotalTokens: 100})

	if !tr.CheckBudget(900) {
		t.Error("100 used + 900 projected should fit a 1000 budget")
	}
	if tr.CheckBudget(950) {
		t.Error("100 used + 950 projected should exceed a 1000 budget")
	}
}

func TestTracker_CheckBudget_Unlimited(t *testing.T) {
	tr := NewTracker(0, nil)
	tr.Record(llm.Usage{TotalTokens: 1 << 20})
	if !tr.CheckBudget(1 << 20) {
		t.Error("zero budget means unlimited")
	}
}

func TestTracker_Reset(t *testing.T) {
	var fired int
	tr := NewTracker(100, func(Level, int, int) { fired++ })
	tr.Record(llm.Usage{TotalTokens: 99})
	if fired != 2 {
		t.Fatalf("expected warning and critical, got %d signals", fired)
	}

	tr.Reset(200)
	snap := tr.Snapshot()
	if snap.TotalTokens != 0 {
		t.Errorf("expected zero usage after reset, got %d", snap.TotalTokens)
	}
	if snap.Budget != 200 {
		t.Errorf("expected new budget 200, got %d", snap.Budget)
	}

	// Thresholds re-armed after reset.
	tr.Record(llm.Usage{TotalTokens: 190})
	if fired != 4 {
		t.Errorf("expected re-armed signals to fire, got %d total", fired)
	}
}

func TestTracker_Reset_KeepsBudgetWhenZero(t *testing.T) {
	tr := NewTracker(500, nil)
	tr.Reset(0)
	if got := tr.Snapshot().Budget; got != 500 {
		t.Errorf("expected budget unchanged at 500, got %d", got)
	}
}
