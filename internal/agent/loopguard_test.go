package agent

import "testing"

func TestLoopGuard_TriggersOnThirdIdenticalCall(t *testing.T) {
	g := NewLoopGuard()

	if g.RecordAndCheck("read_file", `{"path":"a.go"}`) {
		t.Error("first call must not trigger")
	}
	if g.RecordAndCheck("read_file", `{"path":"a.go"}`) {
		t.Error("second call must not trigger")
	}
	if !g.RecordAndCheck("read_file", `{"path":"a.go"}`) {
		t.Error("third identical call must trigger")
	}
}

func TestLoopGuard_DistinctArgumentsDoNotTrigger(t *testing.T) {
	g := NewLoopGuard()

	for i, args := range []string{`{"path":"a.go"}`, `{"path":"b.go"}`, `{"path":"c.go"}`} {
		if g.RecordAndCheck("read_file", args) {
			t.Errorf("call %d with distinct arguments must not trigger", i+1)
		}
	}
}

func TestLoopGuard_DistinctToolsDoNotTrigger(t *testing.T) {
	g := NewLoopGuard()

	for _, tool := range []string{"read_file", "write_file", "run_tests"} {
		if g.RecordAndCheck(tool, `{}`) {
			t.Errorf("tool %s must not trigger on first use", tool)
		}
	}
}

func TestLoopGuard_ClearResetsCounters(t *testing.T) {
	g := NewLoopGuard()

	g.RecordAndCheck("read_file", `{}`)
	g.RecordAndCheck("read_file", `{}`)
	g.Clear()

	if g.RecordAndCheck("read_file", `{}`) {
		t.Error("counter must restart from zero after Clear")
	}
	if g.RecordAndCheck("read_file", `{}`) {
		t.Error("second call after Clear must not trigger")
	}
	if !g.RecordAndCheck("read_file", `{}`) {
		t.Error("third call after Clear must trigger again")
	}
}
