package executor

import (
	"errors"
	"fmt"
	"testing"
)

func TestJournalUptimeMath(t *testing.T) {
	state := &ExecutionState{}
	if state.Metrics.Uptime != 0 {
		t.Fatalf("uptime must be 0 before any attempt, got %v", state.Metrics.Uptime)
	}

	state.RecordSuccess()
	state.RecordSuccess()
	state.RecordFailure("task-1", errors.New("boom"))

	m := state.Metrics
	if m.TotalTasksExecuted != 3 || m.SuccessfulExecutions != 2 || m.FailedExecutions != 1 {
		t.Fatalf("unexpected counters: %+v", m)
	}
	want := float64(2) / float64(3) * 100
	if m.Uptime != want {
		t.Fatalf("expected uptime %v, got %v", want, m.Uptime)
	}
	if state.LastExecution == 0 || state.LastActiveAt == 0 {
		t.Fatal("expected execution timestamps to be set")
	}
}

func TestJournalEvictsOldestBeyondCap(t *testing.T) {
	state := &ExecutionState{}
	for i := 0; i < maxErrorHistory+10; i++ {
		state.RecordFailure(fmt.Sprintf("task-%d", i), errors.New("boom"))
	}

	if len(state.ErrorHistory) != maxErrorHistory {
		t.Fatalf("expected history capped at %d, got %d", maxErrorHistory, len(state.ErrorHistory))
	}
	// 淘汰按先进先出进行：最旧的 10 条应当已被移除。
	if got := state.ErrorHistory[0].TaskID; got != "task-10" {
		t.Fatalf("expected oldest surviving entry task-10, got %s", got)
	}
	if got := state.ErrorHistory[maxErrorHistory-1].TaskID; got != fmt.Sprintf("task-%d", maxErrorHistory+9) {
		t.Fatalf("expected newest entry last, got %s", got)
	}
}

func TestJournalResolveError(t *testing.T) {
	state := &ExecutionState{}
	state.RecordFailure("task-1", errors.New("first"))
	state.RecordFailure("task-1", errors.New("second"))

	if !state.ResolveError("task-1") {
		t.Fatal("expected resolve to succeed")
	}
	// 最近的一条先被标记。
	if !state.ErrorHistory[1].Resolved || state.ErrorHistory[0].Resolved {
		t.Fatalf("expected newest entry resolved first: %+v", state.ErrorHistory)
	}
	if !state.ResolveError("task-1") {
		t.Fatal("expected second resolve to mark the older entry")
	}
	if state.ResolveError("task-1") {
		t.Fatal("expected no unresolved entries left")
	}
}
