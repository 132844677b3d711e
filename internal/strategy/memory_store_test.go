package strategy

import (
	"context"
	stdErrors "errors"
	"testing"
)

func seedStrategy(t *testing.T, store *MemoryStore) {
	t.Helper()
	s := &Strategy{
		ID:      "strat-1",
		AgentID: "agent-1",
		Budget:  2000,
		Phases: []*Phase{{Name: "phase-1", Tasks: []*Task{
			{ID: "t1", Type: TaskBuy, TokenSymbol: "BTC", Allocation: "600", Priority: PriorityHigh, Status: StatusPending},
			{ID: "t2", Type: TaskSell, TokenSymbol: "BTC", Allocation: "200", Priority: PriorityLow, Status: StatusPending},
		}}},
	}
	if err := store.Create(context.Background(), s); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestMemoryStoreUpdateTaskStatusCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedStrategy(t, store)

	result := &ExecutionResult{Success: true, TransactionHash: "0xabc", AmountExecuted: 600}
	if err := store.UpdateTaskStatus(ctx, "strat-1", "t1", StatusPending, StatusExecuted, result); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// 第二个周期携带同样的期望状态，必须输掉竞争。
	err := store.UpdateTaskStatus(ctx, "strat-1", "t1", StatusPending, StatusFailed, nil)
	if !stdErrors.Is(err, ErrTaskTerminal) {
		t.Fatalf("expected ErrTaskTerminal, got %v", err)
	}

	s, err := store.Get(ctx, "strat-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	task, ok := s.FindTask("t1")
	if !ok {
		t.Fatal("task t1 missing")
	}
	if task.Status != StatusExecuted || task.Result == nil || task.Result.TransactionHash != "0xabc" {
		t.Fatalf("unexpected task state: %+v", task)
	}
	if task.ExecutedAt == 0 {
		t.Fatal("expected executedAt to be set")
	}
}

func TestMemoryStoreUpdateTaskStatusConflictOnStaleExpectation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedStrategy(t, store)

	if err := store.UpdateTaskStatus(ctx, "strat-1", "t1", StatusPending, StatusScheduled, nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	err := store.UpdateTaskStatus(ctx, "strat-1", "t1", StatusPending, StatusExecuted, nil)
	if !stdErrors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected ErrTaskConflict on stale expectation, got %v", err)
	}
}

func TestMemoryStoreUpdateTaskStatusUnknownIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedStrategy(t, store)

	if err := store.UpdateTaskStatus(ctx, "ghost", "t1", StatusPending, StatusExecuted, nil); !stdErrors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
	if err := store.UpdateTaskStatus(ctx, "strat-1", "ghost", StatusPending, StatusExecuted, nil); !stdErrors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestMemoryStoreCancelTask(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedStrategy(t, store)

	if err := store.CancelTask(ctx, "strat-1", "t2"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := store.CancelTask(ctx, "strat-1", "t2"); !stdErrors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected cancelled task to reject second cancel, got %v", err)
	}

	if err := store.UpdateTaskStatus(ctx, "strat-1", "t1", StatusPending, StatusExecuted, nil); err != nil {
		t.Fatalf("execute t1: %v", err)
	}
	if err := store.CancelTask(ctx, "strat-1", "t1"); !stdErrors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected executed task to reject cancel, got %v", err)
	}
}

func TestMemoryStoreGetByAgentSkipsArchived(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedStrategy(t, store)

	s, err := store.GetByAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("get by agent: %v", err)
	}
	if s.ID != "strat-1" {
		t.Fatalf("unexpected strategy: %s", s.ID)
	}

	if err := store.Archive(ctx, "strat-1"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := store.GetByAgent(ctx, "agent-1"); !stdErrors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected archived strategy to be skipped, got %v", err)
	}
	// 归档后仍可按 ID 读取，策略不做物理删除。
	if _, err := store.Get(ctx, "strat-1"); err != nil {
		t.Fatalf("archived strategy must stay readable by id: %v", err)
	}
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedStrategy(t, store)

	first, err := store.Get(ctx, "strat-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	task, _ := first.FindTask("t1")
	task.Status = StatusFailed

	second, err := store.Get(ctx, "strat-1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	fresh, _ := second.FindTask("t1")
	if fresh.Status != StatusPending {
		t.Fatalf("mutating a returned clone must not affect the store, got %s", fresh.Status)
	}
}
