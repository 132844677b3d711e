package approval

import (
	"context"
	"sync"
	"testing"

	"InvestPilot/internal/strategy"
)

func TestMemoryQueueEnqueueIsIdempotentPerTask(t *testing.T) {
	queue := NewMemoryQueue()
	ctx := context.Background()

	entry := Entry{ID: "e1", AgentID: "agent-1", TaskID: "task-1", Priority: strategy.PriorityHigh}
	if err := queue.Enqueue(ctx, entry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// 同一任务再次入队不产生重复条目。
	duplicate := Entry{ID: "e2", AgentID: "agent-1", TaskID: "task-1", Priority: strategy.PriorityHigh}
	if err := queue.Enqueue(ctx, duplicate); err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}

	entries, err := queue.ListByAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "e1" {
		t.Fatalf("expected single original entry, got %+v", entries)
	}
}

func TestMemoryQueueRejectsIncompleteEntry(t *testing.T) {
	queue := NewMemoryQueue()
	if err := queue.Enqueue(context.Background(), Entry{ID: "e1", AgentID: "agent-1"}); err == nil {
		t.Fatal("expected entry without task id to be rejected")
	}
}

func TestMemoryQueueRemoveIsAtomic(t *testing.T) {
	queue := NewMemoryQueue()
	ctx := context.Background()

	entry := Entry{ID: "e1", AgentID: "agent-1", TaskID: "task-1", Priority: strategy.PriorityMedium}
	if err := queue.Enqueue(ctx, entry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// 并发批准者竞争同一条目，只有一个拿到它。
	const approvers = 8
	var wg sync.WaitGroup
	won := make(chan Entry, approvers)
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := queue.Remove(ctx, "agent-1", "e1")
			if err != nil {
				t.Errorf("remove: %v", err)
				return
			}
			if ok {
				won <- got
			}
		}()
	}
	wg.Wait()
	close(won)

	winners := 0
	for range won {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning approver, got %d", winners)
	}

	entries, err := queue.ListByAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty queue after removal, got %+v", entries)
	}
}

func TestMemoryQueueRemoveMissingEntry(t *testing.T) {
	queue := NewMemoryQueue()
	_, ok, err := queue.Remove(context.Background(), "agent-1", "ghost")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok {
		t.Fatal("expected missing entry to report false")
	}
}
