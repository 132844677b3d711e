package approval

import (
	"context"
	"sync"

	xerrors "InvestPilot/internal/errors"
)

// MemoryQueue 以内存方式保存待批准条目，主要用于测试与单机模式。
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string][]Entry
	closed  bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string][]Entry)}
}

// Enqueue 追加一条待批准记录。
func (q *MemoryQueue) Enqueue(_ context.Context, entry Entry) error {
	if entry.ID == "" || entry.AgentID == "" || entry.TaskID == "" {
		return xerrors.New(xerrors.CodeValidation, "待批准条目字段不完整")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	// 同一任务重复入队视为幂等。
	for _, existing := range q.entries[entry.AgentID] {
		if existing.TaskID == entry.TaskID {
			return nil
		}
	}
	q.entries[entry.AgentID] = append(q.entries[entry.AgentID], entry)
	return nil
}

// ListByAgent 返回指定执行体的全部待批准条目，按入队顺序排列。
func (q *MemoryQueue) ListByAgent(_ context.Context, agentID string) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries[agentID]...), nil
}

// Remove 原子移除一条记录。条目不存在时返回 false，不视为错误。
func (q *MemoryQueue) Remove(_ context.Context, agentID, entryID string) (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.entries[agentID]
	for i, entry := range entries {
		if entry.ID == entryID {
			q.entries[agentID] = append(entries[:i], entries[i+1:]...)
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

// ensure interface compliance at compile time
var _ Queue = (*MemoryQueue)(nil)
