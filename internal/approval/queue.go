package approval

import (
	"context"

	"InvestPilot/internal/strategy"
)

// Entry 是等待人工批准的执行请求。
type Entry struct {
	ID       string            `json:"id"`
	AgentID  string            `json:"agent_id"`
	TaskID   string            `json:"task_id"`
	Priority strategy.Priority `json:"priority"`
	QueuedAt int64             `json:"queued_at"`
}

// Queue 抽象待批准队列的持久化接口。
//
// Remove 必须是按 ID 的原子移除：两个并发批准者竞争同一条目时，
// 只有一个成功，另一个得到 false，避免重复执行。
type Queue interface {
	Enqueue(ctx context.Context, entry Entry) error
	ListByAgent(ctx context.Context, agentID string) ([]Entry, error)
	Remove(ctx context.Context, agentID, entryID string) (Entry, bool, error)
	Close() error
}
