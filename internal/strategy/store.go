package strategy

import "context"

// Store 抽象了策略聚合的持久化接口。
//
// UpdateTaskStatus 必须是一次基于 (taskID, expected) 的比较交换：
// 只有当任务当前状态与 expected 一致时才允许迁移，
// 以避免并发周期对同一任务产生丢失更新。
type Store interface {
	Create(ctx context.Context, s *Strategy) error
	Get(ctx context.Context, id string) (*Strategy, error)
	GetByAgent(ctx context.Context, agentID string) (*Strategy, error)
	UpdateTaskStatus(ctx context.Context, strategyID, taskID string, expected, next TaskStatus, result *ExecutionResult) error
	SaveMetrics(ctx context.Context, s *Strategy) error
	Archive(ctx context.Context, id string) error
	CancelTask(ctx context.Context, strategyID, taskID string) error
	List(ctx context.Context, opts ListOptions) ([]*Strategy, error)
	Close() error
}
