package executor

import "context"

// Store 抽象了执行体聚合的持久化接口。
// Deactivate 为软删除：执行体被策略引用期间不做物理清除。
type Store interface {
	Create(ctx context.Context, agent *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	Save(ctx context.Context, agent *Agent) error
	Deactivate(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]*Agent, error)
	Close() error
}
