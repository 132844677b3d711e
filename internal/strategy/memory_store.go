package strategy

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "InvestPilot/internal/errors"
)

// MemoryStore 以内存方式保存策略聚合，主要用于测试与单机模式。
type MemoryStore struct {
	mu         sync.RWMutex
	strategies map[string]*Strategy
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{strategies: make(map[string]*Strategy)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, s *Strategy) error {
	if s == nil {
		return xerrors.New(xerrors.CodeValidation, "strategy 不能为空")
	}
	if s.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "策略 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.strategies[s.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "策略已存在")
	}
	now := time.Now().Unix()
	clone := s.Clone()
	if clone.CreatedAt == 0 {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	if clone.Status == "" {
		clone.Status = ExecutionNotStarted
	}
	clone.RecomputeMetrics()
	m.strategies[s.ID] = clone
	return nil
}

// Get 返回策略。
func (m *MemoryStore) Get(_ context.Context, id string) (*Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[id]
	if !ok {
		return nil, ErrStrategyNotFound
	}
	return s.Clone(), nil
}

// GetByAgent 返回指定执行体关联的策略。一个执行体只拥有一个未归档策略。
func (m *MemoryStore) GetByAgent(_ context.Context, agentID string) (*Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.strategies {
		if s.AgentID == agentID && !s.Archived {
			return s.Clone(), nil
		}
	}
	return nil, ErrStrategyNotFound
}

// UpdateTaskStatus 以比较交换方式迁移任务状态。
func (m *MemoryStore) UpdateTaskStatus(_ context.Context, strategyID, taskID string, expected, next TaskStatus, result *ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[strategyID]
	if !ok {
		return ErrStrategyNotFound
	}
	task, ok := s.FindTask(taskID)
	if !ok {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return ErrTaskTerminal
	}
	if task.Status != expected {
		return ErrTaskConflict
	}
	if !CanTransition(expected, next) {
		return ErrTaskConflict
	}
	now := time.Now().Unix()
	task.Status = next
	if next == StatusExecuted || next == StatusFailed {
		task.ExecutedAt = now
		if result != nil {
			resultCopy := *result
			task.Result = &resultCopy
		}
	}
	s.RecomputeMetrics()
	s.UpdatedAt = now
	return nil
}

// SaveMetrics 覆盖策略维度的执行进度与状态。
func (m *MemoryStore) SaveMetrics(_ context.Context, s *Strategy) error {
	if s == nil {
		return xerrors.New(xerrors.CodeValidation, "strategy 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.strategies[s.ID]
	if !ok {
		return ErrStrategyNotFound
	}
	existing.Metrics = s.Metrics
	existing.Status = s.Status
	existing.UpdatedAt = time.Now().Unix()
	return nil
}

// Archive 将策略标记为已归档。归档是幂等操作。
func (m *MemoryStore) Archive(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[id]
	if !ok {
		return ErrStrategyNotFound
	}
	s.Archived = true
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// CancelTask 取消一个尚未执行的任务。执行中或已终态的任务不可取消。
func (m *MemoryStore) CancelTask(_ context.Context, strategyID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[strategyID]
	if !ok {
		return ErrStrategyNotFound
	}
	task, ok := s.FindTask(taskID)
	if !ok {
		return ErrTaskNotFound
	}
	if task.Status != StatusPending {
		return ErrTaskConflict
	}
	task.Status = StatusCancelled
	s.RecomputeMetrics()
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的策略列表。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		if !opts.matches(s) {
			continue
		}
		results = append(results, s.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Strategy{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
