package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "InvestPilot/internal/errors"
)

// MemoryStore 以内存方式保存执行体，主要用于测试与单机模式。
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*Agent)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeValidation, "agent 不能为空")
	}
	if agent.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "执行体 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "执行体已存在")
	}
	now := time.Now().Unix()
	clone := cloneAgent(agent)
	if clone.CreatedAt == 0 {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	if clone.Status == "" {
		clone.Status = AgentCreated
	}
	if clone.State.Status == "" {
		clone.State.Status = RunIdle
	}
	clone.Active = true
	m.agents[agent.ID] = clone
	return nil
}

// Get 返回执行体。
func (m *MemoryStore) Get(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok || !agent.Active {
		return nil, ErrAgentNotFound
	}
	return cloneAgent(agent), nil
}

// Save 覆盖保存执行体的最新状态。
func (m *MemoryStore) Save(_ context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeValidation, "agent 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.agents[agent.ID]
	if !ok {
		return ErrAgentNotFound
	}
	clone := cloneAgent(agent)
	clone.CreatedAt = existing.CreatedAt
	clone.Active = existing.Active
	clone.UpdatedAt = time.Now().Unix()
	m.agents[agent.ID] = clone
	return nil
}

// Deactivate 软删除执行体。
func (m *MemoryStore) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	agent.Active = false
	agent.UpdatedAt = time.Now().Unix()
	return nil
}

// ListActive 返回所有处于 active 管理状态且未被软删除的执行体。
func (m *MemoryStore) ListActive(_ context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		if agent.Active && agent.Status == AgentActive {
			results = append(results, cloneAgent(agent))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func cloneAgent(agent *Agent) *Agent {
	if agent == nil {
		return nil
	}
	clone := *agent
	clone.Capabilities.AllowedTokens = append([]string(nil), agent.Capabilities.AllowedTokens...)
	clone.State.ErrorHistory = append([]ErrorEntry(nil), agent.State.ErrorHistory...)
	return &clone
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
