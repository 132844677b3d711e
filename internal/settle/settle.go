package settle

import (
	"context"

	"InvestPilot/internal/market"
	"InvestPilot/internal/strategy"
)

// Outcome 是一次结算尝试的显式结果。
// 失败不通过异常表达，而是由 Success/ErrorMessage 承载，由协调器聚合。
type Outcome struct {
	Success         bool    `json:"success"`
	TransactionHash string  `json:"transaction_hash,omitempty"`
	AmountExecuted  float64 `json:"amount_executed"`
	PriceExecuted   float64 `json:"price_executed"`
	GasUsed         uint64  `json:"gas_used"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	Simulated       bool    `json:"simulated,omitempty"`
}

// ToResult 转换为任务维度的执行结果。
func (o Outcome) ToResult() *strategy.ExecutionResult {
	return &strategy.ExecutionResult{
		Success:         o.Success,
		TransactionHash: o.TransactionHash,
		AmountExecuted:  o.AmountExecuted,
		PriceExecuted:   o.PriceExecuted,
		GasUsed:         o.GasUsed,
		ErrorMessage:    o.ErrorMessage,
		Simulated:       o.Simulated,
	}
}

// AgentContext 提供结算时需要的执行体上下文。
type AgentContext struct {
	AgentID string
	Network string
	Amount  float64
}

// Executor 抽象真实的价值转移通道。
//
// Execute 在当前任务的执行路径内同步等待结算结果；
// Simulate 只根据行情快照推算结果，不触达链上。
type Executor interface {
	Execute(ctx context.Context, task *strategy.Task, agentCtx AgentContext) (Outcome, error)
	Simulate(ctx context.Context, task *strategy.Task, snapshot market.Snapshot) (Outcome, error)
}
