package settle

import (
	"context"

	xerrors "InvestPilot/internal/errors"
	"InvestPilot/internal/market"
	"InvestPilot/internal/strategy"
)

// simulatedGasUsed 是模拟结算统一使用的 gas 估算值。
const simulatedGasUsed = 21000

// Simulator 是只依赖行情快照的结算模拟器，
// 同时也可作为干跑环境里 Execute 路径的替身。
type Simulator struct{}

// NewSimulator 创建模拟器。
func NewSimulator() *Simulator {
	return &Simulator{}
}

// Simulate 根据快照价格推算结算结果，不触达任何外部系统。
func (s *Simulator) Simulate(_ context.Context, task *strategy.Task, snapshot market.Snapshot) (Outcome, error) {
	if task == nil {
		return Outcome{}, xerrors.New(xerrors.CodeValidation, "task 不能为空")
	}
	quote := snapshot.Quote(task.TokenSymbol)
	if quote == nil {
		return Outcome{
			Success:      false,
			ErrorMessage: "行情快照缺少代币 " + task.TokenSymbol,
			Simulated:    true,
		}, nil
	}
	amount, err := strategy.ParseAllocation(task.Allocation, 0)
	if err != nil {
		return Outcome{
			Success:      false,
			ErrorMessage: err.Error(),
			Simulated:    true,
		}, nil
	}
	return Outcome{
		Success:        true,
		AmountExecuted: amount,
		PriceExecuted:  quote.PriceUSD,
		GasUsed:        simulatedGasUsed,
		Simulated:      true,
	}, nil
}

// Execute 在模拟模式下与 Simulate 一致，但需要调用方提供已折算的金额。
func (s *Simulator) Execute(_ context.Context, task *strategy.Task, agentCtx AgentContext) (Outcome, error) {
	if task == nil {
		return Outcome{}, xerrors.New(xerrors.CodeValidation, "task 不能为空")
	}
	return Outcome{
		Success:        true,
		AmountExecuted: agentCtx.Amount,
		GasUsed:        simulatedGasUsed,
		Simulated:      true,
	}, nil
}

var _ Executor = (*Simulator)(nil)
