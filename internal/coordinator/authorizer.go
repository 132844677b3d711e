package coordinator

import (
	"fmt"

	"InvestPilot/internal/executor"
	"InvestPilot/internal/strategy"
)

// Decision 是授权判定的结果。Reason 在被拒绝时说明原因。
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Authorize 根据执行体的授权档案判定任务是否允许执行。
//
// 纯函数。所有规则必须同时成立：
//   - 交易类任务（BUY/SELL/SWAP）要求 canExecuteTrades；
//   - 任务代币必须在允许清单内；
//   - 解析后的资金分配不得超过单笔限额。
//
// 拒绝不改变任务状态：任务保持 pending，等待授权档案或分配被调整。
func Authorize(caps executor.Capabilities, task *strategy.Task, budget float64) Decision {
	if task == nil {
		return Decision{Allowed: false, Reason: "task is nil"}
	}
	if task.Type.IsTrade() && !caps.CanExecuteTrades {
		return Decision{Allowed: false, Reason: "agent is not allowed to execute trades"}
	}
	if task.TokenSymbol != "" && !caps.AllowsToken(task.TokenSymbol) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("token %s is not in the allowed list", task.TokenSymbol)}
	}
	amount, err := strategy.ParseAllocation(task.Allocation, budget)
	if err != nil {
		return Decision{Allowed: false, Reason: "allocation is not parseable: " + err.Error()}
	}
	if amount > caps.MaxTransactionAmount {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("allocation %.2f exceeds transaction limit %.2f", amount, caps.MaxTransactionAmount),
		}
	}
	return Decision{Allowed: true}
}
