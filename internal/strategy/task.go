package strategy

import (
	"strconv"
	"strings"

	xerrors "InvestPilot/internal/errors"
)

// TaskType 表示投资任务的动作类型。
type TaskType string

const (
	TaskBuy        TaskType = "BUY"
	TaskSell       TaskType = "SELL"
	TaskSwap       TaskType = "SWAP"
	TaskStake      TaskType = "STAKE"
	TaskMonitor    TaskType = "MONITOR"
	TaskRebalance  TaskType = "REBALANCE"
	TaskStopLoss   TaskType = "STOP_LOSS"
	TaskTakeProfit TaskType = "TAKE_PROFIT"
	TaskDCA        TaskType = "DCA"
)

// IsValidTaskType 检查任务类型是否为支持的枚举值。
func IsValidTaskType(t TaskType) bool {
	switch t {
	case TaskBuy, TaskSell, TaskSwap, TaskStake, TaskMonitor,
		TaskRebalance, TaskStopLoss, TaskTakeProfit, TaskDCA:
		return true
	default:
		return false
	}
}

// IsTrade 判断任务类型是否属于交易动作，交易动作需要额外的执行权限。
func (t TaskType) IsTrade() bool {
	switch t {
	case TaskBuy, TaskSell, TaskSwap:
		return true
	default:
		return false
	}
}

// TaskStatus 表示任务在生命周期中的状态。
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusScheduled TaskStatus = "scheduled"
	StatusExecuted  TaskStatus = "executed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// IsValidStatus 检查任务状态是否为支持的枚举值。
func IsValidStatus(status TaskStatus) bool {
	switch status {
	case StatusPending, StatusScheduled, StatusExecuted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal 判断状态是否为终态。终态任务不再参与评估，也不会再变更。
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition 判断任务状态迁移是否合法。状态只能单向推进。
func CanTransition(from, to TaskStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusScheduled || to.Terminal()
	case StatusScheduled:
		return to.Terminal()
	default:
		return false
	}
}

// Priority 表示任务的调度优先级。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank 返回优先级的数值序，数值越大越优先。未知值按最低处理。
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// TriggerConditions 描述任务就绪所需满足的市场条件。
// 所有出现的条件必须同时满足；没有条件时任务始终就绪。
type TriggerConditions struct {
	PriceAbove      *float64 `json:"price_above,omitempty"`
	PriceBelow      *float64 `json:"price_below,omitempty"`
	VolumeThreshold *float64 `json:"volume_threshold,omitempty"`
}

// Empty 判断是否没有任何触发条件。
func (c TriggerConditions) Empty() bool {
	return c.PriceAbove == nil && c.PriceBelow == nil && c.VolumeThreshold == nil
}

// ExecutionResult 保存一次任务执行（或模拟执行）的结果。
type ExecutionResult struct {
	Success         bool    `json:"success"`
	TransactionHash string  `json:"transaction_hash,omitempty"`
	AmountExecuted  float64 `json:"amount_executed"`
	PriceExecuted   float64 `json:"price_executed"`
	GasUsed         uint64  `json:"gas_used"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	Simulated       bool    `json:"simulated,omitempty"`
}

// Task 描述策略中的一个原子投资动作。
type Task struct {
	ID           string            `json:"id"`
	Type         TaskType          `json:"type"`
	TokenSymbol  string            `json:"token_symbol"`
	TargetPrice  *float64          `json:"target_price,omitempty"`
	Allocation   string            `json:"allocation"`
	Priority     Priority          `json:"priority"`
	Conditions   TriggerConditions `json:"trigger_conditions"`
	Status       TaskStatus        `json:"status"`
	CreatedAt    int64             `json:"created_at"`
	ScheduledFor int64             `json:"scheduled_for,omitempty"`
	ExecutedAt   int64             `json:"executed_at,omitempty"`
	Result       *ExecutionResult  `json:"execution_result,omitempty"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务状态与期望不符，通常是并发周期竞争同一任务。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task status conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskTerminal 表示任务已处于终态，不能再变更。
	ErrTaskTerminal = xerrors.New(CodeTaskTerminal, "task already in terminal status", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrStrategyNotFound 表示指定的策略不存在。
	ErrStrategyNotFound = xerrors.New(CodeStrategyNotFound, "strategy not found")
)

const (
	CodeTaskNotFound     xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict     xerrors.Code = "TASK_CONFLICT"
	CodeTaskTerminal     xerrors.Code = "TASK_TERMINAL"
	CodeTaskValidation   xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeStrategyNotFound xerrors.Code = "STRATEGY_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:   "task not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "task status conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskTerminal, xerrors.Attributes{
		Message:   "task already in terminal status",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:   "task validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeStrategyNotFound, xerrors.Attributes{
		Message:   "strategy not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// ParseAllocation 解析任务的资金分配。
// 支持绝对数额（"600"）与相对预算的百分比（"25%"，按策略预算折算）。
func ParseAllocation(allocation string, budget float64) (float64, error) {
	raw := strings.TrimSpace(allocation)
	if raw == "" {
		return 0, xerrors.New(CodeTaskValidation, "allocation 不能为空")
	}
	if strings.HasSuffix(raw, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
		if err != nil {
			return 0, xerrors.Wrap(CodeTaskValidation, err, "allocation 百分比格式错误")
		}
		if pct < 0 {
			return 0, xerrors.New(CodeTaskValidation, "allocation 百分比不能为负")
		}
		return budget * pct / 100, nil
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, xerrors.Wrap(CodeTaskValidation, err, "allocation 金额格式错误")
	}
	if amount < 0 {
		return 0, xerrors.New(CodeTaskValidation, "allocation 金额不能为负")
	}
	return amount, nil
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	clone := *task
	if task.TargetPrice != nil {
		v := *task.TargetPrice
		clone.TargetPrice = &v
	}
	clone.Conditions = cloneConditions(task.Conditions)
	if task.Result != nil {
		resultCopy := *task.Result
		clone.Result = &resultCopy
	}
	return &clone
}

func cloneConditions(c TriggerConditions) TriggerConditions {
	clone := TriggerConditions{}
	if c.PriceAbove != nil {
		v := *c.PriceAbove
		clone.PriceAbove = &v
	}
	if c.PriceBelow != nil {
		v := *c.PriceBelow
		clone.PriceBelow = &v
	}
	if c.VolumeThreshold != nil {
		v := *c.VolumeThreshold
		clone.VolumeThreshold = &v
	}
	return clone
}
