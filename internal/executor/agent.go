package executor

import (
	"time"

	xerrors "InvestPilot/internal/errors"
)

// AgentStatus 表示执行体的管理状态。
type AgentStatus string

const (
	AgentCreated    AgentStatus = "created"
	AgentConfigured AgentStatus = "configured"
	AgentActive     AgentStatus = "active"
	AgentPaused     AgentStatus = "paused"
	AgentStopped    AgentStatus = "stopped"
	AgentError      AgentStatus = "error"
)

// RunStatus 表示执行体在单个调度周期内的运行时状态。
type RunStatus string

const (
	RunIdle       RunStatus = "idle"
	RunMonitoring RunStatus = "monitoring"
	RunExecuting  RunStatus = "executing"
	RunPaused     RunStatus = "paused"
	RunError      RunStatus = "error"
)

// RiskLevel 表示执行体授权档案中的风险等级。
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Capabilities 是执行体的授权档案：允许的动作、代币与额度上限。
type Capabilities struct {
	CanExecuteTrades     bool      `json:"can_execute_trades"`
	CanManagePortfolio   bool      `json:"can_manage_portfolio"`
	MaxTransactionAmount float64   `json:"max_transaction_amount"`
	AllowedTokens        []string  `json:"allowed_tokens"`
	RiskLevel            RiskLevel `json:"risk_level"`
}

// AllowsToken 判断代币是否在允许清单内。
func (c Capabilities) AllowsToken(symbol string) bool {
	for _, token := range c.AllowedTokens {
		if token == symbol {
			return true
		}
	}
	return false
}

// RetryPolicy 描述调用方驱动的重试策略。核心本身不做隐式重试。
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
}

// ExecutionSettings 描述执行体的调度配置。
type ExecutionSettings struct {
	AutoExecute bool        `json:"auto_execute"`
	Schedule    string      `json:"schedule,omitempty"`
	RetryPolicy RetryPolicy `json:"retry_policy"`
}

// ErrorEntry 是错误日志中的一条记录。
type ErrorEntry struct {
	Timestamp int64  `json:"timestamp"`
	TaskID    string `json:"task_id"`
	Error     string `json:"error"`
	Resolved  bool   `json:"resolved"`
}

// Metrics 汇总执行体历史上的执行表现。
type Metrics struct {
	TotalTasksExecuted   int     `json:"total_tasks_executed"`
	SuccessfulExecutions int     `json:"successful_executions"`
	FailedExecutions     int     `json:"failed_executions"`
	Uptime               float64 `json:"uptime"`
}

// ExecutionState 聚合执行体的运行时状态、错误日志与指标。
type ExecutionState struct {
	Status        RunStatus    `json:"status"`
	CurrentTask   string       `json:"current_task,omitempty"`
	LastExecution int64        `json:"last_execution,omitempty"`
	LastActiveAt  int64        `json:"last_active_at,omitempty"`
	ErrorHistory  []ErrorEntry `json:"error_history"`
	Metrics       Metrics      `json:"metrics"`
}

// Agent 是驱动一个策略自动执行的执行体聚合根。
// 一个执行体恰好关联一个策略；移除时仅做软删除。
type Agent struct {
	ID           string            `json:"id"`
	StrategyID   string            `json:"strategy_id"`
	Capabilities Capabilities      `json:"capabilities"`
	Settings     ExecutionSettings `json:"execution_settings"`
	State        ExecutionState    `json:"execution_state"`
	Status       AgentStatus       `json:"status"`
	Active       bool              `json:"active"`
	CreatedAt    int64             `json:"created_at"`
	UpdatedAt    int64             `json:"updated_at"`
}

var (
	// ErrAgentNotFound 表示指定的执行体不存在。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "executor agent not found")
	// ErrInvalidTransition 表示执行体状态迁移不被允许。
	ErrInvalidTransition = xerrors.New(CodeAgentTransition, "invalid agent status transition", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeAgentNotFound   xerrors.Code = "AGENT_NOT_FOUND"
	CodeAgentTransition xerrors.Code = "AGENT_INVALID_TRANSITION"
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:   "executor agent not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAgentTransition, xerrors.Attributes{
		Message:   "invalid agent status transition",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// allowedTransitions 定义执行体管理状态机。
// created → configured → active；active ↔ paused 为手动切换；
// active → error 需要人工复位回 active/configured。
var allowedTransitions = map[AgentStatus][]AgentStatus{
	AgentCreated:    {AgentConfigured},
	AgentConfigured: {AgentActive, AgentStopped},
	AgentActive:     {AgentPaused, AgentStopped, AgentError},
	AgentPaused:     {AgentActive, AgentStopped},
	AgentError:      {AgentActive, AgentConfigured, AgentStopped},
	AgentStopped:    {},
}

// CanTransition 判断管理状态迁移是否合法。
func CanTransition(from, to AgentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition 执行一次管理状态迁移。
func (a *Agent) Transition(to AgentStatus) error {
	if a == nil {
		return xerrors.New(xerrors.CodeValidation, "agent 不能为空")
	}
	if !CanTransition(a.Status, to) {
		return xerrors.Wrap(CodeAgentTransition, ErrInvalidTransition,
			"不允许从 "+string(a.Status)+" 迁移到 "+string(to))
	}
	a.Status = to
	a.UpdatedAt = time.Now().Unix()
	return nil
}

// BeginCycle 将运行时状态切换为监控中。仅 active 执行体可进入周期。
func (a *Agent) BeginCycle() {
	a.State.Status = RunMonitoring
	a.State.LastActiveAt = time.Now().Unix()
}

// BeginExecution 标记正在执行的任务。
func (a *Agent) BeginExecution(taskID string) {
	a.State.Status = RunExecuting
	a.State.CurrentTask = taskID
}

// EndCycle 将运行时状态恢复为空闲并清空当前任务。
func (a *Agent) EndCycle() {
	a.State.Status = RunIdle
	a.State.CurrentTask = ""
}

// FailCycle 在周期内出现不可恢复异常时进入 error 运行态。
func (a *Agent) FailCycle() {
	a.State.Status = RunError
	a.State.CurrentTask = ""
}
