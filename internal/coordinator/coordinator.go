package coordinator

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"InvestPilot/internal/approval"
	xerrors "InvestPilot/internal/errors"
	"InvestPilot/internal/executor"
	"InvestPilot/internal/market"
	"InvestPilot/internal/observability/alerting"
	"InvestPilot/internal/observability/metrics"
	"InvestPilot/internal/settle"
	"InvestPilot/internal/strategy"
	"InvestPilot/pkg/logger"
)

// defaultSnapshotTimeout 限制单次行情拉取的耗时，超时按空快照处理。
const defaultSnapshotTimeout = 10 * time.Second

// CodeApprovalNotFound 表示待批准条目不存在或已被其他批准者处理。
const CodeApprovalNotFound xerrors.Code = "APPROVAL_NOT_FOUND"

// ErrApprovalNotFound 对应 CodeApprovalNotFound。
var ErrApprovalNotFound = xerrors.New(CodeApprovalNotFound, "approval entry not found")

func init() {
	xerrors.Register(CodeApprovalNotFound, xerrors.Attributes{
		Message:   "approval entry not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Outcome 是单个任务一次调度处理的显式结果。
// 任务未被执行时 Executed 为 false，Code/Reason 说明原因，状态保持不变。
type Outcome struct {
	AgentID  string                    `json:"agent_id"`
	TaskID   string                    `json:"task_id"`
	Executed bool                      `json:"executed"`
	DryRun   bool                      `json:"dry_run,omitempty"`
	Status   strategy.TaskStatus       `json:"status"`
	Code     xerrors.Code              `json:"code,omitempty"`
	Reason   string                    `json:"reason,omitempty"`
	Result   *strategy.ExecutionResult `json:"result,omitempty"`
}

// MonitorResult 汇总一次监控周期的处理情况。
type MonitorResult struct {
	AgentID          string    `json:"agent_id"`
	ReadyTasksCount  int       `json:"ready_tasks_count"`
	ExecutionResults []Outcome `json:"execution_results"`
	QueuedTasksCount int       `json:"queued_tasks_count"`
}

// Coordinator 是执行调度器：拉取行情快照、筛选就绪任务、
// 做授权判定，然后自动执行或送入人工批准队列，并维护状态机与日志。
type Coordinator struct {
	strategies strategy.Store
	agents     executor.Store
	approvals  approval.Queue
	marketData market.Provider
	settlement settle.Executor

	alerter         alerting.Dispatcher
	network         string
	snapshotTimeout time.Duration
	locks           *keyedMutex
	logger          *slog.Logger
}

// Option 定义可选配置。
type Option func(*Coordinator)

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(c *Coordinator) {
		c.alerter = dispatcher
	}
}

// WithNetwork 指定行情与结算使用的网络。
func WithNetwork(network string) Option {
	return func(c *Coordinator) {
		if network != "" {
			c.network = network
		}
	}
}

// WithSnapshotTimeout 指定行情拉取的超时时间。
func WithSnapshotTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.snapshotTimeout = timeout
		}
	}
}

// WithLogger 指定调试日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New 构造 Coordinator。
func New(strategies strategy.Store, agents executor.Store, approvals approval.Queue,
	marketData market.Provider, settlement settle.Executor, opts ...Option) *Coordinator {
	c := &Coordinator{
		strategies:      strategies,
		agents:          agents,
		approvals:       approvals,
		marketData:      marketData,
		settlement:      settlement,
		network:         "ethereum",
		snapshotTimeout: defaultSnapshotTimeout,
		locks:           newKeyedMutex(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Coordinator) ready() error {
	if c == nil || c.strategies == nil || c.agents == nil || c.approvals == nil ||
		c.marketData == nil || c.settlement == nil {
		return xerrors.New(xerrors.CodeInitialization, "协调器未初始化")
	}
	return nil
}

// ExecuteTask 对单个任务做一次完整的调度处理：授权、取快照、判定条件，
// 然后真实执行或模拟执行。条件不满足与授权被拒都不改变任务状态。
//
// dryRun 为 true 时走模拟路径：不变更任务状态，不计入执行体指标。
func (c *Coordinator) ExecuteTask(ctx context.Context, agentID, taskID string, dryRun bool) (*Outcome, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if agentID == "" || taskID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "agentID 与 taskID 不能为空")
	}

	unlock := c.locks.Lock(agentID)
	defer unlock()

	ag, err := c.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	strat, err := c.strategies.Get(ctx, ag.StrategyID)
	if err != nil {
		return nil, err
	}
	task, ok := strat.FindTask(taskID)
	if !ok {
		return nil, strategy.ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return nil, xerrors.Wrap(strategy.CodeTaskTerminal, strategy.ErrTaskTerminal,
			"任务 "+taskID+" 已处于终态 "+string(task.Status))
	}
	if task.Status != strategy.StatusPending {
		return nil, xerrors.Wrap(strategy.CodeTaskConflict, strategy.ErrTaskConflict,
			"任务 "+taskID+" 当前状态为 "+string(task.Status))
	}

	snapshot := c.fetchSnapshot(ctx)
	outcome := c.runTask(ctx, ag, strat, task, snapshot, dryRun)

	if !dryRun {
		ag.EndCycle()
		if err := c.agents.Save(ctx, ag); err != nil {
			logger.L().Error("保存执行体状态失败", slog.Any("error", err), slog.String("agent_id", agentID))
			return &outcome, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存执行体状态失败")
		}
		if outcome.Executed {
			c.saveStrategyMetrics(ctx, strat)
		}
	}
	return &outcome, nil
}

// MonitorAndExecute 运行一次完整的监控周期。
// 非 active 的执行体直接跳过，返回空结果。
func (c *Coordinator) MonitorAndExecute(ctx context.Context, agentID string) (*MonitorResult, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if agentID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "agentID 不能为空")
	}

	unlock := c.locks.Lock(agentID)
	defer unlock()

	ag, err := c.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	result := &MonitorResult{AgentID: agentID}
	if ag.Status != executor.AgentActive {
		c.logDebug("执行体非 active，跳过监控周期",
			slog.String("agent_id", agentID), slog.String("status", string(ag.Status)))
		return result, nil
	}

	started := time.Now()
	ag.BeginCycle()

	strat, err := c.strategies.Get(ctx, ag.StrategyID)
	if err != nil {
		ag.FailCycle()
		if saveErr := c.agents.Save(ctx, ag); saveErr != nil {
			logger.L().Error("记录周期失败状态出错", slog.Any("error", saveErr), slog.String("agent_id", agentID))
		}
		return nil, err
	}

	snapshot := c.fetchSnapshot(ctx)
	pending := strat.PendingTasks()

	ready := make([]*strategy.Task, 0, len(pending))
	for _, task := range pending {
		eval := Evaluate(task.Conditions, snapshot.Quote(task.TokenSymbol))
		if eval.CanExecute {
			ready = append(ready, task)
			continue
		}
		c.logDebug("任务未就绪",
			slog.String("agent_id", agentID),
			slog.String("task_id", task.ID),
			slog.String("reason", eval.Reason))
	}
	result.ReadyTasksCount = len(ready)

	attempted := false
	for _, task := range ready {
		if ag.Settings.AutoExecute {
			outcome := c.runTask(ctx, ag, strat, task, snapshot, false)
			result.ExecutionResults = append(result.ExecutionResults, outcome)
			if outcome.Executed {
				attempted = true
			}
			continue
		}
		entry := approval.Entry{
			ID:       uuid.NewString(),
			AgentID:  agentID,
			TaskID:   task.ID,
			Priority: task.Priority,
			QueuedAt: time.Now().Unix(),
		}
		if err := c.approvals.Enqueue(ctx, entry); err != nil {
			logger.L().Error("任务入批准队列失败",
				slog.Any("error", err),
				slog.String("agent_id", agentID),
				slog.String("task_id", task.ID))
			c.emitAlert(ctx, agentID, task.ID, xerrors.CodeQueueFailure, err)
			continue
		}
		metrics.ObserveQueuedForApproval(agentID)
		c.logDebug("任务已入批准队列",
			slog.String("agent_id", agentID),
			slog.String("task_id", task.ID),
			slog.String("entry_id", entry.ID))
	}

	if entries, err := c.approvals.ListByAgent(ctx, agentID); err == nil {
		result.QueuedTasksCount = len(entries)
	} else {
		logger.L().Error("查询批准队列失败", slog.Any("error", err), slog.String("agent_id", agentID))
	}

	ag.EndCycle()
	if err := c.agents.Save(ctx, ag); err != nil {
		logger.L().Error("保存执行体状态失败", slog.Any("error", err), slog.String("agent_id", agentID))
		return result, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存执行体状态失败")
	}
	if attempted {
		c.saveStrategyMetrics(ctx, strat)
	}
	metrics.ObserveMonitorCycle(agentID, time.Since(started))

	logger.Audit().Info("监控周期完成",
		slog.String("agent_id", agentID),
		slog.Int("pending", len(pending)),
		slog.Int("ready", result.ReadyTasksCount),
		slog.Int("executed", len(result.ExecutionResults)),
		slog.Int("queued", result.QueuedTasksCount),
	)
	return result, nil
}

// InspectAgent 返回执行体的当前快照（含运行状态与指标）。
func (c *Coordinator) InspectAgent(ctx context.Context, agentID string) (*executor.Agent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if agentID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "agentID 不能为空")
	}
	return c.agents.Get(ctx, agentID)
}

// ListPendingApprovals 返回指定执行体的待批准条目。
func (c *Coordinator) ListPendingApprovals(ctx context.Context, agentID string) ([]approval.Entry, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if agentID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "agentID 不能为空")
	}
	return c.approvals.ListByAgent(ctx, agentID)
}

// Approve 批准一个待执行条目并立即执行对应任务。
// 条目先被原子移除再执行，两个并发批准者只有一个能成功。
func (c *Coordinator) Approve(ctx context.Context, agentID, entryID string) (*Outcome, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if agentID == "" || entryID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "agentID 与 entryID 不能为空")
	}
	entry, ok, err := c.approvals.Remove(ctx, agentID, entryID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "移除批准条目失败")
	}
	if !ok {
		return nil, ErrApprovalNotFound
	}
	return c.ExecuteTask(ctx, agentID, entry.TaskID, false)
}

// CancelTask 取消一个尚未执行的任务。取消只对 pending 任务生效。
func (c *Coordinator) CancelTask(ctx context.Context, agentID, taskID string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if agentID == "" || taskID == "" {
		return xerrors.New(xerrors.CodeValidation, "agentID 与 taskID 不能为空")
	}

	unlock := c.locks.Lock(agentID)
	defer unlock()

	ag, err := c.agents.Get(ctx, agentID)
	if err != nil {
		return err
	}
	strat, err := c.strategies.Get(ctx, ag.StrategyID)
	if err != nil {
		return err
	}
	if err := c.strategies.CancelTask(ctx, strat.ID, taskID); err != nil {
		return err
	}
	if task, ok := strat.FindTask(taskID); ok {
		task.Status = strategy.StatusCancelled
	}
	c.saveStrategyMetrics(ctx, strat)
	logger.Audit().Info("任务已取消",
		slog.String("agent_id", agentID),
		slog.String("task_id", taskID),
	)
	return nil
}

// runTask 对单个就绪候选任务执行授权、条件判定与结算。
// 调用方必须已持有该执行体的锁。任何一步失败都被吸收进 Outcome，
// 不会中断同一周期内其余任务的处理。
func (c *Coordinator) runTask(ctx context.Context, ag *executor.Agent, strat *strategy.Strategy,
	task *strategy.Task, snapshot market.Snapshot, dryRun bool) Outcome {

	outcome := Outcome{
		AgentID: ag.ID,
		TaskID:  task.ID,
		DryRun:  dryRun,
		Status:  task.Status,
	}

	decision := Authorize(ag.Capabilities, task, strat.Budget)
	if !decision.Allowed {
		outcome.Code = xerrors.CodeAuthorizationDenied
		outcome.Reason = decision.Reason
		c.logDebug("任务授权被拒",
			slog.String("agent_id", ag.ID),
			slog.String("task_id", task.ID),
			slog.String("reason", decision.Reason))
		return outcome
	}

	eval := Evaluate(task.Conditions, snapshot.Quote(task.TokenSymbol))
	if !eval.CanExecute {
		if eval.Reason == "data not available" {
			outcome.Code = xerrors.CodeDataUnavailable
		} else {
			outcome.Code = xerrors.CodeConditionNotMet
		}
		outcome.Reason = eval.Reason
		return outcome
	}

	if dryRun {
		simulated, err := c.settlement.Simulate(ctx, task, snapshot)
		if err != nil {
			outcome.Code = xerrors.CodeSettlementFailed
			outcome.Reason = err.Error()
			outcome.Result = &strategy.ExecutionResult{
				Success:      false,
				ErrorMessage: err.Error(),
				Simulated:    true,
			}
			return outcome
		}
		outcome.Result = simulated.ToResult()
		return outcome
	}

	amount, err := strategy.ParseAllocation(task.Allocation, strat.Budget)
	if err != nil {
		outcome.Code = xerrors.CodeOf(err)
		outcome.Reason = err.Error()
		return outcome
	}

	ag.BeginExecution(task.ID)

	settled, execErr := c.settlement.Execute(ctx, task, settle.AgentContext{
		AgentID: ag.ID,
		Network: c.network,
		Amount:  amount,
	})

	var result *strategy.ExecutionResult
	if execErr != nil {
		result = &strategy.ExecutionResult{Success: false, ErrorMessage: execErr.Error()}
	} else {
		result = settled.ToResult()
	}
	next := strategy.StatusFailed
	if result.Success {
		next = strategy.StatusExecuted
	}

	if err := c.strategies.UpdateTaskStatus(ctx, strat.ID, task.ID, strategy.StatusPending, next, result); err != nil {
		switch {
		case stdErrors.Is(err, strategy.ErrTaskConflict), stdErrors.Is(err, strategy.ErrTaskTerminal):
			// 另一个周期先完成了这个任务的迁移，放弃本次结果。
			outcome.Code = xerrors.CodeOf(err)
			outcome.Reason = err.Error()
			logger.L().Warn("任务状态迁移被并发周期抢占",
				slog.String("agent_id", ag.ID),
				slog.String("task_id", task.ID),
				slog.Any("error", err))
		default:
			outcome.Code = xerrors.CodeStorageFailure
			outcome.Reason = err.Error()
			logger.L().Error("持久化任务状态失败",
				slog.String("agent_id", ag.ID),
				slog.String("task_id", task.ID),
				slog.Any("error", err))
			c.emitAlert(ctx, ag.ID, task.ID, xerrors.CodeStorageFailure, err)
		}
		return outcome
	}

	now := time.Now().Unix()
	task.Status = next
	task.Result = result
	task.ExecutedAt = now

	if result.Success {
		ag.State.RecordSuccess()
	} else {
		cause := execErr
		if cause == nil {
			cause = stdErrors.New(result.ErrorMessage)
		}
		ag.State.RecordFailure(task.ID, cause)
		c.emitAlert(ctx, ag.ID, task.ID, xerrors.CodeSettlementFailed, cause)
	}
	metrics.ObserveExecution(ag.ID, result.Success)

	outcome.Executed = true
	outcome.Status = next
	outcome.Result = result

	logger.Audit().Info("任务执行完成",
		slog.String("agent_id", ag.ID),
		slog.String("task_id", task.ID),
		slog.String("status", string(next)),
		slog.Bool("success", result.Success),
		slog.String("tx_hash", result.TransactionHash),
	)
	return outcome
}

// fetchSnapshot 在有界超时内拉取行情快照。数据源保证失败时返回空快照。
func (c *Coordinator) fetchSnapshot(ctx context.Context) market.Snapshot {
	timeout := c.snapshotTimeout
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.marketData.FetchSnapshot(fetchCtx, c.network)
}

func (c *Coordinator) saveStrategyMetrics(ctx context.Context, strat *strategy.Strategy) {
	strat.RecomputeMetrics()
	if err := c.strategies.SaveMetrics(ctx, strat); err != nil {
		logger.L().Error("保存策略指标失败",
			slog.Any("error", err),
			slog.String("strategy_id", strat.ID))
	}
}

func (c *Coordinator) logDebug(msg string, attrs ...slog.Attr) {
	if c.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		c.logger.Debug(msg, args...)
	}
}

func (c *Coordinator) emitAlert(ctx context.Context, agentID, taskID string, code xerrors.Code, cause error) {
	if c == nil || c.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		AgentID:    agentID,
		TaskID:     taskID,
		OccurredAt: time.Now(),
	}
	if err := c.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("agent_id", agentID),
			slog.String("task_id", taskID),
		)
	}
}
