package coordinator

import (
	"context"
	stdErrors "errors"
	"testing"

	"InvestPilot/internal/approval"
	xerrors "InvestPilot/internal/errors"
	"InvestPilot/internal/executor"
	"InvestPilot/internal/market"
	"InvestPilot/internal/settle"
	"InvestPilot/internal/strategy"
)

// stubSettlement 记录结算调用，failTasks 中的任务返回失败结果。
type stubSettlement struct {
	failTasks map[string]bool
	executed  int
	simulated int
}

func (s *stubSettlement) Execute(_ context.Context, task *strategy.Task, agentCtx settle.AgentContext) (settle.Outcome, error) {
	s.executed++
	if s.failTasks[task.ID] {
		return settle.Outcome{Success: false, ErrorMessage: "execution reverted"}, nil
	}
	return settle.Outcome{
		Success:         true,
		TransactionHash: "0xfeed",
		AmountExecuted:  agentCtx.Amount,
		PriceExecuted:   31000,
		GasUsed:         21000,
	}, nil
}

func (s *stubSettlement) Simulate(_ context.Context, task *strategy.Task, snapshot market.Snapshot) (settle.Outcome, error) {
	s.simulated++
	return settle.NewSimulator().Simulate(context.Background(), task, snapshot)
}

type fixture struct {
	strategies *strategy.MemoryStore
	agents     *executor.MemoryStore
	approvals  *approval.MemoryQueue
	provider   *market.StaticProvider
	settlement *stubSettlement
	coord      *Coordinator
}

func newFixture() *fixture {
	f := &fixture{
		strategies: strategy.NewMemoryStore(),
		agents:     executor.NewMemoryStore(),
		approvals:  approval.NewMemoryQueue(),
		provider:   market.NewStaticProvider(market.TokenQuote{Symbol: "BTC", PriceUSD: 31000, Volume24h: 5_000_000_000}),
		settlement: &stubSettlement{failTasks: map[string]bool{}},
	}
	f.coord = New(f.strategies, f.agents, f.approvals, f.provider, f.settlement)
	return f
}

func (f *fixture) seed(t *testing.T, autoExecute bool, tasks ...*strategy.Task) {
	t.Helper()
	strat := &strategy.Strategy{
		ID:      "strat-1",
		AgentID: "agent-1",
		Name:    "btc accumulation",
		Budget:  2000,
		Phases: []*strategy.Phase{
			{Name: "accumulate", Tasks: tasks},
		},
	}
	if err := f.strategies.Create(context.Background(), strat); err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	agent := &executor.Agent{
		ID:         "agent-1",
		StrategyID: "strat-1",
		Status:     executor.AgentActive,
		Capabilities: executor.Capabilities{
			CanExecuteTrades:     true,
			MaxTransactionAmount: 1000,
			AllowedTokens:        []string{"BTC"},
			RiskLevel:            executor.RiskMedium,
		},
		Settings: executor.ExecutionSettings{AutoExecute: autoExecute},
	}
	if err := f.agents.Create(context.Background(), agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}
}

func buyTask(id, allocation string, priceAbove float64) *strategy.Task {
	return &strategy.Task{
		ID:          id,
		Type:        strategy.TaskBuy,
		TokenSymbol: "BTC",
		Allocation:  allocation,
		Priority:    strategy.PriorityHigh,
		Conditions:  strategy.TriggerConditions{PriceAbove: &priceAbove},
		Status:      strategy.StatusPending,
	}
}

func (f *fixture) task(t *testing.T, taskID string) *strategy.Task {
	t.Helper()
	strat, err := f.strategies.Get(context.Background(), "strat-1")
	if err != nil {
		t.Fatalf("load strategy: %v", err)
	}
	task, ok := strat.FindTask(taskID)
	if !ok {
		t.Fatalf("task %s not found", taskID)
	}
	return task
}

func (f *fixture) agent(t *testing.T) *executor.Agent {
	t.Helper()
	agent, err := f.agents.Get(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("load agent: %v", err)
	}
	return agent
}

func TestMonitorExecutesReadyTask(t *testing.T) {
	f := newFixture()
	f.seed(t, true, buyTask("task-1", "600", 30000))

	result, err := f.coord.MonitorAndExecute(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if result.ReadyTasksCount != 1 {
		t.Fatalf("expected 1 ready task, got %d", result.ReadyTasksCount)
	}
	if len(result.ExecutionResults) != 1 || !result.ExecutionResults[0].Executed {
		t.Fatalf("expected one executed outcome, got %+v", result.ExecutionResults)
	}

	task := f.task(t, "task-1")
	if task.Status != strategy.StatusExecuted {
		t.Fatalf("expected task executed, got %s", task.Status)
	}
	if task.Result == nil || !task.Result.Success {
		t.Fatalf("expected successful execution result, got %+v", task.Result)
	}

	agent := f.agent(t)
	m := agent.State.Metrics
	if m.TotalTasksExecuted != 1 || m.SuccessfulExecutions != 1 || m.Uptime != 100 {
		t.Fatalf("unexpected agent metrics: %+v", m)
	}
	if agent.State.Status != executor.RunIdle {
		t.Fatalf("expected agent back to idle, got %s", agent.State.Status)
	}

	strat, err := f.strategies.Get(context.Background(), "strat-1")
	if err != nil {
		t.Fatalf("load strategy: %v", err)
	}
	if strat.Metrics.TasksCompleted != 1 || strat.Status != strategy.ExecutionCompleted {
		t.Fatalf("unexpected strategy rollup: %+v status=%s", strat.Metrics, strat.Status)
	}
}

func TestMonitorSkipsWhenConditionUnmet(t *testing.T) {
	f := newFixture()
	f.seed(t, true, buyTask("task-1", "600", 30000))
	f.provider.SetQuotes(market.TokenQuote{Symbol: "BTC", PriceUSD: 29000, Volume24h: 5_000_000_000})

	result, err := f.coord.MonitorAndExecute(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if result.ReadyTasksCount != 0 {
		t.Fatalf("expected 0 ready tasks, got %d", result.ReadyTasksCount)
	}
	if f.settlement.executed != 0 {
		t.Fatalf("expected no settlement calls, got %d", f.settlement.executed)
	}
	if task := f.task(t, "task-1"); task.Status != strategy.StatusPending {
		t.Fatalf("expected task to remain pending, got %s", task.Status)
	}
}

func TestMonitorAuthorizationDenialLeavesTaskPending(t *testing.T) {
	f := newFixture()
	f.seed(t, true, buyTask("task-1", "1500", 30000))

	result, err := f.coord.MonitorAndExecute(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if result.ReadyTasksCount != 1 {
		t.Fatalf("expected condition to pass, got %d ready", result.ReadyTasksCount)
	}
	if len(result.ExecutionResults) != 1 {
		t.Fatalf("expected one outcome, got %d", len(result.ExecutionResults))
	}
	outcome := result.ExecutionResults[0]
	if outcome.Executed || outcome.Code != xerrors.CodeAuthorizationDenied {
		t.Fatalf("expected authorization denial, got %+v", outcome)
	}
	if task := f.task(t, "task-1"); task.Status != strategy.StatusPending {
		t.Fatalf("expected task to remain pending, got %s", task.Status)
	}
	if m := f.agent(t).State.Metrics; m.TotalTasksExecuted != 0 {
		t.Fatalf("denial must not count as execution attempt: %+v", m)
	}
}

func TestExecuteTaskDryRunDoesNotPersist(t *testing.T) {
	f := newFixture()
	f.seed(t, true, buyTask("task-1", "600", 30000))

	outcome, err := f.coord.ExecuteTask(context.Background(), "agent-1", "task-1", true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if outcome.Executed {
		t.Fatal("dry run must not report a persisted execution")
	}
	if !outcome.DryRun || outcome.Result == nil || !outcome.Result.Simulated {
		t.Fatalf("expected simulated result, got %+v", outcome)
	}
	if f.settlement.executed != 0 {
		t.Fatalf("dry run must not reach the settlement executor, got %d calls", f.settlement.executed)
	}

	if task := f.task(t, "task-1"); task.Status != strategy.StatusPending {
		t.Fatalf("dry run must not change task status, got %s", task.Status)
	}
	if m := f.agent(t).State.Metrics; m.TotalTasksExecuted != 0 {
		t.Fatalf("dry run must not touch agent metrics: %+v", m)
	}
}

func TestMonitorQueuesForApprovalWhenManual(t *testing.T) {
	f := newFixture()
	f.seed(t, false, buyTask("task-1", "600", 30000))

	result, err := f.coord.MonitorAndExecute(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if result.QueuedTasksCount != 1 {
		t.Fatalf("expected 1 queued task, got %d", result.QueuedTasksCount)
	}
	if len(result.ExecutionResults) != 0 {
		t.Fatalf("manual mode must not execute, got %+v", result.ExecutionResults)
	}
	if task := f.task(t, "task-1"); task.Status != strategy.StatusPending {
		t.Fatalf("enqueuing must not change task status, got %s", task.Status)
	}

	entries, err := f.coord.ListPendingApprovals(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("list approvals: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "task-1" {
		t.Fatalf("unexpected approval entries: %+v", entries)
	}

	outcome, err := f.coord.Approve(context.Background(), "agent-1", entries[0].ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !outcome.Executed || outcome.Status != strategy.StatusExecuted {
		t.Fatalf("expected approval to execute the task, got %+v", outcome)
	}

	// 条目已被原子移除，重复批准必须失败。
	if _, err := f.coord.Approve(context.Background(), "agent-1", entries[0].ID); !stdErrors.Is(err, ErrApprovalNotFound) {
		t.Fatalf("expected ErrApprovalNotFound on double approval, got %v", err)
	}
}

func TestMonitorSkipsInactiveAgent(t *testing.T) {
	f := newFixture()
	f.seed(t, true, buyTask("task-1", "600", 30000))

	agent := f.agent(t)
	if err := agent.Transition(executor.AgentPaused); err != nil {
		t.Fatalf("pause agent: %v", err)
	}
	if err := f.agents.Save(context.Background(), agent); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	result, err := f.coord.MonitorAndExecute(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if result.ReadyTasksCount != 0 || len(result.ExecutionResults) != 0 {
		t.Fatalf("paused agent must be a no-op, got %+v", result)
	}
}

func TestMonitorIsolatesSettlementFailures(t *testing.T) {
	f := newFixture()
	f.seed(t, true,
		buyTask("task-1", "600", 30000),
		buyTask("task-2", "400", 30000),
	)
	f.settlement.failTasks["task-1"] = true

	result, err := f.coord.MonitorAndExecute(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if len(result.ExecutionResults) != 2 {
		t.Fatalf("failure of one task must not abort the cycle, got %d outcomes", len(result.ExecutionResults))
	}

	if task := f.task(t, "task-1"); task.Status != strategy.StatusFailed {
		t.Fatalf("expected task-1 failed, got %s", task.Status)
	}
	if task := f.task(t, "task-2"); task.Status != strategy.StatusExecuted {
		t.Fatalf("expected task-2 executed, got %s", task.Status)
	}

	m := f.agent(t).State.Metrics
	if m.TotalTasksExecuted != 2 || m.SuccessfulExecutions != 1 || m.FailedExecutions != 1 {
		t.Fatalf("unexpected agent metrics: %+v", m)
	}
	if m.Uptime != 50 {
		t.Fatalf("expected uptime 50, got %v", m.Uptime)
	}

	history := f.agent(t).State.ErrorHistory
	if len(history) != 1 || history[0].TaskID != "task-1" {
		t.Fatalf("expected one journal entry for task-1, got %+v", history)
	}
}

func TestExecuteTaskValidation(t *testing.T) {
	f := newFixture()
	f.seed(t, true, buyTask("task-1", "600", 30000))

	if _, err := f.coord.ExecuteTask(context.Background(), "", "task-1", false); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.coord.ExecuteTask(context.Background(), "agent-1", "missing", false); !stdErrors.Is(err, strategy.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if _, err := f.coord.ExecuteTask(context.Background(), "ghost", "task-1", false); !stdErrors.Is(err, executor.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestExecuteTaskRejectsTerminalTask(t *testing.T) {
	f := newFixture()
	f.seed(t, true, buyTask("task-1", "600", 30000))

	if _, err := f.coord.ExecuteTask(context.Background(), "agent-1", "task-1", false); err != nil {
		t.Fatalf("first execution: %v", err)
	}
	_, err := f.coord.ExecuteTask(context.Background(), "agent-1", "task-1", false)
	if !stdErrors.Is(err, strategy.ErrTaskTerminal) {
		t.Fatalf("expected ErrTaskTerminal on re-execution, got %v", err)
	}
}

func TestExecuteTaskConditionNotMetLeavesStateUntouched(t *testing.T) {
	f := newFixture()
	f.seed(t, true, buyTask("task-1", "600", 30000))
	f.provider.SetQuotes(market.TokenQuote{Symbol: "BTC", PriceUSD: 29000})

	outcome, err := f.coord.ExecuteTask(context.Background(), "agent-1", "task-1", false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Executed || outcome.Code != xerrors.CodeConditionNotMet {
		t.Fatalf("expected condition-not-met outcome, got %+v", outcome)
	}
	if task := f.task(t, "task-1"); task.Status != strategy.StatusPending {
		t.Fatalf("expected task to remain pending, got %s", task.Status)
	}
}

func TestExecuteTaskMissingMarketData(t *testing.T) {
	f := newFixture()
	f.seed(t, true, buyTask("task-1", "600", 30000))
	f.provider.SetQuotes()

	outcome, err := f.coord.ExecuteTask(context.Background(), "agent-1", "task-1", false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Executed || outcome.Code != xerrors.CodeDataUnavailable {
		t.Fatalf("expected data-unavailable outcome, got %+v", outcome)
	}
	if m := f.agent(t).State.Metrics; m.TotalTasksExecuted != 0 {
		t.Fatalf("missing data must not count as a task failure: %+v", m)
	}
}

func TestCancelTaskOnlyAppliesToPending(t *testing.T) {
	f := newFixture()
	f.seed(t, true,
		buyTask("task-1", "600", 30000),
		buyTask("task-2", "400", 30000),
	)

	if err := f.coord.CancelTask(context.Background(), "agent-1", "task-1"); err != nil {
		t.Fatalf("cancel pending task: %v", err)
	}
	if task := f.task(t, "task-1"); task.Status != strategy.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", task.Status)
	}

	if _, err := f.coord.ExecuteTask(context.Background(), "agent-1", "task-2", false); err != nil {
		t.Fatalf("execute task-2: %v", err)
	}
	if err := f.coord.CancelTask(context.Background(), "agent-1", "task-2"); !stdErrors.Is(err, strategy.ErrTaskConflict) {
		t.Fatalf("expected conflict cancelling executed task, got %v", err)
	}
}

func TestConcurrentMonitorCyclesDoNotDoubleExecute(t *testing.T) {
	f := newFixture()
	f.seed(t, true, buyTask("task-1", "600", 30000))

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = f.coord.MonitorAndExecute(context.Background(), "agent-1")
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	if f.settlement.executed != 1 {
		t.Fatalf("expected exactly one settlement call across concurrent cycles, got %d", f.settlement.executed)
	}
	if m := f.agent(t).State.Metrics; m.TotalTasksExecuted != 1 {
		t.Fatalf("expected exactly one recorded attempt, got %+v", m)
	}
}
