package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "InvestPilot/internal/errors"
	"InvestPilot/internal/executor"
	"InvestPilot/pkg/logger"
)

// defaultPollInterval 是监控循环的默认调度间隔。
const defaultPollInterval = 30 * time.Second

// Runner 周期性地为所有 active 执行体触发监控周期。
// 执行体之间并发运行，单个执行体内部由协调器的锁串行化。
type Runner struct {
	coordinator *Coordinator
	agents      executor.Store
	interval    time.Duration
}

// NewRunner 构造 Runner。
func NewRunner(c *Coordinator, agents executor.Store, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Runner{coordinator: c, agents: agents, interval: interval}
}

// Start 阻塞运行监控循环，直到 ctx 取消。
func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.coordinator == nil || r.agents == nil {
		return xerrors.New(xerrors.CodeInitialization, "监控循环未初始化")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.L().Info("监控循环已启动", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			logger.L().Info("监控循环已停止")
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

// runOnce 对当前所有 active 执行体各触发一次监控周期。
func (r *Runner) runOnce(ctx context.Context) {
	agents, err := r.agents.ListActive(ctx)
	if err != nil {
		logger.L().Error("查询 active 执行体失败", slog.Any("error", err))
		return
	}

	var wg sync.WaitGroup
	for _, ag := range agents {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			if _, err := r.coordinator.MonitorAndExecute(ctx, agentID); err != nil {
				logger.L().Error("监控周期失败",
					slog.Any("error", err),
					slog.String("agent_id", agentID))
			}
		}(ag.ID)
	}
	wg.Wait()
}
