package strategy

import (
	"sort"
)

// ExecutionStatus 表示策略整体的执行状态。
type ExecutionStatus string

const (
	ExecutionNotStarted ExecutionStatus = "not_started"
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionPaused     ExecutionStatus = "paused"
	ExecutionFailed     ExecutionStatus = "failed"
)

// RiskTolerance 表示策略的风险偏好。
type RiskTolerance string

const (
	RiskConservative RiskTolerance = "conservative"
	RiskModerate     RiskTolerance = "moderate"
	RiskAggressive   RiskTolerance = "aggressive"
)

// Phase 表示策略中的一个阶段，内部任务按顺序排列。
type Phase struct {
	Name             string  `json:"name"`
	ExpectedDuration string  `json:"expected_duration,omitempty"`
	Tasks            []*Task `json:"tasks"`
}

// ExecutionMetrics 汇总策略维度的执行进度，由协调器在每次状态迁移后重算。
type ExecutionMetrics struct {
	TasksTotal     int `json:"tasks_total"`
	TasksCompleted int `json:"tasks_completed"`
	TasksFailed    int `json:"tasks_failed"`
	TasksCancelled int `json:"tasks_cancelled"`
	TasksPending   int `json:"tasks_pending"`
}

// Strategy 是多阶段投资计划的聚合根。
// 策略被取代后仅归档，不做物理删除。
type Strategy struct {
	ID            string           `json:"id"`
	AgentID       string           `json:"agent_id"`
	Name          string           `json:"name"`
	Budget        float64          `json:"budget"`
	RiskTolerance RiskTolerance    `json:"risk_tolerance"`
	Phases        []*Phase         `json:"phases"`
	Status        ExecutionStatus  `json:"execution_status"`
	Metrics       ExecutionMetrics `json:"execution_metrics"`
	Archived      bool             `json:"archived"`
	CreatedAt     int64            `json:"created_at"`
	UpdatedAt     int64            `json:"updated_at"`
}

// FindTask 在所有阶段内查找任务。
func (s *Strategy) FindTask(taskID string) (*Task, bool) {
	if s == nil {
		return nil, false
	}
	for _, phase := range s.Phases {
		for _, task := range phase.Tasks {
			if task != nil && task.ID == taskID {
				return task, true
			}
		}
	}
	return nil, false
}

// PendingTasks 返回所有待执行任务，按优先级降序排列，
// 同优先级按创建时间升序，再按任务 ID 升序，保证调度顺序稳定。
func (s *Strategy) PendingTasks() []*Task {
	if s == nil {
		return nil
	}
	pending := make([]*Task, 0)
	for _, phase := range s.Phases {
		for _, task := range phase.Tasks {
			if task != nil && task.Status == StatusPending {
				pending = append(pending, task)
			}
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority.Rank() != pending[j].Priority.Rank() {
			return pending[i].Priority.Rank() > pending[j].Priority.Rank()
		}
		if pending[i].CreatedAt != pending[j].CreatedAt {
			return pending[i].CreatedAt < pending[j].CreatedAt
		}
		return pending[i].ID < pending[j].ID
	})
	return pending
}

// RecomputeMetrics 重新统计任务进度并推导策略执行状态。
func (s *Strategy) RecomputeMetrics() {
	if s == nil {
		return
	}
	metrics := ExecutionMetrics{}
	for _, phase := range s.Phases {
		for _, task := range phase.Tasks {
			if task == nil {
				continue
			}
			metrics.TasksTotal++
			switch task.Status {
			case StatusExecuted:
				metrics.TasksCompleted++
			case StatusFailed:
				metrics.TasksFailed++
			case StatusCancelled:
				metrics.TasksCancelled++
			case StatusPending, StatusScheduled:
				metrics.TasksPending++
			}
		}
	}
	s.Metrics = metrics

	switch {
	case metrics.TasksTotal == 0:
		// 空策略保持原状态。
	case metrics.TasksPending == 0 && metrics.TasksCompleted > 0:
		s.Status = ExecutionCompleted
	case metrics.TasksPending == 0 && metrics.TasksCompleted == 0:
		s.Status = ExecutionFailed
	case metrics.TasksCompleted > 0 || metrics.TasksFailed > 0:
		s.Status = ExecutionInProgress
	}
}

// Clone 返回策略的深拷贝，避免调用方修改存储内部状态。
func (s *Strategy) Clone() *Strategy {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Phases = make([]*Phase, 0, len(s.Phases))
	for _, phase := range s.Phases {
		if phase == nil {
			continue
		}
		phaseCopy := Phase{
			Name:             phase.Name,
			ExpectedDuration: phase.ExpectedDuration,
			Tasks:            make([]*Task, 0, len(phase.Tasks)),
		}
		for _, task := range phase.Tasks {
			phaseCopy.Tasks = append(phaseCopy.Tasks, cloneTask(task))
		}
		clone.Phases = append(clone.Phases, &phaseCopy)
	}
	return &clone
}
