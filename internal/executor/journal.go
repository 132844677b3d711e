package executor

import "time"

// maxErrorHistory 限制错误日志的长度，超出后按先进先出淘汰。
const maxErrorHistory = 50

// RecordSuccess 记录一次成功的执行尝试并刷新派生指标。
func (s *ExecutionState) RecordSuccess() {
	now := time.Now().Unix()
	s.Metrics.TotalTasksExecuted++
	s.Metrics.SuccessfulExecutions++
	s.refreshUptime()
	s.LastExecution = now
	s.LastActiveAt = now
}

// RecordFailure 记录一次失败的执行尝试，并将错误追加进日志。
func (s *ExecutionState) RecordFailure(taskID string, cause error) {
	now := time.Now().Unix()
	s.Metrics.TotalTasksExecuted++
	s.Metrics.FailedExecutions++
	s.refreshUptime()
	s.LastExecution = now
	s.LastActiveAt = now

	message := ""
	if cause != nil {
		message = cause.Error()
	}
	s.ErrorHistory = append(s.ErrorHistory, ErrorEntry{
		Timestamp: now,
		TaskID:    taskID,
		Error:     message,
		Resolved:  false,
	})
	if len(s.ErrorHistory) > maxErrorHistory {
		s.ErrorHistory = s.ErrorHistory[len(s.ErrorHistory)-maxErrorHistory:]
	}
}

// refreshUptime 重算成功率。没有任何尝试时为 0。
func (s *ExecutionState) refreshUptime() {
	if s.Metrics.TotalTasksExecuted == 0 {
		s.Metrics.Uptime = 0
		return
	}
	s.Metrics.Uptime = float64(s.Metrics.SuccessfulExecutions) /
		float64(s.Metrics.TotalTasksExecuted) * 100
}

// ResolveError 将指定任务最近的一条错误标记为已处理。
func (s *ExecutionState) ResolveError(taskID string) bool {
	for i := len(s.ErrorHistory) - 1; i >= 0; i-- {
		if s.ErrorHistory[i].TaskID == taskID && !s.ErrorHistory[i].Resolved {
			s.ErrorHistory[i].Resolved = true
			return true
		}
	}
	return false
}
