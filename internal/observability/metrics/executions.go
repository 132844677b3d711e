package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type executionKey struct {
	agentID string
	result  string
}

type executions struct {
	mu        sync.Mutex
	outcomes  map[executionKey]uint64
	queued    map[string]uint64
	cycles    map[string]uint64
	cycleTime map[string]*histogram
}

var executionCollector = &executions{
	outcomes:  make(map[executionKey]uint64),
	queued:    make(map[string]uint64),
	cycles:    make(map[string]uint64),
	cycleTime: make(map[string]*histogram),
}

// ObserveExecution records the outcome of a single task execution attempt.
func ObserveExecution(agentID string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	executionCollector.mu.Lock()
	defer executionCollector.mu.Unlock()
	executionCollector.outcomes[executionKey{agentID: agentID, result: result}]++
}

// ObserveQueuedForApproval records a task deferred to manual approval.
func ObserveQueuedForApproval(agentID string) {
	executionCollector.mu.Lock()
	defer executionCollector.mu.Unlock()
	executionCollector.queued[agentID]++
}

// ObserveMonitorCycle records a completed monitoring cycle for an agent.
func ObserveMonitorCycle(agentID string, duration time.Duration) {
	executionCollector.mu.Lock()
	defer executionCollector.mu.Unlock()
	executionCollector.cycles[agentID]++
	hist := executionCollector.cycleTime[agentID]
	if hist == nil {
		hist = newHistogram()
		executionCollector.cycleTime[agentID] = hist
	}
	hist.observe(duration.Seconds())
}

func (e *executions) render() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var builder strings.Builder
	builder.Grow(512)

	outcomeKeys := make([]executionKey, 0, len(e.outcomes))
	for key := range e.outcomes {
		outcomeKeys = append(outcomeKeys, key)
	}
	sort.Slice(outcomeKeys, func(i, j int) bool {
		if outcomeKeys[i].agentID == outcomeKeys[j].agentID {
			return outcomeKeys[i].result < outcomeKeys[j].result
		}
		return outcomeKeys[i].agentID < outcomeKeys[j].agentID
	})
	builder.WriteString("# HELP investpilot_task_executions_total Total number of task execution attempts.\n")
	builder.WriteString("# TYPE investpilot_task_executions_total counter\n")
	for _, key := range outcomeKeys {
		builder.WriteString(fmt.Sprintf("investpilot_task_executions_total{agent_id=\"%s\",result=\"%s\"} %d\n",
			escape(key.agentID), escape(key.result), e.outcomes[key]))
	}

	queuedAgents := sortedKeys(e.queued)
	builder.WriteString("# HELP investpilot_tasks_queued_for_approval_total Total number of tasks deferred to manual approval.\n")
	builder.WriteString("# TYPE investpilot_tasks_queued_for_approval_total counter\n")
	for _, agentID := range queuedAgents {
		builder.WriteString(fmt.Sprintf("investpilot_tasks_queued_for_approval_total{agent_id=\"%s\"} %d\n",
			escape(agentID), e.queued[agentID]))
	}

	cycleAgents := sortedKeys(e.cycles)
	builder.WriteString("# HELP investpilot_monitor_cycles_total Total number of completed monitoring cycles.\n")
	builder.WriteString("# TYPE investpilot_monitor_cycles_total counter\n")
	for _, agentID := range cycleAgents {
		builder.WriteString(fmt.Sprintf("investpilot_monitor_cycles_total{agent_id=\"%s\"} %d\n",
			escape(agentID), e.cycles[agentID]))
	}

	histAgents := make([]string, 0, len(e.cycleTime))
	for agentID := range e.cycleTime {
		histAgents = append(histAgents, agentID)
	}
	sort.Strings(histAgents)
	builder.WriteString("# HELP investpilot_monitor_cycle_duration_seconds Monitoring cycle duration in seconds.\n")
	builder.WriteString("# TYPE investpilot_monitor_cycle_duration_seconds histogram\n")
	for _, agentID := range histAgents {
		hist := e.cycleTime[agentID]
		for idx, bound := range hist.buckets {
			builder.WriteString(fmt.Sprintf("investpilot_monitor_cycle_duration_seconds_bucket{agent_id=\"%s\",le=\"%s\"} %d\n",
				escape(agentID), formatFloat(bound), hist.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("investpilot_monitor_cycle_duration_seconds_bucket{agent_id=\"%s\",le=\"+Inf\"} %d\n",
			escape(agentID), hist.count))
		builder.WriteString(fmt.Sprintf("investpilot_monitor_cycle_duration_seconds_sum{agent_id=\"%s\"} %s\n",
			escape(agentID), formatFloat(hist.sum)))
		builder.WriteString(fmt.Sprintf("investpilot_monitor_cycle_duration_seconds_count{agent_id=\"%s\"} %d\n",
			escape(agentID), hist.count))
	}

	return builder.String()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
