package executor

import (
	"context"
	stdErrors "errors"
	"testing"
)

func TestAgentStatusMachine(t *testing.T) {
	allowed := []struct{ from, to AgentStatus }{
		{AgentCreated, AgentConfigured},
		{AgentConfigured, AgentActive},
		{AgentActive, AgentPaused},
		{AgentPaused, AgentActive},
		{AgentActive, AgentError},
		{AgentError, AgentActive},
		{AgentError, AgentConfigured},
		{AgentActive, AgentStopped},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to AgentStatus }{
		{AgentCreated, AgentActive},
		{AgentStopped, AgentActive},
		{AgentPaused, AgentError},
		{AgentConfigured, AgentPaused},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestAgentTransitionRejectsInvalidMove(t *testing.T) {
	agent := &Agent{ID: "agent-1", Status: AgentCreated}
	if err := agent.Transition(AgentActive); !stdErrors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if agent.Status != AgentCreated {
		t.Fatalf("failed transition must not change status, got %s", agent.Status)
	}

	if err := agent.Transition(AgentConfigured); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := agent.Transition(AgentActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if agent.Status != AgentActive {
		t.Fatalf("expected active, got %s", agent.Status)
	}
}

func TestAgentRunStateCycle(t *testing.T) {
	agent := &Agent{ID: "agent-1", Status: AgentActive}

	agent.BeginCycle()
	if agent.State.Status != RunMonitoring {
		t.Fatalf("expected monitoring, got %s", agent.State.Status)
	}
	agent.BeginExecution("task-1")
	if agent.State.Status != RunExecuting || agent.State.CurrentTask != "task-1" {
		t.Fatalf("unexpected executing state: %+v", agent.State)
	}
	agent.EndCycle()
	if agent.State.Status != RunIdle || agent.State.CurrentTask != "" {
		t.Fatalf("expected idle with cleared task, got %+v", agent.State)
	}

	agent.BeginExecution("task-2")
	agent.FailCycle()
	if agent.State.Status != RunError || agent.State.CurrentTask != "" {
		t.Fatalf("expected error with cleared task, got %+v", agent.State)
	}
}

func TestMemoryStoreSoftDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	agent := &Agent{ID: "agent-1", StrategyID: "strat-1", Status: AgentActive}
	if err := store.Create(ctx, agent); err != nil {
		t.Fatalf("create: %v", err)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active agent, got %d", len(active))
	}

	if err := store.Deactivate(ctx, "agent-1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := store.Get(ctx, "agent-1"); !stdErrors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected soft-deleted agent to be hidden, got %v", err)
	}
	active, err = store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active agents after soft delete, got %d", len(active))
	}
}
