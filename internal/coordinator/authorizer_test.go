package coordinator

import (
	"testing"

	"InvestPilot/internal/executor"
	"InvestPilot/internal/strategy"
)

func TestAuthorizeTradeRequiresPermission(t *testing.T) {
	caps := executor.Capabilities{
		CanExecuteTrades:     false,
		MaxTransactionAmount: 1000,
		AllowedTokens:        []string{"BTC"},
	}
	task := &strategy.Task{ID: "t1", Type: strategy.TaskBuy, TokenSymbol: "BTC", Allocation: "100"}

	if decision := Authorize(caps, task, 0); decision.Allowed {
		t.Fatal("expected trade task to be denied without trade permission")
	}

	monitor := &strategy.Task{ID: "t2", Type: strategy.TaskMonitor, TokenSymbol: "BTC", Allocation: "0"}
	if decision := Authorize(caps, monitor, 0); !decision.Allowed {
		t.Fatalf("expected non-trade task to pass, got %q", decision.Reason)
	}
}

func TestAuthorizeTokenAllowlist(t *testing.T) {
	caps := executor.Capabilities{
		CanExecuteTrades:     true,
		MaxTransactionAmount: 1000,
		AllowedTokens:        []string{"BTC", "ETH"},
	}
	task := &strategy.Task{ID: "t1", Type: strategy.TaskBuy, TokenSymbol: "DOGE", Allocation: "100"}

	if decision := Authorize(caps, task, 0); decision.Allowed {
		t.Fatal("expected token outside allowlist to be denied")
	}
}

func TestAuthorizeAllocationLimit(t *testing.T) {
	caps := executor.Capabilities{
		CanExecuteTrades:     true,
		MaxTransactionAmount: 1000,
		AllowedTokens:        []string{"BTC"},
	}

	within := &strategy.Task{ID: "t1", Type: strategy.TaskBuy, TokenSymbol: "BTC", Allocation: "600"}
	if decision := Authorize(caps, within, 0); !decision.Allowed {
		t.Fatalf("expected allocation within limit to pass, got %q", decision.Reason)
	}

	over := &strategy.Task{ID: "t2", Type: strategy.TaskBuy, TokenSymbol: "BTC", Allocation: "1500"}
	if decision := Authorize(caps, over, 0); decision.Allowed {
		t.Fatal("expected allocation above limit to be denied")
	}
}

func TestAuthorizePercentageAllocationUsesBudget(t *testing.T) {
	caps := executor.Capabilities{
		CanExecuteTrades:     true,
		MaxTransactionAmount: 1000,
		AllowedTokens:        []string{"BTC"},
	}
	task := &strategy.Task{ID: "t1", Type: strategy.TaskBuy, TokenSymbol: "BTC", Allocation: "25%"}

	// 25% of 2000 = 500, within the limit.
	if decision := Authorize(caps, task, 2000); !decision.Allowed {
		t.Fatalf("expected 25%% of 2000 to pass, got %q", decision.Reason)
	}
	// 25% of 8000 = 2000, above the limit.
	if decision := Authorize(caps, task, 8000); decision.Allowed {
		t.Fatal("expected 25% of 8000 to exceed the limit")
	}
}

func TestAuthorizeUnparseableAllocation(t *testing.T) {
	caps := executor.Capabilities{
		CanExecuteTrades:     true,
		MaxTransactionAmount: 1000,
		AllowedTokens:        []string{"BTC"},
	}
	task := &strategy.Task{ID: "t1", Type: strategy.TaskBuy, TokenSymbol: "BTC", Allocation: "lots"}

	if decision := Authorize(caps, task, 0); decision.Allowed {
		t.Fatal("expected unparseable allocation to be denied")
	}
}
