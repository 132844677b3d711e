package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"InvestPilot/internal/api"
	"InvestPilot/internal/approval"
	"InvestPilot/internal/config"
	"InvestPilot/internal/coordinator"
	"InvestPilot/internal/executor"
	"InvestPilot/internal/market"
	"InvestPilot/internal/observability/alerting"
	"InvestPilot/internal/observability/metrics"
	"InvestPilot/internal/settle"
	"InvestPilot/internal/settle/ethereum"
	"InvestPilot/internal/strategy"
	"InvestPilot/pkg/logger"
)

// main 是 InvestPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("investpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("INVESTPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "investpilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: "json",
		Audit: logger.AuditConfig{
			Enabled:    true,
			Path:       filepath.Join(cfg.Logging.AuditDir, "audit.log"),
			MaxSizeMB:  64,
			MaxBackups: 5,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	var (
		strategyStore strategy.Store
		agentStore    executor.Store
	)
	switch cfg.Storage.Driver {
	case "", "memory":
		strategyStore = strategy.NewMemoryStore()
		agentStore = executor.NewMemoryStore()
	case "mysql":
		sStore, err := strategy.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		strategyStore = sStore
		aStore, err := executor.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			_ = sStore.Close()
			return err
		}
		agentStore = aStore
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
	defer func() {
		_ = strategyStore.Close()
		_ = agentStore.Close()
	}()

	var approvalQueue approval.Queue
	switch cfg.Approval.Driver {
	case "", "memory":
		approvalQueue = approval.NewMemoryQueue()
	case "redis":
		queue, err := approval.NewRedisQueue(approval.RedisQueueConfig{
			Address:  cfg.Approval.Redis.Address,
			Password: cfg.Approval.Redis.Password,
			DB:       cfg.Approval.Redis.DB,
		})
		if err != nil {
			return err
		}
		approvalQueue = queue
	default:
		return fmt.Errorf("未知的批准队列驱动: %s", cfg.Approval.Driver)
	}
	defer func() {
		if err := approvalQueue.Close(); err != nil {
			log.Printf("关闭批准队列失败: %v", err)
		}
	}()

	marketProvider := market.NewHTTPProvider(market.HTTPConfig{
		BaseURL: cfg.Market.BaseURL,
		APIKey:  cfg.Market.APIKey,
		Timeout: time.Duration(cfg.Market.TimeoutSeconds) * time.Second,
	})

	settlement, cleanup, err := createSettlement(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.AMQP.Enabled {
		amqpNotifier, err := alerting.NewAMQPNotifier(alerting.AMQPConfig{
			URL:        cfg.Alerting.AMQP.URL,
			Exchange:   cfg.Alerting.AMQP.Exchange,
			RoutingKey: cfg.Alerting.AMQP.RoutingKey,
			Durable:    cfg.Alerting.AMQP.Durable,
		})
		if err != nil {
			return err
		}
		defer amqpNotifier.Close()
		notifiers = append(notifiers, amqpNotifier)
	}

	coord := coordinator.New(strategyStore, agentStore, approvalQueue, marketProvider, settlement,
		coordinator.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
		coordinator.WithNetwork(cfg.Settlement.Network),
		coordinator.WithSnapshotTimeout(cfg.Coordinator.SnapshotTimeout()),
		coordinator.WithLogger(logger.Named("coordinator")),
	)

	runnerCtx, runnerCancel := context.WithCancel(ctx)
	defer runnerCancel()

	runner := coordinator.NewRunner(coord, agentStore, cfg.Coordinator.PollInterval())
	go func() {
		if err := runner.Start(runnerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("监控循环异常退出: %v", err)
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(runnerCtx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, coord)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createSettlement 根据配置选择结算通道。
func createSettlement(ctx context.Context, cfg *config.Config) (settle.Executor, func(), error) {
	noop := func() {}
	switch cfg.Settlement.Driver {
	case "", "simulator":
		return settle.NewSimulator(), noop, nil
	case "ethereum":
		defs, err := settle.LoadNetworkDefinitions(cfg.Settlement.NetworksFile)
		if err != nil {
			return nil, noop, err
		}

		rpcURL := cfg.Settlement.RPCURL
		var chainID int64
		if def, ok := defs.Networks[cfg.Settlement.Network]; ok {
			if rpcURL == "" {
				rpcURL = def.RPCURL
			}
			chainID = def.ChainID
		}

		signer, err := ethereum.NewKeySigner(cfg.Settlement.PrivateKey)
		if err != nil {
			return nil, noop, err
		}
		exec, err := ethereum.NewExecutor(ctx, ethereum.Config{
			Name:    cfg.Settlement.Network,
			RPCURL:  rpcURL,
			Router:  cfg.Settlement.RouterAddress,
			ChainID: chainID,
		}, signer)
		if err != nil {
			return nil, noop, err
		}
		return exec, exec.Close, nil
	default:
		return nil, noop, fmt.Errorf("未知的结算驱动: %s", cfg.Settlement.Driver)
	}
}
