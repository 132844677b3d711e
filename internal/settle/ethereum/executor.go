package ethereum

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "InvestPilot/internal/errors"
	"InvestPilot/internal/market"
	"InvestPilot/internal/settle"
	"InvestPilot/internal/strategy"
)

// routerABI 描述链上结算路由合约的入口方法。
const routerABI = `[{"name":"settle","type":"function","inputs":[
    {"name":"action","type":"string"},
    {"name":"token","type":"string"},
    {"name":"amount","type":"uint256"}],"outputs":[]}]`

// weiPerUnit 将以稳定币计价的金额折算为最小单位（18 位精度）。
var weiPerUnit = new(big.Float).SetFloat64(1e18)

// Signer 抽象交易签名能力。密钥管理由外部协作方负责。
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error)
}

// Config describes how to construct an EVM settlement executor.
type Config struct {
	Name    string
	RPCURL  string
	Router  string
	ChainID int64
}

// Executor 通过 EVM 链上的结算路由完成真实的价值转移。
type Executor struct {
	name      string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	router    common.Address
	chainID   *big.Int
	signer    Signer
	parsedABI abi.ABI
	simulator *settle.Simulator
	mu        sync.Mutex
}

// NewExecutor dials the configured RPC endpoint and returns a ready-to-use executor.
func NewExecutor(ctx context.Context, cfg Config, signer Signer) (*Executor, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "未配置结算链 RPC 地址")
	}
	if signer == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "未配置交易签名器")
	}
	router := strings.TrimSpace(cfg.Router)
	if !common.IsHexAddress(router) {
		return nil, xerrors.New(xerrors.CodeValidation, "结算路由地址非法")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "连接结算链节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "获取链 ID 失败")
		}
	}

	parsedABI, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "解析结算路由 ABI 失败")
	}

	return &Executor{
		name:      cfg.Name,
		rpcClient: rpcClient,
		eth:       eth,
		router:    common.HexToAddress(router),
		chainID:   chainID,
		signer:    signer,
		parsedABI: parsedABI,
		simulator: settle.NewSimulator(),
	}, nil
}

// Close releases network connections held by the executor.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eth != nil {
		e.eth.Close()
		e.eth = nil
	}
	if e.rpcClient != nil {
		e.rpcClient.Close()
		e.rpcClient = nil
	}
}

// Execute 将任务折算成结算路由调用并同步等待上链结果。
// 结算失败通过 Outcome 表达，只有基础设施层面的错误才作为 error 返回。
func (e *Executor) Execute(ctx context.Context, task *strategy.Task, agentCtx settle.AgentContext) (settle.Outcome, error) {
	if task == nil {
		return settle.Outcome{}, xerrors.New(xerrors.CodeValidation, "task 不能为空")
	}
	e.mu.Lock()
	eth := e.eth
	e.mu.Unlock()
	if eth == nil {
		return settle.Outcome{}, xerrors.New(xerrors.CodeInitialization, "结算客户端已关闭")
	}

	amountWei := toWei(agentCtx.Amount)
	calldata, err := e.parsedABI.Pack("settle", string(task.Type), task.TokenSymbol, amountWei)
	if err != nil {
		return settle.Outcome{}, xerrors.Wrap(xerrors.CodeSettlementFailed, err, "编码结算参数失败")
	}

	from := e.signer.Address()
	nonce, err := eth.PendingNonceAt(ctx, from)
	if err != nil {
		return failedOutcome(agentCtx.Amount, fmt.Errorf("查询 nonce 失败: %w", err)), nil
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return failedOutcome(agentCtx.Amount, fmt.Errorf("查询 gas 价格失败: %w", err)), nil
	}
	gasLimit, err := eth.EstimateGas(ctx, buildCallMsg(from, e.router, calldata))
	if err != nil {
		return failedOutcome(agentCtx.Amount, fmt.Errorf("估算 gas 失败: %w", err)), nil
	}

	tx := coretypes.NewTransaction(nonce, e.router, big.NewInt(0), gasLimit, gasPrice, calldata)
	signed, err := e.signer.SignTx(ctx, tx, e.chainID)
	if err != nil {
		return failedOutcome(agentCtx.Amount, fmt.Errorf("签名交易失败: %w", err)), nil
	}

	if err := eth.SendTransaction(ctx, signed); err != nil {
		return failedOutcome(agentCtx.Amount, fmt.Errorf("广播交易失败: %w", err)), nil
	}

	receipt, err := bind.WaitMined(ctx, eth, signed)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
			return settle.Outcome{}, xerrors.Wrap(xerrors.CodeTimeout, err, "等待交易确认超时")
		}
		return failedOutcome(agentCtx.Amount, fmt.Errorf("等待交易确认失败: %w", err)), nil
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		outcome := failedOutcome(agentCtx.Amount, stdErrors.New("交易被链上回滚"))
		outcome.TransactionHash = signed.Hash().Hex()
		outcome.GasUsed = receipt.GasUsed
		return outcome, nil
	}

	return settle.Outcome{
		Success:         true,
		TransactionHash: signed.Hash().Hex(),
		AmountExecuted:  agentCtx.Amount,
		GasUsed:         receipt.GasUsed,
	}, nil
}

// Simulate 不触达链上，直接按行情快照推算结果。
func (e *Executor) Simulate(ctx context.Context, task *strategy.Task, snapshot market.Snapshot) (settle.Outcome, error) {
	return e.simulator.Simulate(ctx, task, snapshot)
}

func buildCallMsg(from, to common.Address, data []byte) gethcore.CallMsg {
	return gethcore.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	}
}

func failedOutcome(amount float64, cause error) settle.Outcome {
	return settle.Outcome{
		Success:        false,
		AmountExecuted: amount,
		ErrorMessage:   cause.Error(),
	}
}

func toWei(amount float64) *big.Int {
	wei, _ := new(big.Float).Mul(new(big.Float).SetFloat64(amount), weiPerUnit).Int(nil)
	return wei
}

var _ settle.Executor = (*Executor)(nil)
