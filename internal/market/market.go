package market

import "context"

// TokenQuote 是快照中单个代币的行情。
type TokenQuote struct {
	Symbol    string  `json:"symbol"`
	PriceUSD  float64 `json:"price_usd"`
	Volume24h float64 `json:"volume_24h"`
	Change24h float64 `json:"change_24h"`
}

// Snapshot 是一次行情拉取的不可变结果。协调器在单个周期内只取一次快照。
type Snapshot struct {
	Network   string       `json:"network"`
	TopTokens []TokenQuote `json:"top_tokens"`
	Timestamp int64        `json:"timestamp"`
}

// Quote 按代币符号查找行情。快照中缺失的代币返回 nil。
func (s Snapshot) Quote(symbol string) *TokenQuote {
	for i := range s.TopTokens {
		if s.TopTokens[i].Symbol == symbol {
			return &s.TopTokens[i]
		}
	}
	return nil
}

// Empty 判断快照是否不含任何行情数据。
func (s Snapshot) Empty() bool {
	return len(s.TopTokens) == 0
}

// Provider 抽象行情数据源。
//
// 实现约定：FetchSnapshot 不向上传播失败。内部出错时返回空快照，
// 让调度周期报告"无就绪任务"而不是崩溃。
type Provider interface {
	FetchSnapshot(ctx context.Context, network string) Snapshot
}
