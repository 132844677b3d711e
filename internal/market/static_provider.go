package market

import (
	"context"
	"sync"
	"time"
)

// StaticProvider 返回固定行情，用于测试与干跑环境。
type StaticProvider struct {
	mu     sync.RWMutex
	quotes []TokenQuote
}

// NewStaticProvider 创建静态行情源。
func NewStaticProvider(quotes ...TokenQuote) *StaticProvider {
	return &StaticProvider{quotes: quotes}
}

// SetQuotes 替换当前行情。
func (p *StaticProvider) SetQuotes(quotes ...TokenQuote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes = quotes
}

// FetchSnapshot 实现 Provider 接口。
func (p *StaticProvider) FetchSnapshot(_ context.Context, network string) Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Network:   network,
		TopTokens: append([]TokenQuote(nil), p.quotes...),
		Timestamp: time.Now().Unix(),
	}
}

var _ Provider = (*StaticProvider)(nil)
