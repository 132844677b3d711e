package market

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"InvestPilot/pkg/logger"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultTokenCap  = 50
	maxErrorBodySize = 2048
)

// HTTPConfig 描述行情 API 的调用方式。
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider 通过 HTTP JSON API 拉取行情快照。
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPProvider 根据配置创建行情客户端。
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("market"),
	}
}

// FetchSnapshot 拉取指定网络的行情快照。
// 任何失败都降级为空快照：协调器据此报告"无就绪任务"，周期不中断。
func (p *HTTPProvider) FetchSnapshot(ctx context.Context, network string) Snapshot {
	empty := Snapshot{Network: network, Timestamp: time.Now().Unix()}
	if p == nil || p.baseURL == "" {
		return empty
	}

	endpoint := p.baseURL + "/v1/snapshot?network=" + url.QueryEscape(network)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		p.logger.Warn("构建行情请求失败", slog.Any("error", err))
		return empty
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("请求行情数据失败", slog.Any("error", err), slog.String("network", network))
		return empty
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		p.logger.Warn("行情接口返回错误状态",
			slog.Int("status", resp.StatusCode),
			slog.String("body", strings.TrimSpace(string(body))),
		)
		return empty
	}

	var decoded struct {
		TopTokens []TokenQuote `json:"top_tokens"`
		Timestamp int64        `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		p.logger.Warn("解析行情响应失败", slog.Any("error", err))
		return empty
	}

	tokens := decoded.TopTokens
	if len(tokens) > defaultTokenCap {
		tokens = tokens[:defaultTokenCap]
	}
	timestamp := decoded.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}
	return Snapshot{
		Network:   network,
		TopTokens: tokens,
		Timestamp: timestamp,
	}
}

var _ Provider = (*HTTPProvider)(nil)
