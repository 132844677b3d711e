package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 InvestPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server      ServerConfig      `json:"server"`
	Storage     StorageConfig     `json:"storage"`
	Approval    ApprovalConfig    `json:"approval"`
	Market      MarketConfig      `json:"market"`
	Settlement  SettlementConfig  `json:"settlement"`
	Coordinator CoordinatorConfig `json:"coordinator"`
	Alerting    AlertingConfig    `json:"alerting"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// StorageConfig 统一描述策略与执行体存储的连接信息。
type StorageConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// ApprovalConfig 描述人工批准队列的后端。
type ApprovalConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// MarketConfig 描述行情数据源。
type MarketConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SettlementConfig 描述结算通道。driver 为 simulator 时不触达链上。
type SettlementConfig struct {
	Driver        string `json:"driver"`
	RPCURL        string `json:"rpc_url"`
	RouterAddress string `json:"router_address"`
	PrivateKey    string `json:"private_key"`
	NetworksFile  string `json:"networks_file"`
	Network       string `json:"network"`
}

// CoordinatorConfig 控制监控循环的节奏。
type CoordinatorConfig struct {
	PollIntervalSeconds    int `json:"poll_interval_seconds"`
	SnapshotTimeoutSeconds int `json:"snapshot_timeout_seconds"`
}

// AlertingConfig 描述告警投递渠道。
type AlertingConfig struct {
	AMQP AMQPAlertConfig `json:"amqp"`
}

// AMQPAlertConfig 描述 AMQP 告警交换机的连接参数。
type AMQPAlertConfig struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
	Durable    bool   `json:"durable"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level    string `json:"level"`
	AuditDir string `json:"audit_dir"`
}

// PollInterval 返回监控循环的调度间隔。
func (c CoordinatorConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SnapshotTimeout 返回行情拉取的超时时间。
func (c CoordinatorConfig) SnapshotTimeout() time.Duration {
	if c.SnapshotTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.SnapshotTimeoutSeconds) * time.Second
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Approval.Driver == "" {
		c.Approval.Driver = "memory"
	}
	if c.Approval.Redis.Address == "" {
		c.Approval.Redis.Address = "127.0.0.1:6379"
	}

	if c.Market.TimeoutSeconds <= 0 {
		c.Market.TimeoutSeconds = 10
	}

	if c.Settlement.Driver == "" {
		c.Settlement.Driver = "simulator"
	}
	if c.Settlement.Network == "" {
		c.Settlement.Network = "ethereum"
	}
	if c.Settlement.NetworksFile != "" && !filepath.IsAbs(c.Settlement.NetworksFile) {
		c.Settlement.NetworksFile = filepath.Join(baseDir, c.Settlement.NetworksFile)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.AuditDir == "" {
		c.Logging.AuditDir = filepath.Join(baseDir, "logs")
	} else if !filepath.IsAbs(c.Logging.AuditDir) {
		c.Logging.AuditDir = filepath.Join(baseDir, c.Logging.AuditDir)
	}
}
