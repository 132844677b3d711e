package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "InvestPilot/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisQueue 使用 Redis list 持久化待批准条目，
// 多个协调器实例可以共享同一个队列。
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "investpilot:approvals"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "连接 Redis 失败")
	}
	return &RedisQueue{client: client, prefix: prefix}, nil
}

func (q *RedisQueue) key(agentID string) string {
	return fmt.Sprintf("%s:%s", q.prefix, agentID)
}

// Enqueue 将条目追加到执行体对应的列表尾部。
func (q *RedisQueue) Enqueue(ctx context.Context, entry Entry) error {
	if entry.ID == "" || entry.AgentID == "" || entry.TaskID == "" {
		return xerrors.New(xerrors.CodeValidation, "待批准条目字段不完整")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "编码待批准条目失败")
	}
	if err := q.client.RPush(ctx, q.key(entry.AgentID), payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 入队失败")
	}
	return nil
}

// ListByAgent 返回指定执行体的全部待批准条目。
func (q *RedisQueue) ListByAgent(ctx context.Context, agentID string) ([]Entry, error) {
	values, err := q.client.LRange(ctx, q.key(agentID), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 读取队列失败")
	}
	entries := make([]Entry, 0, len(values))
	for _, value := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解析待批准条目失败")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Remove 按 ID 原子移除一条记录。
// LREM 按值整体移除，两个并发批准者中只有一个能拿到 removed=1。
func (q *RedisQueue) Remove(ctx context.Context, agentID, entryID string) (Entry, bool, error) {
	values, err := q.client.LRange(ctx, q.key(agentID), 0, -1).Result()
	if err != nil {
		return Entry{}, false, xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 读取队列失败")
	}
	for _, value := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return Entry{}, false, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解析待批准条目失败")
		}
		if entry.ID != entryID {
			continue
		}
		removed, err := q.client.LRem(ctx, q.key(agentID), 1, value).Result()
		if err != nil {
			return Entry{}, false, xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 移除条目失败")
		}
		if removed == 0 {
			// 已被并发批准者取走。
			return Entry{}, false, nil
		}
		return entry, true, nil
	}
	return Entry{}, false, nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
