package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig 描述告警交换机的连接参数。
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Durable    bool
}

// AMQPNotifier 将告警事件以 JSON 投递到 AMQP 交换机，供外部系统订阅。
type AMQPNotifier struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPNotifier 创建 AMQP 通知器实例。
func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("AMQP URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "investpilot.alerts"
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = "execution.alert"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 AMQP 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 AMQP channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 AMQP 交换机失败: %w", err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// Channel 返回 AMQP 渠道。
func (n *AMQPNotifier) Channel() Channel { return ChannelAMQP }

// Notify 发布告警事件。
func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.ch == nil {
		return errors.New("AMQP 通知器未初始化")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化告警事件失败: %w", err)
	}
	return n.ch.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close 关闭 AMQP 连接。
func (n *AMQPNotifier) Close() error {
	if n == nil {
		return nil
	}
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
