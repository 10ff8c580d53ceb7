// Package kafka 提供了向 Kafka 发布事件的功能。
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"chatwithcode/internal/config"
	"chatwithcode/pkg/events"
	"chatwithcode/pkg/log"

	"github.com/segmentio/kafka-go"
)

// messageWriter 抽象 kafka.Writer 的写入能力。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 把事件序列化为 JSON 写入配置的 topic，以工作区名作为消息 key。
type Producer struct {
	writer  messageWriter
	timeout time.Duration
}

// NewProducer 初始化 Kafka 生产者。未启用时返回丢弃事件的 Publisher。
func NewProducer(cfg config.KafkaConfig) events.Publisher {
	if !cfg.Enabled {
		return events.Nop()
	}
	brokers := strings.Split(cfg.Brokers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Infof("Kafka 生产者初始化成功, topic: %s", cfg.Topic)
	return &Producer{writer: w, timeout: 5 * time.Second}
}

// Publish 同步发送一个事件。
func (p *Producer) Publish(event events.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Workspace),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
