// Package event 红包生命周期事件发布
//
// Topic 列表 (短横线分隔, 无前缀):
//
//  1. red-envelope-created  登记成功后发送, Partition Key: envelope_id
//  2. red-envelope-grabbed  领取成功后发送, Partition Key: envelope_id
//  3. red-envelope-revoked  撤销成功后发送, Partition Key: envelope_id
//  4. red-envelope-sent     标记发送后发送, Partition Key: envelope_id
//  5. escrow-funding-orphaned  托管资金未完成登记, 供人工退款, Partition Key: funding_id
package event

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

const (
	TopicEnvelopeCreated = "red-envelope-created"
	TopicEnvelopeGrabbed = "red-envelope-grabbed"
	TopicEnvelopeRevoked = "red-envelope-revoked"
	TopicEnvelopeSent    = "red-envelope-sent"
	TopicFundingOrphaned = "escrow-funding-orphaned"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("producer is closed")

// Publisher 事件发布器接口
type Publisher interface {
	PublishEnvelopeCreated(ctx context.Context, evt *EnvelopeCreated) error
	PublishEnvelopeGrabbed(ctx context.Context, evt *EnvelopeGrabbed) error
	PublishEnvelopeRevoked(ctx context.Context, evt *EnvelopeRevoked) error
	PublishEnvelopeSent(ctx context.Context, evt *EnvelopeSent) error
	PublishFundingOrphaned(ctx context.Context, evt *FundingOrphaned) error
}

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = cfg.RequiredAcks
	if config.Producer.RequiredAcks == 0 {
		config.Producer.RequiredAcks = sarama.WaitForAll
	}
	config.Producer.Retry.Max = cfg.MaxRetries
	if config.Producer.Retry.Max == 0 {
		config.Producer.Retry.Max = 3
	}
	config.Producer.Retry.Backoff = cfg.RetryBackoff
	if config.Producer.Retry.Backoff == 0 {
		config.Producer.Retry.Backoff = 100 * time.Millisecond
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerWith(producer), nil
}

// NewProducerWith 基于已有的同步生产者创建
func NewProducerWith(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

func (p *Producer) send(topic, key string, payload interface{}) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func envelopeKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (p *Producer) PublishEnvelopeCreated(ctx context.Context, evt *EnvelopeCreated) error {
	return p.send(TopicEnvelopeCreated, envelopeKey(evt.EnvelopeID), evt)
}

func (p *Producer) PublishEnvelopeGrabbed(ctx context.Context, evt *EnvelopeGrabbed) error {
	return p.send(TopicEnvelopeGrabbed, envelopeKey(evt.EnvelopeID), evt)
}

func (p *Producer) PublishEnvelopeRevoked(ctx context.Context, evt *EnvelopeRevoked) error {
	return p.send(TopicEnvelopeRevoked, envelopeKey(evt.EnvelopeID), evt)
}

func (p *Producer) PublishEnvelopeSent(ctx context.Context, evt *EnvelopeSent) error {
	return p.send(TopicEnvelopeSent, envelopeKey(evt.EnvelopeID), evt)
}

func (p *Producer) PublishFundingOrphaned(ctx context.Context, evt *FundingOrphaned) error {
	return p.send(TopicFundingOrphaned, evt.FundingID, evt)
}

// NoopPublisher 未配置 Kafka 时使用, 丢弃所有事件
type NoopPublisher struct{}

func (NoopPublisher) PublishEnvelopeCreated(context.Context, *EnvelopeCreated) error { return nil }
func (NoopPublisher) PublishEnvelopeGrabbed(context.Context, *EnvelopeGrabbed) error { return nil }
func (NoopPublisher) PublishEnvelopeRevoked(context.Context, *EnvelopeRevoked) error { return nil }
func (NoopPublisher) PublishEnvelopeSent(context.Context, *EnvelopeSent) error       { return nil }
func (NoopPublisher) PublishFundingOrphaned(context.Context, *FundingOrphaned) error { return nil }
