package mq

import (
	"context"
	"fmt"

	"bankledger/internal/config"

	"github.com/IBM/sarama"
)

// KafkaProducer 同步生产者，供 OutboxSender 投递账务事件
type KafkaProducer struct {
	producer sarama.SyncProducer
}

// NewKafkaProducer 创建 Kafka 生产者
func NewKafkaProducer(cfg config.KafkaConfig) (*KafkaProducer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("new kafka producer: %w", err)
	}
	return NewKafkaProducerFrom(producer), nil
}

// NewKafkaProducerFrom 包装已有的 SyncProducer（测试里传 mocks.SyncProducer）
func NewKafkaProducerFrom(producer sarama.SyncProducer) *KafkaProducer {
	return &KafkaProducer{producer: producer}
}

// Publish 发送消息；key 相同的消息落在同一分区，保证单笔流水的有序
func (p *KafkaProducer) Publish(_ context.Context, topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	return nil
}

// Close 关闭生产者
func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
