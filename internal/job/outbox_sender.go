package job

import (
	"context"
	"time"

	"bankledger/internal/model"
	"bankledger/internal/repository"

	"github.com/sirupsen/logrus"
)

// Publisher 消息投递端，生产环境为 mq.KafkaProducer
type Publisher interface {
	Publish(ctx context.Context, topic, key, value string) error
}

// OutboxSender 定时把发件箱中的账务事件投递到消息队列
type OutboxSender struct {
	outbox    *repository.OutboxRepository
	publisher Publisher
	log       logrus.FieldLogger
	interval  time.Duration
	batchSize int
	maxRetry  int
	stopCh    chan struct{}
	done      chan struct{}
	now       func() time.Time
}

func NewOutboxSender(outbox *repository.OutboxRepository, publisher Publisher, log logrus.FieldLogger,
	interval time.Duration, batchSize, maxRetry int) *OutboxSender {
	return &OutboxSender{
		outbox:    outbox,
		publisher: publisher,
		log:       log.WithField("job", "outbox_sender"),
		interval:  interval,
		batchSize: batchSize,
		maxRetry:  maxRetry,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start 阻塞运行，ctx 取消或 Stop 后返回；返回前关闭 Done
func (s *OutboxSender) Start(ctx context.Context) {
	defer close(s.done)
	s.log.Info("started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("context done, exiting")
			return
		case <-s.stopCh:
			s.log.Info("stopped")
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// Done 在 Start 返回后关闭，关闭生产者之前要等它，避免投递中途断开
func (s *OutboxSender) Done() <-chan struct{} {
	return s.done
}

// Flush 投递一批待发送消息，返回成功条数
func (s *OutboxSender) Flush(ctx context.Context) int {
	messages, err := s.outbox.ListPending(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("list pending messages failed")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	entry := s.log.WithFields(logrus.Fields{
		"id":    msg.ID,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
	})

	if publishErr := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload); publishErr != nil {
		entry.WithError(publishErr).Warn("publish failed")
		if err := s.outbox.RecordFailure(ctx, msg.ID, s.maxRetry, publishErr); err != nil {
			entry.WithError(err).Error("record failure failed")
		}
		if msg.RetryCount+1 >= s.maxRetry {
			entry.Error("retries exhausted, message marked FAILED")
		}
		return false
	}

	if err := s.outbox.MarkSent(ctx, msg.ID, s.now()); err != nil {
		entry.WithError(err).Error("mark sent failed")
		return false
	}
	entry.Debug("published")
	return true
}
