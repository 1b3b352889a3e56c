package repository

import (
	"context"
	"time"

	"bankledger/internal/model"

	"gorm.io/gorm"
)

// OutboxRepository 事件发件箱：写入与账务变更同事务，投递由 job.OutboxSender 负责
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue tx 非空时在调用方事务内写入
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	return tx.WithContext(ctx).Create(msg).Error
}

// ListPending 按写入顺序取待投递消息
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkSent 记录投递时间；只对 PENDING 生效
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Updates(map[string]interface{}{
			"status":  model.OutboxStatusSent,
			"sent_at": sentAt,
		}).Error
}

// RecordFailure 重试次数加一并保存最近一次错误；达到 maxRetry 时标记为 FAILED
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, maxRetry int, cause error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.OutboxMessage{}).
			Where("id = ? AND status = ?", id, model.OutboxStatusPending).
			UpdateColumns(map[string]interface{}{
				"retry_count": gorm.Expr("retry_count + 1"),
				"last_error":  model.TruncateError(cause),
			}).Error
		if err != nil {
			return err
		}
		return tx.Model(&model.OutboxMessage{}).
			Where("id = ? AND status = ? AND retry_count >= ?", id, model.OutboxStatusPending, maxRetry).
			Update("status", model.OutboxStatusFailed).Error
	})
}

func (r *OutboxRepository) GetByKey(ctx context.Context, key string) (*model.OutboxMessage, error) {
	var msg model.OutboxMessage
	if err := r.db.WithContext(ctx).Where("message_key = ?", key).First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}
