package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// lastErrorLimit 与 LastError 列宽一致
const lastErrorLimit = 512

// OutboxMessage 账务事件发件箱
// 与 APPLIED 流水在同一个数据库事务中写入，MessageKey 即流水号，一笔流水至多一条事件；
// 由 OutboxSender 按 id 顺序投递，MessageKey 同时作为 Kafka 分区键
type OutboxMessage struct {
	ID         int64           `gorm:"primaryKey;autoIncrement;index:idx_outbox_status_id,priority:2" json:"id"`
	MessageKey string          `gorm:"type:varchar(64);uniqueIndex:uk_outbox_message_key;not null" json:"message_key"`
	EventType  TransactionKind `gorm:"type:varchar(16)" json:"event_type"`
	Topic      string          `gorm:"type:varchar(128);not null" json:"topic"`
	Payload    string          `gorm:"type:text;not null" json:"payload"`
	Status     string          `gorm:"type:varchar(20);index:idx_outbox_status_id,priority:1;not null;default:PENDING" json:"status"`
	RetryCount int             `gorm:"not null;default:0" json:"retry_count"`
	LastError  string          `gorm:"type:varchar(512)" json:"last_error,omitempty"`
	SentAt     *time.Time      `json:"sent_at,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// NewLedgerEvent 为已生效的流水构造发件箱消息
func NewLedgerEvent(txn *Transaction, topic string, payload []byte) *OutboxMessage {
	return &OutboxMessage{
		MessageKey: txn.TransactionNo,
		EventType:  txn.Kind,
		Topic:      topic,
		Payload:    string(payload),
		Status:     OutboxStatusPending,
	}
}

// TruncateError 截断到 LastError 列宽，按 rune 边界切
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= lastErrorLimit {
		return msg
	}
	cut := 0
	for i := range msg {
		if i > lastErrorLimit {
			break
		}
		cut = i
	}
	return msg[:cut]
}
