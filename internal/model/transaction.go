package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型与状态
// ============================================================================

type TransactionKind string

const (
	KindDeposit  TransactionKind = "DEPOSIT"
	KindWithdraw TransactionKind = "WITHDRAW"
	KindTransfer TransactionKind = "TRANSFER"
)

type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusApplied  TransactionStatus = "APPLIED"
	StatusRejected TransactionStatus = "REJECTED"
)

// 只允许 PENDING -> APPLIED 或 PENDING -> REJECTED，两个都是终态
var validStatusTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending: {StatusApplied, StatusRejected},
}

func CanTransitionTo(current, target TransactionStatus) bool {
	for _, s := range validStatusTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

// ============================================================================
// 账务流水实体
// ============================================================================

// Transaction 账务流水表
// 1. 只追加，不修改
// 2. Transfer 的两条腿共用一条流水，要么都生效要么都不生效
type Transaction struct {
	ID              int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo   string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	Kind            TransactionKind   `gorm:"type:varchar(16);not null" json:"kind"`
	Amount          decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"amount"`
	SourceAccountID *int64            `gorm:"index" json:"source_account_id,omitempty"`
	TargetAccountID *int64            `gorm:"index" json:"target_account_id,omitempty"`
	Status          TransactionStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Reason          string            `gorm:"type:varchar(256)" json:"reason,omitempty"`
	CreatedAt       time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "ledger_transaction"
}

// NewTransaction 创建 PENDING 状态的流水；source/target 为 0 表示该侧不存在
func NewTransaction(no string, kind TransactionKind, amount decimal.Decimal, source, target int64) *Transaction {
	t := &Transaction{
		TransactionNo: no,
		Kind:          kind,
		Amount:        amount,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}
	if source != 0 {
		t.SourceAccountID = &source
	}
	if target != 0 {
		t.TargetAccountID = &target
	}
	return t
}

func (t *Transaction) transition(to TransactionStatus) error {
	if !CanTransitionTo(t.Status, to) {
		return fmt.Errorf("transaction %s: illegal status change %s -> %s", t.TransactionNo, t.Status, to)
	}
	t.Status = to
	return nil
}

func (t *Transaction) MarkApplied() error {
	return t.transition(StatusApplied)
}

func (t *Transaction) MarkRejected(reason error) error {
	if err := t.transition(StatusRejected); err != nil {
		return err
	}
	if reason != nil {
		t.Reason = reason.Error()
	}
	return nil
}

// Involves 判断流水是否与账户相关
func (t *Transaction) Involves(accountID int64) bool {
	return (t.SourceAccountID != nil && *t.SourceAccountID == accountID) ||
		(t.TargetAccountID != nil && *t.TargetAccountID == accountID)
}

// EntryType 从某个账户的视角给出流水类型
func (t *Transaction) EntryType(accountID int64) string {
	switch t.Kind {
	case KindDeposit:
		return "deposit"
	case KindWithdraw:
		return "withdrawal"
	case KindTransfer:
		if t.SourceAccountID != nil && *t.SourceAccountID == accountID {
			return "transfer_sent"
		}
		return "transfer_received"
	}
	return string(t.Kind)
}

// Event 投递到消息队列的事件体
func (t *Transaction) Event() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"transaction_no":    t.TransactionNo,
		"kind":              t.Kind,
		"amount":            t.Amount.StringFixed(2),
		"source_account_id": t.SourceAccountID,
		"target_account_id": t.TargetAccountID,
		"status":            t.Status,
		"created_at":        t.CreatedAt.Format(time.RFC3339),
	})
}
