package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account 账户表
// Balance 只能通过 AccountStore.ApplyBalanceDelta 变更，任何可观察时刻都满足 balance >= 0
type Account struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	CredentialHash string          `gorm:"type:varchar(128);not null;default:''" json:"-"` // bcrypt 哈希，空串表示无法登录
	Balance        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// CanLogin 通过 /createUser 建立的账户没有凭证
func (a *Account) CanLogin() bool {
	return a.CredentialHash != ""
}
