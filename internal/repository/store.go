package repository

import (
	"context"

	"bankledger/internal/model"

	"github.com/shopspring/decimal"
)

// AccountStore 账户与流水的持久化抽象
//
// ApplyBalanceDelta 是余额唯一的变更入口，结果为负返回 ErrInsufficientFunds，
// 超过 model.MaxAmount 返回 ErrInvalidAmount，实现必须保证"检查 + 更新"原子完成，
// 调用方不做先读后写。
type AccountStore interface {
	CreateAccount(ctx context.Context, name, credentialHash string, initial decimal.Decimal) (*model.Account, error)
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	GetByName(ctx context.Context, name string) (*model.Account, error)
	ApplyBalanceDelta(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error)

	RecordTransaction(ctx context.Context, txn *model.Transaction) error
	// ListTransactions 按时间倒序分页，page 从 1 开始；返回当页数据与总数
	ListTransactions(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error)

	CountAccounts(ctx context.Context) (int64, error)

	// WithTransaction fn 返回错误时，fn 内通过 store 做的所有修改全部撤销
	WithTransaction(ctx context.Context, fn func(store AccountStore) error) error
}

func validInitialBalance(initial decimal.Decimal) error {
	if err := model.CheckMoneyRange(initial); err != nil {
		return err
	}
	if initial.IsNegative() {
		return model.ErrInvalidAmount
	}
	return nil
}

func pageBounds(total, page, pageSize int) (start, end int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return 0, 0
	}
	start = (page - 1) * pageSize
	if start > total {
		start = total
	}
	end = start + pageSize
	if end > total {
		end = total
	}
	return start, end
}
