package repository

import (
	"context"
	"errors"
	"fmt"

	"bankledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 关系库实现（mysql / postgres / sqlite）
// ============================================================================
//
// 余额变更是一条条件更新：
//
//   UPDATE account SET balance = balance + ?
//   WHERE id = ? AND balance + ? >= 0 AND balance + ? <= MaxAmount
//
// 影响行数为 0 时再查一次区分"账户不存在"、"余额不足"和"超出上限"。
// outboxTopic 非空时，APPLIED 的流水在同一事务内写一条发件箱消息。
// ============================================================================

type GormStore struct {
	db          *gorm.DB
	outbox      *OutboxRepository
	outboxTopic string
}

var _ AccountStore = (*GormStore)(nil)

func NewGormStore(db *gorm.DB, outboxTopic string) *GormStore {
	return &GormStore{
		db:          db,
		outbox:      NewOutboxRepository(db),
		outboxTopic: outboxTopic,
	}
}

func (s *GormStore) CreateAccount(ctx context.Context, name, credentialHash string, initial decimal.Decimal) (*model.Account, error) {
	if err := validInitialBalance(initial); err != nil {
		return nil, err
	}
	acc := &model.Account{
		Name:           name,
		CredentialHash: credentialHash,
		Balance:        initial,
	}
	if err := s.db.WithContext(ctx).Create(acc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, model.ErrDuplicateName
		}
		// 部分驱动不翻译唯一键错误，回查一次
		if _, lookupErr := s.GetByName(ctx, name); lookupErr == nil {
			return nil, model.ErrDuplicateName
		}
		return nil, fmt.Errorf("create account %q: %w", name, err)
	}
	return acc, nil
}

func (s *GormStore) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var acc model.Account
	if err := s.db.WithContext(ctx).First(&acc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	acc.Balance = acc.Balance.Round(2)
	return &acc, nil
}

func (s *GormStore) GetByName(ctx context.Context, name string) (*model.Account, error) {
	var acc model.Account
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	acc.Balance = acc.Balance.Round(2)
	return &acc, nil
}

func (s *GormStore) ApplyBalanceDelta(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := model.CheckMoneyRange(delta); err != nil {
		return decimal.Zero, err
	}
	result := s.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND balance + ? >= 0 AND balance + ? <= CAST(? AS DECIMAL(20,2))", id, delta, delta, model.MaxAmount).
		Update("balance", gorm.Expr("balance + ?", delta))
	if result.Error != nil {
		return decimal.Zero, fmt.Errorf("apply delta to account %d: %w", id, result.Error)
	}

	acc, err := s.GetByID(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if result.RowsAffected == 0 {
		if acc.Balance.Add(delta).GreaterThan(model.MaxAmount) {
			return decimal.Zero, fmt.Errorf("%w: balance would exceed %s", model.ErrInvalidAmount, model.MaxAmount.StringFixed(2))
		}
		return decimal.Zero, model.ErrInsufficientFunds
	}
	return acc.Balance, nil
}

func (s *GormStore) RecordTransaction(ctx context.Context, txn *model.Transaction) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(txn).Error; err != nil {
			return fmt.Errorf("record transaction %s: %w", txn.TransactionNo, err)
		}
		if s.outboxTopic == "" || txn.Status != model.StatusApplied {
			return nil
		}
		payload, err := txn.Event()
		if err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, model.NewLedgerEvent(txn, s.outboxTopic, payload))
	})
}

func (s *GormStore) ListTransactions(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	query := s.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("source_account_id = ? OR target_account_id = ?", accountID, accountID).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	txns := make([]*model.Transaction, 0)
	if pageSize < 1 {
		return txns, total, nil
	}
	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&txns).Error
	for _, t := range txns {
		t.Amount = t.Amount.Round(2)
	}
	return txns, total, err
}

func (s *GormStore) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Account{}).Count(&n).Error
	return n, err
}

// WithTransaction 嵌套调用复用外层事务（DisableNestedTransaction）
func (s *GormStore) WithTransaction(ctx context.Context, fn func(store AccountStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{
			db:          tx,
			outbox:      NewOutboxRepository(tx),
			outboxTopic: s.outboxTopic,
		})
	})
}
