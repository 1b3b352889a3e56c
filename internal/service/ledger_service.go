package service

import (
	"context"
	"errors"
	"fmt"

	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/model"
	"bankledger/internal/repository"
	"bankledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ============================================================================
// 账务引擎
// ============================================================================
//
// 1. 金额必须 > 0、最多两位小数且不超过 model.MaxAmount，校验失败不触碰任何账户
// 2. 每个账户一把锁；转账按账户ID升序同时持有两把锁
// 3. 拿到锁之后的变更不再响应请求取消，要么完成要么整体回滚
// 4. 成功的流水与余额变更同一原子单元落库；被拒绝的流水尽力记录
// ============================================================================

const maxPageSize = 500

type LedgerService struct {
	store    repository.AccountStore
	locker   lock.Locker
	log      logrus.FieldLogger
	pageSize int
}

func NewLedgerService(store repository.AccountStore, locker lock.Locker, log logrus.FieldLogger, pageSize int) *LedgerService {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &LedgerService{
		store:    store,
		locker:   locker,
		log:      log,
		pageSize: pageSize,
	}
}

func validateAmount(amount decimal.Decimal) error {
	if err := model.CheckMoneyRange(amount); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than 0", model.ErrInvalidAmount)
	}
	return model.CheckCents(amount)
}

// Deposit 入账，返回新余额
func (s *LedgerService) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	txn := model.NewTransaction(idgen.GenerateTransactionNo(string(model.KindDeposit)), model.KindDeposit, amount, 0, accountID)
	return s.applySingle(ctx, txn, accountID, amount)
}

// Withdraw 出账，余额不足时账户不变
func (s *LedgerService) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	txn := model.NewTransaction(idgen.GenerateTransactionNo(string(model.KindWithdraw)), model.KindWithdraw, amount, accountID, 0)
	return s.applySingle(ctx, txn, accountID, amount.Neg())
}

func (s *LedgerService) applySingle(ctx context.Context, txn *model.Transaction, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	unlock, err := s.locker.Lock(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock account %d: %w", accountID, err)
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	var balance decimal.Decimal
	err = s.store.WithTransaction(ctx, func(store repository.AccountStore) error {
		var err error
		if balance, err = store.ApplyBalanceDelta(ctx, accountID, delta); err != nil {
			return err
		}
		if err := txn.MarkApplied(); err != nil {
			return err
		}
		return store.RecordTransaction(ctx, txn)
	})
	if err != nil {
		s.reject(ctx, txn, err)
		return decimal.Zero, err
	}

	s.log.WithFields(logrus.Fields{
		"account_id":     accountID,
		"kind":           txn.Kind,
		"amount":         txn.Amount.StringFixed(2),
		"transaction_no": txn.TransactionNo,
	}).Info("transaction applied")
	return balance, nil
}

// Transfer 扣款与入账作为一个原子单元；收款方不存在时扣款回滚并返回 ErrInvalidTarget
func (s *LedgerService) Transfer(ctx context.Context, sourceID, targetID int64, amount decimal.Decimal) (*model.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if sourceID == targetID {
		return nil, fmt.Errorf("%w: cannot transfer to the same account", model.ErrInvalidTarget)
	}

	unlock, err := s.locker.Lock(ctx, sourceID, targetID)
	if err != nil {
		return nil, fmt.Errorf("lock accounts %d,%d: %w", sourceID, targetID, err)
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	txn := model.NewTransaction(idgen.GenerateTransactionNo(string(model.KindTransfer)), model.KindTransfer, amount, sourceID, targetID)
	err = s.store.WithTransaction(ctx, func(store repository.AccountStore) error {
		if _, err := store.ApplyBalanceDelta(ctx, sourceID, amount.Neg()); err != nil {
			return err
		}
		if _, err := store.ApplyBalanceDelta(ctx, targetID, amount); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("%w: account %d does not exist", model.ErrInvalidTarget, targetID)
			}
			return err
		}
		if err := txn.MarkApplied(); err != nil {
			return err
		}
		return store.RecordTransaction(ctx, txn)
	})
	if err != nil {
		s.reject(ctx, txn, err)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"source_account_id": sourceID,
		"target_account_id": targetID,
		"amount":            amount.StringFixed(2),
		"transaction_no":    txn.TransactionNo,
	}).Info("transfer applied")
	return txn, nil
}

// reject 业务拒绝的流水记录为 REJECTED；账户不存在或系统错误只打日志
func (s *LedgerService) reject(ctx context.Context, txn *model.Transaction, cause error) {
	entry := s.log.WithFields(logrus.Fields{
		"kind":           txn.Kind,
		"amount":         txn.Amount.StringFixed(2),
		"transaction_no": txn.TransactionNo,
	}).WithError(cause)

	if !errors.Is(cause, model.ErrInsufficientFunds) && !errors.Is(cause, model.ErrInvalidTarget) &&
		!errors.Is(cause, model.ErrInvalidAmount) {
		if errors.Is(cause, model.ErrNotFound) {
			entry.Info("transaction rejected")
		} else {
			entry.Error("transaction failed")
		}
		return
	}

	entry.Info("transaction rejected")
	if txn.Status != model.StatusPending {
		// 标记 APPLIED 后才失败（写流水出错），保持原状
		return
	}
	if err := txn.MarkRejected(cause); err != nil {
		return
	}
	if err := s.store.RecordTransaction(ctx, txn); err != nil {
		entry.WithField("record_error", err.Error()).Warn("record rejected transaction failed")
	}
}

// BalanceOf 持有账户锁读取，读不到进行中转账的半边
func (s *LedgerService) BalanceOf(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	unlock, err := s.locker.Lock(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock account %d: %w", accountID, err)
	}
	defer unlock()

	acc, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// History 账户流水分页查询，pageSize <= 0 时使用配置的默认值
func (s *LedgerService) History(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	if _, err := s.store.GetByID(ctx, accountID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.store.ListTransactions(ctx, accountID, page, pageSize)
}
