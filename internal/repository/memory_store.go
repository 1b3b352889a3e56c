package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bankledger/internal/model"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 内存实现（database.driver = memory）
// ============================================================================
//
// 每个账户一把互斥锁，余额检查与更新在同一把锁内完成。
// WithTransaction 记录撤销日志：fn 失败时按逆序回滚余额变更与新建账户，
// 流水记录先缓存，成功后一次性提交。
// ============================================================================

type memoryAccount struct {
	mu      sync.Mutex
	account model.Account
}

type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[int64]*memoryAccount
	byName   map[string]int64
	nextID   int64

	txnMu     sync.RWMutex
	txns      []*model.Transaction
	nextTxnID int64
}

var _ AccountStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]*memoryAccount),
		byName:   make(map[string]int64),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, name, credentialHash string, initial decimal.Decimal) (*model.Account, error) {
	if err := validInitialBalance(initial); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return nil, model.ErrDuplicateName
	}
	s.nextID++
	now := time.Now()
	entry := &memoryAccount{account: model.Account{
		ID:             s.nextID,
		Name:           name,
		CredentialHash: credentialHash,
		Balance:        initial,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
	s.accounts[entry.account.ID] = entry
	s.byName[name] = entry.account.ID

	acc := entry.account
	return &acc, nil
}

func (s *MemoryStore) entry(id int64) (*memoryAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accounts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (*model.Account, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	acc := e.account
	e.mu.Unlock()
	return &acc, nil
}

func (s *MemoryStore) GetByName(ctx context.Context, name string) (*model.Account, error) {
	s.mu.RLock()
	id, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *MemoryStore) ApplyBalanceDelta(_ context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := model.CheckMoneyRange(delta); err != nil {
		return decimal.Zero, err
	}
	e, err := s.entry(id)
	if err != nil {
		return decimal.Zero, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.account.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, model.ErrInsufficientFunds
	}
	if next.GreaterThan(model.MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: balance would exceed %s", model.ErrInvalidAmount, model.MaxAmount.StringFixed(2))
	}
	e.account.Balance = next
	e.account.UpdatedAt = time.Now()
	return next, nil
}

// forceDelta 仅用于回滚：撤销一次已成功的变更，不做余额检查
func (s *MemoryStore) forceDelta(id int64, delta decimal.Decimal) {
	e, err := s.entry(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.account.Balance = e.account.Balance.Add(delta)
	e.mu.Unlock()
}

func (s *MemoryStore) removeAccount(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.accounts[id]; ok {
		delete(s.byName, e.account.Name)
		delete(s.accounts, id)
	}
}

func (s *MemoryStore) RecordTransaction(_ context.Context, txn *model.Transaction) error {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	s.appendLocked(txn)
	return nil
}

func (s *MemoryStore) appendLocked(txn *model.Transaction) {
	s.nextTxnID++
	txn.ID = s.nextTxnID
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	cp := *txn
	s.txns = append(s.txns, &cp)
}

func (s *MemoryStore) ListTransactions(_ context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	s.txnMu.RLock()
	matched := make([]*model.Transaction, 0)
	for _, t := range s.txns {
		if t.Involves(accountID) {
			cp := *t
			matched = append(matched, &cp)
		}
	}
	s.txnMu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	start, end := pageBounds(len(matched), page, pageSize)
	return matched[start:end], int64(len(matched)), nil
}

func (s *MemoryStore) CountAccounts(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.accounts)), nil
}

func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(store AccountStore) error) error {
	tx := &memoryTx{MemoryStore: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

// memoryTx WithTransaction 内部使用的视图
type memoryTx struct {
	*MemoryStore
	undo    []func()
	pending []*model.Transaction
}

func (t *memoryTx) CreateAccount(ctx context.Context, name, credentialHash string, initial decimal.Decimal) (*model.Account, error) {
	acc, err := t.MemoryStore.CreateAccount(ctx, name, credentialHash, initial)
	if err != nil {
		return nil, err
	}
	id := acc.ID
	t.undo = append(t.undo, func() { t.MemoryStore.removeAccount(id) })
	return acc, nil
}

func (t *memoryTx) ApplyBalanceDelta(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	balance, err := t.MemoryStore.ApplyBalanceDelta(ctx, id, delta)
	if err != nil {
		return decimal.Zero, err
	}
	reverse := delta.Neg()
	t.undo = append(t.undo, func() { t.MemoryStore.forceDelta(id, reverse) })
	return balance, nil
}

func (t *memoryTx) RecordTransaction(_ context.Context, txn *model.Transaction) error {
	t.pending = append(t.pending, txn)
	return nil
}

func (t *memoryTx) WithTransaction(_ context.Context, fn func(store AccountStore) error) error {
	return fn(t)
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memoryTx) commit() {
	if len(t.pending) == 0 {
		return
	}
	t.txnMu.Lock()
	defer t.txnMu.Unlock()
	for _, txn := range t.pending {
		t.appendLocked(txn)
	}
}
