package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/database"
	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/infrastructure/logger"
	"bankledger/internal/model"
	"bankledger/internal/repository"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store  repository.AccountStore
	ledger *LedgerService
	auth   *AuthService
}

func newFixture(t *testing.T, store repository.AccountStore) *fixture {
	t.Helper()
	log := logger.Discard()
	auth, err := NewAuthService(store, repository.NewMemorySessionRepository(), time.Hour, bcrypt.MinCost, log)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		store:  store,
		ledger: NewLedgerService(store, lock.NewLocalLocker(), log, 50),
		auth:   auth,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newFixture(t, repository.NewMemoryStore()))
	})
	t.Run("sqlite", func(t *testing.T) {
		db, err := database.Open(config.DatabaseConfig{
			Driver: config.DriverSQLite,
			Path:   filepath.Join(t.TempDir(), "ledger.db"),
		}, logger.Discard())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = database.Close(db) })
		fn(t, newFixture(t, repository.NewGormStore(db, "")))
	})
}

func (f *fixture) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), id)
	if err != nil {
		t.Fatalf("BalanceOf(%d) err=%v", id, err)
	}
	return b
}

func TestLedgerScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		alice, err := f.auth.Register(ctx, "alice", "pw", dec("100"))
		if err != nil {
			t.Fatal(err)
		}
		if b := f.balance(t, alice); !b.Equal(dec("100")) {
			t.Fatalf("alice=%s want 100", b)
		}

		b, err := f.ledger.Deposit(ctx, alice, dec("50"))
		if err != nil || !b.Equal(dec("150")) {
			t.Fatalf("deposit balance=%s err=%v", b, err)
		}

		if _, err := f.ledger.Withdraw(ctx, alice, dec("200")); !errors.Is(err, model.ErrInsufficientFunds) {
			t.Fatalf("overdraw err=%v", err)
		}
		if b := f.balance(t, alice); !b.Equal(dec("150")) {
			t.Fatalf("alice=%s want 150 after failed withdraw", b)
		}

		bob, err := f.auth.Register(ctx, "bob", "pw", decimal.Zero)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.ledger.Transfer(ctx, alice, bob, dec("150")); err != nil {
			t.Fatalf("transfer err=%v", err)
		}
		if a, b := f.balance(t, alice), f.balance(t, bob); !a.IsZero() || !b.Equal(dec("150")) {
			t.Fatalf("alice=%s bob=%s", a, b)
		}

		if _, err := f.ledger.Transfer(ctx, alice, bob, dec("1")); !errors.Is(err, model.ErrInsufficientFunds) {
			t.Fatalf("transfer from empty err=%v", err)
		}

		history, total, err := f.ledger.History(ctx, alice, 1, 10)
		if err != nil {
			t.Fatal(err)
		}
		// deposit, rejected withdraw, transfer, rejected transfer
		if total != 4 || len(history) != 4 {
			t.Fatalf("alice history total=%d", total)
		}
		if history[0].Status != model.StatusRejected || history[0].EntryType(alice) != "transfer_sent" {
			t.Fatalf("latest entry=%+v", history[0])
		}
		if history[1].Status != model.StatusApplied {
			t.Fatalf("applied transfer status=%s", history[1].Status)
		}
	})
}

func TestLedgerRejectsBadAmounts(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	id, _ := f.auth.CreateUser(ctx, "a", dec("10"))

	for _, amount := range []string{"0", "-5", "0.001"} {
		if _, err := f.ledger.Deposit(ctx, id, dec(amount)); !errors.Is(err, model.ErrInvalidAmount) {
			t.Errorf("deposit %s err=%v", amount, err)
		}
		if _, err := f.ledger.Withdraw(ctx, id, dec(amount)); !errors.Is(err, model.ErrInvalidAmount) {
			t.Errorf("withdraw %s err=%v", amount, err)
		}
	}
	if b := f.balance(t, id); !b.Equal(dec("10")) {
		t.Fatalf("balance=%s", b)
	}
	if _, total, _ := f.ledger.History(ctx, id, 1, 10); total != 0 {
		t.Fatalf("invalid amounts recorded: %d", total)
	}
}

func TestTransferTargets(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		a, _ := f.auth.CreateUser(ctx, "a", dec("100"))

		if _, err := f.ledger.Transfer(ctx, a, a, dec("10")); !errors.Is(err, model.ErrInvalidTarget) {
			t.Fatalf("self transfer err=%v", err)
		}
		if _, err := f.ledger.Transfer(ctx, a, 9999, dec("10")); !errors.Is(err, model.ErrInvalidTarget) {
			t.Fatalf("missing target err=%v", err)
		}
		if b := f.balance(t, a); !b.Equal(dec("100")) {
			t.Fatalf("debit not rolled back, balance=%s", b)
		}
		if _, err := f.ledger.Transfer(ctx, 9999, a, dec("10")); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("missing source err=%v", err)
		}
		if _, err := f.ledger.Deposit(ctx, 9999, dec("1")); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("deposit to missing err=%v", err)
		}
		if _, err := f.ledger.BalanceOf(ctx, 9999); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("balance of missing err=%v", err)
		}
	})
}

func TestConcurrentWithdrawsExactlyK(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	const (
		n = 20
		k = 7
	)
	id, _ := f.auth.CreateUser(ctx, "a", dec("70"))

	var (
		wg        sync.WaitGroup
		succeeded int32
		failed    int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Withdraw(ctx, id, dec("10"))
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, model.ErrInsufficientFunds):
				atomic.AddInt32(&failed, 1)
			default:
				t.Errorf("unexpected err=%v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != k || failed != n-k {
		t.Fatalf("succeeded=%d failed=%d", succeeded, failed)
	}
	if b := f.balance(t, id); !b.IsZero() {
		t.Fatalf("final balance=%s", b)
	}
}

func TestOpposingTransfersConserveTotal(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	a, _ := f.auth.CreateUser(ctx, "a", dec("1000"))
	b, _ := f.auth.CreateUser(ctx, "b", dec("1000"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Transfer(ctx, a, b, dec("7"))
		}()
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Transfer(ctx, b, a, dec("3"))
		}()
	}
	wg.Wait()

	ba, bb := f.balance(t, a), f.balance(t, b)
	if !ba.Add(bb).Equal(dec("2000")) {
		t.Fatalf("total=%s want 2000", ba.Add(bb))
	}
	if !ba.Equal(dec("800")) || !bb.Equal(dec("1200")) {
		t.Fatalf("a=%s b=%s", ba, bb)
	}
}

// 收款方不存在的转账会先扣款再回滚；并发读者不能看到扣款后的中间态
func TestReaderNeverSeesHalfTransfer(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	a, _ := f.auth.CreateUser(ctx, "a", dec("100"))

	stop := make(chan struct{})
	var seen atomic.Value
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			b, err := f.ledger.BalanceOf(ctx, a)
			if err == nil && !b.Equal(dec("100")) {
				seen.Store(b.String())
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if _, err := f.ledger.Transfer(ctx, a, 4242, dec("60")); !errors.Is(err, model.ErrInvalidTarget) {
			t.Fatalf("err=%v", err)
		}
	}
	close(stop)
	<-done

	if v := seen.Load(); v != nil {
		t.Fatalf("reader observed intermediate balance %v", v)
	}
}

func TestLockedMutationIgnoresCancellation(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	id, _ := f.auth.CreateUser(context.Background(), "a", dec("10"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// 取消发生在加锁之前：请求被拒绝，余额不变
	if _, err := f.ledger.Deposit(ctx, id, dec("5")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if b := f.balance(t, id); !b.Equal(dec("10")) {
		t.Fatalf("balance=%s", b)
	}
}

func TestLedgerRejectsOutOfRangeAmounts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		id, _ := f.auth.CreateUser(ctx, "a", dec("1"))
		other, _ := f.auth.CreateUser(ctx, "b", dec("1"))

		for _, amount := range []string{"1e400", "1e20000000", "1e18", "1e-20000000"} {
			start := time.Now()
			if _, err := f.ledger.Deposit(ctx, id, dec(amount)); !errors.Is(err, model.ErrInvalidAmount) {
				t.Errorf("deposit %s err=%v", amount, err)
			}
			if _, err := f.ledger.Transfer(ctx, id, other, dec(amount)); !errors.Is(err, model.ErrInvalidAmount) {
				t.Errorf("transfer %s err=%v", amount, err)
			}
			if d := time.Since(start); d > time.Second {
				t.Errorf("amount %s took %v", amount, d)
			}
		}
		if _, err := f.auth.CreateUser(ctx, "huge", dec("1e400")); !errors.Is(err, model.ErrInvalidAmount) {
			t.Errorf("initial balance err=%v", err)
		}
		if b := f.balance(t, id); !b.Equal(dec("1")) {
			t.Fatalf("balance=%s", b)
		}
	})
}

func TestDepositCannotPassCeiling(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		id, _ := f.auth.CreateUser(ctx, "a", dec("900000000000000000"))

		if _, err := f.ledger.Deposit(ctx, id, dec("200000000000000000")); !errors.Is(err, model.ErrInvalidAmount) {
			t.Fatalf("err=%v want ErrInvalidAmount", err)
		}
		if b := f.balance(t, id); !b.Equal(dec("900000000000000000")) {
			t.Fatalf("balance=%s", b)
		}
		list, _, _ := f.ledger.History(ctx, id, 1, 10)
		if len(list) != 1 || list[0].Status != model.StatusRejected {
			t.Fatalf("history=%v", list)
		}
	})
}
