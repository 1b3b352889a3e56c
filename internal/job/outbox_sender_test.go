package job

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/database"
	"bankledger/internal/infrastructure/logger"
	"bankledger/internal/model"
	"bankledger/internal/repository"

	"github.com/shopspring/decimal"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail bool
	sent []string
}

func (p *fakePublisher) Publish(_ context.Context, topic, key, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, topic+"/"+key)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func setupOutbox(t *testing.T) (*repository.GormStore, *repository.OutboxRepository) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return repository.NewGormStore(db, "ledger.transactions"), repository.NewOutboxRepository(db)
}

func recordApplied(t *testing.T, store *repository.GormStore, no string) {
	t.Helper()
	txn := model.NewTransaction(no, model.KindDeposit, decimal.NewFromInt(1), 0, 1)
	_ = txn.MarkApplied()
	if err := store.RecordTransaction(context.Background(), txn); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxSenderFlush(t *testing.T) {
	store, outbox := setupOutbox(t)
	recordApplied(t, store, "DEP1")
	recordApplied(t, store, "DEP2")

	pub := &fakePublisher{}
	sender := NewOutboxSender(outbox, pub, logger.Discard(), time.Hour, 10, 3)
	sentAt := time.Date(2024, 1, 15, 14, 30, 52, 0, time.UTC)
	sender.now = func() time.Time { return sentAt }

	if n := sender.Flush(context.Background()); n != 2 {
		t.Fatalf("sent=%d want 2", n)
	}
	if pub.sent[0] != "ledger.transactions/DEP1" {
		t.Fatalf("order=%v", pub.sent)
	}
	if n := sender.Flush(context.Background()); n != 0 {
		t.Fatalf("resent %d messages", n)
	}

	msg, err := outbox.GetByKey(context.Background(), "DEP2")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != model.OutboxStatusSent || msg.SentAt == nil || !msg.SentAt.Equal(sentAt) {
		t.Fatalf("status=%s sent_at=%v", msg.Status, msg.SentAt)
	}
	if msg.EventType != model.KindDeposit {
		t.Fatalf("event_type=%q", msg.EventType)
	}
}

func TestOutboxSenderMarksFailedAfterRetries(t *testing.T) {
	store, outbox := setupOutbox(t)
	recordApplied(t, store, "DEP1")

	pub := &fakePublisher{fail: true}
	sender := NewOutboxSender(outbox, pub, logger.Discard(), time.Hour, 10, 2)
	ctx := context.Background()

	sender.Flush(ctx)
	sender.Flush(ctx)

	msg, err := outbox.GetByKey(ctx, "DEP1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != model.OutboxStatusFailed || msg.RetryCount != 2 {
		t.Fatalf("status=%s retry=%d", msg.Status, msg.RetryCount)
	}
	if msg.LastError != "broker unavailable" {
		t.Fatalf("last_error=%q", msg.LastError)
	}

	// 标记失败后不再重试
	pub.fail = false
	if n := sender.Flush(ctx); n != 0 {
		t.Fatalf("failed message resent")
	}
}

func TestOutboxSenderStartStop(t *testing.T) {
	store, outbox := setupOutbox(t)
	recordApplied(t, store, "DEP1")

	pub := &fakePublisher{}
	sender := NewOutboxSender(outbox, pub, logger.Discard(), 10*time.Millisecond, 10, 3)

	go sender.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sender.Stop()
	<-sender.Done()

	if pub.count() != 1 {
		t.Fatalf("sent=%d want 1", pub.count())
	}
}

func TestOutboxSenderDoneAfterCancel(t *testing.T) {
	_, outbox := setupOutbox(t)
	sender := NewOutboxSender(outbox, &fakePublisher{}, logger.Discard(), 10*time.Millisecond, 10, 3)

	select {
	case <-sender.Done():
		t.Fatal("done closed before start")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sender.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-sender.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not exit after cancel")
	}
}
