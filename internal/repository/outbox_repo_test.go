package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"bankledger/internal/model"
)

func TestOutboxRecordFailureMarksFailedAtLimit(t *testing.T) {
	repo := NewOutboxRepository(openTestDB(t))
	ctx := context.Background()

	msg := &model.OutboxMessage{MessageKey: "DEP1", Topic: testTopic, Payload: "{}"}
	if err := repo.Enqueue(ctx, nil, msg); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		if err := repo.RecordFailure(ctx, msg.ID, 3, fmt.Errorf("attempt %d: broker unavailable", i)); err != nil {
			t.Fatal(err)
		}
		got, err := repo.GetByKey(ctx, "DEP1")
		if err != nil {
			t.Fatal(err)
		}
		want := model.OutboxStatusPending
		if i == 3 {
			want = model.OutboxStatusFailed
		}
		if got.RetryCount != i || got.Status != want {
			t.Fatalf("after %d failures: retry=%d status=%s", i, got.RetryCount, got.Status)
		}
		if got.LastError != fmt.Sprintf("attempt %d: broker unavailable", i) {
			t.Fatalf("last_error=%q", got.LastError)
		}
		if got.SentAt != nil {
			t.Fatalf("failed message has sent_at %v", got.SentAt)
		}
	}

	pending, _ := repo.ListPending(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("failed message still pending: %v", pending)
	}
}

func TestOutboxMarkSent(t *testing.T) {
	repo := NewOutboxRepository(openTestDB(t))
	ctx := context.Background()

	first := &model.OutboxMessage{MessageKey: "A", Topic: testTopic, Payload: "{}"}
	second := &model.OutboxMessage{MessageKey: "B", Topic: testTopic, Payload: "{}"}
	_ = repo.Enqueue(ctx, nil, first)
	_ = repo.Enqueue(ctx, nil, second)

	sentAt := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	if err := repo.MarkSent(ctx, first.ID, sentAt); err != nil {
		t.Fatal(err)
	}
	pending, _ := repo.ListPending(ctx, 10)
	if len(pending) != 1 || pending[0].MessageKey != "B" {
		t.Fatalf("pending=%v", pending)
	}

	got, err := repo.GetByKey(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.OutboxStatusSent || got.SentAt == nil || !got.SentAt.Equal(sentAt) {
		t.Fatalf("status=%s sent_at=%v", got.Status, got.SentAt)
	}

	// 已投递的消息不会被再次改写
	if err := repo.MarkSent(ctx, first.ID, sentAt.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetByKey(ctx, "A")
	if !got.SentAt.Equal(sentAt) {
		t.Fatalf("sent_at rewritten to %v", got.SentAt)
	}
}

func TestOutboxMessageKeyUnique(t *testing.T) {
	repo := NewOutboxRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Enqueue(ctx, nil, &model.OutboxMessage{MessageKey: "TRF1", Topic: testTopic, Payload: "{}"}); err != nil {
		t.Fatal(err)
	}
	err := repo.Enqueue(ctx, nil, &model.OutboxMessage{MessageKey: "TRF1", Topic: testTopic, Payload: "{}"})
	if err == nil {
		t.Fatal("second event for the same transaction accepted")
	}
}

func TestOutboxLastErrorTruncated(t *testing.T) {
	repo := NewOutboxRepository(openTestDB(t))
	ctx := context.Background()

	msg := &model.OutboxMessage{MessageKey: "DEP9", Topic: testTopic, Payload: "{}"}
	if err := repo.Enqueue(ctx, nil, msg); err != nil {
		t.Fatal(err)
	}
	cause := errors.New(strings.Repeat("账", 400))
	if err := repo.RecordFailure(ctx, msg.ID, 5, cause); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetByKey(ctx, "DEP9")
	if len(got.LastError) == 0 || len(got.LastError) > 512 {
		t.Fatalf("last_error length=%d", len(got.LastError))
	}
	if !strings.HasPrefix(cause.Error(), got.LastError) {
		t.Fatal("last_error is not a prefix of the cause")
	}
}
