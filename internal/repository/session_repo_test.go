package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"bankledger/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestMemorySessionRepository(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	live := &model.Session{Token: "live", AccountID: 1, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	dead := &model.Session{Token: "dead", AccountID: 2, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	_ = repo.Save(ctx, live)
	_ = repo.Save(ctx, dead)

	got, err := repo.Get(ctx, "live")
	if err != nil || got.AccountID != 1 {
		t.Fatalf("Get=%+v err=%v", got, err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing err=%v", err)
	}

	if n := repo.PurgeExpired(now.Add(30 * time.Minute)); n != 1 {
		t.Fatalf("purged %d want 1", n)
	}
	if _, err := repo.Get(ctx, "dead"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("expired session survived purge")
	}
	if repo.Len() != 1 {
		t.Fatalf("len=%d", repo.Len())
	}
}

func TestRedisSessionRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := NewRedisSessionRepository(client)
	ctx := context.Background()
	now := time.Now()
	s := &model.Session{Token: "tok", AccountID: 7, CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute)}
	if err := repo.Save(ctx, s); err != nil {
		t.Fatal(err)
	}

	if ttl := mr.TTL(SessionKey("tok")); ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("ttl=%v", ttl)
	}
	got, err := repo.Get(ctx, "tok")
	if err != nil || got.AccountID != 7 {
		t.Fatalf("Get=%+v err=%v", got, err)
	}

	mr.FastForward(11 * time.Minute)
	if _, err := repo.Get(ctx, "tok"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("after expiry err=%v", err)
	}
}
