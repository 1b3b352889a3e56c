package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bankledger/internal/model"

	"github.com/go-redis/redis/v8"
)

const sessionKeyPrefix = "ledger:session:"

// RedisSessionRepository 多实例共享会话；key 的 TTL 与会话有效期一致
type RedisSessionRepository struct {
	client *redis.Client
}

var _ SessionRepository = (*RedisSessionRepository)(nil)

func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client}
}

func SessionKey(token string) string {
	return sessionKeyPrefix + token
}

func (r *RedisSessionRepository) Save(ctx context.Context, s *model.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, SessionKey(s.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Get(ctx context.Context, token string) (*model.Session, error) {
	data, err := r.client.Get(ctx, SessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
