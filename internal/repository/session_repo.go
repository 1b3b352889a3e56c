package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"bankledger/internal/model"
)

// ErrSessionNotFound 令牌不存在（或已被存储层过期清除）
var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Save(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, token string) (*model.Session, error)
}

// MemorySessionRepository 单实例部署使用；过期会话由 job.SessionSweeper 定期清理
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
}

var _ SessionRepository = (*MemorySessionRepository)(nil)

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]model.Session)}
}

func (r *MemorySessionRepository) Save(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	r.sessions[s.Token] = *s
	r.mu.Unlock()
	return nil
}

func (r *MemorySessionRepository) Get(_ context.Context, token string) (*model.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[token]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

// PurgeExpired 删除 now 时刻已过期的会话，返回删除数量
func (r *MemorySessionRepository) PurgeExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for token, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, token)
			n++
		}
	}
	return n
}

func (r *MemorySessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
