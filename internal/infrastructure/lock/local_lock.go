package lock

import (
	"context"
	"sync"
)

// LocalLocker 进程内账户锁，每个账户一把 sync.Mutex
// 条目带引用计数：持有者和等待者都计入，归零即从表中删除，
// 所以表的大小只取决于当前并发中的账户数，与请求里出现过多少个ID无关
type LocalLocker struct {
	mu    sync.Mutex
	locks map[int64]*accountMutex
}

type accountMutex struct {
	sync.Mutex
	refs int
}

var _ Locker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[int64]*accountMutex)}
}

// acquire 在加锁之前登记引用，保证等待中的条目不会被删除
func (l *LocalLocker) acquire(id int64) *accountMutex {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &accountMutex{}
		l.locks[id] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return m
}

func (l *LocalLocker) release(id int64, m *accountMutex) {
	m.Unlock()

	l.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Lock 阻塞直到拿到全部锁；ctx 在加锁前已取消时直接返回错误
func (l *LocalLocker) Lock(ctx context.Context, ids ...int64) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ordered := orderedIDs(ids)
	unlocks := make([]func(), 0, len(ordered))
	for _, id := range ordered {
		id := id
		m := l.acquire(id)
		unlocks = append(unlocks, func() { l.release(id, m) })
	}
	return releaseAll(unlocks), nil
}
