package job

import (
	"time"

	"bankledger/internal/repository"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SessionSweeper 按 cron 表达式清理内存中的过期会话
// Redis 会话依靠 key 过期，不需要这个任务
type SessionSweeper struct {
	sessions *repository.MemorySessionRepository
	log      logrus.FieldLogger
	cron     *cron.Cron
	now      func() time.Time
}

// NewSessionSweeper spec 支持标准五段式与 @every 1m 这类描述符
func NewSessionSweeper(sessions *repository.MemorySessionRepository, spec string, log logrus.FieldLogger) (*SessionSweeper, error) {
	s := &SessionSweeper{
		sessions: sessions,
		log:      log.WithField("job", "session_sweeper"),
		cron:     cron.New(),
		now:      time.Now,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep() }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SessionSweeper) Start() {
	s.log.Info("started")
	s.cron.Start()
}

// Stop 等待正在执行的清理结束
func (s *SessionSweeper) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("stopped")
}

// Sweep 执行一次清理，返回删除数量
func (s *SessionSweeper) Sweep() int {
	n := s.sessions.PurgeExpired(s.now())
	if n > 0 {
		s.log.WithField("purged", n).Info("expired sessions removed")
	}
	return n
}
