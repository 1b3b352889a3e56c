package model

import "time"

// Session 登录会话，Token 为不透明随机串
type Session struct {
	Token     string    `json:"token"`
	AccountID int64     `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
