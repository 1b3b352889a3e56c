package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankledger/internal/model"
	"bankledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxNameLength     = 64
	maxPasswordLength = 72 // bcrypt 上限
)

// AuthService 注册、登录与会话解析
type AuthService struct {
	store     repository.AccountStore
	sessions  repository.SessionRepository
	ttl       time.Duration
	cost      int
	dummyHash []byte
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewAuthService(store repository.AccountStore, sessions repository.SessionRepository, ttl time.Duration, bcryptCost int, log logrus.FieldLogger) (*AuthService, error) {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", bcryptCost)
	}
	// 用户名不存在时也做一次比较，两种失败耗时一致
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcryptCost)
	if err != nil {
		return nil, err
	}
	return &AuthService{
		store:     store,
		sessions:  sessions,
		ttl:       ttl,
		cost:      bcryptCost,
		dummyHash: dummy,
		log:       log,
		now:       time.Now,
	}, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return "", fmt.Errorf("%w: name must be 1-%d characters", model.ErrInvalidRequest, maxNameLength)
	}
	return name, nil
}

// Register 创建可登录账户，返回账户ID
func (s *AuthService) Register(ctx context.Context, name, password string, initialBalance decimal.Decimal) (int64, error) {
	name, err := normalizeName(name)
	if err != nil {
		return 0, err
	}
	if password == "" || len(password) > maxPasswordLength {
		return 0, fmt.Errorf("%w: password must be 1-%d bytes", model.ErrInvalidRequest, maxPasswordLength)
	}
	if err := validateInitialBalance(initialBalance); err != nil {
		return 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	acc, err := s.store.CreateAccount(ctx, name, string(hash), initialBalance)
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"account_id": acc.ID,
		"name":       acc.Name,
	}).Info("account registered")
	return acc.ID, nil
}

// CreateUser 创建无凭证账户，只能通过ID操作，不能登录
func (s *AuthService) CreateUser(ctx context.Context, name string, initialBalance decimal.Decimal) (int64, error) {
	name, err := normalizeName(name)
	if err != nil {
		return 0, err
	}
	if err := validateInitialBalance(initialBalance); err != nil {
		return 0, err
	}
	acc, err := s.store.CreateAccount(ctx, name, "", initialBalance)
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{
		"account_id": acc.ID,
		"name":       acc.Name,
	}).Info("account created")
	return acc.ID, nil
}

func validateInitialBalance(initial decimal.Decimal) error {
	if err := model.CheckMoneyRange(initial); err != nil {
		return err
	}
	if initial.IsNegative() {
		return fmt.Errorf("%w: initial balance must not be negative", model.ErrInvalidAmount)
	}
	return model.CheckCents(initial)
}

// Login 用户名不存在与密码错误返回同一个 ErrAuthFailed
func (s *AuthService) Login(ctx context.Context, name, password string) (*model.Session, error) {
	acc, err := s.store.GetByName(ctx, strings.TrimSpace(name))
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	hash := s.dummyHash
	if acc != nil && acc.CanLogin() {
		hash = []byte(acc.CredentialHash)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil || acc == nil || !acc.CanLogin() {
		s.log.WithField("name", name).Info("login failed")
		return nil, model.ErrAuthFailed
	}

	now := s.now()
	session := &model.Session{
		Token:     uuid.NewString(),
		AccountID: acc.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.log.WithField("account_id", acc.ID).Info("login succeeded")
	return session, nil
}

// ResolveSession 令牌 -> 账户ID；未知或过期返回 ErrInvalidSession
func (s *AuthService) ResolveSession(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, model.ErrInvalidSession
	}
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return 0, model.ErrInvalidSession
		}
		return 0, err
	}
	if session.Expired(s.now()) {
		return 0, model.ErrInvalidSession
	}
	return session.AccountID, nil
}
