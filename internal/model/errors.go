package model

import "errors"

// 领域错误：由 handler 层统一映射为 HTTP 状态码与 {status:"error", message} 响应体
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrDuplicateName     = errors.New("name already taken")
	ErrAuthFailed        = errors.New("invalid credentials")
	ErrInvalidSession    = errors.New("invalid or expired session")
	ErrNotFound          = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTarget     = errors.New("invalid transfer target")
)
