package response

import (
	"errors"
	"net/http"

	"bankledger/internal/model"

	"github.com/gin-gonic/gin"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// 领域错误 -> HTTP 状态码
var errorStatus = []struct {
	err  error
	code int
}{
	{model.ErrInvalidRequest, http.StatusBadRequest},
	{model.ErrInvalidAmount, http.StatusBadRequest},
	{model.ErrInvalidTarget, http.StatusBadRequest},
	{model.ErrAuthFailed, http.StatusUnauthorized},
	{model.ErrInvalidSession, http.StatusUnauthorized},
	{model.ErrNotFound, http.StatusNotFound},
	{model.ErrInsufficientFunds, http.StatusConflict},
	{model.ErrDuplicateName, http.StatusConflict},
}

// Classify 返回状态码与对外消息；未知错误统一为 500，不泄露细节
func Classify(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.code, e.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

// Success 200，body 为 {status:"success", ...fields}
func Success(c *gin.Context, fields gin.H) {
	body := gin.H{"status": StatusSuccess}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Error 写入 {status:"error", message}，原始错误挂到 gin.Context 供日志中间件记录
func Error(c *gin.Context, err error) {
	code, message := Classify(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, gin.H{
		"status":  StatusError,
		"message": message,
	})
}
