package handler

import (
	"net/http"
	"strings"
	"time"

	"bankledger/internal/model"
	"bankledger/internal/service"
	"bankledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const sessionAccountKey = "session_account_id"

// LoggerMiddleware 每个请求一行日志；500 类错误附带原始错误
func LoggerMiddleware(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			path = path + "?" + query
		}

		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(logrus.Fields{
			"status":    status,
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
			"method":    c.Request.Method,
			"path":      path,
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request")
		}
	}
}

// RecoveryMiddleware panic 转成 500 JSON
func RecoveryMiddleware(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithField("panic", err).Error("recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"status":  response.StatusError,
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 客户端是另一个源上的浏览器页面
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Session-Token")
		c.Header("Access-Control-Expose-Headers", "X-Total-Count")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func sessionToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(c.GetHeader("X-Session-Token"))
}

// SessionMiddleware 解析会话令牌，把账户ID放进请求上下文
// require 为 false 时没有令牌的请求照常放行，带了无效令牌仍然拒绝
func SessionMiddleware(auth *service.AuthService, require bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			if require {
				response.Error(c, model.ErrInvalidSession)
				return
			}
			c.Next()
			return
		}

		accountID, err := auth.ResolveSession(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(sessionAccountKey, accountID)
		c.Next()
	}
}

// authorize 有会话时，被读取或扣款的账户必须是会话本人
func authorize(c *gin.Context, accountID int64) error {
	v, ok := c.Get(sessionAccountKey)
	if !ok {
		return nil
	}
	if v.(int64) != accountID {
		return model.ErrInvalidSession
	}
	return nil
}
