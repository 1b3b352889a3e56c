package handler

import (
	"net/http"

	"bankledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RouterOptions 路由依赖
type RouterOptions struct {
	Auth           *service.AuthService
	Ledger         *service.LedgerService
	Log            logrus.FieldLogger
	RequireSession bool
}

// SetupRouter 配置路由
func SetupRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()

	r.Use(RecoveryMiddleware(opts.Log))
	r.Use(LoggerMiddleware(opts.Log))
	r.Use(CORSMiddleware())

	h := NewHandler(opts.Auth, opts.Ledger)

	// 注册与登录不需要会话
	r.POST("/register", h.Register)
	r.POST("/createUser", h.CreateUser)
	r.POST("/login", h.Login)

	ledger := r.Group("/", SessionMiddleware(opts.Auth, opts.RequireSession))
	{
		ledger.POST("/deposit", h.Deposit)
		ledger.POST("/withdraw", h.Withdraw)
		ledger.POST("/transfer", h.Transfer)
		ledger.GET("/balance", h.GetBalance)
		ledger.GET("/transactions", h.ListTransactions)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 全局中间件同样作用于未匹配路由，OPTIONS 预检在 CORS 中间件里返回 204
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "not found"})
	})

	return r
}
