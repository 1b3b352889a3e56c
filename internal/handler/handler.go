package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bankledger/internal/model"
	"bankledger/internal/service"
	"bankledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handler 统一处理器
type Handler struct {
	auth   *service.AuthService
	ledger *service.LedgerService
}

func NewHandler(auth *service.AuthService, ledger *service.LedgerService) *Handler {
	return &Handler{auth: auth, ledger: ledger}
}

// bindJSON 语法错误或类型不符统一为 ErrInvalidRequest
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, errors.Join(model.ErrInvalidRequest, err))
		return false
	}
	return true
}

// ============================================================
// 账户
// ============================================================

// Register POST /register
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	zero := decimal.Zero
	initial, err := parseAmount(req.InitialBalance, "initialBalance", &zero)
	if err != nil {
		response.Error(c, err)
		return
	}

	id, err := h.auth.Register(c.Request.Context(), req.Name, req.Password, initial)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "User registered", "userId": id})
}

// CreateUser POST /createUser，建立无凭证账户
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if !bindJSON(c, &req) {
		return
	}
	zero := decimal.Zero
	initial, err := parseAmount(req.InitialBalance, "initialBalance", &zero)
	if err != nil {
		response.Error(c, err)
		return
	}

	id, err := h.auth.CreateUser(c.Request.Context(), req.Name, initial)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "User created successfully", "userId": id})
}

// Login POST /login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.auth.Login(c.Request.Context(), req.Name, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"userId":    session.AccountID,
		"token":     session.Token,
		"expiresAt": session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// ============================================================
// 账务
// ============================================================

// Deposit POST /deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req amountRequest
	if !bindJSON(c, &req) {
		return
	}
	id, amount, err := parseAmountRequest(req)
	if err != nil {
		response.Error(c, err)
		return
	}

	balance, err := h.ledger.Deposit(c.Request.Context(), id, amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "Deposit successful", "balance": money(balance)})
}

// Withdraw POST /withdraw，会话存在时只能操作本人账户
func (h *Handler) Withdraw(c *gin.Context) {
	var req amountRequest
	if !bindJSON(c, &req) {
		return
	}
	id, amount, err := parseAmountRequest(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorize(c, id); err != nil {
		response.Error(c, err)
		return
	}

	balance, err := h.ledger.Withdraw(c.Request.Context(), id, amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "Withdrawal successful", "balance": money(balance)})
}

func parseAmountRequest(req amountRequest) (int64, decimal.Decimal, error) {
	id, err := parseID(req.UserID, "userId")
	if err != nil {
		return 0, decimal.Zero, err
	}
	amount, err := parseAmount(req.Amount, "amount", nil)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return id, amount, nil
}

// Transfer POST /transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req transferRequest
	if !bindJSON(c, &req) {
		return
	}
	sender, err := parseID(req.SenderID, "senderId")
	if err != nil {
		response.Error(c, err)
		return
	}
	receiver, err := parseID(req.ReceiverID, "receiverId")
	if err != nil {
		response.Error(c, err)
		return
	}
	amount, err := parseAmount(req.Amount, "amount", nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorize(c, sender); err != nil {
		response.Error(c, err)
		return
	}

	txn, err := h.ledger.Transfer(c.Request.Context(), sender, receiver, amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "Transfer successful", "transactionNo": txn.TransactionNo})
}

// GetBalance GET /balance?userId=ID，成功时只返回 {balance}
func (h *Handler) GetBalance(c *gin.Context) {
	id, err := parseIDText(c.Query("userId"), "userId")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorize(c, id); err != nil {
		response.Error(c, err)
		return
	}

	balance, err := h.ledger.BalanceOf(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": money(balance)})
}

type transactionView struct {
	ID            int64       `json:"id"`
	TransactionNo string      `json:"transactionNo"`
	UserID        int64       `json:"userId"`
	Amount        json.Number `json:"amount"`
	Type          string      `json:"type"`
	Status        string      `json:"status"`
	Timestamp     string      `json:"timestamp"`
}

// ListTransactions GET /transactions?userId=ID&page=1&page_size=50
// 返回数组，总数放在 X-Total-Count
func (h *Handler) ListTransactions(c *gin.Context) {
	id, err := parseIDText(c.Query("userId"), "userId")
	if err != nil {
		response.Error(c, err)
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		response.Error(c, err)
		return
	}
	pageSize, err := queryInt(c, "page_size", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorize(c, id); err != nil {
		response.Error(c, err)
		return
	}

	txns, total, err := h.ledger.History(c.Request.Context(), id, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]transactionView, 0, len(txns))
	for _, t := range txns {
		views = append(views, transactionView{
			ID:            t.ID,
			TransactionNo: t.TransactionNo,
			UserID:        id,
			Amount:        money(t.Amount),
			Type:          t.EntryType(id),
			Status:        string(t.Status),
			Timestamp:     t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.Header("X-Total-Count", strconv.FormatInt(total, 10))
	c.JSON(http.StatusOK, views)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Join(model.ErrInvalidRequest, errors.New(key+" must be a non-negative integer"))
	}
	return n, nil
}
