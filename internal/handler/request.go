package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"bankledger/internal/model"

	"github.com/shopspring/decimal"
)

// ============================================================
// 请求体
// ============================================================
//
// 浏览器端把 userId 存在字符串存储里，id 和金额都同时接受
// JSON 数字与数字字符串，解析放在 handler 层，服务层只见强类型。

type registerRequest struct {
	Name           string          `json:"name"`
	Password       string          `json:"password"`
	InitialBalance json.RawMessage `json:"initialBalance"`
}

type createUserRequest struct {
	Name           string          `json:"name"`
	InitialBalance json.RawMessage `json:"initialBalance"`
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type amountRequest struct {
	UserID json.RawMessage `json:"userId"`
	Amount json.RawMessage `json:"amount"`
}

type transferRequest struct {
	SenderID   json.RawMessage `json:"senderId"`
	ReceiverID json.RawMessage `json:"receiverId"`
	Amount     json.RawMessage `json:"amount"`
}

// 比 decimal(20,2) 的最长写法再留一些余量
const maxAmountText = 40

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// scalarText 取数字或字符串字面量的文本
func scalarText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

func parseID(raw json.RawMessage, field string) (int64, error) {
	if isAbsent(raw) {
		return 0, fmt.Errorf("%w: %s is required", model.ErrInvalidRequest, field)
	}
	text, ok := scalarText(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", model.ErrInvalidRequest, field)
	}
	return parseIDText(text, field)
}

func parseIDText(text, field string) (int64, error) {
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", model.ErrInvalidRequest, field)
	}
	return id, nil
}

// parseAmount 缺省时返回 def；格式错误归为 ErrInvalidAmount
func parseAmount(raw json.RawMessage, field string, def *decimal.Decimal) (decimal.Decimal, error) {
	if isAbsent(raw) {
		if def != nil {
			return *def, nil
		}
		return decimal.Zero, fmt.Errorf("%w: %s is required", model.ErrInvalidAmount, field)
	}
	text, ok := scalarText(raw)
	if !ok || text == "" || len(text) > maxAmountText {
		return decimal.Zero, fmt.Errorf("%w: %s must be a number", model.ErrInvalidAmount, field)
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s must be a number", model.ErrInvalidAmount, field)
	}
	if err := model.CheckMoneyRange(d); err != nil {
		return decimal.Zero, fmt.Errorf("%w (%s)", err, field)
	}
	return d, nil
}

// money 金额按两位小数输出为 JSON 数字，不经过 float64
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}
