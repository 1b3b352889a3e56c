package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCheckMoneyRange(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"0.01", true},
		{"100", true},
		{"999999999999999999.99", true},
		{"-999999999999999999.99", true},
		{"1e18", false},
		{"1000000000000000000", false},
		{"1e400", false},
		{"1e20000000", false},
		{"1e-20000000", false},
	}
	for _, tt := range tests {
		start := time.Now()
		err := CheckMoneyRange(decimal.RequireFromString(tt.in))
		if tt.ok != (err == nil) {
			t.Errorf("CheckMoneyRange(%s) err=%v", tt.in, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("CheckMoneyRange(%s) err=%v want ErrInvalidAmount", tt.in, err)
		}
		if d := time.Since(start); d > time.Second {
			t.Errorf("CheckMoneyRange(%s) took %v", tt.in, d)
		}
	}
}

func TestCheckCents(t *testing.T) {
	if err := CheckCents(decimal.RequireFromString("1.50")); err != nil {
		t.Fatal(err)
	}
	if err := CheckCents(decimal.RequireFromString("1.005")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err=%v", err)
	}
}
