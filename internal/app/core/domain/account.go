package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Account 帳戶。餘額不存在這裡，一律由分錄推導。
type Account struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeCurrency 驗證並轉成大寫的 ISO-4217 代碼
//
// 參數:
//
//	code: 幣別代碼
//	supported: 系統支援的幣別 (空的話不限制)
func NormalizeCurrency(code string, supported []string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: invalid currency %q", ErrValidation, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: invalid currency %q", ErrValidation, code)
		}
	}
	if len(supported) > 0 && !slices.Contains(supported, code) {
		return "", fmt.Errorf("%w: unsupported currency %q", ErrValidation, code)
	}
	return code, nil
}
