package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation 輸入不合法 (金額為零、正負號與類型不符、同帳戶轉帳...)，寫入前就被拒絕
	ErrValidation = errors.New("validation error")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAtomicity 批次寫入失敗，沒有任何一筆被寫入
	ErrAtomicity = errors.New("atomicity error")

	// ErrConcurrencyTimeout 等待帳戶鎖逾時
	ErrConcurrencyTimeout = errors.New("concurrency timeout")

	// ErrNotFound 找不到帳戶或分錄
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRef ref id 已經被另一筆 posting 使用 (由 store 的唯一性擋下)，屬於 ErrValidation
	ErrDuplicateRef = fmt.Errorf("%w: duplicate ref id", ErrValidation)
)

// ErrorKind 是對外回報的錯誤分類
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindInsufficientFunds  ErrorKind = "insufficient_funds"
	KindAtomicity          ErrorKind = "atomicity"
	KindConcurrencyTimeout ErrorKind = "concurrency_timeout"
	KindNotFound           ErrorKind = "not_found"
	KindInternal           ErrorKind = "internal"
)

// KindOf 將任意錯誤對應到 ErrorKind，給 transport 層組 {kind, message}
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrAtomicity):
		return KindAtomicity
	case errors.Is(err, ErrConcurrencyTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindConcurrencyTimeout
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
