// Package money 在最小貨幣單位 (int64) 與十進位金額之間轉換。
// 帳本內部只用 int64，decimal 只出現在對外的輸入輸出。
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidMoney = errors.New("invalid money amount")

// minorUnits 各幣別小數位數，未列出的預設 2 位
var minorUnits = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"TWD": 2,
	"BHD": 3,
	"KWD": 3,
}

// Scale 回傳幣別的小數位數
func Scale(currency string) int32 {
	if s, ok := minorUnits[currency]; ok {
		return s
	}
	return 2
}

// ToMinor 將十進位金額轉成最小貨幣單位，位數超過幣別精度時回傳錯誤 (不做四捨五入)
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	scale := Scale(currency)
	shifted := amount.Shift(scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidMoney, amount, scale)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidMoney, amount)
	}
	return shifted.IntPart(), nil
}

// Parse 解析字串金額 (如 "5000.00") 為最小貨幣單位
func Parse(s, currency string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, s)
	}
	return ToMinor(d, currency)
}

// FromMinor 最小貨幣單位轉十進位
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Scale(currency))
}

// Format 格式化為固定小數位數字串，如 1000050 EUR -> "10000.50"
func Format(minor int64, currency string) string {
	return FromMinor(minor, currency).StringFixed(Scale(currency))
}
