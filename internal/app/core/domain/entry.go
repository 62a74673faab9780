package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntryKind 分錄類型
type EntryKind uint8

const (
	// 存款
	EntryKindDeposit EntryKind = 1
	// 提款
	EntryKindWithdrawal EntryKind = 2
	// 轉出
	EntryKindTransferOut EntryKind = 3
	// 轉入
	EntryKindTransferIn EntryKind = 4
)

var entryKindNames = map[EntryKind]string{
	EntryKindDeposit:     "DEPOSIT",
	EntryKindWithdrawal:  "WITHDRAWAL",
	EntryKindTransferOut: "TRANSFER_OUT",
	EntryKindTransferIn:  "TRANSFER_IN",
}

func (k EntryKind) String() string {
	if name, ok := entryKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EntryKind(%d)", uint8(k))
}

// IsCredit 回傳此類型的金額是否必須為正數
func (k EntryKind) IsCredit() bool {
	return k == EntryKindDeposit || k == EntryKindTransferIn
}

// ParseEntryKind 由名稱 (不分大小寫) 取得 EntryKind
func ParseEntryKind(s string) (EntryKind, error) {
	for k, name := range entryKindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown entry kind %q", ErrValidation, s)
}

// EntryStatus 分錄狀態，寫入時決定，之後不再變動
type EntryStatus uint8

const (
	EntryStatusSuccess  EntryStatus = 1
	EntryStatusFailed   EntryStatus = 2
	EntryStatusReversed EntryStatus = 3
)

func (s EntryStatus) String() string {
	switch s {
	case EntryStatusSuccess:
		return "SUCCESS"
	case EntryStatusFailed:
		return "FAILED"
	case EntryStatusReversed:
		return "REVERSED"
	default:
		return fmt.Sprintf("EntryStatus(%d)", uint8(s))
	}
}

// ParseEntryStatus 由名稱 (不分大小寫) 取得 EntryStatus
func ParseEntryStatus(s string) (EntryStatus, error) {
	for _, st := range []EntryStatus{EntryStatusSuccess, EntryStatusFailed, EntryStatusReversed} {
		if strings.EqualFold(st.String(), s) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown entry status %q", ErrValidation, s)
}

// LedgerEntry 帳本分錄，寫入後不可修改也不可刪除。更正一律以新的反向分錄處理。
//
// Amount 為最小貨幣單位的有號整數：正數為入帳，負數為扣款。
// Sequence 由 store 分配，嚴格遞增，用於同一時間戳記的排序。
type LedgerEntry struct {
	Sequence      uint64      `json:"sequence"`
	ID            int64       `json:"id,string"`
	AccountID     int64       `json:"account_id"`
	Amount        int64       `json:"amount"`
	CreatedAt     time.Time   `json:"created_at"`
	CorrelationID uuid.UUID   `json:"correlation_id"`
	RefID         uuid.UUID   `json:"ref_id"`
	ReversalOf    int64       `json:"reversal_of,string"`
	Note          string      `json:"note"`
	Kind          EntryKind   `json:"kind"`
	Status        EntryStatus `json:"status"`
}

// Cursor 回傳此分錄在所屬帳戶中的排序位置
func (e *LedgerEntry) Cursor() Cursor {
	return Cursor{At: e.CreatedAt, Seq: e.Sequence}
}

// Counts 回傳此分錄是否計入餘額
func (e *LedgerEntry) Counts() bool {
	return e.Status == EntryStatusSuccess
}

// Validate 檢查金額與類型是否一致
func (e *LedgerEntry) Validate() error {
	if e.AccountID == 0 {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if e.Amount == 0 {
		return fmt.Errorf("%w: amount must not be zero", ErrValidation)
	}
	if _, ok := entryKindNames[e.Kind]; !ok {
		return fmt.Errorf("%w: unknown entry kind %d", ErrValidation, e.Kind)
	}
	if e.Kind.IsCredit() != (e.Amount > 0) {
		return fmt.Errorf("%w: %s with amount %d", ErrValidation, e.Kind, e.Amount)
	}
	switch e.Status {
	case EntryStatusSuccess, EntryStatusFailed, EntryStatusReversed:
	default:
		return fmt.Errorf("%w: unknown entry status %d", ErrValidation, e.Status)
	}
	if (e.Kind == EntryKindTransferIn || e.Kind == EntryKindTransferOut) && e.CorrelationID == uuid.Nil {
		return fmt.Errorf("%w: transfer leg without correlation id", ErrValidation)
	}
	return nil
}

// EntryQuery 分頁查詢條件。From/To 為零值時代表不限制，範圍為閉區間。
type EntryQuery struct {
	From      time.Time
	To        time.Time
	PageToken string
	Limit     int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// PageSize 回傳修正後的筆數上限
func (q EntryQuery) PageSize() int {
	switch {
	case q.Limit <= 0:
		return DefaultPageSize
	case q.Limit > MaxPageSize:
		return MaxPageSize
	default:
		return q.Limit
	}
}

// InRange 判斷時間是否落在 [From, To]
func (q EntryQuery) InRange(t time.Time) bool {
	if !q.From.IsZero() && t.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && t.After(q.To) {
		return false
	}
	return true
}

// EntryPage 一頁查詢結果；NextPageToken 為空表示沒有下一頁
type EntryPage struct {
	Entries       []LedgerEntry
	NextPageToken string
}

// Replay 是一段分錄重放的結果
type Replay struct {
	// Sum 為 SUCCESS 分錄金額總和
	Sum int64
	// Count 為掃過的分錄數 (含非 SUCCESS)
	Count int
	// Last 為最後一筆掃過分錄的位置，Count 為 0 時為零值
	Last Cursor
}
