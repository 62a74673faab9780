package domain

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Posting 是一次金流事件要寫入的分錄集合 (存提款一筆，轉帳兩筆)
type Posting struct {
	CorrelationID uuid.UUID
	RefID         uuid.UUID
	Entries       []LedgerEntry
}

// NewDepositPosting 建立存款分錄
func NewDepositPosting(accountID, amount int64, note string, refID uuid.UUID) Posting {
	return Posting{
		RefID: refID,
		Entries: []LedgerEntry{{
			AccountID: accountID,
			Amount:    amount,
			Kind:      EntryKindDeposit,
			RefID:     refID,
			Note:      note,
			Status:    EntryStatusSuccess,
		}},
	}
}

// NewWithdrawalPosting 建立提款分錄 (amount 傳入正數，分錄存負數)
func NewWithdrawalPosting(accountID, amount int64, note string, refID uuid.UUID) Posting {
	return Posting{
		RefID: refID,
		Entries: []LedgerEntry{{
			AccountID: accountID,
			Amount:    -amount,
			Kind:      EntryKindWithdrawal,
			RefID:     refID,
			Note:      note,
			Status:    EntryStatusSuccess,
		}},
	}
}

// NewTransferPosting 建立轉帳的兩條腿：第 0 筆為轉出，第 1 筆為轉入，共用 correlation id
func NewTransferPosting(from, to, amount int64, note string, refID uuid.UUID) Posting {
	correlationID := uuid.New()
	return Posting{
		CorrelationID: correlationID,
		RefID:         refID,
		Entries: []LedgerEntry{
			{
				AccountID:     from,
				Amount:        -amount,
				Kind:          EntryKindTransferOut,
				CorrelationID: correlationID,
				RefID:         refID,
				Note:          note,
				Status:        EntryStatusSuccess,
			},
			{
				AccountID:     to,
				Amount:        amount,
				Kind:          EntryKindTransferIn,
				CorrelationID: correlationID,
				RefID:         refID,
				Note:          note,
				Status:        EntryStatusSuccess,
			},
		},
	}
}

// LockIDs 回傳需要鎖定的帳號 ID，排序並去重以避免死鎖
func (p *Posting) LockIDs() []int64 {
	ids := make([]int64, 0, len(p.Entries))
	for _, e := range p.Entries {
		ids = append(ids, e.AccountID)
	}
	return SortedLockIDs(ids...)
}

// SortedLockIDs 排序並去重
func SortedLockIDs(ids ...int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// ValidateBatch 檢查一批分錄：每筆各自合法，且轉帳腿兩兩成對
// (同 correlation id、金額絕對值相同、正負相反)
func ValidateBatch(entries []LedgerEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: empty batch", ErrValidation)
	}
	legs := make(map[uuid.UUID][]LedgerEntry)
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return err
		}
		switch entries[i].Kind {
		case EntryKindTransferIn, EntryKindTransferOut:
			legs[entries[i].CorrelationID] = append(legs[entries[i].CorrelationID], entries[i])
		}
	}
	for id, pair := range legs {
		if len(pair) != 2 {
			return fmt.Errorf("%w: transfer %s has %d legs", ErrValidation, id, len(pair))
		}
		if pair[0].Kind == pair[1].Kind || pair[0].Amount != -pair[1].Amount {
			return fmt.Errorf("%w: transfer %s legs do not oppose", ErrValidation, id)
		}
		if pair[0].AccountID == pair[1].AccountID {
			return fmt.Errorf("%w: transfer %s legs on the same account", ErrValidation, id)
		}
	}
	return nil
}
