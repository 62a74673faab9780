package domain

import "time"

// Checkpoint 某帳戶在 AsOf 位置 (含) 以前的餘額快取，可隨時刪除重建
//
// balance(account, t) = Balance + sum(entries in (AsOf, t])
type Checkpoint struct {
	AccountID int64
	AsOf      Cursor
	Balance   int64
	// Entries 為此 checkpoint 涵蓋的分錄總數
	Entries   int64
	CreatedAt time.Time
}

// Next 以一段重放結果推進 checkpoint
func (c Checkpoint) Next(r Replay, now time.Time) Checkpoint {
	return Checkpoint{
		AccountID: c.AccountID,
		AsOf:      r.Last,
		Balance:   c.Balance + r.Sum,
		Entries:   c.Entries + int64(r.Count),
		CreatedAt: now,
	}
}
