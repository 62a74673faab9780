package rdb

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
)

// 時間欄位一律存 UTC UnixNano，避免各資料庫 timestamp 精度不同造成排序差異

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	OwnerID       string `gorm:"size:64;index;not null"`
	Currency      string `gorm:"size:3;not null"`
	CreatedAtNano int64  `gorm:"column:created_at;not null"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlEntry 對應資料庫的 ledger_entries 表 (只 INSERT，不 UPDATE / DELETE)
type sqlEntry struct {
	Sequence      uint64 `gorm:"column:sequence;primaryKey;autoIncrement;index:idx_entries_account_order,priority:3"`
	EntryID       int64  `gorm:"column:entry_id;uniqueIndex;not null"`
	AccountID     int64  `gorm:"column:account_id;index:idx_entries_account_order,priority:1;not null"`
	CreatedAtNano int64  `gorm:"column:created_at;index:idx_entries_account_order,priority:2;not null"`
	Amount        int64  `gorm:"not null"`
	Kind          uint8  `gorm:"not null"`
	Status        uint8  `gorm:"not null"`
	CorrelationID string `gorm:"size:36;index"`
	RefID         string `gorm:"size:36;index"`
	// PostingRef 只在 posting 的第一筆分錄填入 ref id，唯一索引保證一個 ref id 只寫入一次 (NULL 不受限制)
	PostingRef *string `gorm:"column:posting_ref;size:36;uniqueIndex"`
	ReversalOf    int64  `gorm:"index"`
	Note          string `gorm:"size:255"`
}

func (*sqlEntry) TableName() string {
	return "ledger_entries"
}

// sqlCheckpoint 對應資料庫的 balance_checkpoints 表，同一帳戶同一位置只能有一筆
type sqlCheckpoint struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	AccountID     int64  `gorm:"uniqueIndex:idx_checkpoint_position,priority:1;not null"`
	AsOfNano      int64  `gorm:"column:as_of;uniqueIndex:idx_checkpoint_position,priority:2;not null"`
	AsOfSeq       uint64 `gorm:"column:as_of_seq;uniqueIndex:idx_checkpoint_position,priority:3;not null"`
	Balance       int64  `gorm:"not null"`
	Entries       int64  `gorm:"not null"`
	CreatedAtNano int64  `gorm:"column:created_at;not null"`
}

func (*sqlCheckpoint) TableName() string {
	return "balance_checkpoints"
}

// AutoMigrate 建立 / 更新資料表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&sqlAccount{}, &sqlEntry{}, &sqlCheckpoint{})
}

func toNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func uuidString(u uuid.UUID) string {
	if u == uuid.Nil {
		return ""
	}
	return u.String()
}

func parseUUID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return u
}

func toEntryRow(e domain.LedgerEntry) sqlEntry {
	return sqlEntry{
		Sequence:      e.Sequence,
		EntryID:       e.ID,
		AccountID:     e.AccountID,
		CreatedAtNano: toNano(e.CreatedAt),
		Amount:        e.Amount,
		Kind:          uint8(e.Kind),
		Status:        uint8(e.Status),
		CorrelationID: uuidString(e.CorrelationID),
		RefID:         uuidString(e.RefID),
		ReversalOf:    e.ReversalOf,
		Note:          e.Note,
	}
}

func (r *sqlEntry) toDomain() domain.LedgerEntry {
	return domain.LedgerEntry{
		Sequence:      r.Sequence,
		ID:            r.EntryID,
		AccountID:     r.AccountID,
		Amount:        r.Amount,
		CreatedAt:     fromNano(r.CreatedAtNano),
		CorrelationID: parseUUID(r.CorrelationID),
		RefID:         parseUUID(r.RefID),
		ReversalOf:    r.ReversalOf,
		Note:          r.Note,
		Kind:          domain.EntryKind(r.Kind),
		Status:        domain.EntryStatus(r.Status),
	}
}

func toEntries(rows []sqlEntry) []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}

func (r *sqlAccount) toDomain() domain.Account {
	return domain.Account{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Currency:  r.Currency,
		CreatedAt: fromNano(r.CreatedAtNano),
	}
}

func (r *sqlCheckpoint) toDomain() domain.Checkpoint {
	return domain.Checkpoint{
		AccountID: r.AccountID,
		AsOf:      domain.Cursor{At: fromNano(r.AsOfNano), Seq: r.AsOfSeq},
		Balance:   r.Balance,
		Entries:   r.Entries,
		CreatedAt: fromNano(r.CreatedAtNano),
	}
}
