package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
)

// LedgerStore 是帳本分錄的持久層 (append-only，唯一的真實來源)
type LedgerStore interface {
	// Append 寫入單筆分錄，回傳 store 補上 ID / Sequence / CreatedAt 後的分錄
	Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error)
	// AppendBatch 原子寫入多筆分錄 (全部成功或全部不寫)，任何一筆不合法回傳 ErrAtomicity
	AppendBatch(ctx context.Context, entries []domain.LedgerEntry) ([]domain.LedgerEntry, error)
	// ListByAccount 依 (created-at, sequence) 排序分頁列出帳戶分錄
	ListByAccount(ctx context.Context, accountID int64, q domain.EntryQuery) (domain.EntryPage, error)
	// ListAll 依 sequence 排序分頁列出所有分錄 (管理用)
	ListAll(ctx context.Context, q domain.EntryQuery) (domain.EntryPage, error)
	// Sum 重放帳戶在 after (不含) 之後、upTo (含) 之前的分錄；upTo 為零值代表不設上限
	Sum(ctx context.Context, accountID int64, after domain.Cursor, upTo time.Time) (domain.Replay, error)
	// Get 以分錄 ID 查詢
	Get(ctx context.Context, entryID int64) (domain.LedgerEntry, error)
	// ListByCorrelation 查詢同一筆轉帳的兩條腿
	ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]domain.LedgerEntry, error)
	// ListByRef 以冪等 ref id 查詢
	ListByRef(ctx context.Context, refID uuid.UUID) ([]domain.LedgerEntry, error)
	// ListReversals 查詢沖銷某筆分錄的分錄
	ListReversals(ctx context.Context, entryID int64) ([]domain.LedgerEntry, error)
}

// CheckpointStore 保存 checkpoint 歷史，純快取，可刪除重建
type CheckpointStore interface {
	// Save 寫入 checkpoint；若已有相同或更新位置的 checkpoint，丟棄並回傳 false
	Save(ctx context.Context, cp domain.Checkpoint) (bool, error)
	// Latest 取得 AsOf.At <= upTo 的最新 checkpoint；upTo 為零值代表不設上限
	Latest(ctx context.Context, accountID int64, upTo time.Time) (domain.Checkpoint, bool, error)
	// Delete 刪除帳戶的所有 checkpoint
	Delete(ctx context.Context, accountID int64) error
}

// AccountStore 帳戶資料 (外部協作者，這裡只需要存在性與幣別)
type AccountStore interface {
	Create(ctx context.Context, account domain.Account) (domain.Account, error)
	Get(ctx context.Context, id int64) (domain.Account, error)
	List(ctx context.Context) ([]domain.Account, error)
}

// EventPublisher 發布交易事件
type EventPublisher interface {
	Publish(ctx context.Context, event domain.TransactionPosted) error
}
