package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
)

// BalanceEngine 由分錄推導餘額：最近的 checkpoint + 其後分錄的重放
type BalanceEngine struct {
	accounts    AccountStore
	entries     LedgerStore
	checkpoints CheckpointStore
	logger      *slog.Logger
}

// NewBalanceEngine 建立 BalanceEngine；checkpoints 可為 nil (一律全量重放)
func NewBalanceEngine(accounts AccountStore, entries LedgerStore, checkpoints CheckpointStore, logger *slog.Logger) *BalanceEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceEngine{
		accounts:    accounts,
		entries:     entries,
		checkpoints: checkpoints,
		logger:      logger,
	}
}

// CurrentBalance 取得帳戶目前餘額
func (b *BalanceEngine) CurrentBalance(ctx context.Context, accountID int64) (int64, error) {
	if _, err := b.accounts.Get(ctx, accountID); err != nil {
		return 0, err
	}
	return b.balance(ctx, accountID, time.Time{})
}

// BalanceAsOf 取得帳戶在 at (含) 當下的餘額。
// at 早於帳戶建立時間時為 0；之後寫入、時間晚於 at 的分錄不影響結果。
func (b *BalanceEngine) BalanceAsOf(ctx context.Context, accountID int64, at time.Time) (int64, error) {
	account, err := b.accounts.Get(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if at.Before(account.CreatedAt) {
		return 0, nil
	}
	return b.balance(ctx, accountID, at)
}

// ReplayBalanceAsOf 不使用 checkpoint，從第一筆分錄全量重放 (慢路徑，給驗證用)
func (b *BalanceEngine) ReplayBalanceAsOf(ctx context.Context, accountID int64, at time.Time) (int64, error) {
	account, err := b.accounts.Get(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if !at.IsZero() && at.Before(account.CreatedAt) {
		return 0, nil
	}
	replay, err := b.entries.Sum(ctx, accountID, domain.Cursor{}, at)
	if err != nil {
		return 0, err
	}
	return replay.Sum, nil
}

// balance 呼叫端已確認帳戶存在；不需要帳戶鎖，讀取的是呼叫當下可見的分錄
func (b *BalanceEngine) balance(ctx context.Context, accountID int64, upTo time.Time) (int64, error) {
	base := b.baseCheckpoint(ctx, accountID, upTo)
	replay, err := b.entries.Sum(ctx, accountID, base.AsOf, upTo)
	if err != nil {
		return 0, err
	}
	return base.Balance + replay.Sum, nil
}

// baseCheckpoint checkpoint 只是加速用，讀取失敗就退回從零開始重放
func (b *BalanceEngine) baseCheckpoint(ctx context.Context, accountID int64, upTo time.Time) domain.Checkpoint {
	if b.checkpoints == nil {
		return domain.Checkpoint{AccountID: accountID}
	}
	cp, ok, err := b.checkpoints.Latest(ctx, accountID, upTo)
	if err != nil {
		b.logger.WarnContext(ctx, "checkpoint lookup failed, falling back to full replay",
			slog.Int64("account_id", accountID), slog.Any("error", err))
		return domain.Checkpoint{AccountID: accountID}
	}
	if !ok {
		return domain.Checkpoint{AccountID: accountID}
	}
	return cp
}
