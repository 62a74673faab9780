package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
)

// CoreUseCase 是核心業務邏輯層，transport adapter 只透過它呼叫帳本
type CoreUseCase struct {
	accounts    AccountStore
	entries     LedgerStore
	balances    *BalanceEngine
	coordinator *TransferCoordinator
	checkpoints *CheckpointManager
	currencies  []string
	clock       domain.Clock
}

// CoreConfig 帳戶相關設定
type CoreConfig struct {
	// Currencies 支援的幣別，空的話不限制
	Currencies []string
	Clock      domain.Clock
}

func NewCoreUseCase(
	accounts AccountStore,
	entries LedgerStore,
	balances *BalanceEngine,
	coordinator *TransferCoordinator,
	checkpoints *CheckpointManager,
	cfg CoreConfig,
) *CoreUseCase {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &CoreUseCase{
		accounts:    accounts,
		entries:     entries,
		balances:    balances,
		coordinator: coordinator,
		checkpoints: checkpoints,
		currencies:  cfg.Currencies,
		clock:       clock,
	}
}

// CreateAccount 建立帳戶
func (c *CoreUseCase) CreateAccount(ctx context.Context, ownerID, currency string) (domain.Account, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Account{}, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	code, err := domain.NormalizeCurrency(currency, c.currencies)
	if err != nil {
		return domain.Account{}, err
	}
	return c.accounts.Create(ctx, domain.Account{
		OwnerID:   ownerID,
		Currency:  code,
		CreatedAt: c.clock.Now(),
	})
}

// GetAccount 取得帳戶
func (c *CoreUseCase) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	return c.accounts.Get(ctx, id)
}

// ListAccounts 列出所有帳戶
func (c *CoreUseCase) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return c.accounts.List(ctx)
}

// Deposit 存款
func (c *CoreUseCase) Deposit(ctx context.Context, cmd DepositCommand) (EntryReceipt, error) {
	return c.coordinator.Deposit(ctx, cmd)
}

// Withdraw 提款
func (c *CoreUseCase) Withdraw(ctx context.Context, cmd WithdrawCommand) (EntryReceipt, error) {
	return c.coordinator.Withdraw(ctx, cmd)
}

// Transfer 轉帳
func (c *CoreUseCase) Transfer(ctx context.Context, cmd TransferCommand) (TransferReceipt, error) {
	return c.coordinator.Transfer(ctx, cmd)
}

// Reverse 沖銷
func (c *CoreUseCase) Reverse(ctx context.Context, cmd ReverseCommand) (ReversalReceipt, error) {
	return c.coordinator.Reverse(ctx, cmd)
}

// GetAccountBalance 取得帳戶目前餘額
func (c *CoreUseCase) GetAccountBalance(ctx context.Context, accountID int64) (int64, error) {
	return c.balances.CurrentBalance(ctx, accountID)
}

// GetBalanceAsOf 取得帳戶在某時間點的餘額 (管理端的歷史餘額查詢也用這個)
func (c *CoreUseCase) GetBalanceAsOf(ctx context.Context, accountID int64, at time.Time) (int64, error) {
	return c.balances.BalanceAsOf(ctx, accountID, at)
}

// ListEntries 帳戶交易紀錄 (分頁，可依時間篩選)
func (c *CoreUseCase) ListEntries(ctx context.Context, accountID int64, q domain.EntryQuery) (domain.EntryPage, error) {
	if _, err := c.accounts.Get(ctx, accountID); err != nil {
		return domain.EntryPage{}, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return domain.EntryPage{}, fmt.Errorf("%w: time range end before start", domain.ErrValidation)
	}
	return c.entries.ListByAccount(ctx, accountID, q)
}

// ListAllEntries 所有分錄 (管理用，唯讀)
func (c *CoreUseCase) ListAllEntries(ctx context.Context, q domain.EntryQuery) (domain.EntryPage, error) {
	return c.entries.ListAll(ctx, q)
}

// RefreshCheckpoint 立即為帳戶產生 checkpoint
func (c *CoreUseCase) RefreshCheckpoint(ctx context.Context, accountID int64) (domain.Checkpoint, error) {
	return c.checkpoints.Refresh(ctx, accountID)
}

// RebuildCheckpoints 刪除帳戶 checkpoint 後從頭重放
func (c *CoreUseCase) RebuildCheckpoints(ctx context.Context, accountID int64) (domain.Checkpoint, error) {
	return c.checkpoints.Rebuild(ctx, accountID)
}
