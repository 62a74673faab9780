package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
)

// DepositCommand 存款 / 提款請求。RefID 非 uuid.Nil 時以它做冪等
type DepositCommand struct {
	AccountID int64
	Amount    int64
	Note      string
	RefID     uuid.UUID
}

// WithdrawCommand 與存款欄位相同
type WithdrawCommand = DepositCommand

// TransferCommand 轉帳請求
type TransferCommand struct {
	From   int64
	To     int64
	Amount int64
	Note   string
	RefID  uuid.UUID
}

// ReverseCommand 沖銷請求
type ReverseCommand struct {
	EntryID int64
	Note    string
}

// EntryReceipt 單筆入帳 / 扣款結果
type EntryReceipt struct {
	Entry    domain.LedgerEntry
	Balance  int64
	Replayed bool
}

// TransferReceipt 轉帳結果
type TransferReceipt struct {
	Debit         domain.LedgerEntry
	Credit        domain.LedgerEntry
	CorrelationID uuid.UUID
	FromBalance   int64
	ToBalance     int64
	Replayed      bool
}

// ReversalReceipt 沖銷結果
type ReversalReceipt struct {
	Entries       []domain.LedgerEntry
	CorrelationID uuid.UUID
}

// checkpointNotifier 由 CheckpointManager 實作
type checkpointNotifier interface {
	Notify(accountID int64, n int)
}

// TransferCoordinator 負責「檢查餘額 -> 寫入分錄」這段臨界區：
// 在帳戶鎖內讀取目前餘額並決定是否寫入，避免兩筆併發扣款都通過餘額檢查。
type TransferCoordinator struct {
	accounts  AccountStore
	entries   LedgerStore
	balances  *BalanceEngine
	guard     *AccountGuard
	notifier  checkpointNotifier
	publisher EventPublisher
	clock     domain.Clock
	logger    *slog.Logger
}

// CoordinatorOption 設定 TransferCoordinator 的選項
type CoordinatorOption func(*TransferCoordinator)

// WithCheckpointNotifier 每次寫入成功後通知 checkpoint 管理器
func WithCheckpointNotifier(n checkpointNotifier) CoordinatorOption {
	return func(c *TransferCoordinator) {
		c.notifier = n
	}
}

// WithEventPublisher 每次寫入成功後發布事件
func WithEventPublisher(p EventPublisher) CoordinatorOption {
	return func(c *TransferCoordinator) {
		c.publisher = p
	}
}

// WithClock 替換事件時間來源
func WithClock(clock domain.Clock) CoordinatorOption {
	return func(c *TransferCoordinator) {
		c.clock = clock
	}
}

// WithLogger 設定 logger
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *TransferCoordinator) {
		c.logger = logger
	}
}

// NewTransferCoordinator 建立 TransferCoordinator
func NewTransferCoordinator(
	accounts AccountStore,
	entries LedgerStore,
	balances *BalanceEngine,
	guard *AccountGuard,
	opts ...CoordinatorOption,
) *TransferCoordinator {
	c := &TransferCoordinator{
		accounts: accounts,
		entries:  entries,
		balances: balances,
		guard:    guard,
		clock:    domain.SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deposit 存款
func (c *TransferCoordinator) Deposit(ctx context.Context, cmd DepositCommand) (EntryReceipt, error) {
	if cmd.Amount <= 0 {
		return EntryReceipt{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if _, err := c.accounts.Get(ctx, cmd.AccountID); err != nil {
		return EntryReceipt{}, err
	}
	posting := domain.NewDepositPosting(cmd.AccountID, cmd.Amount, cmd.Note, cmd.RefID)
	return c.postSingle(ctx, posting)
}

// Withdraw 提款，餘額不足回傳 ErrInsufficientFunds
func (c *TransferCoordinator) Withdraw(ctx context.Context, cmd WithdrawCommand) (EntryReceipt, error) {
	if cmd.Amount <= 0 {
		return EntryReceipt{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if _, err := c.accounts.Get(ctx, cmd.AccountID); err != nil {
		return EntryReceipt{}, err
	}
	posting := domain.NewWithdrawalPosting(cmd.AccountID, cmd.Amount, cmd.Note, cmd.RefID)
	return c.postSingle(ctx, posting)
}

func (c *TransferCoordinator) postSingle(ctx context.Context, posting domain.Posting) (EntryReceipt, error) {
	receipt, err := c.postSingleLocked(ctx, posting)
	if err != nil {
		return EntryReceipt{}, err
	}
	if !receipt.Replayed {
		kind := receipt.Entry.Kind.String()
		c.afterPost(ctx, kind, []domain.LedgerEntry{receipt.Entry})
	}
	return receipt, nil
}

func (c *TransferCoordinator) postSingleLocked(ctx context.Context, posting domain.Posting) (EntryReceipt, error) {
	entry := posting.Entries[0]
	release, err := c.guard.Acquire(ctx, entry.AccountID)
	if err != nil {
		return EntryReceipt{}, err
	}
	defer release()

	if existing, ok, err := c.findByRef(ctx, posting.RefID); err != nil {
		return EntryReceipt{}, err
	} else if ok {
		return c.replaySingle(ctx, entry, existing)
	}

	balances, err := c.checkFunds(ctx, posting.Entries)
	if err != nil {
		return EntryReceipt{}, err
	}

	appended, err := c.entries.Append(ctx, entry)
	if errors.Is(err, domain.ErrDuplicateRef) {
		// 另一個帳戶 (或另一個 instance) 搶先用了同一個 ref id
		existing, _, ferr := c.findByRef(ctx, posting.RefID)
		if ferr != nil {
			return EntryReceipt{}, ferr
		}
		return c.replaySingle(ctx, entry, existing)
	}
	if err != nil {
		return EntryReceipt{}, err
	}
	return EntryReceipt{Entry: appended, Balance: balances[entry.AccountID] + appended.Amount}, nil
}

// replaySingle ref id 已存在時回傳原本的結果；內容不同 (類型、帳戶、金額) 視為 ref id 誤用
func (c *TransferCoordinator) replaySingle(ctx context.Context, entry domain.LedgerEntry, existing []domain.LedgerEntry) (EntryReceipt, error) {
	if len(existing) != 1 || existing[0].Kind != entry.Kind ||
		existing[0].AccountID != entry.AccountID || existing[0].Amount != entry.Amount {
		return EntryReceipt{}, fmt.Errorf("%w: ref id %s already used by another operation", domain.ErrValidation, entry.RefID)
	}
	balance, err := c.balances.balance(ctx, entry.AccountID, time.Time{})
	if err != nil {
		return EntryReceipt{}, err
	}
	return EntryReceipt{Entry: existing[0], Balance: balance, Replayed: true}, nil
}

// checkFunds 在帳戶鎖內檢查分錄套用後的餘額：扣款後不得為負，入帳後不得超過 int64
//
// 回傳各帳戶套用前的餘額。
func (c *TransferCoordinator) checkFunds(ctx context.Context, entries []domain.LedgerEntry) (map[int64]int64, error) {
	balances := make(map[int64]int64, len(entries))
	for _, e := range entries {
		balance, ok := balances[e.AccountID]
		if !ok {
			var err error
			if balance, err = c.balances.balance(ctx, e.AccountID, time.Time{}); err != nil {
				return nil, err
			}
			balances[e.AccountID] = balance
		}
		switch {
		case e.Amount < 0 && balance < -e.Amount:
			return nil, fmt.Errorf("%w: account %d balance %d, required %d",
				domain.ErrInsufficientFunds, e.AccountID, balance, -e.Amount)
		case e.Amount > 0 && balance > 0 && e.Amount > math.MaxInt64-balance:
			return nil, fmt.Errorf("%w: account %d balance %d cannot take %d more",
				domain.ErrValidation, e.AccountID, balance, e.Amount)
		}
	}
	return balances, nil
}

// batchError store 回報的業務錯誤 (餘額不足、ref id 重複) 原樣保留，其餘一律視為原子寫入失敗
func batchError(err error) error {
	if errors.Is(err, domain.ErrAtomicity) || errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrAtomicity, err)
}

// Transfer 轉帳：一筆轉出 + 一筆轉入，同一個 correlation id，原子寫入
//
// 參數:
//
//	ctx: 上下文 (deadline 用於等待帳戶鎖)
//	cmd: 轉帳請求
//
// 回傳:
//
//	TransferReceipt: 兩條腿的分錄與轉帳後雙方餘額
//	error: ErrValidation / ErrNotFound / ErrInsufficientFunds / ErrConcurrencyTimeout / ErrAtomicity
func (c *TransferCoordinator) Transfer(ctx context.Context, cmd TransferCommand) (TransferReceipt, error) {
	if cmd.Amount <= 0 {
		return TransferReceipt{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if cmd.From == cmd.To {
		return TransferReceipt{}, fmt.Errorf("%w: cannot transfer to the same account", domain.ErrValidation)
	}
	from, err := c.accounts.Get(ctx, cmd.From)
	if err != nil {
		return TransferReceipt{}, err
	}
	to, err := c.accounts.Get(ctx, cmd.To)
	if err != nil {
		return TransferReceipt{}, err
	}
	if from.Currency != to.Currency {
		return TransferReceipt{}, fmt.Errorf("%w: currency mismatch %s -> %s", domain.ErrValidation, from.Currency, to.Currency)
	}

	posting := domain.NewTransferPosting(cmd.From, cmd.To, cmd.Amount, cmd.Note, cmd.RefID)
	receipt, err := c.transferLocked(ctx, posting)
	if err != nil {
		return TransferReceipt{}, err
	}
	if !receipt.Replayed {
		c.afterPost(ctx, "TRANSFER", []domain.LedgerEntry{receipt.Debit, receipt.Credit})
	}
	return receipt, nil
}

func (c *TransferCoordinator) transferLocked(ctx context.Context, posting domain.Posting) (TransferReceipt, error) {
	// 鎖在任何寫入之前取得；逾時的話什麼都沒寫
	release, err := c.guard.Acquire(ctx, posting.LockIDs()...)
	if err != nil {
		return TransferReceipt{}, err
	}
	defer release()

	if existing, ok, err := c.findByRef(ctx, posting.RefID); err != nil {
		return TransferReceipt{}, err
	} else if ok {
		return c.replayTransfer(ctx, posting, existing)
	}

	if _, err := c.checkFunds(ctx, posting.Entries); err != nil {
		return TransferReceipt{}, err
	}

	legs, err := c.entries.AppendBatch(ctx, posting.Entries)
	if errors.Is(err, domain.ErrDuplicateRef) {
		existing, _, ferr := c.findByRef(ctx, posting.RefID)
		if ferr != nil {
			return TransferReceipt{}, ferr
		}
		return c.replayTransfer(ctx, posting, existing)
	}
	if err != nil {
		return TransferReceipt{}, batchError(err)
	}
	debit, credit, err := transferLegs(legs)
	if err != nil {
		return TransferReceipt{}, err
	}
	return c.transferReceipt(ctx, debit, credit, false)
}

func (c *TransferCoordinator) replayTransfer(ctx context.Context, posting domain.Posting, existing []domain.LedgerEntry) (TransferReceipt, error) {
	out, in := posting.Entries[0], posting.Entries[1]
	debit, credit, err := transferLegs(existing)
	if err != nil || debit.AccountID != out.AccountID || credit.AccountID != in.AccountID || credit.Amount != in.Amount {
		return TransferReceipt{}, fmt.Errorf("%w: ref id %s already used by another operation", domain.ErrValidation, posting.RefID)
	}
	return c.transferReceipt(ctx, debit, credit, true)
}

func (c *TransferCoordinator) transferReceipt(ctx context.Context, debit, credit domain.LedgerEntry, replayed bool) (TransferReceipt, error) {
	fromBalance, err := c.balances.balance(ctx, debit.AccountID, time.Time{})
	if err != nil {
		return TransferReceipt{}, err
	}
	toBalance, err := c.balances.balance(ctx, credit.AccountID, time.Time{})
	if err != nil {
		return TransferReceipt{}, err
	}
	return TransferReceipt{
		Debit:         debit,
		Credit:        credit,
		CorrelationID: debit.CorrelationID,
		FromBalance:   fromBalance,
		ToBalance:     toBalance,
		Replayed:      replayed,
	}, nil
}

// Reverse 以新的反向分錄沖銷一筆 SUCCESS 分錄，原分錄不變
func (c *TransferCoordinator) Reverse(ctx context.Context, cmd ReverseCommand) (ReversalReceipt, error) {
	original, err := c.entries.Get(ctx, cmd.EntryID)
	if err != nil {
		return ReversalReceipt{}, err
	}
	if original.Status != domain.EntryStatusSuccess {
		return ReversalReceipt{}, fmt.Errorf("%w: entry %d has status %s", domain.ErrValidation, original.ID, original.Status)
	}
	if original.ReversalOf != 0 {
		return ReversalReceipt{}, fmt.Errorf("%w: entry %d is itself a reversal", domain.ErrValidation, original.ID)
	}

	targets := []domain.LedgerEntry{original}
	if original.CorrelationID != uuid.Nil {
		legs, err := c.entries.ListByCorrelation(ctx, original.CorrelationID)
		if err != nil {
			return ReversalReceipt{}, err
		}
		debit, credit, err := transferLegs(legs)
		if err != nil {
			return ReversalReceipt{}, err
		}
		targets = []domain.LedgerEntry{debit, credit}
	}

	note := cmd.Note
	if note == "" {
		note = "reversal of " + strconv.FormatInt(original.ID, 10)
	}
	posting := reversalPosting(targets, note)

	receipt, err := c.reverseLocked(ctx, targets, posting)
	if err != nil {
		return ReversalReceipt{}, err
	}
	c.afterPost(ctx, "REVERSAL", receipt.Entries)
	return receipt, nil
}

func (c *TransferCoordinator) reverseLocked(ctx context.Context, targets []domain.LedgerEntry, posting domain.Posting) (ReversalReceipt, error) {
	release, err := c.guard.Acquire(ctx, posting.LockIDs()...)
	if err != nil {
		return ReversalReceipt{}, err
	}
	defer release()

	for _, t := range targets {
		reversals, err := c.entries.ListReversals(ctx, t.ID)
		if err != nil {
			return ReversalReceipt{}, err
		}
		if len(reversals) > 0 {
			return ReversalReceipt{}, fmt.Errorf("%w: entry %d already reversed by %d", domain.ErrValidation, t.ID, reversals[0].ID)
		}
	}
	if _, err := c.checkFunds(ctx, posting.Entries); err != nil {
		return ReversalReceipt{}, err
	}

	entries, err := c.entries.AppendBatch(ctx, posting.Entries)
	if err != nil {
		return ReversalReceipt{}, batchError(err)
	}
	return ReversalReceipt{Entries: entries, CorrelationID: posting.CorrelationID}, nil
}

// reversalPosting 產生反向分錄：存款 -> 提款，提款 -> 存款，轉帳 -> 反方向的新轉帳
func reversalPosting(targets []domain.LedgerEntry, note string) domain.Posting {
	if len(targets) == 2 {
		debit, credit := targets[0], targets[1]
		p := domain.NewTransferPosting(credit.AccountID, debit.AccountID, credit.Amount, note, uuid.Nil)
		p.Entries[0].ReversalOf = credit.ID
		p.Entries[1].ReversalOf = debit.ID
		return p
	}
	t := targets[0]
	var p domain.Posting
	if t.Amount > 0 {
		p = domain.NewWithdrawalPosting(t.AccountID, t.Amount, note, uuid.Nil)
	} else {
		p = domain.NewDepositPosting(t.AccountID, -t.Amount, note, uuid.Nil)
	}
	p.Entries[0].ReversalOf = t.ID
	return p
}

func (c *TransferCoordinator) findByRef(ctx context.Context, refID uuid.UUID) ([]domain.LedgerEntry, bool, error) {
	if refID == uuid.Nil {
		return nil, false, nil
	}
	existing, err := c.entries.ListByRef(ctx, refID)
	if err != nil {
		return nil, false, err
	}
	return existing, len(existing) > 0, nil
}

// afterPost 寫入成功後的通知；在帳戶鎖之外執行，失敗只記 log
func (c *TransferCoordinator) afterPost(ctx context.Context, kind string, entries []domain.LedgerEntry) {
	if c.notifier != nil {
		for _, e := range entries {
			c.notifier.Notify(e.AccountID, 1)
		}
	}
	if c.publisher == nil {
		return
	}
	event := postedEvent(kind, entries, c.clock.Now())
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.WarnContext(ctx, "publish transaction event failed",
			slog.String("kind", kind), slog.Any("entry_ids", event.EntryIDs), slog.Any("error", err))
	}
}

func postedEvent(kind string, entries []domain.LedgerEntry, now time.Time) domain.TransactionPosted {
	event := domain.TransactionPosted{
		Kind:       kind,
		EntryIDs:   make([]string, 0, len(entries)),
		OccurredAt: now,
	}
	for _, e := range entries {
		event.EntryIDs = append(event.EntryIDs, strconv.FormatInt(e.ID, 10))
		event.CorrelationID = e.CorrelationID
		event.RefID = e.RefID
		if e.Amount < 0 {
			event.FromAccount = e.AccountID
			event.Amount = -e.Amount
		} else {
			event.ToAccount = e.AccountID
			event.Amount = e.Amount
		}
	}
	return event
}

// transferLegs 從一組分錄取出轉出 / 轉入兩條腿
func transferLegs(entries []domain.LedgerEntry) (debit, credit domain.LedgerEntry, err error) {
	if len(entries) != 2 {
		return debit, credit, fmt.Errorf("%w: expected 2 transfer legs, got %d", domain.ErrAtomicity, len(entries))
	}
	for _, e := range entries {
		switch e.Kind {
		case domain.EntryKindTransferOut:
			debit = e
		case domain.EntryKindTransferIn:
			credit = e
		}
	}
	if debit.ID == 0 || credit.ID == 0 {
		return debit, credit, fmt.Errorf("%w: incomplete transfer legs", domain.ErrAtomicity)
	}
	return debit, credit, nil
}
