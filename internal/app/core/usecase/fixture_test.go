package usecase_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/JoeShih716/go-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// manualClock 只有呼叫 Advance 才會前進
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TransactionPosted
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, e domain.TransactionPosted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// fixture 以記憶體 adapter 組出完整的 usecase 層
type fixture struct {
	clock       *manualClock
	accounts    *memory.AccountStore
	entries     usecase.LedgerStore
	checkpoints usecase.CheckpointStore
	guard       *usecase.AccountGuard
	balances    *usecase.BalanceEngine
	manager     *usecase.CheckpointManager
	coordinator *usecase.TransferCoordinator
	publisher   *recordingPublisher
	core        *usecase.CoreUseCase
}

type fixtureOption func(*fixture)

// withEntries 替換 LedgerStore (用於注入失敗)
func withEntries(wrap func(usecase.LedgerStore) usecase.LedgerStore) fixtureOption {
	return func(f *fixture) { f.entries = wrap(f.entries) }
}

func withCheckpoints(wrap func(usecase.CheckpointStore) usecase.CheckpointStore) fixtureOption {
	return func(f *fixture) { f.checkpoints = wrap(f.checkpoints) }
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, cfg usecase.CheckpointConfig, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		clock:     &manualClock{now: t0},
		guard:     usecase.NewAccountGuard(time.Second),
		publisher: &recordingPublisher{},
	}
	accounts, err := memory.NewAccountStore(nil)
	if err != nil {
		t.Fatal(err)
	}
	f.accounts = accounts
	entries, err := memory.NewLedgerStore(memory.WithClock(f.clock))
	if err != nil {
		t.Fatal(err)
	}
	f.entries = entries
	f.checkpoints = memory.NewCheckpointStore(0)
	for _, opt := range opts {
		opt(f)
	}

	logger := quietLogger()
	f.balances = usecase.NewBalanceEngine(f.accounts, f.entries, f.checkpoints, logger)
	f.manager = usecase.NewCheckpointManager(f.accounts, f.entries, f.checkpoints, f.guard, f.clock, logger, cfg)
	f.coordinator = usecase.NewTransferCoordinator(f.accounts, f.entries, f.balances, f.guard,
		usecase.WithCheckpointNotifier(f.manager),
		usecase.WithEventPublisher(f.publisher),
		usecase.WithClock(f.clock),
		usecase.WithLogger(logger),
	)
	f.core = usecase.NewCoreUseCase(f.accounts, f.entries, f.balances, f.coordinator, f.manager, usecase.CoreConfig{
		Currencies: []string{"EUR", "USD"},
		Clock:      f.clock,
	})
	return f
}

func (f *fixture) account(t *testing.T, owner, currency string) domain.Account {
	t.Helper()
	a, err := f.core.CreateAccount(context.Background(), owner, currency)
	if err != nil {
		t.Fatalf("CreateAccount(%s) err=%v", owner, err)
	}
	f.clock.Advance(time.Second)
	return a
}

func (f *fixture) deposit(t *testing.T, account, amount int64) domain.LedgerEntry {
	t.Helper()
	r, err := f.core.Deposit(context.Background(), usecase.DepositCommand{AccountID: account, Amount: amount})
	if err != nil {
		t.Fatalf("Deposit(%d, %d) err=%v", account, amount, err)
	}
	f.clock.Advance(time.Second)
	return r.Entry
}

func (f *fixture) balance(t *testing.T, account int64) int64 {
	t.Helper()
	b, err := f.core.GetAccountBalance(context.Background(), account)
	if err != nil {
		t.Fatalf("GetAccountBalance(%d) err=%v", account, err)
	}
	return b
}

func (f *fixture) balanceAsOf(t *testing.T, account int64, at time.Time) int64 {
	t.Helper()
	b, err := f.core.GetBalanceAsOf(context.Background(), account, at)
	if err != nil {
		t.Fatalf("GetBalanceAsOf(%d, %v) err=%v", account, at, err)
	}
	return b
}
