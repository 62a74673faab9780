package rdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-ledger/internal/app/core/adapter/out/rdb"
	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-ledger/pkg/database"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type stores struct {
	accounts    *rdb.AccountStore
	entries     *rdb.LedgerStore
	checkpoints *rdb.CheckpointStore
}

// newStores 每個測試一個獨立的 SQLite 記憶體資料庫
func newStores(t *testing.T) stores {
	t.Helper()
	client, err := database.NewClient(database.Config{
		Driver:       database.DriverSQLite,
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	if err := rdb.AutoMigrate(client.DB()); err != nil {
		t.Fatal(err)
	}
	entries, err := rdb.NewLedgerStore(client, rdb.WithClock(&stepClock{now: t0}))
	if err != nil {
		t.Fatal(err)
	}
	return stores{
		accounts:    rdb.NewAccountStore(client),
		entries:     entries,
		checkpoints: rdb.NewCheckpointStore(client),
	}
}

func (s stores) account(t *testing.T, owner string) domain.Account {
	t.Helper()
	a, err := s.accounts.Create(context.Background(), domain.Account{OwnerID: owner, Currency: "EUR", CreatedAt: t0})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestLedgerStoreAppendAndSum(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	a := s.account(t, "foo")
	b := s.account(t, "bar")

	ref := uuid.New()
	dep, err := s.entries.Append(ctx, domain.NewDepositPosting(a.ID, 1000, "salary", ref).Entries[0])
	if err != nil {
		t.Fatal(err)
	}
	if dep.Sequence == 0 || dep.ID == 0 || dep.CreatedAt.IsZero() {
		t.Fatalf("store did not assign fields: %+v", dep)
	}

	p := domain.NewTransferPosting(a.ID, b.ID, 300, "rent", uuid.Nil)
	legs, err := s.entries.AppendBatch(ctx, p.Entries)
	if err != nil {
		t.Fatal(err)
	}
	if legs[0].Sequence >= legs[1].Sequence || legs[0].Sequence <= dep.Sequence {
		t.Fatalf("sequences not increasing: %d %d %d", dep.Sequence, legs[0].Sequence, legs[1].Sequence)
	}

	ra, err := s.entries.Sum(ctx, a.ID, domain.Cursor{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if ra.Sum != 700 || ra.Count != 2 || ra.Last != legs[0].Cursor() {
		t.Fatalf("replay a=%+v", ra)
	}
	rb, _ := s.entries.Sum(ctx, b.ID, domain.Cursor{}, time.Time{})
	if rb.Sum != 300 {
		t.Fatalf("replay b=%+v", rb)
	}
	after, _ := s.entries.Sum(ctx, a.ID, dep.Cursor(), time.Time{})
	if after.Sum != -300 || after.Count != 1 {
		t.Fatalf("after deposit=%+v", after)
	}
	upTo, _ := s.entries.Sum(ctx, a.ID, domain.Cursor{}, dep.CreatedAt)
	if upTo.Sum != 1000 {
		t.Fatalf("upTo=%+v", upTo)
	}

	got, err := s.entries.Get(ctx, dep.ID)
	if err != nil || got.RefID != ref || got.Note != "salary" {
		t.Fatalf("Get=%+v err=%v", got, err)
	}
	byRef, _ := s.entries.ListByRef(ctx, ref)
	byCorr, _ := s.entries.ListByCorrelation(ctx, p.CorrelationID)
	if len(byRef) != 1 || len(byCorr) != 2 {
		t.Fatalf("byRef=%d byCorr=%d", len(byRef), len(byCorr))
	}
	if _, err := s.entries.Get(ctx, 12345); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLedgerStoreBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	a := s.account(t, "foo")

	// 轉入帳戶不存在，整批不寫
	p := domain.NewTransferPosting(a.ID, 999, 100, "", uuid.Nil)
	if _, err := s.entries.AppendBatch(ctx, p.Entries); !errors.Is(err, domain.ErrAtomicity) {
		t.Fatalf("want ErrAtomicity, got %v", err)
	}
	page, err := s.entries.ListAll(ctx, domain.EntryQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 0 {
		t.Fatalf("entries=%d want 0", len(page.Entries))
	}

	bad := domain.NewDepositPosting(a.ID, 5, "", uuid.Nil).Entries[0]
	bad.Amount = -5
	if _, err := s.entries.Append(ctx, bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestLedgerStorePagination(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	a := s.account(t, "foo")
	for i := int64(1); i <= 5; i++ {
		if _, err := s.entries.Append(ctx, domain.NewDepositPosting(a.ID, i, "", uuid.Nil).Entries[0]); err != nil {
			t.Fatal(err)
		}
	}

	first, err := s.entries.ListByAccount(ctx, a.ID, domain.EntryQuery{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Entries) != 3 || first.NextPageToken == "" {
		t.Fatalf("first=%+v", first)
	}
	second, err := s.entries.ListByAccount(ctx, a.ID, domain.EntryQuery{Limit: 3, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Entries) != 2 || second.Entries[0].Amount != 4 || second.NextPageToken != "" {
		t.Fatalf("second=%+v", second)
	}

	ranged, _ := s.entries.ListByAccount(ctx, a.ID, domain.EntryQuery{
		From: first.Entries[1].CreatedAt,
		To:   first.Entries[2].CreatedAt,
	})
	if len(ranged.Entries) != 2 {
		t.Fatalf("ranged=%d want 2", len(ranged.Entries))
	}

	all, _ := s.entries.ListAll(ctx, domain.EntryQuery{Limit: 4})
	rest, _ := s.entries.ListAll(ctx, domain.EntryQuery{Limit: 4, PageToken: all.NextPageToken})
	if len(all.Entries) != 4 || len(rest.Entries) != 1 {
		t.Fatalf("all=%d rest=%d", len(all.Entries), len(rest.Entries))
	}
}

func TestCheckpointStore(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	at := func(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

	cp := domain.Checkpoint{AccountID: 1, AsOf: domain.Cursor{At: at(10), Seq: 3}, Balance: 100, Entries: 3, CreatedAt: at(11)}
	if ok, err := s.checkpoints.Save(ctx, cp); err != nil || !ok {
		t.Fatalf("save ok=%v err=%v", ok, err)
	}
	if ok, err := s.checkpoints.Save(ctx, cp); err != nil || ok {
		t.Fatalf("duplicate save ok=%v err=%v", ok, err)
	}
	older := cp
	older.AsOf = domain.Cursor{At: at(5), Seq: 1}
	if ok, _ := s.checkpoints.Save(ctx, older); ok {
		t.Fatal("older checkpoint should be discarded")
	}
	newer := cp
	newer.AsOf = domain.Cursor{At: at(20), Seq: 8}
	newer.Balance = 250
	if ok, _ := s.checkpoints.Save(ctx, newer); !ok {
		t.Fatal("newer checkpoint should be saved")
	}

	got, ok, _ := s.checkpoints.Latest(ctx, 1, at(15))
	if !ok || got.Balance != 100 || got.AsOf.Seq != 3 {
		t.Fatalf("latest at 15=%+v ok=%v", got, ok)
	}
	got, ok, _ = s.checkpoints.Latest(ctx, 1, time.Time{})
	if !ok || got.Balance != 250 {
		t.Fatalf("latest=%+v ok=%v", got, ok)
	}
	if err := s.checkpoints.Delete(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.checkpoints.Latest(ctx, 1, time.Time{}); ok {
		t.Fatal("checkpoints should be gone")
	}
}

// TestLedgerFlowOnSQL 以 SQL store 跑完整 usecase 流程
func TestLedgerFlowOnSQL(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	guard := usecase.NewAccountGuard(time.Second)
	balances := usecase.NewBalanceEngine(s.accounts, s.entries, s.checkpoints, nil)
	manager := usecase.NewCheckpointManager(s.accounts, s.entries, s.checkpoints, guard, nil, nil, usecase.CheckpointConfig{})
	coordinator := usecase.NewTransferCoordinator(s.accounts, s.entries, balances, guard, usecase.WithCheckpointNotifier(manager))
	core := usecase.NewCoreUseCase(s.accounts, s.entries, balances, coordinator, manager, usecase.CoreConfig{
		Currencies: []string{"EUR"},
		Clock:      &stepClock{now: t0.Add(-time.Hour)},
	})

	foo, _ := core.CreateAccount(ctx, "foo", "EUR")
	bar, _ := core.CreateAccount(ctx, "bar", "EUR")
	mustOK := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	_, err := core.Deposit(ctx, usecase.DepositCommand{AccountID: foo.ID, Amount: 1_000_000})
	mustOK(err)
	_, err = core.Deposit(ctx, usecase.DepositCommand{AccountID: bar.ID, Amount: 1_500_000})
	mustOK(err)
	_, err = core.Transfer(ctx, usecase.TransferCommand{From: foo.ID, To: bar.ID, Amount: 500_000})
	mustOK(err)
	_, err = core.RefreshCheckpoint(ctx, bar.ID)
	mustOK(err)
	_, err = core.Withdraw(ctx, usecase.WithdrawCommand{AccountID: bar.ID, Amount: 1_000_000})
	mustOK(err)

	fooBal, _ := core.GetAccountBalance(ctx, foo.ID)
	barBal, _ := core.GetAccountBalance(ctx, bar.ID)
	if fooBal != 500_000 || barBal != 1_000_000 {
		t.Fatalf("balances %d / %d", fooBal, barBal)
	}
	if _, err := core.Withdraw(ctx, usecase.WithdrawCommand{AccountID: foo.ID, Amount: 500_001}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	replayed, _ := balances.ReplayBalanceAsOf(ctx, bar.ID, time.Time{})
	if replayed != barBal {
		t.Fatalf("replay=%d checkpoint path=%d", replayed, barBal)
	}
}

// TestLedgerStoreRejectsOverdraft 扣款在 store 的 transaction 內重新檢查餘額 (含 checkpoint 基準)
func TestLedgerStoreRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	a := s.account(t, "foo")
	b := s.account(t, "bar")

	dep, err := s.entries.Append(ctx, domain.NewDepositPosting(a.ID, 100, "", uuid.Nil).Entries[0])
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := s.checkpoints.Save(ctx, domain.Checkpoint{AccountID: a.ID, AsOf: dep.Cursor(), Balance: 100, Entries: 1, CreatedAt: t0}); err != nil || !ok {
		t.Fatalf("save ok=%v err=%v", ok, err)
	}
	if _, err := s.entries.Append(ctx, domain.NewDepositPosting(a.ID, 20, "", uuid.Nil).Entries[0]); err != nil {
		t.Fatal(err)
	}

	_, err = s.entries.Append(ctx, domain.NewWithdrawalPosting(a.ID, 121, "", uuid.Nil).Entries[0])
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("withdraw: want ErrInsufficientFunds, got %v", err)
	}
	_, err = s.entries.AppendBatch(ctx, domain.NewTransferPosting(a.ID, b.ID, 121, "", uuid.Nil).Entries)
	if !errors.Is(err, domain.ErrInsufficientFunds) || !errors.Is(err, domain.ErrAtomicity) {
		t.Fatalf("transfer: want ErrInsufficientFunds and ErrAtomicity, got %v", err)
	}
	if _, err := s.entries.AppendBatch(ctx, domain.NewTransferPosting(a.ID, b.ID, 120, "", uuid.Nil).Entries); err != nil {
		t.Fatalf("exact balance transfer: %v", err)
	}
	if r, _ := s.entries.Sum(ctx, a.ID, domain.Cursor{}, time.Time{}); r.Sum != 0 || r.Count != 3 {
		t.Fatalf("replay a=%+v", r)
	}
}

func TestLedgerStoreRefIDUnique(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	a := s.account(t, "foo")
	b := s.account(t, "bar")
	ref := uuid.New()

	if _, err := s.entries.Append(ctx, domain.NewDepositPosting(a.ID, 10, "", ref).Entries[0]); err != nil {
		t.Fatal(err)
	}
	_, err := s.entries.Append(ctx, domain.NewDepositPosting(b.ID, 10, "", ref).Entries[0])
	if !errors.Is(err, domain.ErrDuplicateRef) || domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("want ErrDuplicateRef, got %v", err)
	}
	_, err = s.entries.AppendBatch(ctx, domain.NewTransferPosting(a.ID, b.ID, 5, "", ref).Entries)
	if !errors.Is(err, domain.ErrDuplicateRef) {
		t.Fatalf("batch: want ErrDuplicateRef, got %v", err)
	}

	// 轉帳兩條腿共用 ref id，只有第一條佔用唯一鍵
	tref := uuid.New()
	legs, err := s.entries.AppendBatch(ctx, domain.NewTransferPosting(a.ID, b.ID, 5, "", tref).Entries)
	if err != nil {
		t.Fatal(err)
	}
	if byRef, _ := s.entries.ListByRef(ctx, tref); len(byRef) != 2 || legs[1].RefID != tref {
		t.Fatalf("byRef=%d legs=%+v", len(byRef), legs)
	}
	// 沒有 ref id 的分錄不受限制
	for i := 0; i < 2; i++ {
		if _, err := s.entries.Append(ctx, domain.NewDepositPosting(b.ID, 1, "", uuid.Nil).Entries[0]); err != nil {
			t.Fatal(err)
		}
	}
}

// slowSum 讓餘額讀取變慢，拉長「讀餘額 -> 寫入」之間的空窗
type slowSum struct {
	usecase.LedgerStore
}

func (s slowSum) Sum(ctx context.Context, accountID int64, after domain.Cursor, upTo time.Time) (domain.Replay, error) {
	time.Sleep(50 * time.Millisecond)
	return s.LedgerStore.Sum(ctx, accountID, after, upTo)
}

// TestSeparateInstancesNeverOverdraw 兩個各自持有帳戶鎖的 coordinator 共用同一個資料庫
func TestSeparateInstancesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	a := s.account(t, "foo")
	if _, err := s.entries.Append(ctx, domain.NewDepositPosting(a.ID, 100, "", uuid.Nil).Entries[0]); err != nil {
		t.Fatal(err)
	}

	instance := func() *usecase.TransferCoordinator {
		entries := slowSum{s.entries}
		balances := usecase.NewBalanceEngine(s.accounts, entries, s.checkpoints, nil)
		return usecase.NewTransferCoordinator(s.accounts, entries, balances, usecase.NewAccountGuard(time.Second))
	}
	instances := []*usecase.TransferCoordinator{instance(), instance()}

	errs := make([]error, len(instances))
	var wg sync.WaitGroup
	for i, c := range instances {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Withdraw(ctx, usecase.WithdrawCommand{AccountID: a.ID, Amount: 100})
		}()
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientFunds):
			rejected++
		default:
			t.Fatalf("unexpected err=%v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("ok=%d rejected=%d errs=%v", ok, rejected, errs)
	}
	if r, _ := s.entries.Sum(ctx, a.ID, domain.Cursor{}, time.Time{}); r.Sum != 0 {
		t.Fatalf("final balance=%d", r.Sum)
	}
}

// TestSeparateInstancesShareRefID 兩個 instance 同時以同一個 ref id 存款，只會寫入一次
func TestSeparateInstancesShareRefID(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	a := s.account(t, "foo")
	b := s.account(t, "bar")
	ref := uuid.New()

	instance := func() *usecase.TransferCoordinator {
		entries := slowSum{s.entries}
		balances := usecase.NewBalanceEngine(s.accounts, entries, s.checkpoints, nil)
		return usecase.NewTransferCoordinator(s.accounts, entries, balances, usecase.NewAccountGuard(time.Second))
	}
	cmds := []usecase.DepositCommand{
		{AccountID: a.ID, Amount: 10, RefID: ref},
		{AccountID: b.ID, Amount: 10, RefID: ref},
	}
	errs := make([]error, len(cmds))
	var wg sync.WaitGroup
	for i, cmd := range cmds {
		c := instance()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Deposit(ctx, cmd)
		}()
	}
	wg.Wait()

	byRef, err := s.entries.ListByRef(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if len(byRef) != 1 {
		t.Fatalf("entries with ref=%d want 1", len(byRef))
	}
	var failed int
	for _, err := range errs {
		if err != nil {
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("unexpected err=%v", err)
			}
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("errs=%v", errs)
	}
}
