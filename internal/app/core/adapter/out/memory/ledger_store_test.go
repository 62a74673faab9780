package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/pkg/wal"
)

// stepClock 每次呼叫前進一秒，讓每筆分錄有不同時間
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

// counterIDs 依序產生 1, 2, 3...
type counterIDs struct {
	mu   sync.Mutex
	last int64
}

func (c *counterIDs) NextID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T, opts ...Option) *LedgerStore {
	t.Helper()
	opts = append([]Option{WithClock(&stepClock{now: t0}), WithIDGenerator(&counterIDs{})}, opts...)
	s, err := NewLedgerStore(opts...)
	if err != nil {
		t.Fatalf("NewLedgerStore err=%v", err)
	}
	return s
}

func deposit(account, amount int64) domain.LedgerEntry {
	return domain.NewDepositPosting(account, amount, "", uuid.Nil).Entries[0]
}

func TestAppendAssignsOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a, err := s.Append(ctx, deposit(1, 100))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Append(ctx, deposit(1, 50))
	if err != nil {
		t.Fatal(err)
	}
	if a.Sequence != 1 || b.Sequence != 2 {
		t.Fatalf("sequences=%d,%d want 1,2", a.Sequence, b.Sequence)
	}
	if !b.CreatedAt.After(a.CreatedAt) {
		t.Fatalf("created_at not increasing: %v %v", a.CreatedAt, b.CreatedAt)
	}
	got, err := s.Get(ctx, b.ID)
	if err != nil || got.Amount != 50 {
		t.Fatalf("Get=%+v err=%v", got, err)
	}
	if _, err := s.Get(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	bad := deposit(1, 100)
	bad.Amount = -100
	if _, err := s.Append(ctx, bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	// 單獨一條轉帳腿不能寫入
	leg := domain.NewTransferPosting(1, 2, 10, "", uuid.Nil).Entries[0]
	if _, err := s.Append(ctx, leg); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	page, _ := s.ListAll(ctx, domain.EntryQuery{})
	if len(page.Entries) != 0 {
		t.Fatalf("entries=%d want 0", len(page.Entries))
	}
}

func TestAppendBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	p := domain.NewTransferPosting(1, 2, 500, "rent", uuid.Nil)
	broken := append([]domain.LedgerEntry(nil), p.Entries...)
	broken[1].Amount = 400 // 兩條腿金額不相反

	if _, err := s.AppendBatch(ctx, broken); !errors.Is(err, domain.ErrAtomicity) {
		t.Fatalf("want ErrAtomicity, got %v", err)
	}
	if r, _ := s.Sum(ctx, 1, domain.Cursor{}, time.Time{}); r.Count != 0 {
		t.Fatalf("partial write: %+v", r)
	}

	legs, err := s.AppendBatch(ctx, p.Entries)
	if err != nil {
		t.Fatal(err)
	}
	if len(legs) != 2 || !legs[0].CreatedAt.Equal(legs[1].CreatedAt) {
		t.Fatalf("legs=%+v", legs)
	}
	byCorr, _ := s.ListByCorrelation(ctx, p.CorrelationID)
	if len(byCorr) != 2 {
		t.Fatalf("ListByCorrelation len=%d want 2", len(byCorr))
	}
}

func TestAppendRejectsDuplicateRef(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ref := uuid.New()

	if _, err := s.Append(ctx, domain.NewDepositPosting(1, 10, "", ref).Entries[0]); err != nil {
		t.Fatal(err)
	}
	_, err := s.Append(ctx, domain.NewDepositPosting(2, 10, "", ref).Entries[0])
	if !errors.Is(err, domain.ErrDuplicateRef) || !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrDuplicateRef, got %v", err)
	}
	_, err = s.AppendBatch(ctx, domain.NewTransferPosting(1, 2, 5, "", ref).Entries)
	if !errors.Is(err, domain.ErrDuplicateRef) || !errors.Is(err, domain.ErrAtomicity) {
		t.Fatalf("batch: want ErrDuplicateRef, got %v", err)
	}
	if r, _ := s.Sum(ctx, 2, domain.Cursor{}, time.Time{}); r.Count != 0 {
		t.Fatalf("duplicate written: %+v", r)
	}

	tref := uuid.New()
	if _, err := s.AppendBatch(ctx, domain.NewTransferPosting(1, 2, 5, "", tref).Entries); err != nil {
		t.Fatal(err)
	}
	if legs, _ := s.ListByRef(ctx, tref); len(legs) != 2 {
		t.Fatalf("legs=%d want 2", len(legs))
	}
}

func TestSumRespectsCursorAndTime(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var entries []domain.LedgerEntry
	for _, amt := range []int64{100, 200, 300} {
		e, err := s.Append(ctx, deposit(1, amt))
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e)
	}
	// 其他帳戶不影響
	if _, err := s.Append(ctx, deposit(2, 999)); err != nil {
		t.Fatal(err)
	}

	all, _ := s.Sum(ctx, 1, domain.Cursor{}, time.Time{})
	if all.Sum != 600 || all.Count != 3 || all.Last != entries[2].Cursor() {
		t.Fatalf("all=%+v", all)
	}
	after, _ := s.Sum(ctx, 1, entries[0].Cursor(), time.Time{})
	if after.Sum != 500 {
		t.Fatalf("after first sum=%d want 500", after.Sum)
	}
	upTo, _ := s.Sum(ctx, 1, domain.Cursor{}, entries[1].CreatedAt)
	if upTo.Sum != 300 || upTo.Count != 2 {
		t.Fatalf("upTo=%+v", upTo)
	}
	before, _ := s.Sum(ctx, 1, domain.Cursor{}, t0)
	if before.Sum != 0 || before.Count != 0 {
		t.Fatalf("before=%+v", before)
	}
}

func TestListByAccountPagination(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i := 1; i <= 5; i++ {
		if _, err := s.Append(ctx, deposit(7, int64(i))); err != nil {
			t.Fatal(err)
		}
	}

	var got []int64
	q := domain.EntryQuery{Limit: 2}
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
		page, err := s.ListByAccount(ctx, 7, q)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range page.Entries {
			got = append(got, e.Amount)
		}
		if page.NextPageToken == "" {
			break
		}
		q.PageToken = page.NextPageToken
	}
	want := []int64{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got=%v want=%v", got, want)
		}
	}

	// 時間範圍為閉區間：第 2 ~ 4 筆
	ranged, err := s.ListByAccount(ctx, 7, domain.EntryQuery{
		From: t0.Add(2 * time.Second),
		To:   t0.Add(4 * time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranged.Entries) != 3 || ranged.Entries[0].Amount != 2 {
		t.Fatalf("ranged=%+v", ranged.Entries)
	}

	if _, err := s.ListByAccount(ctx, 7, domain.EntryQuery{PageToken: "%%%"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for bad token, got %v", err)
	}
}

func TestListAllOrderedBySequence(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i := int64(1); i <= 3; i++ {
		if _, err := s.Append(ctx, deposit(i, 10*i)); err != nil {
			t.Fatal(err)
		}
	}
	first, _ := s.ListAll(ctx, domain.EntryQuery{Limit: 2})
	if len(first.Entries) != 2 || first.NextPageToken == "" {
		t.Fatalf("first=%+v", first)
	}
	second, _ := s.ListAll(ctx, domain.EntryQuery{Limit: 2, PageToken: first.NextPageToken})
	if len(second.Entries) != 1 || second.Entries[0].Sequence != 3 || second.NextPageToken != "" {
		t.Fatalf("second=%+v", second)
	}
}

func TestRecoverFromWAL(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.wal")

	w, err := wal.NewWAL(path)
	if err != nil {
		t.Fatal(err)
	}
	s := newStore(t, WithWAL(w))
	ref := uuid.New()
	dep := domain.NewDepositPosting(1, 1000, "", ref).Entries[0]
	if _, err := s.Append(ctx, dep); err != nil {
		t.Fatal(err)
	}
	p := domain.NewTransferPosting(1, 2, 400, "", uuid.Nil)
	if _, err := s.AppendBatch(ctx, p.Entries); err != nil {
		t.Fatal(err)
	}
	_ = w.Close()

	w2, err := wal.NewWAL(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()
	recovered := newStore(t, WithWAL(w2))

	r1, _ := recovered.Sum(ctx, 1, domain.Cursor{}, time.Time{})
	r2, _ := recovered.Sum(ctx, 2, domain.Cursor{}, time.Time{})
	if r1.Sum != 600 || r2.Sum != 400 {
		t.Fatalf("recovered balances=%d,%d want 600,400", r1.Sum, r2.Sum)
	}
	if byRef, _ := recovered.ListByRef(ctx, ref); len(byRef) != 1 {
		t.Fatalf("ref index not recovered: %v", byRef)
	}
	next, err := recovered.Append(ctx, deposit(2, 1))
	if err != nil {
		t.Fatal(err)
	}
	if next.Sequence != 4 {
		t.Fatalf("sequence after recovery=%d want 4", next.Sequence)
	}
}

func TestConcurrentAppendKeepsSequenceDense(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Append(ctx, deposit(int64(i%5+1), 1)); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	page, _ := s.ListAll(ctx, domain.EntryQuery{Limit: domain.MaxPageSize})
	if len(page.Entries) != 50 {
		t.Fatalf("entries=%d want 50", len(page.Entries))
	}
	for i, e := range page.Entries {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("entry %d sequence=%d", i, e.Sequence)
		}
	}
}
