package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEntryValidate(t *testing.T) {
	corr := uuid.New()
	tests := []struct {
		name  string
		entry LedgerEntry
		ok    bool
	}{
		{"deposit", LedgerEntry{AccountID: 1, Amount: 10, Kind: EntryKindDeposit, Status: EntryStatusSuccess}, true},
		{"withdrawal", LedgerEntry{AccountID: 1, Amount: -10, Kind: EntryKindWithdrawal, Status: EntryStatusSuccess}, true},
		{"zero amount", LedgerEntry{AccountID: 1, Amount: 0, Kind: EntryKindDeposit, Status: EntryStatusSuccess}, false},
		{"negative deposit", LedgerEntry{AccountID: 1, Amount: -10, Kind: EntryKindDeposit, Status: EntryStatusSuccess}, false},
		{"positive withdrawal", LedgerEntry{AccountID: 1, Amount: 10, Kind: EntryKindWithdrawal, Status: EntryStatusSuccess}, false},
		{"missing account", LedgerEntry{Amount: 10, Kind: EntryKindDeposit, Status: EntryStatusSuccess}, false},
		{"unknown kind", LedgerEntry{AccountID: 1, Amount: 10, Kind: 9, Status: EntryStatusSuccess}, false},
		{"unknown status", LedgerEntry{AccountID: 1, Amount: 10, Kind: EntryKindDeposit}, false},
		{"leg without correlation", LedgerEntry{AccountID: 1, Amount: 10, Kind: EntryKindTransferIn, Status: EntryStatusSuccess}, false},
		{"leg", LedgerEntry{AccountID: 1, Amount: -10, Kind: EntryKindTransferOut, CorrelationID: corr, Status: EntryStatusSuccess}, true},
		{"failed import", LedgerEntry{AccountID: 1, Amount: 10, Kind: EntryKindDeposit, Status: EntryStatusFailed}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestValidateBatch(t *testing.T) {
	good := NewTransferPosting(1, 2, 100, "", uuid.Nil)
	if err := ValidateBatch(good.Entries); err != nil {
		t.Fatalf("valid transfer rejected: %v", err)
	}
	if err := ValidateBatch(nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty batch: %v", err)
	}

	oneLeg := good.Entries[:1]
	if err := ValidateBatch(oneLeg); !errors.Is(err, ErrValidation) {
		t.Fatalf("single leg: %v", err)
	}

	sameAccount := NewTransferPosting(1, 1, 100, "", uuid.Nil)
	if err := ValidateBatch(sameAccount.Entries); !errors.Is(err, ErrValidation) {
		t.Fatalf("same account: %v", err)
	}

	mismatched := NewTransferPosting(1, 2, 100, "", uuid.Nil)
	mismatched.Entries[1].Amount = 99
	if err := ValidateBatch(mismatched.Entries); !errors.Is(err, ErrValidation) {
		t.Fatalf("mismatched amounts: %v", err)
	}
}

func TestPostingLockIDs(t *testing.T) {
	p := NewTransferPosting(9, 3, 1, "", uuid.Nil)
	ids := p.LockIDs()
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 9 {
		t.Fatalf("LockIDs=%v want [3 9]", ids)
	}
	if got := SortedLockIDs(5, 1, 5, 3); fmt.Sprint(got) != "[1 3 5]" {
		t.Fatalf("SortedLockIDs=%v", got)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("%w: bad", ErrValidation), KindValidation},
		{fmt.Errorf("wrap: %w", ErrInsufficientFunds), KindInsufficientFunds},
		{ErrAtomicity, KindAtomicity},
		{ErrConcurrencyTimeout, KindConcurrencyTimeout},
		{context.DeadlineExceeded, KindConcurrencyTimeout},
		{ErrNotFound, KindNotFound},
		{errors.New("boom"), KindInternal},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v)=%q want %q", tt.err, got, tt.want)
		}
	}
}

func TestCursorToken(t *testing.T) {
	c := Cursor{At: time.Date(2024, 5, 6, 7, 8, 9, 123, time.UTC), Seq: 42}
	got, err := ParseCursorToken(c.Token())
	if err != nil {
		t.Fatal(err)
	}
	if got.Compare(c) != 0 {
		t.Fatalf("got=%+v want=%+v", got, c)
	}
	if (Cursor{}).Token() != "" {
		t.Fatal("zero cursor should have empty token")
	}
	for _, bad := range []string{"!!", "bm9jb2xvbg", "YTpi"} {
		if _, err := ParseCursorToken(bad); !errors.Is(err, ErrValidation) {
			t.Errorf("ParseCursorToken(%q) err=%v", bad, err)
		}
	}

	earlier := Cursor{At: c.At, Seq: 41}
	if earlier.Compare(c) != -1 || c.Compare(earlier) != 1 {
		t.Fatal("sequence should break timestamp ties")
	}
}

func TestEntryQueryPageSize(t *testing.T) {
	for limit, want := range map[int]int{0: DefaultPageSize, -1: DefaultPageSize, 10: 10, 10000: MaxPageSize} {
		if got := (EntryQuery{Limit: limit}).PageSize(); got != want {
			t.Errorf("PageSize(%d)=%d want %d", limit, got, want)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	supported := []string{"EUR", "USD"}
	if code, err := NormalizeCurrency("usd", supported); err != nil || code != "USD" {
		t.Fatalf("code=%q err=%v", code, err)
	}
	for _, bad := range []string{"", "EURO", "E1R", "GBP"} {
		if _, err := NormalizeCurrency(bad, supported); !errors.Is(err, ErrValidation) {
			t.Errorf("NormalizeCurrency(%q) err=%v", bad, err)
		}
	}
	if _, err := NormalizeCurrency("GBP", nil); err != nil {
		t.Fatalf("unrestricted: %v", err)
	}
}

func TestCheckpointNext(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	base := Checkpoint{AccountID: 1, Balance: 100, Entries: 4}
	last := Cursor{At: now, Seq: 9}
	next := base.Next(Replay{Sum: -30, Count: 2, Last: last}, now)
	if next.Balance != 70 || next.Entries != 6 || next.AsOf != last || next.AccountID != 1 {
		t.Fatalf("next=%+v", next)
	}
}
