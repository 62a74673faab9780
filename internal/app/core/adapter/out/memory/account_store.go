package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-ledger/pkg/wal"
)

// AccountStore 記憶體版帳戶資料，wal 不為 nil 時每次建立都先寫 WAL
type AccountStore struct {
	mu       sync.RWMutex
	lastID   int64
	accounts map[int64]domain.Account
	order    []int64
	wal      *wal.WAL
}

// NewAccountStore 建立 AccountStore，w 可為 nil
//
// 參數:
//
//	w: Write-Ahead Log 實例
//
// 回傳:
//
//	*AccountStore: AccountStore 實例
//	error: WAL 恢復錯誤
func NewAccountStore(w *wal.WAL) (*AccountStore, error) {
	s := &AccountStore{
		accounts: make(map[int64]domain.Account),
		wal:      w,
	}
	if w == nil {
		return s, nil
	}
	err := w.ReadAll(func(jsonRaw []byte) error {
		var a domain.Account
		if err := json.Unmarshal(jsonRaw, &a); err != nil {
			return err
		}
		s.put(a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recover accounts from wal: %w", err)
	}
	return s, nil
}

func (s *AccountStore) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account.ID = s.lastID + 1
	account.CreatedAt = account.CreatedAt.UTC()
	if s.wal != nil {
		if err := s.wal.Write(account); err != nil {
			return domain.Account{}, fmt.Errorf("wal write failed: %w", err)
		}
	}
	s.put(account)
	return account, nil
}

func (s *AccountStore) put(a domain.Account) {
	if _, ok := s.accounts[a.ID]; !ok {
		s.order = append(s.order, a.ID)
	}
	s.accounts[a.ID] = a
	s.lastID = max(s.lastID, a.ID)
}

func (s *AccountStore) Get(ctx context.Context, id int64) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %d", domain.ErrNotFound, id)
	}
	return a, nil
}

func (s *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.accounts[id])
	}
	return out, nil
}

var _ usecase.AccountStore = (*AccountStore)(nil)
