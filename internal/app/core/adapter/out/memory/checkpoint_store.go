package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
)

// CheckpointStore 記憶體版 checkpoint 歷史，每個帳戶依 AsOf 遞增排列
type CheckpointStore struct {
	mu        sync.RWMutex
	byAccount map[int64][]domain.Checkpoint
	// retain 每個帳戶保留的 checkpoint 數，0 為不限
	retain int
}

// NewCheckpointStore retain <= 0 時保留全部歷史
func NewCheckpointStore(retain int) *CheckpointStore {
	return &CheckpointStore{
		byAccount: make(map[int64][]domain.Checkpoint),
		retain:    retain,
	}
}

func (s *CheckpointStore) Save(ctx context.Context, cp domain.Checkpoint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.byAccount[cp.AccountID]
	if n := len(list); n > 0 && cp.AsOf.Compare(list[n-1].AsOf) <= 0 {
		return false, nil
	}
	list = append(list, cp)
	if s.retain > 0 && len(list) > s.retain {
		list = append([]domain.Checkpoint(nil), list[len(list)-s.retain:]...)
	}
	s.byAccount[cp.AccountID] = list
	return true, nil
}

func (s *CheckpointStore) Latest(ctx context.Context, accountID int64, upTo time.Time) (domain.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byAccount[accountID]
	i := len(list)
	if !upTo.IsZero() {
		i = sort.Search(len(list), func(i int) bool {
			return list[i].AsOf.At.After(upTo)
		})
	}
	if i == 0 {
		return domain.Checkpoint{}, false, nil
	}
	return list[i-1], true, nil
}

func (s *CheckpointStore) Delete(ctx context.Context, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byAccount, accountID)
	return nil
}

var _ usecase.CheckpointStore = (*CheckpointStore)(nil)
