package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-ledger/pkg/wal"
)

// walRecord 一次 append 對應一筆 WAL 紀錄，批次的所有分錄在同一行，重放時全有或全無
type walRecord struct {
	Entries []domain.LedgerEntry `json:"entries"`
}

// LedgerStore 是記憶體版的帳本，用 RWMutex 保護索引，選擇性以 WAL 持久化
//
// 結構:
//
//	entries: 所有分錄，索引 = sequence - 1
//	byAccount: 帳戶 -> entries 索引，依 (created-at, sequence) 排序
//	byID / byCorrelation / byRef / reversals: 查詢用索引
//	wal: Write-Ahead Log 實例 (可為 nil)
type LedgerStore struct {
	mu            sync.RWMutex
	seq           uint64
	entries       []domain.LedgerEntry
	byAccount     map[int64][]int
	byID          map[int64]int
	byCorrelation map[uuid.UUID][]int
	byRef         map[uuid.UUID][]int
	reversals     map[int64][]int

	wal   *wal.WAL
	ids   domain.IDGenerator
	clock domain.Clock
}

// Option 設定 LedgerStore
type Option func(*LedgerStore)

// WithWAL 啟用 WAL，建立時會先從 WAL 恢復
func WithWAL(w *wal.WAL) Option {
	return func(s *LedgerStore) {
		s.wal = w
	}
}

// WithClock 替換時間來源
func WithClock(clock domain.Clock) Option {
	return func(s *LedgerStore) {
		s.clock = clock
	}
}

// WithIDGenerator 替換分錄 ID 產生器
func WithIDGenerator(ids domain.IDGenerator) Option {
	return func(s *LedgerStore) {
		s.ids = ids
	}
}

// NewLedgerStore 建立一個新的 LedgerStore 實例
//
// 參數:
//
//	opts: WAL / 時鐘 / ID 產生器
//
// 回傳:
//
//	*LedgerStore: LedgerStore 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewLedgerStore(opts ...Option) (*LedgerStore, error) {
	s := &LedgerStore{
		byAccount:     make(map[int64][]int),
		byID:          make(map[int64]int),
		byCorrelation: make(map[uuid.UUID][]int),
		byRef:         make(map[uuid.UUID][]int),
		reversals:     make(map[int64][]int),
		clock:         domain.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ids == nil {
		ids, err := domain.NewSnowflakeIDs(0)
		if err != nil {
			return nil, err
		}
		s.ids = ids
	}
	if s.wal != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, fmt.Errorf("failed to recover ledger from wal: %w", err)
		}
	}
	return s, nil
}

// recoverFromWAL 從 WAL 檔案恢復分錄
// 只有 NewLedgerStore 呼叫，無需 Lock (單執行緒)
func (s *LedgerStore) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var rec walRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		for _, e := range rec.Entries {
			if e.Sequence != s.seq+1 {
				return fmt.Errorf("wal sequence gap: got %d after %d", e.Sequence, s.seq)
			}
			s.index(e)
			s.seq = e.Sequence
		}
		return nil
	})
}

// Append 寫入單筆分錄
func (s *LedgerStore) Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if err := domain.ValidateBatch([]domain.LedgerEntry{entry}); err != nil {
		return domain.LedgerEntry{}, err
	}
	out, err := s.append([]domain.LedgerEntry{entry})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return out[0], nil
}

// AppendBatch 原子寫入多筆分錄
func (s *LedgerStore) AppendBatch(ctx context.Context, entries []domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	if err := domain.ValidateBatch(entries); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAtomicity, err)
	}
	out, err := s.append(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAtomicity, err)
	}
	return out, nil
}

// append 分配 sequence / ID / 時間，先寫 WAL 再更新索引
func (s *LedgerStore) append(entries []domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 一個 ref id 只對應一筆 posting
	if ref := entries[0].RefID; ref != uuid.Nil && len(s.byRef[ref]) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateRef, ref)
	}

	// 同一帳戶的時間不能倒退
	now := s.clock.Now().UTC()
	for _, e := range entries {
		if idx := s.byAccount[e.AccountID]; len(idx) > 0 {
			if last := s.entries[idx[len(idx)-1]].CreatedAt; last.After(now) {
				now = last
			}
		}
	}

	out := make([]domain.LedgerEntry, len(entries))
	seq := s.seq
	for i, e := range entries {
		seq++
		e.Sequence = seq
		e.ID = s.ids.NextID()
		e.CreatedAt = now
		out[i] = e
	}

	// 1. 寫入 WAL (Critical Path)
	if s.wal != nil {
		if err := s.wal.Write(walRecord{Entries: out}); err != nil {
			return nil, fmt.Errorf("wal write failed: %w", err)
		}
	}
	// 2. 更新記憶體索引
	for _, e := range out {
		s.index(e)
	}
	s.seq = seq
	return out, nil
}

func (s *LedgerStore) index(e domain.LedgerEntry) {
	i := len(s.entries)
	s.entries = append(s.entries, e)
	s.byAccount[e.AccountID] = append(s.byAccount[e.AccountID], i)
	s.byID[e.ID] = i
	if e.CorrelationID != uuid.Nil {
		s.byCorrelation[e.CorrelationID] = append(s.byCorrelation[e.CorrelationID], i)
	}
	if e.RefID != uuid.Nil {
		s.byRef[e.RefID] = append(s.byRef[e.RefID], i)
	}
	if e.ReversalOf != 0 {
		s.reversals[e.ReversalOf] = append(s.reversals[e.ReversalOf], i)
	}
}

// ListByAccount 依 (created-at, sequence) 分頁列出帳戶分錄
func (s *LedgerStore) ListByAccount(ctx context.Context, accountID int64, q domain.EntryQuery) (domain.EntryPage, error) {
	after, err := domain.ParseCursorToken(q.PageToken)
	if err != nil {
		return domain.EntryPage{}, err
	}
	limit := q.PageSize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byAccount[accountID]
	start := sort.Search(len(idx), func(i int) bool {
		e := &s.entries[idx[i]]
		return e.Cursor().Compare(after) > 0 && !e.CreatedAt.Before(q.From)
	})

	page := domain.EntryPage{Entries: make([]domain.LedgerEntry, 0, min(limit, len(idx)-start))}
	for _, i := range idx[start:] {
		e := s.entries[i]
		if !q.To.IsZero() && e.CreatedAt.After(q.To) {
			break
		}
		if len(page.Entries) == limit {
			page.NextPageToken = page.Entries[limit-1].Cursor().Token()
			break
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

// ListAll 依 sequence 分頁列出所有分錄
func (s *LedgerStore) ListAll(ctx context.Context, q domain.EntryQuery) (domain.EntryPage, error) {
	after, err := domain.ParseCursorToken(q.PageToken)
	if err != nil {
		return domain.EntryPage{}, err
	}
	limit := q.PageSize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	page := domain.EntryPage{Entries: make([]domain.LedgerEntry, 0, limit)}
	for i := int(min(after.Seq, uint64(len(s.entries)))); i < len(s.entries); i++ {
		e := s.entries[i]
		if !q.InRange(e.CreatedAt) {
			continue
		}
		if len(page.Entries) == limit {
			page.NextPageToken = page.Entries[limit-1].Cursor().Token()
			break
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

// Sum 重放 after (不含) 之後、upTo (含) 之前的分錄
func (s *LedgerStore) Sum(ctx context.Context, accountID int64, after domain.Cursor, upTo time.Time) (domain.Replay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byAccount[accountID]
	start := sort.Search(len(idx), func(i int) bool {
		return s.entries[idx[i]].Cursor().Compare(after) > 0
	})

	var r domain.Replay
	for _, i := range idx[start:] {
		e := &s.entries[i]
		if !upTo.IsZero() && e.CreatedAt.After(upTo) {
			break
		}
		r.Count++
		r.Last = e.Cursor()
		if e.Counts() {
			r.Sum += e.Amount
		}
	}
	return r, nil
}

// Get 以分錄 ID 查詢
func (s *LedgerStore) Get(ctx context.Context, entryID int64) (domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[entryID]
	if !ok {
		return domain.LedgerEntry{}, fmt.Errorf("%w: entry %d", domain.ErrNotFound, entryID)
	}
	return s.entries[i], nil
}

func (s *LedgerStore) ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]domain.LedgerEntry, error) {
	return s.collect(s.byCorrelation, correlationID), nil
}

func (s *LedgerStore) ListByRef(ctx context.Context, refID uuid.UUID) ([]domain.LedgerEntry, error) {
	return s.collect(s.byRef, refID), nil
}

func (s *LedgerStore) ListReversals(ctx context.Context, entryID int64) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyAt(s.reversals[entryID]), nil
}

func (s *LedgerStore) collect(index map[uuid.UUID][]int, key uuid.UUID) []domain.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyAt(index[key])
}

func (s *LedgerStore) copyAt(idx []int) []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.entries[i])
	}
	return out
}

var _ usecase.LedgerStore = (*LedgerStore)(nil)
