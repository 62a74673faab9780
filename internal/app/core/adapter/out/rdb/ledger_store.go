package rdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-ledger/pkg/database"
)

// cursorAfter 條件: (created_at, sequence) > (?, ?)
const cursorAfter = "(created_at > ? OR (created_at = ? AND sequence > ?))"

// cursorAtOrBefore 條件: (created_at, sequence) <= (?, ?)
const cursorAtOrBefore = "(created_at < ? OR (created_at = ? AND sequence <= ?))"

// LedgerStore 以 GORM 實作的帳本 (MySQL / PostgreSQL / SQLite)
type LedgerStore struct {
	client *database.Client
	ids    domain.IDGenerator
	clock  domain.Clock
}

// Option 設定 LedgerStore
type Option func(*LedgerStore)

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

// NewLedgerStore 建立 LedgerStore，預設使用 snowflake node 0
func NewLedgerStore(client *database.Client, opts ...Option) (*LedgerStore, error) {
	s := &LedgerStore{
		client: client,
		clock:  domain.SystemClock{},
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
	return s, nil
}

func (s *LedgerStore) db(ctx context.Context) *gorm.DB {
	return s.client.DB().WithContext(ctx)
}

// Append 寫入單筆分錄
func (s *LedgerStore) Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if err := domain.ValidateBatch([]domain.LedgerEntry{entry}); err != nil {
		return domain.LedgerEntry{}, err
	}
	out, err := s.insert(ctx, []domain.LedgerEntry{entry})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return out[0], nil
}

// AppendBatch 在同一個 DB transaction 內寫入全部分錄
func (s *LedgerStore) AppendBatch(ctx context.Context, entries []domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	if err := domain.ValidateBatch(entries); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAtomicity, err)
	}
	out, err := s.insert(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAtomicity, err)
	}
	return out, nil
}

// insert 鎖定相關帳戶列後寫入；created_at 不早於帳戶最後一筆分錄
//
// 扣款在同一個 transaction 內重新檢查餘額，多個 instance 共用資料庫時也不會透支。
func (s *LedgerStore) insert(ctx context.Context, entries []domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.AccountID)
	}
	ids = domain.SortedLockIDs(ids...)

	rows := make([]sqlEntry, len(entries))
	err := s.db(ctx).Transaction(func(tx *gorm.DB) error {
		// 悲觀鎖，依 ID 排序
		var locked []int64
		if err := tx.Model(&sqlAccount{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Order("id").
			Pluck("id", &locked).Error; err != nil {
			return err
		}
		// 安全檢查：確保涉及的帳號都存在
		if len(locked) != len(ids) {
			return fmt.Errorf("%w: account in %v", domain.ErrNotFound, ids)
		}
		if err := checkDebits(tx, entries); err != nil {
			return err
		}

		var lastNano int64
		if err := tx.Model(&sqlEntry{}).
			Where("account_id IN ?", ids).
			Select("COALESCE(MAX(created_at), 0)").
			Scan(&lastNano).Error; err != nil {
			return err
		}
		now := max(s.clock.Now().UTC().UnixNano(), lastNano)

		for i, e := range entries {
			e.ID = s.ids.NextID()
			e.Sequence = 0
			rows[i] = toEntryRow(e)
			rows[i].CreatedAtNano = now
		}
		if ref := entries[0].RefID; ref != uuid.Nil {
			key := ref.String()
			rows[0].PostingRef = &key
		}
		err := tx.Create(&rows).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) && entries[0].RefID != uuid.Nil {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateRef, entries[0].RefID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

// checkDebits 對每個被扣款的帳戶，在鎖內以最新 checkpoint + 之後的分錄算出餘額
func checkDebits(tx *gorm.DB, entries []domain.LedgerEntry) error {
	delta := make(map[int64]int64, len(entries))
	for _, e := range entries {
		if e.Counts() {
			delta[e.AccountID] += e.Amount
		}
	}
	for accountID, d := range delta {
		if d >= 0 {
			continue
		}
		balance, err := lockedBalance(tx, accountID)
		if err != nil {
			return err
		}
		if balance < -d {
			return fmt.Errorf("%w: account %d balance %d, required %d",
				domain.ErrInsufficientFunds, accountID, balance, -d)
		}
	}
	return nil
}

func lockedBalance(tx *gorm.DB, accountID int64) (int64, error) {
	var cp sqlCheckpoint
	res := tx.Where("account_id = ?", accountID).
		Order("as_of DESC, as_of_seq DESC").
		Limit(1).
		Find(&cp)
	if res.Error != nil {
		return 0, res.Error
	}

	q := tx.Model(&sqlEntry{}).Where("account_id = ? AND status = ?", accountID, uint8(domain.EntryStatusSuccess))
	if res.RowsAffected > 0 {
		q = q.Where(cursorAfter, cp.AsOfNano, cp.AsOfNano, cp.AsOfSeq)
	}
	var sum int64
	if err := q.Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error; err != nil {
		return 0, err
	}
	return cp.Balance + sum, nil
}

// ListByAccount 依 (created-at, sequence) 分頁列出帳戶分錄
func (s *LedgerStore) ListByAccount(ctx context.Context, accountID int64, q domain.EntryQuery) (domain.EntryPage, error) {
	after, err := domain.ParseCursorToken(q.PageToken)
	if err != nil {
		return domain.EntryPage{}, err
	}
	tx := s.db(ctx).Where("account_id = ?", accountID)
	if !after.IsZero() {
		n := toNano(after.At)
		tx = tx.Where(cursorAfter, n, n, after.Seq)
	}
	tx = withRange(tx, q).Order("created_at, sequence")
	return page(tx, q.PageSize())
}

// ListAll 依 sequence 分頁列出所有分錄
func (s *LedgerStore) ListAll(ctx context.Context, q domain.EntryQuery) (domain.EntryPage, error) {
	after, err := domain.ParseCursorToken(q.PageToken)
	if err != nil {
		return domain.EntryPage{}, err
	}
	tx := s.db(ctx).Where("sequence > ?", after.Seq)
	tx = withRange(tx, q).Order("sequence")
	return page(tx, q.PageSize())
}

func withRange(tx *gorm.DB, q domain.EntryQuery) *gorm.DB {
	if !q.From.IsZero() {
		tx = tx.Where("created_at >= ?", toNano(q.From))
	}
	if !q.To.IsZero() {
		tx = tx.Where("created_at <= ?", toNano(q.To))
	}
	return tx
}

// page 多讀一筆判斷是否有下一頁
func page(tx *gorm.DB, limit int) (domain.EntryPage, error) {
	var rows []sqlEntry
	if err := tx.Limit(limit + 1).Find(&rows).Error; err != nil {
		return domain.EntryPage{}, err
	}
	p := domain.EntryPage{}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[limit-1].toDomain()
		p.NextPageToken = last.Cursor().Token()
	}
	p.Entries = toEntries(rows)
	return p, nil
}

// Sum 先找出範圍內最後一筆的位置，再加總到該位置為止，兩次查詢之間的新寫入不會被算進去
func (s *LedgerStore) Sum(ctx context.Context, accountID int64, after domain.Cursor, upTo time.Time) (domain.Replay, error) {
	scope := func(tx *gorm.DB) *gorm.DB {
		tx = tx.Where("account_id = ?", accountID)
		if !after.IsZero() {
			n := toNano(after.At)
			tx = tx.Where(cursorAfter, n, n, after.Seq)
		}
		if !upTo.IsZero() {
			tx = tx.Where("created_at <= ?", toNano(upTo))
		}
		return tx
	}

	var last sqlEntry
	res := s.db(ctx).Model(&sqlEntry{}).Scopes(scope).
		Order("created_at DESC, sequence DESC").
		Limit(1).
		Find(&last)
	if res.Error != nil {
		return domain.Replay{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Replay{}, nil
	}

	var agg struct {
		Total int64
		Count int64
	}
	err := s.db(ctx).Model(&sqlEntry{}).Scopes(scope).
		Where(cursorAtOrBefore, last.CreatedAtNano, last.CreatedAtNano, last.Sequence).
		Select("COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS total, COUNT(*) AS count",
			uint8(domain.EntryStatusSuccess)).
		Scan(&agg).Error
	if err != nil {
		return domain.Replay{}, err
	}
	return domain.Replay{
		Sum:   agg.Total,
		Count: int(agg.Count),
		Last:  domain.Cursor{At: fromNano(last.CreatedAtNano), Seq: last.Sequence},
	}, nil
}

// Get 以分錄 ID 查詢
func (s *LedgerStore) Get(ctx context.Context, entryID int64) (domain.LedgerEntry, error) {
	var row sqlEntry
	err := s.db(ctx).Where("entry_id = ?", entryID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.LedgerEntry{}, fmt.Errorf("%w: entry %d", domain.ErrNotFound, entryID)
	}
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return row.toDomain(), nil
}

func (s *LedgerStore) ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]domain.LedgerEntry, error) {
	return s.findWhere(ctx, "correlation_id = ?", correlationID.String())
}

func (s *LedgerStore) ListByRef(ctx context.Context, refID uuid.UUID) ([]domain.LedgerEntry, error) {
	return s.findWhere(ctx, "ref_id = ?", refID.String())
}

func (s *LedgerStore) ListReversals(ctx context.Context, entryID int64) ([]domain.LedgerEntry, error) {
	return s.findWhere(ctx, "reversal_of = ?", entryID)
}

func (s *LedgerStore) findWhere(ctx context.Context, query string, arg any) ([]domain.LedgerEntry, error) {
	var rows []sqlEntry
	if err := s.db(ctx).Where(query, arg).Order("sequence").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

var _ usecase.LedgerStore = (*LedgerStore)(nil)
