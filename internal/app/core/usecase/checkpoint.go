package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
)

// CheckpointConfig 控制 checkpoint 的產生頻率
type CheckpointConfig struct {
	// Interval 定期掃描 dirty 帳戶的間隔
	Interval time.Duration
	// Threshold 帳戶自上次 checkpoint 累積多少筆分錄後立即排程
	Threshold int
	// Workers 同時 refresh 的帳戶數
	Workers int
	// QueueSize 立即排程佇列大小，滿了就等下一次定期掃描
	QueueSize int
}

func (c CheckpointConfig) withDefaults() CheckpointConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Threshold <= 0 {
		c.Threshold = 100
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	return c
}

// CheckpointManager 在背景把帳戶餘額物化成 checkpoint，限制 BalanceAsOf 的重放長度。
// 只是最佳化：失敗只記 log，下一輪再試，不影響讀寫正確性。
type CheckpointManager struct {
	accounts    AccountStore
	entries     LedgerStore
	checkpoints CheckpointStore
	guard       *AccountGuard
	clock       domain.Clock
	logger      *slog.Logger
	cfg         CheckpointConfig

	mu    sync.Mutex
	dirty map[int64]int
	// queued 已在佇列中等待 refresh 的帳戶，同一帳戶只排一次
	queued map[int64]bool
	queue  chan int64
}

// NewCheckpointManager 建立 CheckpointManager
func NewCheckpointManager(
	accounts AccountStore,
	entries LedgerStore,
	checkpoints CheckpointStore,
	guard *AccountGuard,
	clock domain.Clock,
	logger *slog.Logger,
	cfg CheckpointConfig,
) *CheckpointManager {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &CheckpointManager{
		accounts:    accounts,
		entries:     entries,
		checkpoints: checkpoints,
		guard:       guard,
		clock:       clock,
		logger:      logger,
		cfg:         cfg,
		dirty:       make(map[int64]int),
		queued:      make(map[int64]bool),
		queue:       make(chan int64, cfg.QueueSize),
	}
}

// Notify 記錄帳戶新增了 n 筆分錄，達到門檻時排程 refresh。不會阻塞寫入路徑。
func (m *CheckpointManager) Notify(accountID int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty[accountID] += n
	if m.dirty[accountID] < m.cfg.Threshold || m.queued[accountID] {
		return
	}
	select {
	case m.queue <- accountID:
		m.queued[accountID] = true
	default:
		// 佇列滿了，交給定期掃描
	}
}

// dequeue 帳戶離開佇列，之後的 Notify 可以再次排程
func (m *CheckpointManager) dequeue(accountID int64) {
	m.mu.Lock()
	delete(m.queued, accountID)
	m.mu.Unlock()
}

// Queued 回傳目前在佇列中等待 refresh 的帳戶數
func (m *CheckpointManager) Queued() int {
	return len(m.queue)
}

// Refresh 以上一個 checkpoint 為基礎增量重放，寫入新的 checkpoint
//
// 只在讀取 checkpoint 之後的分錄時持有帳戶鎖。沒有新分錄時回傳原本的 checkpoint。
func (m *CheckpointManager) Refresh(ctx context.Context, accountID int64) (domain.Checkpoint, error) {
	if _, err := m.accounts.Get(ctx, accountID); err != nil {
		return domain.Checkpoint{}, err
	}

	release, err := m.guard.Acquire(ctx, accountID)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	base, ok, err := m.checkpoints.Latest(ctx, accountID, time.Time{})
	if err != nil {
		release()
		return domain.Checkpoint{}, err
	}
	if !ok {
		base = domain.Checkpoint{AccountID: accountID}
	}
	replay, err := m.entries.Sum(ctx, accountID, base.AsOf, time.Time{})
	release()
	if err != nil {
		return domain.Checkpoint{}, err
	}

	m.clean(accountID, replay.Count)
	if replay.Count == 0 {
		return base, nil
	}

	next := base.Next(replay, m.clock.Now())
	saved, err := m.checkpoints.Save(ctx, next)
	if err != nil {
		m.markDirty(accountID, replay.Count)
		return domain.Checkpoint{}, err
	}
	if !saved {
		// 併發的 refresh 已寫入相同或更新的位置
		m.logger.DebugContext(ctx, "stale checkpoint discarded",
			slog.Int64("account_id", accountID), slog.Uint64("as_of_seq", next.AsOf.Seq))
	}
	return next, nil
}

// Rebuild 刪除帳戶所有 checkpoint 後從頭重放
func (m *CheckpointManager) Rebuild(ctx context.Context, accountID int64) (domain.Checkpoint, error) {
	if err := m.checkpoints.Delete(ctx, accountID); err != nil {
		return domain.Checkpoint{}, err
	}
	return m.Refresh(ctx, accountID)
}

// MarkAllDirty 將所有帳戶標記為需要掃描 (啟動時使用，重啟後 dirty 計數會遺失)
func (m *CheckpointManager) MarkAllDirty(ctx context.Context) error {
	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		m.markDirty(a.ID, 0)
	}
	return nil
}

// Sweep refresh 所有 dirty 帳戶，失敗的帳戶保持 dirty 等下一輪
func (m *CheckpointManager) Sweep(ctx context.Context) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.dirty))
	for id := range m.dirty {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for _, id := range ids {
		g.Go(func() error {
			m.refreshLogged(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// Start 啟動背景迴圈，ctx 結束時停止
func (m *CheckpointManager) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *CheckpointManager) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	sem := make(chan struct{}, m.cfg.Workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		case id := <-m.queue:
			m.dequeue(id)
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				m.refreshLogged(ctx, id)
			}()
		}
	}
}

func (m *CheckpointManager) refreshLogged(ctx context.Context, accountID int64) {
	cp, err := m.Refresh(ctx, accountID)
	if err != nil {
		m.markDirty(accountID, 0)
		m.logger.WarnContext(ctx, "checkpoint refresh failed",
			slog.Int64("account_id", accountID), slog.Any("error", err))
		return
	}
	m.logger.DebugContext(ctx, "checkpoint refreshed",
		slog.Int64("account_id", accountID),
		slog.Int64("balance", cp.Balance),
		slog.Int64("entries", cp.Entries))
}

func (m *CheckpointManager) markDirty(accountID int64, n int) {
	m.mu.Lock()
	m.dirty[accountID] += n
	m.mu.Unlock()
}

// clean 扣掉這次 refresh 涵蓋的筆數；refresh 期間又寫入的筆數會留著
func (m *CheckpointManager) clean(accountID int64, covered int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	left := m.dirty[accountID] - covered
	if left <= 0 {
		delete(m.dirty, accountID)
		return
	}
	m.dirty[accountID] = left
}

// Pending 回傳帳戶尚未被 checkpoint 涵蓋的分錄數 (dirty 計數)
func (m *CheckpointManager) Pending(accountID int64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.dirty[accountID]
	return n, ok
}
