package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
)

// DefaultGuardTimeout 呼叫端 ctx 沒有 deadline 時的等待上限
const DefaultGuardTimeout = 2 * time.Second

type accountLock struct {
	sem  *semaphore.Weighted
	refs int
}

// AccountGuard 帳戶層級的互斥鎖。
// 不同帳戶互不阻塞；多帳戶一律依 ID 由小到大取得，避免反向轉帳互相死鎖。
type AccountGuard struct {
	mu      sync.Mutex
	locks   map[int64]*accountLock
	timeout time.Duration
}

// NewAccountGuard 建立 AccountGuard，timeout <= 0 時使用 DefaultGuardTimeout
func NewAccountGuard(timeout time.Duration) *AccountGuard {
	if timeout <= 0 {
		timeout = DefaultGuardTimeout
	}
	return &AccountGuard{
		locks:   make(map[int64]*accountLock),
		timeout: timeout,
	}
}

// Acquire 依序取得多個帳戶的鎖
//
// 參數:
//
//	ctx: 上下文 (deadline / cancel 會中止等待)
//	ids: 帳戶 ID，順序與重複不影響
//
// 回傳:
//
//	func(): 釋放全部的鎖，只能呼叫一次
//	error: 逾時或取消時回傳 ErrConcurrencyTimeout，此時沒有持有任何鎖
func (g *AccountGuard) Acquire(ctx context.Context, ids ...int64) (func(), error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ordered := domain.SortedLockIDs(ids...)
	held := make([]int64, 0, len(ordered))
	for _, id := range ordered {
		l := g.ref(id)
		if err := l.sem.Acquire(ctx, 1); err != nil {
			g.unref(id)
			g.release(held)
			return nil, fmt.Errorf("%w: account %d: %v", domain.ErrConcurrencyTimeout, id, err)
		}
		held = append(held, id)
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.release(held) })
	}, nil
}

func (g *AccountGuard) release(held []int64) {
	for i := len(held) - 1; i >= 0; i-- {
		g.mu.Lock()
		l := g.locks[held[i]]
		g.mu.Unlock()
		l.sem.Release(1)
		g.unref(held[i])
	}
}

// ref 取得 (必要時建立) 帳戶鎖並增加引用數
func (g *AccountGuard) ref(id int64) *accountLock {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &accountLock{sem: semaphore.NewWeighted(1)}
		g.locks[id] = l
	}
	l.refs++
	return l
}

// unref 引用數歸零時移除，避免 map 隨帳戶數無限成長
func (g *AccountGuard) unref(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.locks[id]
	l.refs--
	if l.refs == 0 {
		delete(g.locks, id)
	}
}
