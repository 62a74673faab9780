package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
)

// ErrEventQueueFull 佇列已滿，事件被丟棄
var ErrEventQueueFull = errors.New("event queue full")

// drainTimeout 關閉時把剩下事件送完的上限
const drainTimeout = 5 * time.Second

// AsyncPublisher 把事件放進輸送帶，由單一 goroutine 依序交給下游 publisher。
// 呼叫端不會被下游 (如 Kafka) 的延遲卡住。
//
// Publish -> Channel -> Run Loop -> next.Publish
type AsyncPublisher struct {
	next    usecase.EventPublisher
	events  chan domain.TransactionPosted
	logger  *slog.Logger
	dropped atomic.Int64
	done    chan struct{}
}

// NewAsyncPublisher 建立 AsyncPublisher
//
// 參數:
//
//	next: 實際發送事件的 publisher
//	buffer: 輸送帶大小
//	logger: 下游失敗時記錄
func NewAsyncPublisher(next usecase.EventPublisher, buffer int, logger *slog.Logger) *AsyncPublisher {
	if buffer <= 0 {
		buffer = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncPublisher{
		next:   next,
		events: make(chan domain.TransactionPosted, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Publish 放入輸送帶，滿了直接回傳 ErrEventQueueFull
func (p *AsyncPublisher) Publish(ctx context.Context, event domain.TransactionPosted) error {
	select {
	case p.events <- event:
		return nil
	default:
		p.dropped.Add(1)
		return ErrEventQueueFull
	}
}

// Dropped 回傳因佇列已滿而丟棄的事件數
func (p *AsyncPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Start 啟動發送迴圈 (非同步)，ctx 結束時把剩下的事件送完
func (p *AsyncPublisher) Start(ctx context.Context) {
	go p.run(ctx)
}

// Done 在發送迴圈結束 (含 drain) 後關閉
func (p *AsyncPublisher) Done() <-chan struct{} {
	return p.done
}

func (p *AsyncPublisher) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的事件送完
			p.drain(ctx)
			return
		case event := <-p.events:
			p.send(ctx, event)
		}
	}
}

func (p *AsyncPublisher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		select {
		case event := <-p.events:
			p.send(ctx, event)
		default:
			return
		}
	}
}

func (p *AsyncPublisher) send(ctx context.Context, event domain.TransactionPosted) {
	if err := p.next.Publish(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "publish transaction event failed",
			slog.String("kind", event.Kind),
			slog.String("correlation_id", event.CorrelationID.String()),
			slog.Any("error", err))
	}
}

var _ usecase.EventPublisher = (*AsyncPublisher)(nil)
