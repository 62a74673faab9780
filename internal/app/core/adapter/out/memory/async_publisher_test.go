package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TransactionPosted
	block  chan struct{}
}

func (r *recordingPublisher) Publish(ctx context.Context, e domain.TransactionPosted) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestAsyncPublisherDrainsOnShutdown(t *testing.T) {
	next := &recordingPublisher{}
	p := NewAsyncPublisher(next, 10, nil)

	for i := 0; i < 5; i++ {
		if err := p.Publish(context.Background(), domain.TransactionPosted{Kind: "DEPOSIT"}); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Start(ctx)
	<-p.Done()

	if next.count() != 5 {
		t.Fatalf("delivered=%d want 5", next.count())
	}
}

func TestAsyncPublisherQueueFull(t *testing.T) {
	next := &recordingPublisher{}
	p := NewAsyncPublisher(next, 1, nil)

	if err := p.Publish(context.Background(), domain.TransactionPosted{}); err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(context.Background(), domain.TransactionPosted{}); !errors.Is(err, ErrEventQueueFull) {
		t.Fatalf("want ErrEventQueueFull, got %v", err)
	}
	if p.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", p.Dropped())
	}
}
