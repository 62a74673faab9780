package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
)

func TestGuardOppositeOrderDoesNotDeadlock(t *testing.T) {
	g := usecase.NewAccountGuard(time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(ctx, 1, 2)
			if err != nil {
				errs <- err
				return
			}
			release()
		}()
		go func() {
			defer wg.Done()
			release, err := g.Acquire(ctx, 2, 1)
			if err != nil {
				errs <- err
				return
			}
			release()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("acquire failed: %v", err)
	}
}

func TestGuardTimeout(t *testing.T) {
	g := usecase.NewAccountGuard(time.Second)
	release, err := g.Acquire(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx, 3, 7); !errors.Is(err, domain.ErrConcurrencyTimeout) {
		t.Fatalf("want ErrConcurrencyTimeout, got %v", err)
	}

	// 逾時時已取得的 3 必須被釋放
	r3, err := g.Acquire(context.Background(), 3)
	if err != nil {
		t.Fatalf("account 3 should be free: %v", err)
	}
	r3()
}

func TestGuardDefaultTimeoutWithoutDeadline(t *testing.T) {
	g := usecase.NewAccountGuard(30 * time.Millisecond)
	release, _ := g.Acquire(context.Background(), 1)
	defer release()

	start := time.Now()
	if _, err := g.Acquire(context.Background(), 1); !errors.Is(err, domain.ErrConcurrencyTimeout) {
		t.Fatalf("want ErrConcurrencyTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("default timeout not applied")
	}
}

func TestGuardIndependentAccounts(t *testing.T) {
	g := usecase.NewAccountGuard(time.Second)
	release, _ := g.Acquire(context.Background(), 1)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r2, err := g.Acquire(ctx, 2)
	if err != nil {
		t.Fatalf("unrelated account blocked: %v", err)
	}
	r2()
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	g := usecase.NewAccountGuard(time.Second)
	release, _ := g.Acquire(context.Background(), 1)
	release()
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r, err := g.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("acquire after double release: %v", err)
	}
	r()
}
