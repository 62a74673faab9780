package grpc

import (
	"context"
	"sync"
	"testing"

	"google.golang.org/grpc"
)

func TestPoolReusesConnection(t *testing.T) {
	p := NewPool(WithInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(ctx, method, req, reply, cc, opts...)
	}))
	defer p.Close()

	var wg sync.WaitGroup
	conns := make([]*grpc.ClientConn, 8)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.GetConnection("passthrough:///localhost:50051")
			if err != nil {
				t.Error(err)
				return
			}
			conns[i] = c
		}(i)
	}
	wg.Wait()
	for _, c := range conns[1:] {
		if c != conns[0] {
			t.Fatal("same target should share one connection")
		}
	}
	if p.Len() != 1 {
		t.Fatalf("Len=%d want 1", p.Len())
	}

	other, err := p.GetConnection("passthrough:///localhost:50052")
	if err != nil || other == conns[0] {
		t.Fatalf("other target err=%v", err)
	}
}

func TestPoolReplacesClosedConnection(t *testing.T) {
	p := NewPool()
	defer p.Close()

	first, err := p.GetConnection("passthrough:///localhost:50051")
	if err != nil {
		t.Fatal(err)
	}
	first.Close()
	second, err := p.GetConnection("passthrough:///localhost:50051")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("closed connection should be replaced")
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if p.Len() != 0 {
		t.Fatalf("Len=%d after Close", p.Len())
	}
}
