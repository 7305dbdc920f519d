package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/WessleyAI/wellness-mvp/engine/semantic"
	"github.com/WessleyAI/wellness-mvp/pkg/fn"
)

type countingIndexer struct {
	mu       sync.Mutex
	calls    map[string]int
	failures int
}

func (c *countingIndexer) EnsureIndex(_ context.Context, spec semantic.IndexSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[spec.Name]++
	if c.failures > 0 {
		c.failures--
		return errors.New("qdrant unavailable")
	}
	return nil
}

var noRetry = fn.RetryOpts{MaxAttempts: 1}

func TestEnsureIndicesReady_ConcurrentCallsCreateOnce(t *testing.T) {
	idx := &countingIndexer{}
	b := New(idx, 4, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.EnsureIndicesReady(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if len(idx.calls) != 3 {
		t.Fatalf("indices = %v", idx.calls)
	}
	for name, n := range idx.calls {
		if n != 1 {
			t.Errorf("%s ensured %d times", name, n)
		}
	}
}

func TestEnsureIndicesReady_RetriesAfterFailure(t *testing.T) {
	idx := &countingIndexer{failures: 1}
	b := New(idx, 4, nil).WithRetry(noRetry)

	err := b.EnsureIndicesReady(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("first call err = %v", err)
	}
	if err := b.EnsureIndicesReady(context.Background()); err != nil {
		t.Fatalf("second call err = %v", err)
	}
	if err := b.EnsureIndicesReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	if idx.calls["chat_cache"] != 2 {
		t.Fatalf("calls = %v", idx.calls)
	}
}

func TestEnsureIndicesReady_RetriesWithinCall(t *testing.T) {
	idx := &countingIndexer{failures: 2}
	b := New(idx, 4, nil).WithRetry(fn.RetryOpts{MaxAttempts: 3})
	if err := b.EnsureIndicesReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	if idx.calls["chat_cache"] != 3 {
		t.Fatalf("calls = %v", idx.calls)
	}
}

func TestEnsureIndicesReady_MemoryStoreIsIdempotent(t *testing.T) {
	store := semantic.NewMemoryStore()
	for i := 0; i < 2; i++ {
		if err := New(store, 8, nil).EnsureIndicesReady(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	// A different dimensionality conflicts with the existing indices.
	err := New(store, 16, nil).WithRetry(noRetry).EnsureIndicesReady(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v", err)
	}
}
