package semantic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
)

var testSpec = IndexSpec{
	Name: "meals_index", KeyPrefix: "meal:", Dimensions: 2,
	Fields: map[string]FieldType{"type": FieldTag, "prepTime": FieldNumeric},
}

func TestMemoryStore_EnsureIndexConcurrent(t *testing.T) {
	m := NewMemoryStore()
	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.EnsureIndex(context.Background(), testSpec)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if len(m.indices) != 1 {
		t.Fatalf("expected exactly one index, got %d", len(m.indices))
	}
}

func TestMemoryStore_EnsureIndexDimensionMismatch(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.EnsureIndex(ctx, testSpec); err != nil {
		t.Fatal(err)
	}
	other := testSpec
	other.Dimensions = 3
	if err := m.EnsureIndex(ctx, other); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func seeded(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.EnsureIndex(ctx, testSpec); err != nil {
		t.Fatal(err)
	}
	docs := map[string]Document{
		"meal:a": {Vector: []float32{1, 0}, Fields: map[string]any{"type": "breakfast", "prepTime": 10}},
		"meal:b": {Vector: []float32{0.8, 0.6}, Fields: map[string]any{"type": "dinner", "prepTime": 40}},
		"meal:c": {Vector: []float32{0, 1}, Fields: map[string]any{"type": "breakfast", "prepTime": 5}},
	}
	for k, d := range docs {
		if err := m.Upsert(ctx, testSpec.Name, k, d); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func TestMemoryStore_SearchOrdersByDistance(t *testing.T) {
	m := seeded(t)
	hits, err := m.Search(context.Background(), Query{Index: testSpec.Name, Vector: []float32{1, 0}, K: 3})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"meal:a", "meal:b", "meal:c"}
	for i, h := range hits {
		if h.Key != want[i] {
			t.Fatalf("hit %d = %s, want %s", i, h.Key, want[i])
		}
	}
	if hits[0].Distance != 0 {
		t.Fatalf("expected exact match distance 0, got %v", hits[0].Distance)
	}
}

func TestMemoryStore_SearchFilterAndK(t *testing.T) {
	m := seeded(t)
	hits, err := m.Search(context.Background(), Query{
		Index: testSpec.Name, Filter: "@type:{breakfast} @prepTime:[0 30]",
		Vector: []float32{0, 1}, K: 1, ReturnFields: []string{"type"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Key != "meal:c" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if _, ok := hits[0].Fields["prepTime"]; ok {
		t.Fatal("expected only requested fields")
	}
}

func TestMemoryStore_UpsertReplaces(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	if err := m.Upsert(ctx, testSpec.Name, "meal:a", Document{Vector: []float32{0, 1}, Fields: map[string]any{"type": "snack"}}); err != nil {
		t.Fatal(err)
	}
	if m.Len(testSpec.Name) != 3 {
		t.Fatalf("expected 3 docs, got %d", m.Len(testSpec.Name))
	}
	hits, _ := m.Search(ctx, Query{Index: testSpec.Name, Filter: "@type:{snack}", Vector: []float32{1, 0}, K: 5})
	if len(hits) != 1 || hits[0].Key != "meal:a" {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestMemoryStore_Errors(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	if _, err := m.Search(ctx, Query{Index: "nope", Vector: []float32{1, 0}, K: 1}); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
	if err := m.Upsert(ctx, "nope", "k", Document{Vector: []float32{1, 0}}); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
	if err := m.Upsert(ctx, testSpec.Name, "k", Document{Vector: []float32{1, 0, 0}}); err == nil {
		t.Error("expected dimension error")
	}
	if _, err := m.Search(ctx, Query{Index: testSpec.Name, Filter: "@type:{", Vector: []float32{1, 0}, K: 1}); !errors.Is(err, domain.ErrQuerySyntax) {
		t.Errorf("expected ErrQuerySyntax, got %v", err)
	}
}
