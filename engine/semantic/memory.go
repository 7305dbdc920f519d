package semantic

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
)

type memDoc struct {
	fields map[string]any
	blob   []byte
}

type memIndex struct {
	spec IndexSpec
	docs map[string]memDoc
}

// MemoryStore is an in-process brute-force Index. Vectors are held in their
// binary codec form and decoded per search.
type MemoryStore struct {
	mu      sync.RWMutex
	indices map[string]*memIndex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indices: make(map[string]*memIndex)}
}

// EnsureIndex implements Index.
func (m *MemoryStore) EnsureIndex(_ context.Context, spec IndexSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indices[spec.Name]; ok {
		if idx.spec.Dimensions != spec.Dimensions {
			return fmt.Errorf("semantic: index %s has %d dimensions, want %d", spec.Name, idx.spec.Dimensions, spec.Dimensions)
		}
		return nil
	}
	m.indices[spec.Name] = &memIndex{spec: spec, docs: make(map[string]memDoc)}
	return nil
}

// Upsert implements Index.
func (m *MemoryStore) Upsert(_ context.Context, index, key string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indices[index]
	if !ok {
		return fmt.Errorf("semantic: upsert %s: %w: %s", key, domain.ErrIndexNotFound, index)
	}
	if len(doc.Vector) != idx.spec.Dimensions {
		return fmt.Errorf("semantic: upsert %s: vector has %d dimensions, index %s wants %d", key, len(doc.Vector), index, idx.spec.Dimensions)
	}
	fields := make(map[string]any, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = v
	}
	idx.docs[key] = memDoc{fields: fields, blob: EncodeVector(doc.Vector)}
	return nil
}

// Search implements Index.
func (m *MemoryStore) Search(ctx context.Context, q Query) ([]Hit, error) {
	expr, err := ParseFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indices[q.Index]
	if !ok {
		return nil, fmt.Errorf("semantic: search: %w: %s", domain.ErrIndexNotFound, q.Index)
	}

	hits := make([]Hit, 0, len(idx.docs))
	for key, d := range idx.docs {
		if !expr.Match(d.fields) {
			continue
		}
		vec, err := DecodeVector(d.blob)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Key: key, Distance: cosineDistance(q.Vector, vec), Fields: project(d.fields, q.ReturnFields)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Key < hits[j].Key
	})
	if q.K > 0 && len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

// Len returns the number of documents in an index.
func (m *MemoryStore) Len(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx, ok := m.indices[index]; ok {
		return len(idx.docs)
	}
	return 0
}

func project(fields map[string]any, keep []string) map[string]any {
	out := make(map[string]any, len(fields))
	if len(keep) == 0 {
		for k, v := range fields {
			out[k] = v
		}
		return out
	}
	for _, k := range keep {
		if v, ok := fields[k]; ok {
			out[k] = v
		}
	}
	return out
}
