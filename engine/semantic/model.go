// Package semantic owns the vector indices: cache entries, meals and workouts.
// Two backends implement Index: VectorStore (Qdrant over gRPC) and MemoryStore.
package semantic

import "context"

// FieldType is the indexing type of a document field.
type FieldType string

const (
	FieldVector  FieldType = "VECTOR"
	FieldText    FieldType = "TEXT"
	FieldTag     FieldType = "TAG"
	FieldNumeric FieldType = "NUMERIC"
)

// IndexSpec describes one vector index.
type IndexSpec struct {
	Name       string
	KeyPrefix  string
	Dimensions int
	Fields     map[string]FieldType
}

// Distance is a cosine distance in [0, 2]; lower is closer.
type Distance float64

// Similarity converts the distance to a cosine similarity.
func (d Distance) Similarity() float64 { return 1 - float64(d) }

// Document is one indexed record: scalar and tag fields plus exactly one embedding.
type Document struct {
	Fields map[string]any
	Vector []float32
}

// Query is a KNN request. Filter uses the expression syntax parsed by
// ParseFilter; empty or "*" matches every document.
type Query struct {
	Index        string
	Filter       string
	Vector       []float32
	K            int
	ReturnFields []string
}

// Hit is one search result.
type Hit struct {
	Key      string
	Distance Distance
	Fields   map[string]any
}

// Index is the vector store contract shared by all backends.
type Index interface {
	// EnsureIndex creates the index if it does not exist. Concurrent callers
	// racing to create the same index all succeed.
	EnsureIndex(ctx context.Context, spec IndexSpec) error
	// Upsert replaces the document stored at key.
	Upsert(ctx context.Context, index, key string, doc Document) error
	// Search returns up to K hits ordered by ascending distance.
	Search(ctx context.Context, q Query) ([]Hit, error)
}

// keyField is the payload field holding the document key.
const keyField = "_key"
