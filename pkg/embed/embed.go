// Package embed turns text into fixed-length vectors using a hosted or local model.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/WessleyAI/wellness-mvp/pkg/resilience"
)

// ErrUnavailable is returned when the embedding backend cannot produce a vector.
var ErrUnavailable = errors.New("embedding unavailable")

var errEmptyVector = errors.New("empty embedding")

// DefaultDimensions is the vector length of text-embedding-3-small.
const DefaultDimensions = 1536

// Embedder produces one vector per text. Callers truncate input beforehand.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Guarded wraps an Embedder with a circuit breaker so a failing backend is
// short-circuited instead of being called on every request.
type Guarded struct {
	inner   Embedder
	breaker *resilience.Breaker
}

// WithBreaker returns an Embedder that routes calls through b.
func WithBreaker(e Embedder, b *resilience.Breaker) *Guarded {
	return &Guarded{inner: e, breaker: b}
}

// Embed implements Embedder.
func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		v, err := g.inner.Embed(ctx, text)
		vec = v
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, unavailable("breaker", err)
	}
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Dimensions implements Embedder.
func (g *Guarded) Dimensions() int { return g.inner.Dimensions() }
