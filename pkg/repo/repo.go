// Package repo holds Neo4j session plumbing and a generic node repository.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no node carries the id.
var ErrNotFound = errors.New("repo: not found")

// Repository is a generic keyed store.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Put(ctx context.Context, entity T) error
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination for List.
type ListOpts struct {
	Offset int
	Limit  int
}
