package repo

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the part of a neo4j result the stores read.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Runner is the part of a neo4j session the stores use.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// SessionFunc opens a session. Tests substitute fakes.
type SessionFunc func(ctx context.Context) Runner

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

// DriverSessions opens sessions on driver against database ("" is the default).
func DriverSessions(driver neo4j.DriverWithContext, database string) SessionFunc {
	return func(ctx context.Context) Runner {
		return &sessionAdapter{sess: driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: database})}
	}
}

// Exec runs a statement in a fresh session and drains the result.
func Exec(ctx context.Context, sessions SessionFunc, cypher string, params map[string]any) error {
	sess := sessions(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	for res.Next(ctx) {
	}
	return res.Err()
}

// Query runs a statement in a fresh session and decodes every record.
func Query[T any](ctx context.Context, sessions SessionFunc, cypher string, params map[string]any, decode func(*neo4j.Record) (T, error)) ([]T, error) {
	sess := sessions(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var out []T
	for res.Next(ctx) {
		v, err := decode(res.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, res.Err()
}

// Neo4jRepo stores one entity type as nodes with a single label.
type Neo4jRepo[T any, ID comparable] struct {
	sessions   SessionFunc
	label      string
	idKey      string
	idOf       func(T) ID
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// NewNeo4jRepo creates a node repository. fromRecord receives records whose
// single column "n" is the node.
func NewNeo4jRepo[T any, ID comparable](
	sessions SessionFunc,
	label string,
	idOf func(T) ID,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		sessions:   sessions,
		label:      label,
		idKey:      "id",
		idOf:       idOf,
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	items, err := Query(ctx, r.sessions, cypher, map[string]any{"id": id}, r.fromRecord)
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return items[0], nil
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.%s SKIP $offset LIMIT $limit", r.label, r.idKey)
	return Query(ctx, r.sessions, cypher, map[string]any{"offset": opts.Offset, "limit": limit}, r.fromRecord)
}

// Put creates or fully replaces the node for entity.
func (r *Neo4jRepo[T, ID]) Put(ctx context.Context, entity T) error {
	props := r.toMap(entity)
	id := r.idOf(entity)
	props[r.idKey] = id
	cypher := fmt.Sprintf("MERGE (n:%s {%s: $id}) SET n = $props", r.label, r.idKey)
	return Exec(ctx, r.sessions, cypher, map[string]any{"id": id, "props": props})
}

func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) DETACH DELETE n", r.label, r.idKey)
	return Exec(ctx, r.sessions, cypher, map[string]any{"id": id})
}
