package healthstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/pkg/repo"
)

// Graph layout:
//
//	(:User {id})-[:LOGGED]->(:HealthEntry {key, userId, ts, steps, sleep, water, mood})
//	(:User {id})-[:HAS_INSIGHT]->(:Insight {id, type, message, metric, importance, ts})
//	(:User {id})-[:PROGRESS]->(:GoalProgress {key, metric, target, current, progress, date})
//	(:Profile {userId, data})
var schema = []string{
	"CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE",
	"CREATE CONSTRAINT profile_user IF NOT EXISTS FOR (p:Profile) REQUIRE p.userId IS UNIQUE",
	"CREATE CONSTRAINT entry_key IF NOT EXISTS FOR (e:HealthEntry) REQUIRE e.key IS UNIQUE",
	"CREATE CONSTRAINT insight_id IF NOT EXISTS FOR (i:Insight) REQUIRE i.id IS UNIQUE",
	"CREATE CONSTRAINT progress_key IF NOT EXISTS FOR (g:GoalProgress) REQUIRE g.key IS UNIQUE",
}

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// Neo4jStore is the Store backed by Neo4j.
type Neo4jStore struct {
	sessions repo.SessionFunc
	profiles *repo.Neo4jRepo[domain.Profile, string]
	logger   *slog.Logger
}

// NewNeo4jStore creates a Store on an open driver.
func NewNeo4jStore(driver neo4j.DriverWithContext, database string, logger *slog.Logger) *Neo4jStore {
	return newNeo4jStore(repo.DriverSessions(driver, database), logger)
}

func newNeo4jStore(sessions repo.SessionFunc, logger *slog.Logger) *Neo4jStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jStore{
		sessions: sessions,
		profiles: repo.NewNeo4jRepo[domain.Profile, string](
			sessions, "Profile",
			func(p domain.Profile) string { return p.UserID },
			profileToMap, profileFromRecord,
			repo.WithIDKey[domain.Profile, string]("userId"),
		),
		logger: logger,
	}
}

var _ Store = (*Neo4jStore)(nil)

// EnsureSchema creates the uniqueness constraints. It is idempotent.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := repo.Exec(ctx, s.sessions, stmt, nil); err != nil {
			return fmt.Errorf("healthstore: schema: %w", err)
		}
	}
	return nil
}

func profileToMap(p domain.Profile) map[string]any {
	data, _ := json.Marshal(p)
	return map[string]any{"data": string(data), "lastUpdated": p.LastUpdated.UnixMilli()}
}

func profileFromRecord(rec *neo4j.Record) (domain.Profile, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Profile{}, err
	}
	var p domain.Profile
	raw, _ := node.Props["data"].(string)
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func (s *Neo4jStore) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	p, err := s.profiles.Get(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("healthstore: profile %s: %w", userID, err)
	}
	return &p, nil
}

func (s *Neo4jStore) SaveProfile(ctx context.Context, p domain.Profile) error {
	if err := s.profiles.Put(ctx, p); err != nil {
		return fmt.Errorf("healthstore: save profile %s: %w", p.UserID, err)
	}
	return nil
}

const appendEntryCypher = `MERGE (u:User {id: $userId})
WITH u
OPTIONAL MATCH (u)-[:LOGGED]->(dup:HealthEntry {ts: $ts})
WITH u, dup WHERE dup IS NULL
CREATE (u)-[:LOGGED]->(e:HealthEntry {key: $key, userId: $userId, ts: $ts, steps: $steps, sleep: $sleep, water: $water, mood: $mood})
RETURN e.key AS key`

func (s *Neo4jStore) AppendEntry(ctx context.Context, userID string, e domain.HealthEntry) error {
	ts := e.Timestamp.UnixMilli()
	params := map[string]any{
		"userId": userID,
		"key":    fmt.Sprintf("%s:%d", userID, ts),
		"ts":     ts,
		"steps":  int64(e.Steps),
		"sleep":  e.Sleep,
		"water":  nil,
		"mood":   e.Mood,
	}
	if e.Water != nil {
		params["water"] = *e.Water
	}
	keys, err := repo.Query(ctx, s.sessions, appendEntryCypher, params, func(rec *neo4j.Record) (string, error) {
		k, _, err := neo4j.GetRecordValue[string](rec, "key")
		return k, err
	})
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && nerr.Code == constraintViolation {
		err = nil
		keys = nil
	}
	if err != nil {
		return fmt.Errorf("healthstore: append %s: %w", userID, err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("healthstore: append %s at %d: %w", userID, ts, domain.ErrDuplicateEntry)
	}
	return nil
}

func (s *Neo4jStore) Entries(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.HealthEntry, error) {
	cypher := `MATCH (:User {id: $userId})-[:LOGGED]->(e:HealthEntry)
WHERE e.ts >= $from AND e.ts <= $to
RETURN e ORDER BY e.ts DESC`
	params := map[string]any{"userId": userID, "from": from.UnixMilli(), "to": to.UnixMilli()}
	if limit > 0 {
		cypher += " LIMIT $limit"
		params["limit"] = int64(limit)
	}
	entries, err := repo.Query(ctx, s.sessions, cypher, params, entryFromRecord)
	if err != nil {
		return nil, fmt.Errorf("healthstore: entries %s: %w", userID, err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func entryFromRecord(rec *neo4j.Record) (domain.HealthEntry, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "e")
	if err != nil {
		return domain.HealthEntry{}, err
	}
	p := node.Props
	e := domain.HealthEntry{
		Timestamp: time.UnixMilli(intProp(p, "ts")),
		Steps:     int(intProp(p, "steps")),
		Sleep:     floatProp(p, "sleep"),
		Mood:      strProp(p, "mood"),
	}
	if _, ok := p["water"]; ok {
		w := floatProp(p, "water")
		e.Water = &w
	}
	return e, nil
}

func (s *Neo4jStore) Insights(ctx context.Context, userID string) ([]domain.Insight, error) {
	cypher := `MATCH (:User {id: $userId})-[:HAS_INSIGHT]->(i:Insight)
RETURN i ORDER BY i.ts DESC, i.id LIMIT $cap`
	out, err := repo.Query(ctx, s.sessions, cypher, map[string]any{"userId": userID, "cap": int64(MaxInsights)}, insightFromRecord)
	if err != nil {
		return nil, fmt.Errorf("healthstore: insights %s: %w", userID, err)
	}
	return out, nil
}

func insightFromRecord(rec *neo4j.Record) (domain.Insight, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "i")
	if err != nil {
		return domain.Insight{}, err
	}
	p := node.Props
	return domain.Insight{
		ID:        strProp(p, "id"),
		Type:      domain.InsightType(strProp(p, "type")),
		Message:   strProp(p, "message"),
		Metric:    strProp(p, "metric"),
		Priority:  domain.Priority(strProp(p, "importance")),
		CreatedAt: time.UnixMilli(intProp(p, "ts")),
	}, nil
}

const saveInsightsCypher = `MERGE (u:User {id: $userId})
WITH u
UNWIND $insights AS ins
MERGE (i:Insight {id: ins.id})
SET i += ins
MERGE (u)-[:HAS_INSIGHT]->(i)`

const pruneInsightsCypher = `MATCH (:User {id: $userId})-[:HAS_INSIGHT]->(i:Insight)
WITH i ORDER BY i.ts DESC, i.id SKIP $cap
DETACH DELETE i`

func (s *Neo4jStore) SaveInsights(ctx context.Context, userID string, insights []domain.Insight) error {
	if len(insights) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(insights))
	for i, in := range insights {
		rows[i] = map[string]any{
			"id":         in.ID,
			"type":       string(in.Type),
			"message":    in.Message,
			"metric":     in.Metric,
			"importance": string(in.Priority),
			"ts":         in.CreatedAt.UnixMilli(),
		}
	}
	if err := repo.Exec(ctx, s.sessions, saveInsightsCypher, map[string]any{"userId": userID, "insights": rows}); err != nil {
		return fmt.Errorf("healthstore: save insights %s: %w", userID, err)
	}
	if err := repo.Exec(ctx, s.sessions, pruneInsightsCypher, map[string]any{"userId": userID, "cap": int64(MaxInsights)}); err != nil {
		return fmt.Errorf("healthstore: prune insights %s: %w", userID, err)
	}
	return nil
}

const saveProgressCypher = `MERGE (u:User {id: $userId})
WITH u
UNWIND $rows AS row
MERGE (g:GoalProgress {key: row.key})
SET g += row
MERGE (u)-[:PROGRESS]->(g)`

func (s *Neo4jStore) SaveGoalProgress(ctx context.Context, userID string, progress []domain.GoalProgress) error {
	if len(progress) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(progress))
	for i, p := range progress {
		rows[i] = map[string]any{
			"key":      fmt.Sprintf("%s:%s:%s", userID, p.Metric, p.Date),
			"metric":   p.Metric,
			"target":   p.Target,
			"current":  p.Current,
			"progress": p.Progress,
			"priority": string(p.Priority),
			"date":     p.Date,
		}
	}
	if err := repo.Exec(ctx, s.sessions, saveProgressCypher, map[string]any{"userId": userID, "rows": rows}); err != nil {
		return fmt.Errorf("healthstore: save progress %s: %w", userID, err)
	}
	return nil
}

func (s *Neo4jStore) GoalProgress(ctx context.Context, userID, date string) ([]domain.GoalProgress, error) {
	cypher := `MATCH (:User {id: $userId})-[:PROGRESS]->(g:GoalProgress {date: $date})
RETURN g ORDER BY g.metric`
	out, err := repo.Query(ctx, s.sessions, cypher, map[string]any{"userId": userID, "date": date}, func(rec *neo4j.Record) (domain.GoalProgress, error) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "g")
		if err != nil {
			return domain.GoalProgress{}, err
		}
		p := node.Props
		return domain.GoalProgress{
			Metric:   strProp(p, "metric"),
			Target:   floatProp(p, "target"),
			Current:  floatProp(p, "current"),
			Progress: floatProp(p, "progress"),
			Priority: domain.Priority(strProp(p, "priority")),
			Date:     strProp(p, "date"),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("healthstore: progress %s: %w", userID, err)
	}
	return out, nil
}

func strProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}
