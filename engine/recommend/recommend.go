// Package recommend is the hybrid meal and workout retriever. A query text is
// built from the filters and the user's goals, embedded once, and run as a
// filtered KNN against both indices. Hits are re-scored by blending vector
// similarity with how many supplied criteria they satisfy.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/engine/semantic"
	"github.com/WessleyAI/wellness-mvp/pkg/fn"
	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
)

// Index names and key prefixes.
const (
	MealsIndex       = "meals_index"
	WorkoutsIndex    = "workouts_index"
	MealKeyPrefix    = "meal:"
	WorkoutKeyPrefix = "workout:"
)

// Kind distinguishes the two recommendation kinds.
type Kind string

const (
	KindMeal    Kind = "meal"
	KindWorkout Kind = "workout"
)

// MealSpec returns the meals index definition.
func MealSpec(dims int) semantic.IndexSpec {
	return semantic.IndexSpec{
		Name:       MealsIndex,
		KeyPrefix:  MealKeyPrefix,
		Dimensions: dims,
		Fields: map[string]semantic.FieldType{
			"title":               semantic.FieldText,
			"description":         semantic.FieldText,
			"type":                semantic.FieldTag,
			"tags":                semantic.FieldTag,
			"dietaryRestrictions": semantic.FieldTag,
			"calories":            semantic.FieldNumeric,
			"prepTime":            semantic.FieldNumeric,
			"cookTime":            semantic.FieldNumeric,
			"embedding":           semantic.FieldVector,
		},
	}
}

// WorkoutSpec returns the workouts index definition.
func WorkoutSpec(dims int) semantic.IndexSpec {
	return semantic.IndexSpec{
		Name:       WorkoutsIndex,
		KeyPrefix:  WorkoutKeyPrefix,
		Dimensions: dims,
		Fields: map[string]semantic.FieldType{
			"title":          semantic.FieldText,
			"description":    semantic.FieldText,
			"type":           semantic.FieldTag,
			"tags":           semantic.FieldTag,
			"difficulty":     semantic.FieldTag,
			"equipment":      semantic.FieldTag,
			"duration":       semantic.FieldNumeric,
			"caloriesBurned": semantic.FieldNumeric,
			"embedding":      semantic.FieldVector,
		},
	}
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProfileSource loads a user's profile. A nil profile with a nil error means
// the user has none.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (*domain.Profile, error)
}

// Recommendation is one ranked result.
type Recommendation struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Type            Kind            `json:"type"`
	Score           float64         `json:"score"`
	RelevanceReason string          `json:"relevanceReason"`
	Meal            *domain.Meal    `json:"meal,omitempty"`
	Workout         *domain.Workout `json:"workout,omitempty"`
}

// Retriever serves recommendations.
type Retriever struct {
	index    semantic.Index
	embedder Embedder
	profiles ProfileSource
	metrics  *metrics.Registry
	logger   *slog.Logger
}

// New creates a Retriever. profiles may be nil.
func New(index semantic.Index, embedder Embedder, profiles ProfileSource, m *metrics.Registry, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Retriever{index: index, embedder: embedder, profiles: profiles, metrics: m, logger: logger}
}

// Recommend returns up to limit meals and workouts ranked by relevance score.
// A limit of zero uses filters.Limit. Failure of one kind's search degrades to
// zero results for that kind; failure to embed fails the whole call.
func (r *Retriever) Recommend(ctx context.Context, userID string, filters domain.Filters, limit int) ([]Recommendation, error) {
	ctx, span := otel.Tracer("engine/recommend").Start(ctx, "recommend.retrieve")
	defer span.End()

	if limit != 0 {
		filters.Limit = limit
	}
	filters, err := domain.ValidateFilters(filters)
	if err != nil {
		return nil, err
	}
	limit = filters.Limit

	profile := r.profile(ctx, userID)
	text := BuildQuery(filters, profile)

	start := time.Now()
	vec, err := r.embedder.Embed(ctx, text)
	metrics.ObserveSince(r.metrics.EmbedDuration.WithLabelValues("recommend"), start)
	if err != nil {
		return nil, fmt.Errorf("recommend: embed query: %w: %v", domain.ErrRetrievalUnavailable, err)
	}

	var searches []func() []Recommendation
	if filters.WantsMeals() {
		searches = append(searches, func() []Recommendation { return r.searchMeals(ctx, vec, filters, limit) })
	}
	if filters.WantsWorkouts() {
		searches = append(searches, func() []Recommendation { return r.searchWorkouts(ctx, vec, filters, limit) })
	}

	var out []Recommendation
	for _, recs := range fn.FanOut(searches...) {
		out = append(out, recs...)
	}
	Rank(out)
	if len(out) > limit {
		out = out[:limit]
	}

	span.SetAttributes(attribute.Int("recommend.results", len(out)), attribute.String("recommend.user", userID))
	r.logger.Info("recommendations served", "user", userID, "results", len(out))
	return out, nil
}

// Rank sorts by descending score; ties break by ID.
func Rank(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].ID < recs[j].ID
	})
}

func (r *Retriever) profile(ctx context.Context, userID string) *domain.Profile {
	if r.profiles == nil || userID == "" {
		return nil
	}
	p, err := r.profiles.Profile(ctx, userID)
	if err != nil {
		r.logger.Warn("profile unavailable, recommending without goals", "user", userID, "err", err)
		return nil
	}
	return p
}

func (r *Retriever) searchMeals(ctx context.Context, vec []float32, f domain.Filters, limit int) []Recommendation {
	hits, ok := r.search(ctx, KindMeal, semantic.Query{Index: MealsIndex, Filter: MealFilter(f), Vector: vec, K: limit})
	if !ok {
		return nil
	}
	return fn.FilterMap(hits, func(h semantic.Hit) (Recommendation, bool) {
		m, err := domain.DecodeMeal(h.Fields)
		if err != nil {
			r.logger.Warn("skipping malformed meal", "key", h.Key, "err", err)
			return Recommendation{}, false
		}
		return Recommendation{
			ID:              m.ID,
			Title:           m.Title,
			Description:     m.Description,
			Type:            KindMeal,
			Score:           CalculateRelevanceScore(h.Distance, m, f),
			RelevanceReason: RelevanceReason(m, f),
			Meal:            &m,
		}, true
	})
}

func (r *Retriever) searchWorkouts(ctx context.Context, vec []float32, f domain.Filters, limit int) []Recommendation {
	hits, ok := r.search(ctx, KindWorkout, semantic.Query{Index: WorkoutsIndex, Filter: WorkoutFilter(f), Vector: vec, K: limit})
	if !ok {
		return nil
	}
	return fn.FilterMap(hits, func(h semantic.Hit) (Recommendation, bool) {
		w, err := domain.DecodeWorkout(h.Fields)
		if err != nil {
			r.logger.Warn("skipping malformed workout", "key", h.Key, "err", err)
			return Recommendation{}, false
		}
		return Recommendation{
			ID:              w.ID,
			Title:           w.Title,
			Description:     w.Description,
			Type:            KindWorkout,
			Score:           CalculateRelevanceScore(h.Distance, w, f),
			RelevanceReason: RelevanceReason(w, f),
			Workout:         &w,
		}, true
	})
}

// search runs one kind's KNN. Failures are logged and reported as not ok.
func (r *Retriever) search(ctx context.Context, kind Kind, q semantic.Query) ([]semantic.Hit, bool) {
	hits, err := r.index.Search(ctx, q)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrQuerySyntax) {
			level = slog.LevelError
		}
		r.logger.Log(ctx, level, "recommend search degraded", "kind", kind, "filter", q.Filter, "err", err)
		r.metrics.DegradedSearches.WithLabelValues(string(kind)).Inc()
		return nil, false
	}
	r.metrics.RecommendResults.WithLabelValues(string(kind)).Add(float64(len(hits)))
	return hits, true
}

// describe is the text embedded for a corpus item.
func describe(title, description string, tags []string) string {
	return strings.TrimSpace(title + " " + description + " " + strings.Join(tags, " "))
}
