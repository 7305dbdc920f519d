package recommend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/engine/semantic"
	"github.com/WessleyAI/wellness-mvp/pkg/fn"
	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
)

// --- Fakes ---

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    map[string]int
	failures int // leading calls per text that fail
	err      error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[text]++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls[text] <= f.failures {
		return nil, errors.New("transient")
	}
	return []float32{1, 0, 0, 0}, nil
}

type fakeProfiles struct {
	profile *domain.Profile
	err     error
}

func (f fakeProfiles) Profile(context.Context, string) (*domain.Profile, error) {
	return f.profile, f.err
}

// failingIndex fails searches against one index and delegates the rest.
type failingIndex struct {
	*semantic.MemoryStore
	fail string
	err  error
}

func (f failingIndex) Search(ctx context.Context, q semantic.Query) ([]semantic.Hit, error) {
	if q.Index == f.fail {
		return nil, f.err
	}
	return f.MemoryStore.Search(ctx, q)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seededStore(t *testing.T) *semantic.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := semantic.NewMemoryStore()
	for _, spec := range []semantic.IndexSpec{MealSpec(4), WorkoutSpec(4)} {
		if err := store.EnsureIndex(ctx, spec); err != nil {
			t.Fatal(err)
		}
	}
	opts := DefaultSeedOptions()
	opts.EmbedRate = 0
	rep, err := Seed(ctx, store, &fakeEmbedder{}, DefaultCorpus(), opts, quietLogger())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if rep.Meals != 3 || rep.Workouts != 3 {
		t.Fatalf("seed report = %+v", rep)
	}
	return store
}

// --- BuildQuery ---

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name    string
		filters domain.Filters
		profile *domain.Profile
		want    string
	}{
		{
			name: "empty",
			want: "healthy nutritious meal effective workout exercise",
		},
		{
			name:    "quick breakfast",
			filters: domain.Filters{Type: "meal", MealType: domain.MealBreakfast, DietPreference: []string{"vegetarian"}, TimeAvailable: 15},
			want:    "healthy nutritious meal breakfast vegetarian quick easy",
		},
		{
			name:    "moderate prep",
			filters: domain.Filters{Type: "meal", TimeAvailable: 30},
			want:    "healthy nutritious meal moderate prep",
		},
		{
			name:    "workout with goals and tags",
			filters: domain.Filters{Type: "workout", WorkoutType: domain.WorkoutCardio, Difficulty: domain.DifficultyBeginner, TimeAvailable: 45, Equipment: []string{"none"}, Tags: []string{"hiit"}},
			profile: &domain.Profile{Goals: map[string]domain.Goal{"weight_loss": {}}, Details: &domain.ProfileDetails{Goal: "endurance"}},
			want:    "effective workout exercise cardio beginner 45 minutes none weight loss fat burning endurance cardio stamina hiit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildQuery(tt.filters, tt.profile); got != tt.want {
				t.Fatalf("BuildQuery = %q, want %q", got, tt.want)
			}
		})
	}
}

// --- Filters ---

func TestMealFilter(t *testing.T) {
	tests := []struct {
		filters domain.Filters
		want    string
	}{
		{domain.Filters{}, "*"},
		{domain.Filters{MealType: domain.MealLunch}, "@type:{lunch}"},
		{
			domain.Filters{DietPreference: []string{"vegan", "keto"}, TimeAvailable: 20, CalorieRange: &domain.CalorieRange{Max: 500}},
			"(@dietaryRestrictions:{vegan} | @dietaryRestrictions:{keto}) @prepTime:[0 20] @calories:[0 500]",
		},
		{domain.Filters{CalorieRange: &domain.CalorieRange{Min: 300}}, "@calories:[300 2000]"},
		{domain.Filters{Tags: []string{"a|b"}}, `(@tags:{a\|b})`},
	}
	for _, tt := range tests {
		got := MealFilter(tt.filters)
		if got != tt.want {
			t.Errorf("MealFilter(%+v) = %q, want %q", tt.filters, got, tt.want)
		}
		if _, err := semantic.ParseFilter(got); err != nil {
			t.Errorf("MealFilter output %q does not parse: %v", got, err)
		}
	}
}

func TestWorkoutFilter(t *testing.T) {
	f := domain.Filters{
		WorkoutType: domain.WorkoutStrength,
		Difficulty:  domain.DifficultyIntermediate,
		Equipment:   []string{"dumbbells", "bench"},
		Tags:        []string{"upper-body"},
	}
	want := "@type:{strength} @difficulty:{intermediate} (@equipment:{dumbbells} | @equipment:{bench}) (@tags:{upper-body})"
	got := WorkoutFilter(f)
	if got != want {
		t.Fatalf("WorkoutFilter = %q, want %q", got, want)
	}
	if _, err := semantic.ParseFilter(got); err != nil {
		t.Fatal(err)
	}
	if WorkoutFilter(domain.Filters{}) != "*" {
		t.Fatal("empty workout filter should match all")
	}
}

// --- Scoring ---

func TestCalculateRelevanceScore_NoCriteriaIsVectorOnly(t *testing.T) {
	m := DefaultCorpus().Meals[0]
	got := CalculateRelevanceScore(0.25, m, domain.Filters{})
	if math.Abs(got-0.6*0.75) > 1e-9 {
		t.Fatalf("score = %v, want %v", got, 0.6*0.75)
	}
}

func TestCalculateRelevanceScore_MoreMatchesScoreHigher(t *testing.T) {
	c := DefaultCorpus()
	f := domain.Filters{MealType: domain.MealBreakfast, TimeAvailable: 15}
	full := CalculateRelevanceScore(0.2, c.Meals[0], f) // breakfast, 10 min
	half := CalculateRelevanceScore(0.2, c.Meals[2], domain.Filters{MealType: domain.MealDinner, TimeAvailable: 15})
	if full <= half {
		t.Fatalf("2/2 score %v should beat 1/2 score %v", full, half)
	}
	if math.Abs(full-(0.6*0.8+0.4)) > 1e-9 {
		t.Fatalf("full match score = %v", full)
	}
}

func TestCalculateRelevanceScore_Bounds(t *testing.T) {
	c := DefaultCorpus()
	f := domain.Filters{WorkoutType: domain.WorkoutCardio, Equipment: []string{"none", "bench"}, Tags: []string{"hiit"}}
	for _, d := range []semantic.Distance{-0.5, 0, 0.3, 1, 2} {
		for _, w := range c.Workouts {
			s := CalculateRelevanceScore(d, w, f)
			if s < 0 || s > 1 {
				t.Fatalf("score %v out of [0,1] at distance %v", s, d)
			}
		}
	}
}

func TestCalculateRelevanceScore_PartialOverlap(t *testing.T) {
	w := DefaultCorpus().Workouts[1] // dumbbells, bench
	got := CalculateRelevanceScore(1, w, domain.Filters{Equipment: []string{"dumbbells", "kettlebell"}})
	if math.Abs(got-0.4*0.5) > 1e-9 {
		t.Fatalf("score = %v, want 0.2", got)
	}
}

func TestRelevanceReason(t *testing.T) {
	c := DefaultCorpus()
	meal := RelevanceReason(c.Meals[0], domain.Filters{
		MealType: domain.MealBreakfast, DietPreference: []string{"vegetarian", "vegan"}, TimeAvailable: 10,
	})
	if want := "Perfect for breakfast • Fits vegetarian diet • Quick 10-minute prep • 350 calories"; meal != want {
		t.Errorf("meal reason = %q, want %q", meal, want)
	}
	workout := RelevanceReason(c.Workouts[0], domain.Filters{Difficulty: domain.DifficultyIntermediate, TimeAvailable: 20})
	if want := "intermediate level • 20-minute workout • Burns ~200 calories"; workout != want {
		t.Errorf("workout reason = %q, want %q", workout, want)
	}
	if got := RelevanceReason(c.Meals[2], domain.Filters{}); got != "480 calories" {
		t.Errorf("bare meal reason = %q", got)
	}
}

func TestRank_TiesByID(t *testing.T) {
	recs := []Recommendation{{ID: "b", Score: 0.5}, {ID: "c", Score: 0.9}, {ID: "a", Score: 0.5}}
	Rank(recs)
	got := []string{recs[0].ID, recs[1].ID, recs[2].ID}
	if strings.Join(got, ",") != "c,a,b" {
		t.Fatalf("rank order = %v", got)
	}
}

// --- Recommend ---

func TestRecommend_MealTypeRanking(t *testing.T) {
	store := seededStore(t)
	r := New(store, &fakeEmbedder{}, nil, metrics.New(), quietLogger())

	recs, err := r.Recommend(context.Background(), "u1", domain.Filters{Type: "meal", MealType: domain.MealBreakfast}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "meal_001" {
		t.Fatalf("recs = %+v", recs)
	}
	if recs[0].Type != KindMeal || recs[0].Meal == nil || recs[0].Workout != nil {
		t.Fatalf("unexpected payload: %+v", recs[0])
	}
	if !strings.HasPrefix(recs[0].RelevanceReason, "Perfect for breakfast") {
		t.Fatalf("reason = %q", recs[0].RelevanceReason)
	}
}

func TestRecommend_TimeBudgetOrdersMeals(t *testing.T) {
	store := seededStore(t)
	r := New(store, &fakeEmbedder{}, nil, metrics.New(), quietLogger())

	// All three meals pass the prep filter; only meal_001 fits in total time.
	recs, err := r.Recommend(context.Background(), "u1", domain.Filters{Type: "meal", TimeAvailable: 25}, 0)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	if strings.Join(ids, ",") != "meal_001,meal_002,meal_003" {
		t.Fatalf("order = %v", ids)
	}
}

func TestRecommend_BothKindsTruncated(t *testing.T) {
	store := seededStore(t)
	m := metrics.New()
	r := New(store, &fakeEmbedder{}, nil, m, quietLogger())

	recs, err := r.Recommend(context.Background(), "u1", domain.Filters{}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 4 {
		t.Fatalf("len = %d, want 4", len(recs))
	}
	if got := testutil.ToFloat64(m.RecommendResults.WithLabelValues("meal")); got != 3 {
		t.Fatalf("meal results metric = %v", got)
	}
}

func TestRecommend_EmbedFailure(t *testing.T) {
	r := New(semantic.NewMemoryStore(), &fakeEmbedder{err: errors.New("down")}, nil, metrics.New(), quietLogger())
	_, err := r.Recommend(context.Background(), "u1", domain.Filters{}, 0)
	if !errors.Is(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("err = %v, want ErrRetrievalUnavailable", err)
	}
}

func TestRecommend_KindFailureDegrades(t *testing.T) {
	store := seededStore(t)
	m := metrics.New()
	idx := failingIndex{MemoryStore: store, fail: WorkoutsIndex, err: domain.ErrStoreUnavailable}
	r := New(idx, &fakeEmbedder{}, nil, m, quietLogger())

	recs, err := r.Recommend(context.Background(), "u1", domain.Filters{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want only the 3 meals", len(recs))
	}
	for _, rec := range recs {
		if rec.Type != KindMeal {
			t.Fatalf("unexpected kind %s", rec.Type)
		}
	}
	if got := testutil.ToFloat64(m.DegradedSearches.WithLabelValues("workout")); got != 1 {
		t.Fatalf("degraded metric = %v", got)
	}
}

func TestRecommend_InvalidFilter(t *testing.T) {
	r := New(semantic.NewMemoryStore(), &fakeEmbedder{}, nil, metrics.New(), quietLogger())
	_, err := r.Recommend(context.Background(), "u1", domain.Filters{Difficulty: "expert"}, 0)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "difficulty" {
		t.Fatalf("err = %v, want difficulty validation error", err)
	}
	if _, err := r.Recommend(context.Background(), "u1", domain.Filters{}, 21); !errors.Is(err, domain.ErrInvalidFilter) {
		t.Fatalf("limit 21: err = %v", err)
	}
}

func TestRecommend_ProfileGoalsShapeQuery(t *testing.T) {
	emb := &fakeEmbedder{}
	profiles := fakeProfiles{profile: &domain.Profile{Details: &domain.ProfileDetails{Goal: "muscle_gain"}}}
	r := New(seededStore(t), emb, profiles, metrics.New(), quietLogger())

	if _, err := r.Recommend(context.Background(), "u1", domain.Filters{Type: "workout"}, 0); err != nil {
		t.Fatal(err)
	}
	if emb.calls["effective workout exercise muscle building strength"] != 1 {
		t.Fatalf("embedded texts = %v", emb.calls)
	}
}

func TestRecommend_ProfileErrorIgnored(t *testing.T) {
	r := New(seededStore(t), &fakeEmbedder{}, fakeProfiles{err: errors.New("neo4j down")}, metrics.New(), quietLogger())
	recs, err := r.Recommend(context.Background(), "u1", domain.Filters{Type: "workout"}, 0)
	if err != nil || len(recs) != 3 {
		t.Fatalf("recs=%d err=%v", len(recs), err)
	}
}

// --- Seed ---

func TestSeed_RetriesTransientEmbedFailures(t *testing.T) {
	ctx := context.Background()
	store := semantic.NewMemoryStore()
	_ = store.EnsureIndex(ctx, MealSpec(4))
	_ = store.EnsureIndex(ctx, WorkoutSpec(4))

	emb := &fakeEmbedder{failures: 1}
	opts := SeedOptions{Workers: 2, Retry: fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}}
	rep, err := Seed(ctx, store, emb, DefaultCorpus(), opts, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Meals != 3 || rep.Workouts != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if store.Len(MealsIndex) != 3 || store.Len(WorkoutsIndex) != 3 {
		t.Fatal("documents missing from store")
	}
	text := "HIIT Cardio Blast High-intensity interval training workout to boost metabolism and burn calories quickly. hiit fat-burning energizing quick"
	if emb.calls[text] != 2 {
		t.Fatalf("embed calls for workout_001 = %d, want 2", emb.calls[text])
	}
}

func TestSeed_MissingIndexFails(t *testing.T) {
	opts := SeedOptions{Workers: 1, Retry: fn.RetryOpts{MaxAttempts: 1}}
	_, err := Seed(context.Background(), semantic.NewMemoryStore(), &fakeEmbedder{}, DefaultCorpus(), opts, quietLogger())
	if !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("err = %v, want ErrIndexNotFound", err)
	}
}

func TestLoadCorpus_RejectsUnknownFields(t *testing.T) {
	_, err := LoadCorpus(strings.NewReader("meals:\n  - id: x\n    colour: red\n"))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestMealFilter_MixedCaseFiltersMatchStoredTags(t *testing.T) {
	f, err := domain.ValidateFilters(domain.Filters{DietPreference: []string{" Vegetarian "}})
	if err != nil {
		t.Fatal(err)
	}
	src := MealFilter(f)
	if src != "(@dietaryRestrictions:{vegetarian})" {
		t.Fatalf("MealFilter = %q", src)
	}
	e, err := semantic.ParseFilter(src)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Match(map[string]any{"dietaryRestrictions": []string{"vegetarian", "gluten-free"}}) {
		t.Fatal("lowercased filter should match stored tags")
	}
}

func TestLoadCorpus_LowercasesTags(t *testing.T) {
	c, err := LoadCorpus(strings.NewReader("meals:\n  - id: m1\n    tags: [\" High-Protein\"]\n    dietaryRestrictions: [Vegan]\nworkouts:\n  - id: w1\n    equipment: [Mat]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Meals[0].Tags[0] != "high-protein" || c.Meals[0].DietaryRestrictions[0] != "vegan" {
		t.Fatalf("meal tags not normalized: %+v", c.Meals[0])
	}
	if c.Workouts[0].Equipment[0] != "mat" {
		t.Fatalf("workout equipment not normalized: %+v", c.Workouts[0])
	}
}
