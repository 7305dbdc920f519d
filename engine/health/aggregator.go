package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
)

// DefaultMemoTTL is how long a user's windowed series are reused.
const DefaultMemoTTL = 5 * time.Minute

// Reader is the part of the primary datastore the aggregator reads.
type Reader interface {
	Profile(ctx context.Context, userID string) (*domain.Profile, error)
	Entries(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.HealthEntry, error)
	Insights(ctx context.Context, userID string) ([]domain.Insight, error)
}

// DefaultGoals apply when the profile declares no metric goals.
var DefaultGoals = map[string]domain.Goal{
	domain.MetricSleep: {Target: 8, Priority: domain.PriorityHigh},
	domain.MetricSteps: {Target: 10000, Priority: domain.PriorityMedium},
	domain.MetricWater: {Target: 2, Priority: domain.PriorityMedium},
}

type memoEntry struct {
	data    domain.RecentData
	expires time.Time
}

// Aggregator builds HealthContext snapshots.
type Aggregator struct {
	store   Reader
	ttl     time.Duration
	metrics *metrics.Registry
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	memo map[string]memoEntry
}

// NewAggregator creates an Aggregator. A zero ttl uses DefaultMemoTTL.
func NewAggregator(store Reader, ttl time.Duration, m *metrics.Registry, logger *slog.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, ttl: ttl, metrics: m, logger: logger, now: time.Now, memo: make(map[string]memoEntry)}
}

// Context analyzes the query and gathers the matching series, trends, goal
// progress and stored insights. Profile and insight lookups degrade to
// defaults; a failure to read entries fails the call.
func (a *Aggregator) Context(ctx context.Context, userID, query string) (domain.HealthContext, error) {
	ctx, span := otel.Tracer("engine/health").Start(ctx, "health.context")
	defer span.End()

	now := a.now()
	analysis := AnalyzeQuery(query)
	span.SetAttributes(attribute.String("health.timeframe", analysis.Timeframe), attribute.String("health.intent", analysis.Intent))

	var (
		recent, week domain.RecentData
		trends       []domain.Trend
		profile      *domain.Profile
		insights     []domain.Insight
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		recent, err = a.recent(gctx, userID, analysis.Timeframe, now)
		return err
	})
	g.Go(func() (err error) {
		week, err = a.recent(gctx, userID, TimeframeWeek, now)
		return err
	})
	g.Go(func() (err error) {
		trends, err = a.trends(gctx, userID, analysis.Metrics, now)
		return err
	})
	g.Go(func() error {
		p, err := a.store.Profile(gctx, userID)
		if err != nil {
			a.logger.Warn("profile unavailable, using default goals", "user", userID, "err", err)
			return nil
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		in, err := a.store.Insights(gctx, userID)
		if err != nil {
			a.logger.Warn("insights unavailable", "user", userID, "err", err)
			return nil
		}
		insights = in
		return nil
	})
	if err := g.Wait(); err != nil {
		a.metrics.HealthContexts.WithLabelValues("error").Inc()
		return domain.HealthContext{}, fmt.Errorf("health: context %s: %w", userID, err)
	}
	a.metrics.HealthContexts.WithLabelValues("ok").Inc()

	return domain.HealthContext{
		UserID:      userID,
		Analysis:    analysis,
		RecentData:  recent,
		Trends:      trends,
		Goals:       GoalsFor(profile, week),
		Insights:    insights,
		GeneratedAt: now,
	}, nil
}

// Invalidate drops memoized series for a user, after new data is logged.
func (a *Aggregator) Invalidate(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prefix := userID + "|"
	for k := range a.memo {
		if strings.HasPrefix(k, prefix) {
			delete(a.memo, k)
		}
	}
}

func (a *Aggregator) recent(ctx context.Context, userID, timeframe string, now time.Time) (domain.RecentData, error) {
	key := userID + "|" + timeframe
	a.mu.Lock()
	m, ok := a.memo[key]
	a.mu.Unlock()
	if ok && now.Before(m.expires) {
		return m.data, nil
	}

	from, to := Window(timeframe, now)
	entries, err := a.store.Entries(ctx, userID, from, to, 0)
	if err != nil {
		return domain.RecentData{}, err
	}
	data := Series(entries)

	a.mu.Lock()
	a.memo[key] = memoEntry{data: data, expires: now.Add(a.ttl)}
	a.mu.Unlock()
	return data, nil
}

// Trends compares this week's averages with last week's for each metric.
func (a *Aggregator) Trends(ctx context.Context, userID string, metricNames []string) ([]domain.Trend, error) {
	return a.trends(ctx, userID, metricNames, a.now())
}

func (a *Aggregator) trends(ctx context.Context, userID string, metricNames []string, now time.Time) ([]domain.Trend, error) {
	split := now.AddDate(0, 0, -7)
	entries, err := a.store.Entries(ctx, userID, now.AddDate(0, 0, -14), now, 0)
	if err != nil {
		return nil, err
	}
	var current, prior []domain.HealthEntry
	for _, e := range entries {
		if e.Timestamp.Before(split) {
			prior = append(prior, e)
		} else {
			current = append(current, e)
		}
	}
	cur, prev := Series(current), Series(prior)

	var out []domain.Trend
	for _, metric := range metricNames {
		if t, ok := ComputeTrend(metric, values(cur.Numeric(metric)), values(prev.Numeric(metric))); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// Series splits entries into per-metric series. Entries without water are
// absent from the water series.
func Series(entries []domain.HealthEntry) domain.RecentData {
	var d domain.RecentData
	for _, e := range entries {
		d.Sleep = append(d.Sleep, domain.MetricPoint{Timestamp: e.Timestamp, Value: e.Sleep})
		d.Steps = append(d.Steps, domain.MetricPoint{Timestamp: e.Timestamp, Value: float64(e.Steps)})
		if e.Water != nil {
			d.Water = append(d.Water, domain.MetricPoint{Timestamp: e.Timestamp, Value: *e.Water})
		}
		if e.Mood != "" {
			d.Mood = append(d.Mood, domain.MoodPoint{Timestamp: e.Timestamp, Mood: e.Mood})
		}
	}
	return d
}

func values(points []domain.MetricPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// Goals returns the profile's metric goals, or DefaultGoals when it has none.
func Goals(profile *domain.Profile) map[string]domain.Goal {
	goals := map[string]domain.Goal{}
	if profile != nil {
		for _, metric := range domain.AllMetrics {
			if g, ok := profile.Goals[metric]; ok && g.Target > 0 {
				goals[metric] = g
			}
		}
	}
	if len(goals) == 0 {
		return DefaultGoals
	}
	return goals
}

// GoalsFor measures each goal against the week's averages, in metric order.
// Mood is averaged on the MoodScore scale.
func GoalsFor(profile *domain.Profile, week domain.RecentData) []domain.GoalProgress {
	goals := Goals(profile)
	var out []domain.GoalProgress
	for _, metric := range domain.AllMetrics {
		g, ok := goals[metric]
		if !ok {
			continue
		}
		var current float64
		if metric == domain.MetricMood {
			scores := make([]float64, len(week.Mood))
			for i, m := range week.Mood {
				scores[i] = domain.MoodScore(strings.ToLower(m.Mood))
			}
			current = mean(scores)
		} else {
			current = mean(values(week.Numeric(metric)))
		}
		gp := domain.GoalProgress{Metric: metric, Target: g.Target, Current: current, Priority: g.Priority}
		if g.Target > 0 {
			gp.Progress = current / g.Target * 100
		}
		out = append(out, gp)
	}
	return out
}
