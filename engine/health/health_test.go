package health

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/engine/healthstore"
	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time { return now.Add(-time.Duration(d) * 24 * time.Hour) }

func TestAnalyzeQuery(t *testing.T) {
	cases := []struct {
		query     string
		timeframe string
		metrics   []string
		intent    string
	}{
		{"How was my sleep yesterday?", TimeframeYesterday, []string{"sleep"}, IntentGeneral},
		{"steps the day before yesterday", TimeframeDayBeforeYesterday, []string{"steps"}, IntentGeneral},
		{"compare my water this month", TimeframeMonth, []string{"water"}, IntentCompare},
		{"Am I reaching my target?", TimeframeWeek, domain.AllMetrics, IntentGoalProgress},
		{"what about last week mood", TimeframeLastWeek, []string{"mood"}, IntentGeneral},
		{"", TimeframeWeek, domain.AllMetrics, IntentGeneral},
	}
	for _, c := range cases {
		got := AnalyzeQuery(c.query)
		if got.Timeframe != c.timeframe || got.Intent != c.intent || !reflect.DeepEqual(got.Metrics, c.metrics) {
			t.Errorf("AnalyzeQuery(%q) = %+v", c.query, got)
		}
	}
}

func TestWindow(t *testing.T) {
	from, to := Window(TimeframeYesterday, now)
	if !from.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from = %v", from)
	}
	if !to.Equal(time.Date(2026, 3, 9, 23, 59, 59, int(999*time.Millisecond), time.UTC)) {
		t.Fatalf("to = %v", to)
	}
	from, to = Window(TimeframeLastWeek, now)
	if !from.Equal(now.AddDate(0, 0, -14)) || !to.Equal(now.AddDate(0, 0, -7)) {
		t.Fatalf("last week = %v..%v", from, to)
	}
	from, _ = Window("bogus", now)
	if !from.Equal(daysAgo(7)) {
		t.Fatalf("default window from = %v", from)
	}
}

func TestComputeTrend(t *testing.T) {
	cases := []struct {
		cur, prev float64
		dir       string
	}{
		{8.4, 7.0, "up"},
		{7.0, 7.2, "stable"},
		{6.0, 7.0, "down"},
		{10.5, 10.0, "up"},
	}
	for _, c := range cases {
		tr, ok := ComputeTrend("sleep", []float64{c.cur}, []float64{c.prev})
		if !ok || tr.Direction != c.dir {
			t.Errorf("%v vs %v = %+v, want %s", c.cur, c.prev, tr, c.dir)
		}
		if tr.Percentage < 0 {
			t.Errorf("percentage should be absolute, got %v", tr.Percentage)
		}
	}
	if _, ok := ComputeTrend("sleep", nil, []float64{7}); ok {
		t.Error("empty current window should report no trend")
	}
	if _, ok := ComputeTrend("steps", []float64{10}, []float64{0}); ok {
		t.Error("zero prior average should report no trend")
	}
}

func TestFormat_NoData(t *testing.T) {
	hc := domain.HealthContext{Analysis: AnalyzeQuery("How was my sleep yesterday?")}
	want := "--- USER HEALTH DATA CONTEXT ---\n" +
		"Data for yesterday (3/9/2026):\n" +
		"- sleep: No data available\n" +
		"--- END HEALTH DATA CONTEXT ---\n"
	if got := Format(hc, now); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormat_Full(t *testing.T) {
	hc := domain.HealthContext{
		Analysis: domain.Analysis{Timeframe: TimeframeWeek, Metrics: []string{"sleep", "mood"}},
		RecentData: domain.RecentData{
			Sleep: []domain.MetricPoint{{Timestamp: daysAgo(2), Value: 7}, {Timestamp: daysAgo(1), Value: 8}},
			Mood:  []domain.MoodPoint{{Mood: "happy"}, {Mood: "sad"}, {Mood: "happy"}},
		},
		Goals:  []domain.GoalProgress{{Metric: "sleep", Target: 8, Current: 6, Progress: 75}},
		Trends: []domain.Trend{{Metric: "sleep", Direction: "up", Percentage: 20, Period: "week"}},
		Insights: []domain.Insight{
			{Message: "one"}, {Message: "two"}, {Message: "three"}, {Message: "four"},
		},
	}
	want := "--- USER HEALTH DATA CONTEXT ---\n" +
		"Data for the past 7 days:\n" +
		"- sleep: Latest: 8, Average: 7.5\n" +
		"- mood: Latest: happy, Most common: happy\n" +
		"  Mood distribution: happy(2), sad(1)\n" +
		"\nGoals and Progress:\n" +
		"- sleep: 6.0/8 (75.0% complete)\n" +
		"\nRecent Trends:\n" +
		"- sleep: up by 20.0% over past week\n" +
		"\nKey Insights:\n" +
		"- one\n- two\n- three\n" +
		"--- END HEALTH DATA CONTEXT ---\n"
	if got := Format(hc, now); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

// seedTwoWeeks logs sleep 8.5 for the past six days and 7.0 the week before.
func seedTwoWeeks(t *testing.T, s *healthstore.MemoryStore) {
	t.Helper()
	for d := 1; d <= 13; d++ {
		if d == 7 {
			continue
		}
		sleep := 8.5
		if d > 7 {
			sleep = 7.0
		}
		e := domain.HealthEntry{Timestamp: daysAgo(d), Steps: 5000, Sleep: sleep, Mood: "happy"}
		if err := s.AppendEntry(context.Background(), "u1", e); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestAggregator(store Reader, m *metrics.Registry) *Aggregator {
	a := NewAggregator(store, 0, m, nil)
	a.now = func() time.Time { return now }
	return a
}

func TestAggregator_Context(t *testing.T) {
	store := healthstore.NewMemoryStore()
	seedTwoWeeks(t, store)
	_ = store.SaveInsights(context.Background(), "u1", []domain.Insight{{ID: "i1", Message: "keep going", CreatedAt: now}})
	m := metrics.New()

	hc, err := newTestAggregator(store, m).Context(context.Background(), "u1", "How was my sleep yesterday?")
	if err != nil {
		t.Fatal(err)
	}
	if len(hc.RecentData.Sleep) != 1 || hc.RecentData.Sleep[0].Value != 8.5 {
		t.Fatalf("yesterday sleep = %+v", hc.RecentData.Sleep)
	}
	if len(hc.Trends) != 1 || hc.Trends[0].Metric != "sleep" || hc.Trends[0].Direction != "up" {
		t.Fatalf("trends = %+v", hc.Trends)
	}
	if len(hc.Goals) != 3 {
		t.Fatalf("default goals = %+v", hc.Goals)
	}
	sleep, steps, water := hc.Goals[0], hc.Goals[1], hc.Goals[2]
	if sleep.Metric != "sleep" || sleep.Current != 8.5 || sleep.Progress != 106.25 {
		t.Fatalf("sleep goal = %+v", sleep)
	}
	if steps.Progress != 50 || water.Current != 0 {
		t.Fatalf("steps=%+v water=%+v", steps, water)
	}
	if len(hc.Insights) != 1 || hc.Insights[0].Message != "keep going" {
		t.Fatalf("insights = %+v", hc.Insights)
	}
	if got := testutil.ToFloat64(m.HealthContexts.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok contexts = %v", got)
	}
	if !strings.Contains(Format(hc, now), "- sleep: Latest: 8.5, Average: 8.5\n") {
		t.Fatalf("block = %s", Format(hc, now))
	}
}

func TestAggregator_EmptyUser(t *testing.T) {
	hc, err := newTestAggregator(healthstore.NewMemoryStore(), nil).Context(context.Background(), "nobody", "How was my sleep yesterday?")
	if err != nil {
		t.Fatal(err)
	}
	if hc.Analysis.Timeframe != TimeframeYesterday || !reflect.DeepEqual(hc.Analysis.Metrics, []string{"sleep"}) {
		t.Fatalf("analysis = %+v", hc.Analysis)
	}
	if len(hc.RecentData.Sleep) != 0 || len(hc.Trends) != 0 {
		t.Fatalf("expected empty data, got %+v", hc)
	}
	if !strings.Contains(Format(hc, now), "- sleep: No data available\n") {
		t.Fatalf("block = %s", Format(hc, now))
	}
}

func TestAggregator_ProfileGoals(t *testing.T) {
	store := healthstore.NewMemoryStore()
	seedTwoWeeks(t, store)
	_ = store.SaveProfile(context.Background(), domain.Profile{UserID: "u1", Goals: map[string]domain.Goal{
		"mood":        {Target: 4, Priority: domain.PriorityLow},
		"weight_loss": {Target: 5},
	}})
	hc, err := newTestAggregator(store, nil).Context(context.Background(), "u1", "mood")
	if err != nil {
		t.Fatal(err)
	}
	if len(hc.Goals) != 1 || hc.Goals[0].Metric != "mood" || hc.Goals[0].Progress != 100 {
		t.Fatalf("goals = %+v", hc.Goals)
	}
}

func TestAggregator_MemoAndInvalidate(t *testing.T) {
	store := healthstore.NewMemoryStore()
	seedTwoWeeks(t, store)
	a := newTestAggregator(store, nil)
	ctx := context.Background()

	if _, err := a.Context(ctx, "u1", "sleep yesterday"); err != nil {
		t.Fatal(err)
	}
	_ = store.AppendEntry(ctx, "u1", domain.HealthEntry{Timestamp: daysAgo(1).Add(time.Hour), Steps: 100, Sleep: 6, Mood: "sad"})

	hc, _ := a.Context(ctx, "u1", "sleep yesterday")
	if len(hc.RecentData.Sleep) != 1 {
		t.Fatalf("memoized series should be reused, got %d points", len(hc.RecentData.Sleep))
	}
	a.Invalidate("u1")
	hc, _ = a.Context(ctx, "u1", "sleep yesterday")
	if len(hc.RecentData.Sleep) != 2 {
		t.Fatalf("after invalidate got %d points", len(hc.RecentData.Sleep))
	}
}

type brokenEntries struct{ *healthstore.MemoryStore }

func (brokenEntries) Entries(context.Context, string, time.Time, time.Time, int) ([]domain.HealthEntry, error) {
	return nil, errors.New("neo4j down")
}

type brokenProfile struct{ *healthstore.MemoryStore }

func (brokenProfile) Profile(context.Context, string) (*domain.Profile, error) {
	return nil, errors.New("decode failed")
}

func (brokenProfile) Insights(context.Context, string) ([]domain.Insight, error) {
	return nil, errors.New("timeout")
}

func TestAggregator_EntriesFailure(t *testing.T) {
	m := metrics.New()
	_, err := newTestAggregator(brokenEntries{healthstore.NewMemoryStore()}, m).Context(context.Background(), "u1", "sleep")
	if err == nil || !strings.Contains(err.Error(), "neo4j down") {
		t.Fatalf("err = %v", err)
	}
	if got := testutil.ToFloat64(m.HealthContexts.WithLabelValues("error")); got != 1 {
		t.Fatalf("error contexts = %v", got)
	}
}

func TestAggregator_ProfileAndInsightFailuresDegrade(t *testing.T) {
	store := healthstore.NewMemoryStore()
	seedTwoWeeks(t, store)
	hc, err := newTestAggregator(brokenProfile{store}, nil).Context(context.Background(), "u1", "sleep")
	if err != nil {
		t.Fatal(err)
	}
	if len(hc.Goals) != 3 || hc.Insights != nil {
		t.Fatalf("goals=%+v insights=%+v", hc.Goals, hc.Insights)
	}
}
