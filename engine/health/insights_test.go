package health

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/engine/healthstore"
	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
)

func ptr(v float64) *float64 { return &v }

func messages(in []domain.Insight) []string {
	out := make([]string, len(in))
	for i, x := range in {
		out[i] = x.Message
	}
	return out
}

func hasMessage(in []domain.Insight, prefix string) bool {
	for _, x := range in {
		if strings.HasPrefix(x.Message, prefix) {
			return true
		}
	}
	return false
}

func TestGenerateInsights_SingleEntry(t *testing.T) {
	e := domain.HealthEntry{Timestamp: now, Sleep: 5.5, Steps: 16000, Water: ptr(0.5), Mood: "tired"}
	got := GenerateInsights(e, nil, DefaultGoals, now)

	want := []struct {
		typ domain.InsightType
		msg string
	}{
		{domain.InsightWarning, "You're 2.5 hours short of your sleep goal. Consider going to bed earlier tonight."},
		{domain.InsightWarning, "Getting less than 6 hours of sleep can impact your health and mood. Try to prioritize sleep tonight."},
		{domain.InsightAchievement, "Awesome! You reached your daily step goal of 10,000 steps."},
		{domain.InsightMilestone, "Outstanding! You walked over 15,000 steps today. That's excellent for your cardiovascular health!"},
		{domain.InsightWarning, "You're drinking less water than usual. Try to increase your intake throughout the day."},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d insights: %q", len(got), messages(got))
	}
	for i, w := range want {
		if got[i].Type != w.typ || got[i].Message != w.msg {
			t.Errorf("insight %d = %s %q, want %s %q", i, got[i].Type, got[i].Message, w.typ, w.msg)
		}
		if got[i].ID == "" || !got[i].CreatedAt.Equal(now) {
			t.Errorf("insight %d missing id or timestamp: %+v", i, got[i])
		}
	}
}

func TestGenerateInsights_NothingFires(t *testing.T) {
	e := domain.HealthEntry{Timestamp: now, Sleep: 7.5, Steps: 7000, Mood: "neutral"}
	if got := GenerateInsights(e, nil, DefaultGoals, now); len(got) != 0 {
		t.Fatalf("got %q", messages(got))
	}
}

func TestGenerateInsights_WeekOverWeek(t *testing.T) {
	var history []domain.HealthEntry
	for d := 13; d >= 1; d-- {
		sleep := 7.5
		if d > 6 {
			sleep = 6.5
		}
		history = append(history, domain.HealthEntry{Timestamp: daysAgo(d), Sleep: sleep, Steps: 12000, Mood: "happy"})
	}
	e := domain.HealthEntry{Timestamp: now, Sleep: 7.5, Steps: 12000, Mood: "content"}
	got := GenerateInsights(e, history, DefaultGoals, now)

	for _, prefix := range []string{
		"Your sleep has improved by 1.0 hours this week compared to last week!",
		"Great work hitting 10,000+ steps!",
		"You're averaging 12,000 steps this week - above your daily goal!",
		"You've had mostly positive moods this week!",
	} {
		if !hasMessage(got, prefix) {
			t.Errorf("missing %q in %q", prefix, messages(got))
		}
	}
}

func TestGenerateInsights_LowMoodAndCorrelations(t *testing.T) {
	var history []domain.HealthEntry
	for d := 13; d >= 1; d-- {
		e := domain.HealthEntry{Timestamp: daysAgo(d), Sleep: 8, Steps: 12000, Mood: "happy"}
		if d%2 == 0 {
			e = domain.HealthEntry{Timestamp: daysAgo(d), Sleep: 5, Steps: 4000, Mood: "sad"}
		}
		history = append(history, e)
	}
	e := domain.HealthEntry{Timestamp: now, Sleep: 5, Steps: 4000, Mood: "sad"}
	got := GenerateInsights(e, history, map[string]domain.Goal{}, now)

	for _, prefix := range []string{
		"I notice you tend to be more active on days when you sleep well.",
		"Your mood tends to be better on days when you get more sleep.",
		"Try to get more steps in today.",
	} {
		if !hasMessage(got, prefix) {
			t.Errorf("missing %q in %q", prefix, messages(got))
		}
	}
	for _, x := range got {
		if strings.HasPrefix(x.Message, "I notice") && x.Metric != "" {
			t.Errorf("correlation insight should carry no metric: %+v", x)
		}
	}
}

func TestGrouped(t *testing.T) {
	cases := map[float64]string{999: "999", 10000: "10,000", 1234567.5: "1,234,567.5", 100000: "100,000"}
	for in, want := range cases {
		if got := grouped(in); got != want {
			t.Errorf("grouped(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestProgressSnapshot(t *testing.T) {
	e := domain.HealthEntry{Sleep: 6, Steps: 15000}
	got := ProgressSnapshot(e, DefaultGoals, now)
	if len(got) != 3 {
		t.Fatalf("snapshot = %+v", got)
	}
	if got[0].Metric != "sleep" || got[0].Progress != 75 || got[0].Date != "2026-03-10" {
		t.Fatalf("sleep = %+v", got[0])
	}
	if got[1].Progress != 100 || got[1].Current != 15000 {
		t.Fatalf("steps should cap at 100: %+v", got[1])
	}
	if got[2].Current != 0 {
		t.Fatalf("water without a reading = %+v", got[2])
	}
}

func newTestProcessor(store InsightStore, m *metrics.Registry, logger *slog.Logger) *Processor {
	p := NewProcessor(store, m, logger)
	p.now = func() time.Time { return now }
	return p
}

func TestProcessor_StoresInsightsAndProgress(t *testing.T) {
	store := healthstore.NewMemoryStore()
	ctx := context.Background()
	e := domain.HealthEntry{Timestamp: now, Sleep: 4, Steps: 3000, Mood: "sad"}
	_ = store.AppendEntry(ctx, "u1", e)
	m := metrics.New()

	if err := newTestProcessor(store, m, nil).Process(ctx, "u1", e); err != nil {
		t.Fatal(err)
	}
	ins, _ := store.Insights(ctx, "u1")
	if len(ins) == 0 {
		t.Fatal("expected stored insights")
	}
	progress, _ := store.GoalProgress(ctx, "u1", "2026-03-10")
	if len(progress) != 3 {
		t.Fatalf("progress = %+v", progress)
	}
	if got := testutil.ToFloat64(m.InsightJobs.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok jobs = %v", got)
	}
}

func TestProcessor_NoInsightsWritesNothing(t *testing.T) {
	store := healthstore.NewMemoryStore()
	ctx := context.Background()
	e := domain.HealthEntry{Timestamp: now, Sleep: 7.5, Steps: 7000, Mood: "neutral"}
	_ = store.AppendEntry(ctx, "u1", e)
	m := metrics.New()

	if err := newTestProcessor(store, m, nil).Process(ctx, "u1", e); err != nil {
		t.Fatal(err)
	}
	if ins, _ := store.Insights(ctx, "u1"); len(ins) != 0 {
		t.Fatalf("insights = %+v", ins)
	}
	if progress, _ := store.GoalProgress(ctx, "u1", "2026-03-10"); len(progress) != 0 {
		t.Fatalf("progress = %+v", progress)
	}
	if got := testutil.ToFloat64(m.InsightJobs.WithLabelValues("empty")); got != 1 {
		t.Fatalf("empty jobs = %v", got)
	}
}

type failingSave struct{ *healthstore.MemoryStore }

func (failingSave) SaveInsights(context.Context, string, []domain.Insight) error {
	return errors.New("write refused")
}

func TestAsyncDispatcher_LogsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	m := metrics.New()
	d := NewAsyncDispatcher(newTestProcessor(failingSave{healthstore.NewMemoryStore()}, m, logger), time.Second, logger)

	if err := d.Dispatch(context.Background(), Job{UserID: "u1", Entry: domain.HealthEntry{Timestamp: now, Sleep: 3}}); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "write refused") {
		t.Fatalf("log = %s", buf.String())
	}
	if got := testutil.ToFloat64(m.InsightJobs.WithLabelValues("error")); got != 1 {
		t.Fatalf("error jobs = %v", got)
	}
	if err := d.Dispatch(context.Background(), Job{}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("dispatch after close = %v", err)
	}
}

func TestAsyncDispatcher_OutlivesRequestContext(t *testing.T) {
	store := healthstore.NewMemoryStore()
	d := NewAsyncDispatcher(newTestProcessor(store, nil, nil), time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Dispatch(ctx, Job{UserID: "u1", Entry: domain.HealthEntry{Timestamp: now, Sleep: 3}}); err != nil {
		t.Fatal(err)
	}
	_ = d.Close()
	if ins, _ := store.Insights(context.Background(), "u1"); len(ins) == 0 {
		t.Fatal("job should run after the request context is cancelled")
	}
}

func TestNATSDispatchAndConsume(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(nc.Close)

	store := healthstore.NewMemoryStore()
	sub, err := Consume(nc, newTestProcessor(store, nil, nil), 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	d := NewNATSDispatcher(nc)
	if err := d.Dispatch(context.Background(), Job{UserID: "u1", Entry: domain.HealthEntry{Timestamp: now, Sleep: 3, Steps: 100}}); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ins, _ := store.Insights(context.Background(), "u1"); len(ins) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("worker never stored insights")
}
