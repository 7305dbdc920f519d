package health

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
)

// ContextFormatVersion identifies the layout produced by Format. It is stored
// with every cache entry built from a context block; bump it whenever the
// output of Format changes for the same data.
const ContextFormatVersion = 1

// Trend thresholds in percent.
const trendBand = 5.0

// ComputeTrend compares two windows' averages. Changes of at least +5% are
// "up", at most -5% "down", anything between "stable". It reports false when
// either window is empty or the prior average is zero.
func ComputeTrend(metric string, current, prior []float64) (domain.Trend, bool) {
	if len(current) == 0 || len(prior) == 0 {
		return domain.Trend{}, false
	}
	cur, prev := mean(current), mean(prior)
	if prev == 0 {
		return domain.Trend{}, false
	}
	pct := (cur - prev) / prev * 100
	dir := "stable"
	switch {
	case pct >= trendBand:
		dir = "up"
	case pct <= -trendBand:
		dir = "down"
	}
	return domain.Trend{Metric: metric, Direction: dir, Percentage: math.Abs(pct), Period: "week"}, true
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// num renders a number the way it is written in the block: no trailing zeros.
func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Format renders the context block injected into prompts and cache keys.
func Format(hc domain.HealthContext, now time.Time) string {
	var b strings.Builder
	b.WriteString("--- USER HEALTH DATA CONTEXT ---\n")
	fmt.Fprintf(&b, "Data for %s:\n", Describe(hc.Analysis.Timeframe, now))

	for _, metric := range hc.Analysis.Metrics {
		if metric == domain.MetricMood {
			writeMood(&b, hc.RecentData.Mood)
			continue
		}
		series := hc.RecentData.Numeric(metric)
		if len(series) == 0 {
			fmt.Fprintf(&b, "- %s: No data available\n", metric)
			continue
		}
		var sum float64
		for _, p := range series {
			sum += p.Value
		}
		fmt.Fprintf(&b, "- %s: Latest: %s, Average: %.1f\n", metric, num(series[len(series)-1].Value), sum/float64(len(series)))
	}

	if len(hc.Goals) > 0 {
		b.WriteString("\nGoals and Progress:\n")
		for _, g := range hc.Goals {
			fmt.Fprintf(&b, "- %s: %.1f/%s (%.1f%% complete)\n", g.Metric, g.Current, num(g.Target), g.Progress)
		}
	}

	if len(hc.Trends) > 0 {
		b.WriteString("\nRecent Trends:\n")
		for _, t := range hc.Trends {
			fmt.Fprintf(&b, "- %s: %s by %.1f%% over past %s\n", t.Metric, t.Direction, t.Percentage, t.Period)
		}
	}

	if len(hc.Insights) > 0 {
		b.WriteString("\nKey Insights:\n")
		for i, in := range hc.Insights {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", in.Message)
		}
	}

	b.WriteString("--- END HEALTH DATA CONTEXT ---\n")
	return b.String()
}

func writeMood(b *strings.Builder, moods []domain.MoodPoint) {
	if len(moods) == 0 {
		b.WriteString("- mood: No data available\n")
		return
	}
	var order []string
	counts := map[string]int{}
	for _, m := range moods {
		label := strings.ToLower(m.Mood)
		if label == "" {
			label = "unknown"
		}
		if counts[label] == 0 {
			order = append(order, label)
		}
		counts[label]++
	}
	common := order[0]
	for _, label := range order[1:] {
		if counts[label] > counts[common] {
			common = label
		}
	}
	dist := make([]string, len(order))
	for i, label := range order {
		dist[i] = fmt.Sprintf("%s(%d)", label, counts[label])
	}
	latest := moods[len(moods)-1].Mood
	if latest == "" {
		latest = "unknown"
	}
	fmt.Fprintf(b, "- mood: Latest: %s, Most common: %s\n", latest, common)
	fmt.Fprintf(b, "  Mood distribution: %s\n", strings.Join(dist, ", "))
}
