// Package health aggregates a user's logged metrics into the context block
// injected into coach prompts, and generates rule-based insights when new
// entries arrive.
package health

import (
	"strings"
	"time"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
)

// Timeframes recognised by AnalyzeQuery.
const (
	TimeframeToday              = "today"
	TimeframeYesterday          = "yesterday"
	TimeframeDayBeforeYesterday = "day_before_yesterday"
	TimeframeThreeDaysAgo       = "three_days_ago"
	TimeframeWeek               = "week"
	TimeframeLastWeek           = "last_week"
	TimeframeMonth              = "month"
	TimeframeYear               = "year"
)

// Intents recognised by AnalyzeQuery.
const (
	IntentCompare        = "compare"
	IntentTrend          = "trend"
	IntentGoalProgress   = "goal_progress"
	IntentRecommendation = "recommendation"
	IntentGeneral        = "general"
)

type rule struct {
	name     string
	keywords []string
}

// Checked in order; phrases that contain another rule's keyword come first.
var timeframeRules = []rule{
	{TimeframeToday, []string{"today", "today's", "current"}},
	{TimeframeDayBeforeYesterday, []string{"day before yesterday", "day after yesterday", "2 days ago", "two days ago", "day before yest"}},
	{TimeframeYesterday, []string{"yesterday", "yest"}},
	{TimeframeThreeDaysAgo, []string{"3 days ago", "three days ago"}},
	{TimeframeLastWeek, []string{"last week", "previous week"}},
	{TimeframeWeek, []string{"week", "weekly", "past week", "this week", "7 days"}},
	{TimeframeMonth, []string{"month", "monthly", "past month", "this month", "30 days"}},
	{TimeframeYear, []string{"year", "yearly", "annual"}},
}

var metricRules = []rule{
	{domain.MetricSleep, []string{"sleep", "sleeping", "rest", "bedtime"}},
	{domain.MetricSteps, []string{"steps", "walking", "activity", "movement"}},
	{domain.MetricWater, []string{"water", "hydration", "drink", "fluid"}},
	{domain.MetricMood, []string{"mood", "emotion", "feelings", "mental"}},
}

var intentRules = []rule{
	{IntentCompare, []string{"compare", "vs", "versus", "difference", "better", "worse"}},
	{IntentTrend, []string{"trend", "progress", "improvement", "decline", "pattern"}},
	{IntentGoalProgress, []string{"goal", "target", "achievement", "progress", "reach"}},
	{IntentRecommendation, []string{"advice", "suggest", "recommend", "help", "improve"}},
}

func (r rule) matches(text string) bool {
	for _, k := range r.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func firstMatch(rules []rule, text, fallback string) string {
	for _, r := range rules {
		if r.matches(text) {
			return r.name
		}
	}
	return fallback
}

// AnalyzeQuery classifies a chat query by keyword. Timeframe defaults to
// week, metrics to all four, intent to general.
func AnalyzeQuery(query string) domain.Analysis {
	q := strings.ToLower(query)
	var metrics []string
	for _, r := range metricRules {
		if r.matches(q) {
			metrics = append(metrics, r.name)
		}
	}
	if len(metrics) == 0 {
		metrics = append([]string(nil), domain.AllMetrics...)
	}
	return domain.Analysis{
		Timeframe: firstMatch(timeframeRules, q, TimeframeWeek),
		Metrics:   metrics,
		Intent:    firstMatch(intentRules, q, IntentGeneral),
	}
}

// Window returns the inclusive time range a timeframe covers, relative to now
// in now's location.
func Window(timeframe string, now time.Time) (from, to time.Time) {
	day := func(offset int) (time.Time, time.Time) {
		y, m, d := now.AddDate(0, 0, -offset).Date()
		start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
		return start, start.Add(24*time.Hour - time.Millisecond)
	}
	switch timeframe {
	case TimeframeToday:
		return day(0)
	case TimeframeYesterday:
		return day(1)
	case TimeframeDayBeforeYesterday:
		return day(2)
	case TimeframeThreeDaysAgo:
		return day(3)
	case TimeframeLastWeek:
		return now.AddDate(0, 0, -14), now.AddDate(0, 0, -7)
	case TimeframeMonth:
		return now.Add(-30 * 24 * time.Hour), now
	case TimeframeYear:
		return now.Add(-365 * 24 * time.Hour), now
	}
	return now.Add(-7 * 24 * time.Hour), now
}

// Describe renders a timeframe for the context block.
func Describe(timeframe string, now time.Time) string {
	date := func(offset int) string { return now.AddDate(0, 0, -offset).Format("1/2/2006") }
	switch timeframe {
	case TimeframeToday:
		return "today (" + date(0) + ")"
	case TimeframeYesterday:
		return "yesterday (" + date(1) + ")"
	case TimeframeDayBeforeYesterday:
		return "day before yesterday (" + date(2) + ")"
	case TimeframeThreeDaysAgo:
		return "three days ago (" + date(3) + ")"
	case TimeframeWeek:
		return "the past 7 days"
	case TimeframeLastWeek:
		return "last week"
	case TimeframeMonth:
		return "the past 30 days"
	case TimeframeYear:
		return "the past year"
	}
	return timeframe
}
