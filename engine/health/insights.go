package health

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
)

var positiveMoods = map[string]bool{"happy": true, "excited": true, "energetic": true, "content": true}

func positive(mood string) bool { return positiveMoods[strings.ToLower(mood)] }

type insightSet struct {
	now time.Time
	out []domain.Insight
}

func (s *insightSet) add(t domain.InsightType, metric string, p domain.Priority, msg string) {
	s.out = append(s.out, domain.Insight{
		ID:        uuid.NewString(),
		Type:      t,
		Message:   msg,
		Metric:    metric,
		Priority:  p,
		CreatedAt: s.now,
	})
}

// GenerateInsights evaluates the rule set for a newly logged entry. history
// holds the user's earlier entries in ascending order, not including entry.
func GenerateInsights(entry domain.HealthEntry, history []domain.HealthEntry, goals map[string]domain.Goal, now time.Time) []domain.Insight {
	all := make([]domain.HealthEntry, 0, len(history)+1)
	all = append(all, history...)
	all = append(all, entry)

	s := &insightSet{now: now}
	sleepInsights(s, entry, all, goals)
	stepsInsights(s, entry, all, goals)
	if entry.Water != nil && *entry.Water > 0 {
		waterInsights(s, *entry.Water, goals)
	}
	moodInsights(s, all)
	correlationInsights(s, all)
	return s.out
}

func sleepInsights(s *insightSet, e domain.HealthEntry, all []domain.HealthEntry, goals map[string]domain.Goal) {
	if g, ok := goals[domain.MetricSleep]; ok {
		switch {
		case e.Sleep >= g.Target:
			s.add(domain.InsightAchievement, domain.MetricSleep, domain.PriorityHigh,
				"Great job! You hit your sleep goal of "+num(g.Target)+" hours.")
		case e.Sleep < g.Target-2:
			short := math.Round((g.Target-e.Sleep)*10) / 10
			s.add(domain.InsightWarning, domain.MetricSleep, domain.PriorityHigh,
				"You're "+num(short)+" hours short of your sleep goal. Consider going to bed earlier tonight.")
		}
	}

	if len(all) >= 14 {
		recent := avg(all[len(all)-7:], sleepOf)
		previous := avg(all[len(all)-14:len(all)-7], sleepOf)
		switch diff := recent - previous; {
		case diff > 0.5:
			s.add(domain.InsightAchievement, domain.MetricSleep, domain.PriorityMedium,
				"Your sleep has improved by "+fixed1(diff)+" hours this week compared to last week!")
		case diff < -0.5:
			s.add(domain.InsightSuggestion, domain.MetricSleep, domain.PriorityMedium,
				"Your sleep has decreased by "+fixed1(-diff)+" hours this week. Try maintaining a consistent bedtime routine.")
		}
	}

	switch {
	case e.Sleep < 6:
		s.add(domain.InsightWarning, domain.MetricSleep, domain.PriorityHigh,
			"Getting less than 6 hours of sleep can impact your health and mood. Try to prioritize sleep tonight.")
	case e.Sleep > 9:
		s.add(domain.InsightSuggestion, domain.MetricSleep, domain.PriorityLow,
			"You slept more than 9 hours. While rest is important, consistently oversleeping might indicate other health issues.")
	}
}

func stepsInsights(s *insightSet, e domain.HealthEntry, all []domain.HealthEntry, goals map[string]domain.Goal) {
	g, hasGoal := goals[domain.MetricSteps]
	if hasGoal && float64(e.Steps) >= g.Target {
		s.add(domain.InsightAchievement, domain.MetricSteps, domain.PriorityHigh,
			"Awesome! You reached your daily step goal of "+grouped(g.Target)+" steps.")
	}

	switch {
	case e.Steps >= 15000:
		s.add(domain.InsightMilestone, domain.MetricSteps, domain.PriorityHigh,
			"Outstanding! You walked over 15,000 steps today. That's excellent for your cardiovascular health!")
	case e.Steps >= 10000:
		s.add(domain.InsightAchievement, domain.MetricSteps, domain.PriorityMedium,
			"Great work hitting 10,000+ steps! You're meeting the daily activity recommendation.")
	case e.Steps < 5000:
		s.add(domain.InsightSuggestion, domain.MetricSteps, domain.PriorityMedium,
			"Try to get more steps in today. Even a short 10-minute walk can make a difference!")
	}

	if hasGoal && len(all) >= 7 {
		daily := avg(all[len(all)-7:], stepsOf)
		if daily >= g.Target {
			s.add(domain.InsightAchievement, domain.MetricSteps, domain.PriorityMedium,
				"You're averaging "+grouped(math.Round(daily))+" steps this week - above your daily goal!")
		}
	}
}

func waterInsights(s *insightSet, water float64, goals map[string]domain.Goal) {
	g, ok := goals[domain.MetricWater]
	if !ok {
		return
	}
	switch {
	case water >= g.Target:
		s.add(domain.InsightAchievement, domain.MetricWater, domain.PriorityMedium,
			"Well done! You've met your hydration goal of "+num(g.Target)+"L today.")
	case water < g.Target*0.5:
		s.add(domain.InsightWarning, domain.MetricWater, domain.PriorityMedium,
			"You're drinking less water than usual. Try to increase your intake throughout the day.")
	}
}

func moodInsights(s *insightSet, all []domain.HealthEntry) {
	if len(all) < 7 {
		return
	}
	count := 0
	for _, e := range all[len(all)-7:] {
		if positive(e.Mood) {
			count++
		}
	}
	switch {
	case count >= 5:
		s.add(domain.InsightAchievement, domain.MetricMood, domain.PriorityMedium,
			"You've had mostly positive moods this week! Keep up whatever you're doing.")
	case count <= 2:
		s.add(domain.InsightSuggestion, domain.MetricMood, domain.PriorityHigh,
			"Your mood has been lower lately. Consider activities that usually make you feel better, or talk to someone you trust.")
	}
}

func correlationInsights(s *insightSet, all []domain.HealthEntry) {
	if len(all) < 14 {
		return
	}
	var good, poor, happy []domain.HealthEntry
	for _, e := range all {
		if e.Sleep >= 7 {
			good = append(good, e)
		}
		if e.Sleep < 6 {
			poor = append(poor, e)
		}
		if positive(e.Mood) {
			happy = append(happy, e)
		}
	}
	if len(good) >= 5 && len(poor) >= 5 && avg(good, stepsOf) > avg(poor, stepsOf)*1.2 {
		s.add(domain.InsightSuggestion, "", domain.PriorityLow,
			"I notice you tend to be more active on days when you sleep well. Good sleep really does boost your energy!")
	}
	if len(happy) >= 5 && avg(happy, sleepOf) > avg(all, sleepOf)+0.5 {
		s.add(domain.InsightSuggestion, "", domain.PriorityMedium,
			"Your mood tends to be better on days when you get more sleep. Prioritizing sleep might help your overall well-being.")
	}
}

// ProgressSnapshot measures a single entry against each goal, capped at 100%.
func ProgressSnapshot(entry domain.HealthEntry, goals map[string]domain.Goal, now time.Time) []domain.GoalProgress {
	date := now.UTC().Format("2006-01-02")
	var out []domain.GoalProgress
	for _, metric := range domain.AllMetrics {
		g, ok := goals[metric]
		if !ok || g.Target <= 0 {
			continue
		}
		var current float64
		switch metric {
		case domain.MetricSleep:
			current = entry.Sleep
		case domain.MetricSteps:
			current = float64(entry.Steps)
		case domain.MetricWater:
			if entry.Water != nil {
				current = *entry.Water
			}
		case domain.MetricMood:
			current = domain.MoodScore(strings.ToLower(entry.Mood))
		}
		out = append(out, domain.GoalProgress{
			Metric:   metric,
			Target:   g.Target,
			Current:  current,
			Progress: math.Min(current/g.Target*100, 100),
			Priority: g.Priority,
			Date:     date,
		})
	}
	return out
}

func sleepOf(e domain.HealthEntry) float64 { return e.Sleep }
func stepsOf(e domain.HealthEntry) float64 { return float64(e.Steps) }

func avg(entries []domain.HealthEntry, f func(domain.HealthEntry) float64) float64 {
	vals := make([]float64, len(entries))
	for i, e := range entries {
		vals[i] = f(e)
	}
	return mean(vals)
}

func fixed1(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }

// grouped renders a number with comma thousands separators.
func grouped(v float64) string {
	s := num(v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
