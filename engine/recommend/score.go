package recommend

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/engine/semantic"
)

// Weights of the two score components.
const (
	vectorWeight = 0.6
	filterWeight = 0.4
)

// Item is a meal or a workout.
type Item interface {
	domain.Meal | domain.Workout
}

// criteria accumulates per-criterion credits in [0, 1].
type criteria struct {
	credit   float64
	supplied int
}

func (c *criteria) add(credit float64) {
	c.credit += credit
	c.supplied++
}

func (c *criteria) addIf(ok bool) {
	if ok {
		c.add(1)
	} else {
		c.add(0)
	}
}

func (c criteria) ratio() (float64, bool) {
	if c.supplied == 0 {
		return 0, false
	}
	return c.credit / float64(c.supplied), true
}

// CalculateRelevanceScore blends vector similarity with the fraction of
// supplied filter criteria the item satisfies. With no criteria supplied the
// score is the weighted similarity alone. The result is clamped to [0, 1].
func CalculateRelevanceScore[T Item](distance semantic.Distance, item T, f domain.Filters) float64 {
	score := vectorWeight * distance.Similarity()
	var c criteria
	switch v := any(item).(type) {
	case domain.Meal:
		c = mealCriteria(v, f)
	case domain.Workout:
		c = workoutCriteria(v, f)
	}
	if r, ok := c.ratio(); ok {
		score += filterWeight * r
	}
	return clamp01(score)
}

func mealCriteria(m domain.Meal, f domain.Filters) criteria {
	var c criteria
	if f.MealType != "" {
		c.addIf(m.Type == f.MealType)
	}
	if len(f.DietPreference) > 0 {
		c.add(overlap(f.DietPreference, m.DietaryRestrictions))
	}
	if f.TimeAvailable > 0 {
		c.addIf(m.TotalTime() <= f.TimeAvailable)
	}
	if len(f.Tags) > 0 {
		c.add(overlap(f.Tags, m.Tags))
	}
	return c
}

func workoutCriteria(w domain.Workout, f domain.Filters) criteria {
	var c criteria
	if f.WorkoutType != "" {
		c.addIf(w.Type == f.WorkoutType)
	}
	if f.Difficulty != "" {
		c.addIf(w.Difficulty == f.Difficulty)
	}
	if f.TimeAvailable > 0 {
		c.addIf(w.Duration <= f.TimeAvailable)
	}
	if len(f.Equipment) > 0 {
		c.add(overlap(f.Equipment, w.Equipment))
	}
	if len(f.Tags) > 0 {
		c.add(overlap(f.Tags, w.Tags))
	}
	return c
}

// overlap is the fraction of wanted values present in have.
func overlap(want, have []string) float64 {
	if len(want) == 0 {
		return 0
	}
	return float64(len(intersect(want, have))) / float64(len(want))
}

// intersect returns the wanted values present in have, in wanted order.
func intersect(want, have []string) []string {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[strings.ToLower(h)] = true
	}
	var out []string
	for _, w := range want {
		if set[strings.ToLower(w)] {
			out = append(out, w)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// RelevanceReason explains in one line why an item was recommended.
func RelevanceReason[T Item](item T, f domain.Filters) string {
	var reasons []string
	switch v := any(item).(type) {
	case domain.Meal:
		if f.MealType != "" && v.Type == f.MealType {
			reasons = append(reasons, "Perfect for "+string(f.MealType))
		}
		if diets := intersect(f.DietPreference, v.DietaryRestrictions); len(diets) > 0 {
			reasons = append(reasons, "Fits "+strings.Join(diets, ", ")+" diet")
		}
		if f.TimeAvailable > 0 && v.TotalTime() <= f.TimeAvailable {
			reasons = append(reasons, fmt.Sprintf("Quick %d-minute prep", v.TotalTime()))
		}
		reasons = append(reasons, fmt.Sprintf("%d calories", v.Calories))
	case domain.Workout:
		if f.Difficulty != "" && v.Difficulty == f.Difficulty {
			reasons = append(reasons, string(v.Difficulty)+" level")
		}
		if f.TimeAvailable > 0 && v.Duration <= f.TimeAvailable {
			reasons = append(reasons, fmt.Sprintf("%d-minute workout", v.Duration))
		}
		reasons = append(reasons, fmt.Sprintf("Burns ~%d calories", v.CaloriesBurned))
	}
	if len(reasons) == 0 {
		return "Recommended for you"
	}
	return strings.Join(reasons, " • ")
}
