package recommend

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/engine/semantic"
)

// goalPhrases are appended to the query text when the profile declares the goal.
var goalPhrases = []struct{ goal, phrase string }{
	{"weight_loss", "weight loss fat burning"},
	{"muscle_gain", "muscle building strength"},
	{"endurance", "endurance cardio stamina"},
}

// BuildQuery renders filters and profile goals into the text that is embedded
// for retrieval. The output is deterministic for equal inputs.
func BuildQuery(f domain.Filters, profile *domain.Profile) string {
	var parts []string
	add := func(s ...string) {
		for _, p := range s {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	}

	if f.WantsMeals() {
		add("healthy nutritious meal", string(f.MealType))
		add(f.DietPreference...)
		if f.TimeAvailable > 0 {
			add(prepCategory(f.TimeAvailable))
		}
	}
	if f.WantsWorkouts() {
		add("effective workout exercise", string(f.WorkoutType), string(f.Difficulty))
		if f.TimeAvailable > 0 {
			add(fmt.Sprintf("%d minutes", f.TimeAvailable))
		}
		add(f.Equipment...)
	}

	goals := profile.FitnessGoals()
	for _, g := range goalPhrases {
		if goals[g.goal] {
			add(g.phrase)
		}
	}
	add(f.Tags...)
	return strings.Join(parts, " ")
}

func prepCategory(minutes int) string {
	switch {
	case minutes <= 15:
		return "quick easy"
	case minutes <= 30:
		return "moderate prep"
	}
	return "elaborate"
}

// MealFilter builds the structured filter for the meals index. An empty
// criteria set yields "*".
func MealFilter(f domain.Filters) string {
	var parts []string
	if f.MealType != "" {
		parts = append(parts, tagTerm("type", string(f.MealType)))
	}
	if len(f.DietPreference) > 0 {
		parts = append(parts, anyOf("dietaryRestrictions", f.DietPreference))
	}
	if f.TimeAvailable > 0 {
		parts = append(parts, fmt.Sprintf("@prepTime:[0 %d]", f.TimeAvailable))
	}
	if r := f.CalorieRange; r != nil {
		lo, hi := r.Min, r.Max
		if hi == 0 {
			hi = domain.DefaultMaxCalories
		}
		if lo == 0 {
			lo = domain.DefaultMinCalories
		}
		parts = append(parts, fmt.Sprintf("@calories:[%d %d]", lo, hi))
	}
	if len(f.Tags) > 0 {
		parts = append(parts, anyOf("tags", f.Tags))
	}
	return joinTerms(parts)
}

// WorkoutFilter builds the structured filter for the workouts index.
func WorkoutFilter(f domain.Filters) string {
	var parts []string
	if f.WorkoutType != "" {
		parts = append(parts, tagTerm("type", string(f.WorkoutType)))
	}
	if f.Difficulty != "" {
		parts = append(parts, tagTerm("difficulty", string(f.Difficulty)))
	}
	if f.TimeAvailable > 0 {
		parts = append(parts, fmt.Sprintf("@duration:[0 %d]", f.TimeAvailable))
	}
	if len(f.Equipment) > 0 {
		parts = append(parts, anyOf("equipment", f.Equipment))
	}
	if len(f.Tags) > 0 {
		parts = append(parts, anyOf("tags", f.Tags))
	}
	return joinTerms(parts)
}

func tagTerm(field, value string) string {
	return "@" + field + ":{" + semantic.EscapeTag(value) + "}"
}

func anyOf(field string, values []string) string {
	terms := make([]string, len(values))
	for i, v := range values {
		terms[i] = tagTerm(field, v)
	}
	return "(" + strings.Join(terms, " | ") + ")"
}

func joinTerms(parts []string) string {
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}
