package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxQueryRunes is the longest chat query accepted; longer input is truncated.
const MaxQueryRunes = 2000

// Recommendation limits.
const (
	DefaultLimit = 10
	MaxLimit     = 20
)

// Default calorie bounds used when a range is not supplied.
const (
	DefaultMinCalories = 0
	DefaultMaxCalories = 2000
)

// ValidMoods is the set of mood labels accepted on ingest.
var ValidMoods = map[string]bool{
	"sad": true, "tired": true, "stressed": true, "anxious": true, "neutral": true,
	"content": true, "happy": true, "energetic": true, "excited": true,
}

// MoodScore maps a mood label onto a 1-5 scale. Unknown moods score as neutral.
func MoodScore(mood string) float64 {
	switch mood {
	case "sad":
		return 1
	case "neutral":
		return 2.5
	case "happy":
		return 4
	case "excited":
		return 5
	}
	return 2.5
}

// NormalizeQuery trims and length-limits a chat query. Empty or
// whitespace-only input is rejected with ErrInvalidQuery.
func NormalizeQuery(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", NewValidationError("query", text, ErrInvalidQuery)
	}
	if utf8.RuneCountInString(text) > MaxQueryRunes {
		text = string([]rune(text)[:MaxQueryRunes])
	}
	return text, nil
}

// ValidateFilters checks recommendation filters and fills defaults.
func ValidateFilters(f Filters) (Filters, error) {
	switch f.Type {
	case "", "meal", "workout":
	case "all":
		f.Type = ""
	default:
		return f, NewValidationError("type", f.Type, ErrInvalidFilter)
	}
	if f.MealType != "" && !ValidMealTypes[f.MealType] {
		return f, NewValidationError("mealType", string(f.MealType), ErrInvalidFilter)
	}
	if f.WorkoutType != "" && !ValidWorkoutTypes[f.WorkoutType] {
		return f, NewValidationError("workoutType", string(f.WorkoutType), ErrInvalidFilter)
	}
	if f.Difficulty != "" && !ValidDifficulties[f.Difficulty] {
		return f, NewValidationError("difficulty", string(f.Difficulty), ErrInvalidFilter)
	}
	if f.TimeAvailable < 0 {
		return f, NewValidationError("timeAvailable", strconv.Itoa(f.TimeAvailable), ErrInvalidFilter)
	}
	if r := f.CalorieRange; r != nil {
		if r.Min < 0 || r.Max < 0 || (r.Max > 0 && r.Min > r.Max) {
			return f, NewValidationError("calorieRange", fmt.Sprintf("%d-%d", r.Min, r.Max), ErrInvalidFilter)
		}
	}
	switch {
	case f.Limit == 0:
		f.Limit = DefaultLimit
	case f.Limit < 1 || f.Limit > MaxLimit:
		return f, NewValidationError("limit", strconv.Itoa(f.Limit), ErrInvalidFilter)
	}
	f.DietPreference = cleanList(f.DietPreference)
	f.Equipment = cleanList(f.Equipment)
	f.Tags = cleanList(f.Tags)
	return f, nil
}

// cleanList lowercases and trims entries and drops empties. Stored tags are
// lowercase and tag filters compare exactly.
func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeTags lowercases and trims the tag-like fields of corpus items so
// they line up with validated filters.
func NormalizeTags(m *Meal) {
	m.Tags = cleanList(m.Tags)
	m.DietaryRestrictions = cleanList(m.DietaryRestrictions)
}

// NormalizeWorkoutTags is NormalizeTags for workouts.
func NormalizeWorkoutTags(w *Workout) {
	w.Tags = cleanList(w.Tags)
	w.Equipment = cleanList(w.Equipment)
	w.TargetMuscles = cleanList(w.TargetMuscles)
}

// ValidateHealthEntry checks a logged entry before it is persisted.
func ValidateHealthEntry(e HealthEntry) error {
	if e.Timestamp.IsZero() {
		return NewValidationError("timestamp", "", ErrInvalidEntry)
	}
	if e.Steps < 0 {
		return NewValidationError("steps", strconv.Itoa(e.Steps), ErrInvalidEntry)
	}
	if e.Sleep < 0 || e.Sleep > 24 {
		return NewValidationError("sleep", strconv.FormatFloat(e.Sleep, 'f', -1, 64), ErrInvalidEntry)
	}
	if e.Water != nil && *e.Water < 0 {
		return NewValidationError("water", strconv.FormatFloat(*e.Water, 'f', -1, 64), ErrInvalidEntry)
	}
	if !ValidMoods[e.Mood] {
		return NewValidationError("mood", e.Mood, ErrInvalidEntry)
	}
	return nil
}
