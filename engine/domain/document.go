package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tag-list fields that may arrive comma-joined from the index.
var tagFields = []string{"tags", "dietaryRestrictions", "equipment", "targetMuscles", "ingredients", "instructions"}

// DecodeMeal converts indexed document fields into a Meal.
func DecodeMeal(fields map[string]any) (Meal, error) {
	var m Meal
	if err := decodeFields(fields, &m); err != nil {
		return Meal{}, fmt.Errorf("decode meal: %w", err)
	}
	if m.ID == "" || m.Title == "" {
		return Meal{}, fmt.Errorf("decode meal %q: missing id or title: %w", m.ID, ErrUnexpectedDocument)
	}
	if !ValidMealTypes[m.Type] {
		return Meal{}, fmt.Errorf("decode meal %q: type %q: %w", m.ID, m.Type, ErrUnexpectedDocument)
	}
	return m, nil
}

// DecodeWorkout converts indexed document fields into a Workout.
func DecodeWorkout(fields map[string]any) (Workout, error) {
	var w Workout
	if err := decodeFields(fields, &w); err != nil {
		return Workout{}, fmt.Errorf("decode workout: %w", err)
	}
	if w.ID == "" || w.Title == "" {
		return Workout{}, fmt.Errorf("decode workout %q: missing id or title: %w", w.ID, ErrUnexpectedDocument)
	}
	if !ValidWorkoutTypes[w.Type] {
		return Workout{}, fmt.Errorf("decode workout %q: type %q: %w", w.ID, w.Type, ErrUnexpectedDocument)
	}
	if !ValidDifficulties[w.Difficulty] {
		return Workout{}, fmt.Errorf("decode workout %q: difficulty %q: %w", w.ID, w.Difficulty, ErrUnexpectedDocument)
	}
	return w, nil
}

// DecodeCacheEntry converts indexed document fields into a CacheEntry.
func DecodeCacheEntry(key string, fields map[string]any) (CacheEntry, error) {
	var e CacheEntry
	if err := decodeFields(fields, &e); err != nil {
		return CacheEntry{}, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	if e.Response == "" {
		return CacheEntry{}, fmt.Errorf("decode cache entry %s: empty response: %w", key, ErrUnexpectedDocument)
	}
	e.Key = key
	return e, nil
}

// MealFields flattens a Meal into indexable document fields.
func MealFields(m Meal) map[string]any {
	return encodeFields(m)
}

// WorkoutFields flattens a Workout into indexable document fields.
func WorkoutFields(w Workout) map[string]any {
	return encodeFields(w)
}

// CacheEntryFields flattens a CacheEntry into indexable document fields.
func CacheEntryFields(e CacheEntry) map[string]any {
	return encodeFields(e)
}

func encodeFields(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func decodeFields(fields map[string]any, dst any) error {
	if fields == nil {
		return ErrUnexpectedDocument
	}
	norm := make(map[string]any, len(fields))
	for k, v := range fields {
		norm[k] = v
	}
	for _, f := range tagFields {
		if s, ok := norm[f].(string); ok {
			norm[f] = splitTags(s)
		}
	}
	b, err := json.Marshal(norm)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedDocument, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedDocument, err)
	}
	return nil
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
