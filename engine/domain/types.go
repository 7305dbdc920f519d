// Package domain defines core domain types, constants, and validation for the
// wellness engine. It acts as the validation gate at request and store boundaries.
package domain

import "time"

// MealType classifies meals by time of day.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// ValidMealTypes is the set of recognised meal types.
var ValidMealTypes = map[MealType]bool{
	MealBreakfast: true, MealLunch: true, MealDinner: true, MealSnack: true,
}

// WorkoutType classifies workouts.
type WorkoutType string

const (
	WorkoutCardio      WorkoutType = "cardio"
	WorkoutStrength    WorkoutType = "strength"
	WorkoutFlexibility WorkoutType = "flexibility"
	WorkoutMixed       WorkoutType = "mixed"
)

// ValidWorkoutTypes is the set of recognised workout types.
var ValidWorkoutTypes = map[WorkoutType]bool{
	WorkoutCardio: true, WorkoutStrength: true, WorkoutFlexibility: true, WorkoutMixed: true,
}

// Difficulty is a workout difficulty level.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// ValidDifficulties is the set of recognised difficulty levels.
var ValidDifficulties = map[Difficulty]bool{
	DifficultyBeginner: true, DifficultyIntermediate: true, DifficultyAdvanced: true,
}

// Nutrition holds per-serving macro nutrients in grams.
type Nutrition struct {
	Protein float64 `json:"protein" yaml:"protein"`
	Carbs   float64 `json:"carbs" yaml:"carbs"`
	Fat     float64 `json:"fat" yaml:"fat"`
	Fiber   float64 `json:"fiber" yaml:"fiber"`
}

// Meal is a recipe document in the meals index.
type Meal struct {
	ID                  string    `json:"id" yaml:"id"`
	Title               string    `json:"title" yaml:"title"`
	Description         string    `json:"description" yaml:"description"`
	Type                MealType  `json:"type" yaml:"type"`
	Tags                []string  `json:"tags" yaml:"tags"`
	DietaryRestrictions []string  `json:"dietaryRestrictions" yaml:"dietaryRestrictions"`
	Calories            int       `json:"calories" yaml:"calories"`
	PrepTime            int       `json:"prepTime" yaml:"prepTime"`
	CookTime            int       `json:"cookTime" yaml:"cookTime"`
	Servings            int       `json:"servings" yaml:"servings"`
	Ingredients         []string  `json:"ingredients" yaml:"ingredients"`
	Instructions        []string  `json:"instructions" yaml:"instructions"`
	Nutrition           Nutrition `json:"nutrition" yaml:"nutrition"`
	Embedding           []float32 `json:"-" yaml:"-"`
}

// TotalTime is prep plus cook time in minutes.
func (m Meal) TotalTime() int { return m.PrepTime + m.CookTime }

// Exercise is a single movement inside a workout. Durations are in seconds.
type Exercise struct {
	Name         string `json:"name" yaml:"name"`
	Sets         int    `json:"sets,omitempty" yaml:"sets"`
	Reps         int    `json:"reps,omitempty" yaml:"reps"`
	Duration     int    `json:"duration,omitempty" yaml:"duration"`
	Rest         int    `json:"rest,omitempty" yaml:"rest"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions"`
}

// Workout is a routine document in the workouts index.
type Workout struct {
	ID             string      `json:"id" yaml:"id"`
	Title          string      `json:"title" yaml:"title"`
	Description    string      `json:"description" yaml:"description"`
	Type           WorkoutType `json:"type" yaml:"type"`
	Tags           []string    `json:"tags" yaml:"tags"`
	Difficulty     Difficulty  `json:"difficulty" yaml:"difficulty"`
	Duration       int         `json:"duration" yaml:"duration"`
	Equipment      []string    `json:"equipment" yaml:"equipment"`
	TargetMuscles  []string    `json:"targetMuscles" yaml:"targetMuscles"`
	Exercises      []Exercise  `json:"exercises" yaml:"exercises"`
	CaloriesBurned int         `json:"caloriesBurned" yaml:"caloriesBurned"`
	Embedding      []float32   `json:"-" yaml:"-"`
}

// CacheEntry is a previously generated chat answer stored for semantic reuse.
type CacheEntry struct {
	Key              string    `json:"-"`
	InputText        string    `json:"inputText"`
	Response         string    `json:"response"`
	UserID           string    `json:"userId"`
	Timestamp        int64     `json:"timestamp"`
	HasHealthContext bool      `json:"hasHealthContext"`
	ContextVersion   int       `json:"ctx_version"`
	Embedding        []float32 `json:"-"`
}

// CalorieRange bounds meal calories. Zero values fall back to defaults.
type CalorieRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Filters are the user-supplied recommendation criteria. Every field is optional.
type Filters struct {
	Type           string        `json:"type,omitempty"` // "meal", "workout" or "" for both
	MealType       MealType      `json:"mealType,omitempty"`
	WorkoutType    WorkoutType   `json:"workoutType,omitempty"`
	DietPreference []string      `json:"dietPreference,omitempty"`
	TimeAvailable  int           `json:"timeAvailable,omitempty"`
	Difficulty     Difficulty    `json:"difficulty,omitempty"`
	Equipment      []string      `json:"equipment,omitempty"`
	CalorieRange   *CalorieRange `json:"calorieRange,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	Limit          int           `json:"limit,omitempty"`
}

// WantsMeals reports whether meals should be searched.
func (f Filters) WantsMeals() bool { return f.Type == "" || f.Type == "meal" }

// WantsWorkouts reports whether workouts should be searched.
func (f Filters) WantsWorkouts() bool { return f.Type == "" || f.Type == "workout" }

// Metric names tracked by the health store.
const (
	MetricSleep = "sleep"
	MetricSteps = "steps"
	MetricWater = "water"
	MetricMood  = "mood"
)

// AllMetrics lists every tracked metric in display order.
var AllMetrics = []string{MetricSleep, MetricSteps, MetricWater, MetricMood}

// Priority ranks a goal.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Goal is a daily target for one metric.
type Goal struct {
	Target   float64  `json:"target"`
	Priority Priority `json:"priority"`
}

// PersonalInfo holds optional demographic data.
type PersonalInfo struct {
	Weight float64 `json:"weight,omitempty"`
	Height float64 `json:"height,omitempty"`
	Age    int     `json:"age,omitempty"`
	Gender string  `json:"gender,omitempty"`
}

// ProfileDetails is the user's self-declared fitness profile.
type ProfileDetails struct {
	Goal          string        `json:"goal,omitempty"` // weight_loss, muscle_gain, endurance, ...
	Diet          string        `json:"diet,omitempty"`
	ActivityLevel string        `json:"activityLevel,omitempty"`
	PersonalInfo  *PersonalInfo `json:"personalInfo,omitempty"`
}

// Preferences are the user's app preferences.
type Preferences struct {
	Units         string   `json:"units,omitempty"`
	ReminderTimes []string `json:"reminderTimes,omitempty"`
}

// Profile is the read-only user health profile. Goals is keyed by metric
// name; it may also carry fitness goal keys such as "weight_loss".
type Profile struct {
	UserID           string          `json:"userId"`
	Goals            map[string]Goal `json:"goals,omitempty"`
	Preferences      Preferences     `json:"preferences"`
	Details          *ProfileDetails `json:"profile,omitempty"`
	HealthConditions []string        `json:"healthConditions,omitempty"`
	LastUpdated      time.Time       `json:"lastUpdated"`
}

// FitnessGoals returns every fitness goal the profile declares, from both the
// goal map keys and the profile details.
func (p *Profile) FitnessGoals() map[string]bool {
	out := map[string]bool{}
	if p == nil {
		return out
	}
	for k := range p.Goals {
		out[k] = true
	}
	if p.Details != nil && p.Details.Goal != "" {
		out[p.Details.Goal] = true
	}
	return out
}

// HealthEntry is one logged set of daily metrics.
type HealthEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Steps     int       `json:"steps"`
	Sleep     float64   `json:"sleep"`
	Water     *float64  `json:"water,omitempty"`
	Mood      string    `json:"mood"`
}

// MetricPoint is a numeric sample of one metric.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MoodPoint is a categorical mood sample.
type MoodPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Mood      string    `json:"mood"`
}

// Trend compares this week's average to last week's.
type Trend struct {
	Metric     string  `json:"metric"`
	Direction  string  `json:"direction"` // up, down, stable
	Percentage float64 `json:"percentage"`
	Period     string  `json:"period"`
}

// GoalProgress is the day's standing against one goal.
type GoalProgress struct {
	Metric   string   `json:"metric"`
	Target   float64  `json:"target"`
	Current  float64  `json:"current"`
	Progress float64  `json:"progress"`
	Priority Priority `json:"priority,omitempty"`
	Date     string   `json:"date,omitempty"`
}

// InsightType classifies generated insights.
type InsightType string

const (
	InsightAchievement InsightType = "achievement"
	InsightWarning     InsightType = "warning"
	InsightSuggestion  InsightType = "suggestion"
	InsightMilestone   InsightType = "milestone"
)

// Insight is a rule-generated observation about the user's metrics. Metric
// is empty for cross-metric observations.
type Insight struct {
	ID        string      `json:"id"`
	Type      InsightType `json:"type"`
	Message   string      `json:"message"`
	Metric    string      `json:"metric,omitempty"`
	Priority  Priority    `json:"importance"`
	CreatedAt time.Time   `json:"timestamp"`
}

// Analysis is the keyword classification of a chat query.
type Analysis struct {
	Timeframe string   `json:"timeframe"`
	Metrics   []string `json:"metrics"`
	Intent    string   `json:"intent"`
}

// RecentData holds the windowed series per metric.
type RecentData struct {
	Sleep []MetricPoint `json:"sleep"`
	Steps []MetricPoint `json:"steps"`
	Water []MetricPoint `json:"water"`
	Mood  []MoodPoint   `json:"mood"`
}

// Numeric returns the numeric series for a metric, or nil for mood and unknown metrics.
func (d RecentData) Numeric(metric string) []MetricPoint {
	switch metric {
	case MetricSleep:
		return d.Sleep
	case MetricSteps:
		return d.Steps
	case MetricWater:
		return d.Water
	}
	return nil
}

// HealthContext is the aggregated snapshot rendered into chat prompts.
type HealthContext struct {
	UserID      string         `json:"userId"`
	Analysis    Analysis       `json:"analysis"`
	RecentData  RecentData     `json:"recentData"`
	Trends      []Trend        `json:"trends"`
	Goals       []GoalProgress `json:"goals"`
	Insights    []Insight      `json:"insights"`
	GeneratedAt time.Time      `json:"generatedAt"`
}
