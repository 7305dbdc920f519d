package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/wellness-mvp/engine/bootstrap"
	"github.com/WessleyAI/wellness-mvp/engine/cache"
	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/engine/health"
	"github.com/WessleyAI/wellness-mvp/engine/healthstore"
	"github.com/WessleyAI/wellness-mvp/engine/llm"
	"github.com/WessleyAI/wellness-mvp/engine/recommend"
	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
	"github.com/WessleyAI/wellness-mvp/pkg/mid"
	"github.com/WessleyAI/wellness-mvp/pkg/resilience"
)

const duplicateEntryMessage = "Data for this date already exists. Please edit or delete it first."

type answerer interface {
	Answer(ctx context.Context, req cache.Request, generate cache.Generator, onChunk func(string) error) (cache.Answer, error)
}

type recommender interface {
	Recommend(ctx context.Context, userID string, filters domain.Filters, limit int) ([]recommend.Recommendation, error)
}

type contextSource interface {
	Context(ctx context.Context, userID, query string) (domain.HealthContext, error)
	Trends(ctx context.Context, userID string, metricNames []string) ([]domain.Trend, error)
	Invalidate(userID string)
}

type insightProcessor interface {
	Process(ctx context.Context, userID string, entry domain.HealthEntry) error
}

type readiness interface {
	EnsureIndicesReady(ctx context.Context) error
}

// check is a named dependency probe for GET /api/health.
type check struct {
	name  string
	probe func(ctx context.Context) error
}

type server struct {
	cache    answerer
	recs     recommender
	health   contextSource
	store    healthstore.Store
	llm      llm.Generator
	jobs     health.Dispatcher
	insights insightProcessor
	indices  readiness
	seed     func(ctx context.Context) (recommend.SeedReport, error)
	checks   []check
	logger   *slog.Logger
	now      func() time.Time
}

// routes mounts every endpoint. User routes are authenticated, rate limited
// and measured under their pattern.
func (s *server) routes(sessions mid.SessionResolver, limiter *resilience.KeyedLimiter, reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	user := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, mid.Chain(h, mid.Metrics(reg, pattern), mid.Auth(sessions), mid.RateLimit(limiter)))
	}
	mux.Handle("GET /api/health", mid.Chain(http.HandlerFunc(s.handleHealth), mid.Metrics(reg, "GET /api/health")))
	mux.Handle("GET /metrics", reg.Handler())

	user("POST /api/chat", s.handleChat)
	user("GET /api/recommend", s.handleRecommend)
	user("POST /api/recommend", s.handleSeed)
	user("POST /api/ingest", s.handleIngest)
	user("GET /api/metrics", s.handleMetrics)
	user("GET /api/health/insights", s.handleInsights)
	user("GET /api/health/profile", s.handleGetProfile)
	user("PUT /api/health/profile", s.handlePutProfile)
	return mux
}

// --- Responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// fail maps err onto a status. Details of internal failures are logged only.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Wrapped.Error(), Field: ve.Field})
	case errors.Is(err, domain.ErrDuplicateEntry):
		writeJSON(w, http.StatusConflict, errorBody{Error: duplicateEntryMessage})
	case errors.Is(err, bootstrap.ErrNotReady):
		s.logger.Error("indices unavailable", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Search index unavailable"})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func userOf(r *http.Request) string {
	id, _ := mid.UserID(r.Context())
	return id
}

// --- Health ---

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{"api": "running"}
	status, code := "healthy", http.StatusOK
	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := c.probe(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", "service", c.name, "err", err)
			services[c.name] = "disconnected"
			status, code = "unhealthy", http.StatusServiceUnavailable
			continue
		}
		services[c.name] = "connected"
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"services":  services,
		"timestamp": s.now().UTC(),
	})
}

// --- Chat ---

type chatPart struct {
	Text string `json:"text"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content string     `json:"content"`
	Parts   []chatPart `json:"parts,omitempty"`
}

func (m chatMessage) text() string {
	if len(m.Parts) > 0 && m.Parts[0].Text != "" {
		return m.Parts[0].Text
	}
	return m.Content
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

// history keeps user and assistant turns for the model.
func (c chatRequest) history() []llm.Message {
	out := make([]llm.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.text()})
	}
	return out
}

// handleChat streams the answer as server-sent events: one "data:" line per
// JSON-encoded chunk, then "data: [DONE]".
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userOf(r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		s.fail(w, r, domain.NewValidationError("messages", "", domain.ErrInvalidQuery))
		return
	}
	query, err := domain.NormalizeQuery(req.Messages[len(req.Messages)-1].text())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.indices.EnsureIndicesReady(ctx); err != nil {
		s.fail(w, r, err)
		return
	}

	var contextText string
	if hc, err := s.health.Context(ctx, userID, query); err != nil {
		s.logger.Warn("health context unavailable", "user", userID, "err", err)
	} else {
		contextText = health.Format(hc, s.now())
	}

	rc := http.NewResponseController(w)
	var started, generated bool
	begin := func(source cache.Source) {
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Response-Source", string(source))
		h.Set("X-Health-Context", strconv.FormatBool(contextText != ""))
		w.WriteHeader(http.StatusOK)
		started = true
	}
	onChunk := func(chunk string) error {
		if !started {
			source := cache.SourceCache
			if generated {
				source = cache.SourceGenerated
			}
			begin(source)
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}
	generate := func(ctx context.Context, onChunk func(string) error) (string, error) {
		generated = true
		return s.llm.Stream(ctx, llm.CoachPrompt(contextText), req.history(), onChunk)
	}

	ans, err := s.cache.Answer(ctx, cache.Request{UserID: userID, Query: query, ContextText: contextText}, generate, onChunk)
	switch {
	case err != nil && ctx.Err() != nil:
		s.logger.Info("chat aborted by client", "user", userID, "status", 499)
		return
	case err != nil && !started:
		s.fail(w, r, err)
		return
	case err != nil:
		s.logger.Error("chat stream failed", "user", userID, "err", err)
		fmt.Fprint(w, "event: error\ndata: \"stream interrupted\"\n\n")
		_ = rc.Flush()
		return
	}
	if !started {
		begin(ans.Source)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	_ = rc.Flush()
}

// --- Recommendations ---

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func intParam(q map[string][]string, key string) (int, bool, error) {
	vals := q[key]
	if len(vals) == 0 || vals[0] == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil {
		return 0, false, domain.NewValidationError(key, vals[0], domain.ErrInvalidFilter)
	}
	return n, true, nil
}

// parseFilters reads recommendation filters from query parameters; list
// parameters are comma separated.
func parseFilters(r *http.Request) (domain.Filters, error) {
	q := r.URL.Query()
	f := domain.Filters{
		Type:           q.Get("type"),
		MealType:       domain.MealType(q.Get("mealType")),
		WorkoutType:    domain.WorkoutType(q.Get("workoutType")),
		Difficulty:     domain.Difficulty(q.Get("difficulty")),
		DietPreference: splitList(q.Get("dietPreference")),
		Equipment:      splitList(q.Get("equipment")),
		Tags:           splitList(q.Get("tags")),
	}
	var err error
	if f.TimeAvailable, _, err = intParam(q, "timeAvailable"); err != nil {
		return f, err
	}
	if f.Limit, _, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	lo, hasLo, err := intParam(q, "calorieMin")
	if err != nil {
		return f, err
	}
	hi, hasHi, err := intParam(q, "calorieMax")
	if err != nil {
		return f, err
	}
	if hasLo || hasHi {
		f.CalorieRange = &domain.CalorieRange{Min: domain.DefaultMinCalories, Max: domain.DefaultMaxCalories}
		if hasLo {
			f.CalorieRange.Min = lo
		}
		if hasHi {
			f.CalorieRange.Max = hi
		}
	}
	return domain.ValidateFilters(f)
}

func (s *server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.indices.EnsureIndicesReady(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.recs.Recommend(r.Context(), userOf(r), filters, filters.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []recommend.Recommendation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    recs,
		"filters": filters,
		"count":   len(recs),
	})
}

func (s *server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action != "seed" {
		badRequest(w, "Invalid action")
		return
	}
	if err := s.indices.EnsureIndicesReady(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.seed(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Sample data seeded successfully",
		"meals":    report.Meals,
		"workouts": report.Workouts,
	})
}

// --- Health data ---

type ingestRequest struct {
	Steps     int      `json:"steps"`
	Sleep     float64  `json:"sleep"`
	Mood      string   `json:"mood"`
	Water     *float64 `json:"water,omitempty"`
	Timestamp int64    `json:"timestamp"` // unix millis
}

func (req ingestRequest) entry() domain.HealthEntry {
	e := domain.HealthEntry{Steps: req.Steps, Sleep: req.Sleep, Mood: req.Mood}
	if req.Timestamp > 0 {
		e.Timestamp = time.UnixMilli(req.Timestamp).UTC()
	}
	// Zero water counts as not logged.
	if req.Water != nil && *req.Water != 0 {
		e.Water = req.Water
	}
	return e
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	userID := userOf(r)
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	entry := req.entry()
	if err := domain.ValidateHealthEntry(entry); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.AppendEntry(r.Context(), userID, entry); err != nil {
		s.fail(w, r, err)
		return
	}
	s.health.Invalidate(userID)
	if err := s.jobs.Dispatch(r.Context(), health.Job{UserID: userID, Entry: entry}); err != nil {
		s.logger.Error("insight dispatch failed", "user", userID, "err", err)
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Successfully Added the data."})
}

type datedValue struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// handleMetrics returns the last seven days of sleep and steps for charts.
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	entries, err := s.store.Entries(r.Context(), userOf(r), now.AddDate(0, 0, -6), now, 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sleep := make([]datedValue, 0, len(entries))
	steps := make([]datedValue, 0, len(entries))
	for _, e := range entries {
		date := e.Timestamp.UTC().Format("01-02")
		sleep = append(sleep, datedValue{Date: date, Value: e.Sleep})
		steps = append(steps, datedValue{Date: date, Value: float64(e.Steps)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sleepData": sleep, "stepsData": steps})
}

func (s *server) handleInsights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userOf(r)
	now := s.now()

	insights, err := s.store.Insights(ctx, userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(insights) == 0 {
		insights = s.generateInsights(ctx, userID, now)
	}

	progress, err := s.store.GoalProgress(ctx, userID, now.UTC().Format("2006-01-02"))
	if err != nil {
		s.logger.Warn("goal progress unavailable", "user", userID, "err", err)
	}
	trends, err := s.health.Trends(ctx, userID, []string{domain.MetricSleep, domain.MetricSteps, domain.MetricWater})
	if err != nil {
		s.logger.Warn("trends unavailable", "user", userID, "err", err)
	}

	if insights == nil {
		insights = []domain.Insight{}
	}
	if progress == nil {
		progress = []domain.GoalProgress{}
	}
	if trends == nil {
		trends = []domain.Trend{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"insights":     insights,
		"trends":       trends,
		"goalProgress": progress,
		"lastUpdated":  now.UTC(),
	})
}

// generateInsights processes the latest entry on demand and re-reads the
// stored insights. Failures leave the list empty.
func (s *server) generateInsights(ctx context.Context, userID string, now time.Time) []domain.Insight {
	latest, err := s.store.Entries(ctx, userID, time.Time{}, now, 1)
	if err != nil || len(latest) == 0 {
		if err != nil {
			s.logger.Warn("latest entry unavailable", "user", userID, "err", err)
		}
		return nil
	}
	if err := s.insights.Process(ctx, userID, latest[0]); err != nil {
		s.logger.Warn("on-demand insights failed", "user", userID, "err", err)
		return nil
	}
	insights, err := s.store.Insights(ctx, userID)
	if err != nil {
		s.logger.Warn("insights unavailable", "user", userID, "err", err)
		return nil
	}
	s.logger.Info("generated insights on demand", "user", userID, "count", len(insights))
	return insights
}

func defaultProfile(userID string, now time.Time) domain.Profile {
	goals := make(map[string]domain.Goal, len(health.DefaultGoals))
	for k, g := range health.DefaultGoals {
		goals[k] = g
	}
	return domain.Profile{
		UserID:      userID,
		Goals:       goals,
		Preferences: domain.Preferences{Units: "metric", ReminderTimes: []string{"09:00", "15:00", "21:00"}},
		LastUpdated: now.UTC(),
	}
}

// profileOrDefault loads the profile; a user without one gets the default,
// which is stored.
func (s *server) profileOrDefault(ctx context.Context, userID string) (domain.Profile, error) {
	p, err := s.store.Profile(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	if p != nil {
		return *p, nil
	}
	def := defaultProfile(userID, s.now())
	if err := s.store.SaveProfile(ctx, def); err != nil {
		return domain.Profile{}, err
	}
	return def, nil
}

func (s *server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profileOrDefault(r.Context(), userOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type profileUpdate struct {
	Goals            map[string]domain.Goal `json:"goals"`
	Preferences      *domain.Preferences    `json:"preferences"`
	HealthConditions []string               `json:"healthConditions"`
}

var goalMetrics = map[string]bool{domain.MetricSleep: true, domain.MetricSteps: true, domain.MetricWater: true}

func (u profileUpdate) validate() error {
	for metric, g := range u.Goals {
		switch {
		case !goalMetrics[metric]:
			return domain.NewValidationError("goals", metric, domain.ErrInvalidProfile)
		case g.Target <= 0:
			return domain.NewValidationError("goals."+metric+".target", strconv.FormatFloat(g.Target, 'f', -1, 64), domain.ErrInvalidProfile)
		case g.Priority != domain.PriorityHigh && g.Priority != domain.PriorityMedium && g.Priority != domain.PriorityLow:
			return domain.NewValidationError("goals."+metric+".priority", string(g.Priority), domain.ErrInvalidProfile)
		}
	}
	return nil
}

// handlePutProfile merges goals, preferences and health conditions into the
// stored profile.
func (s *server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userOf(r)
	var u profileUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := u.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.profileOrDefault(ctx, userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(u.Goals) > 0 && p.Goals == nil {
		p.Goals = map[string]domain.Goal{}
	}
	for metric, g := range u.Goals {
		p.Goals[metric] = g
	}
	if u.Preferences != nil {
		if u.Preferences.Units != "" {
			p.Preferences.Units = u.Preferences.Units
		}
		if u.Preferences.ReminderTimes != nil {
			p.Preferences.ReminderTimes = u.Preferences.ReminderTimes
		}
	}
	if u.HealthConditions != nil {
		p.HealthConditions = u.HealthConditions
	}
	p.LastUpdated = s.now().UTC()
	if err := s.store.SaveProfile(ctx, p); err != nil {
		s.fail(w, r, err)
		return
	}
	s.health.Invalidate(userID)
	writeJSON(w, http.StatusOK, p)
}
