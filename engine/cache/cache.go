// Package cache is the semantic LLM-response cache. A query is embedded
// (together with the user's health context when present), matched against
// previously generated answers by cosine distance, and served verbatim on a
// close enough match. Misses are generated and recorded after the answer
// completes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/engine/semantic"
	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
)

// Index is the chat cache index name; keys are "chat:{userId}:{unixMillis}".
const (
	Index     = "chat_cache"
	KeyPrefix = "chat:"
)

// Source tags where an answer came from.
type Source string

const (
	SourceCache     Source = "cache"
	SourceGenerated Source = "generated"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces an answer, streaming chunks to onChunk, and returns
// the full text once generation has completed.
type Generator func(ctx context.Context, onChunk func(string) error) (string, error)

// Options configures matching.
type Options struct {
	K                int
	Threshold        semantic.Distance // queries without health context
	ContextThreshold semantic.Distance // queries with health context
	// ContextVersion is stamped on every entry. Entries recorded with health
	// context under another version never match.
	ContextVersion int
}

// DefaultOptions returns the production thresholds.
func DefaultOptions() Options {
	return Options{
		K:                3,
		Threshold:        0.10,
		ContextThreshold: 0.08,
		ContextVersion:   1,
	}
}

// Spec returns the index definition for the cache.
func Spec(dims int) semantic.IndexSpec {
	return semantic.IndexSpec{
		Name:       Index,
		KeyPrefix:  KeyPrefix,
		Dimensions: dims,
		Fields: map[string]semantic.FieldType{
			"response":         semantic.FieldText,
			"inputText":        semantic.FieldText,
			"userId":           semantic.FieldTag,
			"timestamp":        semantic.FieldNumeric,
			"hasHealthContext": semantic.FieldTag,
			"embedding":        semantic.FieldVector,
		},
	}
}

// Service implements the cache state machine.
type Service struct {
	index    semantic.Index
	embedder Embedder
	opts     Options
	metrics  *metrics.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a cache Service.
func New(index semantic.Index, embedder Embedder, opts Options, m *metrics.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		index:    index,
		embedder: embedder,
		opts:     opts,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Result is the outcome of a lookup.
type Result struct {
	Hit      bool
	Response string
	Key      string
	Distance semantic.Distance
	// Query is the normalized query text.
	Query string
	// Vector is the embedding of the lookup text, reused when recording a miss.
	Vector []float32
}

// Lookup embeds the query (plus context) and reports whether a cached answer
// is within the distance threshold. A missing index is a miss.
func (s *Service) Lookup(ctx context.Context, userID, query, contextText string) (Result, error) {
	ctx, span := otel.Tracer("engine/cache").Start(ctx, "cache.lookup")
	defer span.End()

	query, err := domain.NormalizeQuery(query)
	if err != nil {
		return Result{}, err
	}
	hasContext := contextText != ""

	// 1. Embed query, with context appended when present.
	embedText := query
	if hasContext {
		embedText = query + "\n" + contextText
	}
	vec, err := s.embed(ctx, embedText)
	if err != nil {
		return Result{}, err
	}

	// 2. KNN over every user's entries.
	hits, err := s.index.Search(ctx, semantic.Query{
		Index:        Index,
		Filter:       "*",
		Vector:       vec,
		K:            s.opts.K,
		ReturnFields: []string{"response", "inputText", "hasHealthContext", "ctx_version"},
	})
	if errors.Is(err, domain.ErrIndexNotFound) {
		s.logger.Warn("cache index missing, treating as miss", "index", Index)
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return Result{Query: query, Vector: vec}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("cache: search: %w", err)
	}

	// 3. Compare the best eligible hit against the threshold.
	threshold := s.opts.Threshold
	if hasContext {
		threshold = s.opts.ContextThreshold
	}
	res := Result{Query: query, Vector: vec}
	for _, h := range hits {
		entry, err := domain.DecodeCacheEntry(h.Key, h.Fields)
		if err != nil {
			s.logger.Warn("skipping malformed cache entry", "key", h.Key, "err", err)
			continue
		}
		if entry.HasHealthContext && entry.ContextVersion != s.opts.ContextVersion {
			continue
		}
		s.metrics.CacheDistance.Observe(float64(h.Distance))
		res.Distance = h.Distance
		if h.Distance <= threshold {
			res.Hit = true
			res.Response = entry.Response
			res.Key = h.Key
		}
		break
	}

	result := "miss"
	if res.Hit {
		result = "hit"
	}
	s.metrics.CacheLookups.WithLabelValues(result).Inc()
	span.SetAttributes(
		attribute.Bool("cache.hit", res.Hit),
		attribute.Bool("cache.has_context", hasContext),
		attribute.Float64("cache.distance", float64(res.Distance)),
	)
	return res, nil
}

// Record stores a completed answer. The vector is computed from queryText;
// callers that already embedded the lookup text should use Answer instead.
func (s *Service) Record(ctx context.Context, userID, queryText, response string, hasContext bool) error {
	query, err := domain.NormalizeQuery(queryText)
	if err != nil {
		return err
	}
	vec, err := s.embed(ctx, query)
	if err != nil {
		return err
	}
	return s.record(ctx, userID, query, response, hasContext, vec)
}

func (s *Service) record(ctx context.Context, userID, query, response string, hasContext bool, vec []float32) error {
	ts := s.now().UnixMilli()
	key := fmt.Sprintf("%s%s:%d", KeyPrefix, userID, ts)
	entry := domain.CacheEntry{
		InputText:        strings.ToLower(strings.TrimSpace(query)),
		Response:         response,
		UserID:           userID,
		Timestamp:        ts,
		HasHealthContext: hasContext,
		ContextVersion:   s.opts.ContextVersion,
	}
	if err := s.index.Upsert(ctx, Index, key, semantic.Document{Fields: domain.CacheEntryFields(entry), Vector: vec}); err != nil {
		return fmt.Errorf("cache: record %s: %w", key, err)
	}
	return nil
}

// Request is one chat turn to answer.
type Request struct {
	UserID      string
	Query       string
	ContextText string
}

// Answer is the served reply.
type Answer struct {
	Text     string
	Source   Source
	Distance semantic.Distance
}

// Answer runs the full flow: lookup, then on a miss generate and record.
// Cached answers are delivered to onChunk as a single chunk. Nothing is
// recorded when generation fails or the request is cancelled, and a failed
// record after a successful generation is logged, not returned.
func (s *Service) Answer(ctx context.Context, req Request, generate Generator, onChunk func(string) error) (Answer, error) {
	res, err := s.Lookup(ctx, req.UserID, req.Query, req.ContextText)
	if err != nil {
		return Answer{}, err
	}
	if res.Hit {
		s.logger.Info("cache hit", "user", req.UserID, "key", res.Key, "distance", float64(res.Distance))
		if err := onChunk(res.Response); err != nil {
			return Answer{}, fmt.Errorf("cache: deliver cached answer: %w", err)
		}
		return Answer{Text: res.Response, Source: SourceCache, Distance: res.Distance}, nil
	}

	text, err := generate(ctx, onChunk)
	if err != nil {
		return Answer{}, fmt.Errorf("cache: generate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Answer{}, fmt.Errorf("cache: generate: %w", err)
	}

	if text == "" {
		s.logger.Warn("empty answer not cached", "user", req.UserID)
		return Answer{Source: SourceGenerated, Distance: res.Distance}, nil
	}

	// Detached from the request so the write itself is not cut short once it
	// has started.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.record(wctx, req.UserID, res.Query, text, req.ContextText != "", res.Vector); err != nil {
		s.metrics.CacheWriteFailures.Inc()
		s.logger.Error("cache write failed", "user", req.UserID, "err", err)
	}
	return Answer{Text: text, Source: SourceGenerated, Distance: res.Distance}, nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := s.embedder.Embed(ctx, text)
	metrics.ObserveSince(s.metrics.EmbedDuration.WithLabelValues("cache"), start)
	if err != nil {
		if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
		}
		return nil, fmt.Errorf("cache: embed: %w", err)
	}
	return vec, nil
}
