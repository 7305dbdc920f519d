package recommend

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/engine/semantic"
	"github.com/WessleyAI/wellness-mvp/pkg/fn"
	"github.com/WessleyAI/wellness-mvp/pkg/resilience"
)

//go:embed corpus.yaml
var defaultCorpus []byte

// Corpus is the set of meals and workouts seeded into the indices.
type Corpus struct {
	Meals    []domain.Meal    `yaml:"meals"`
	Workouts []domain.Workout `yaml:"workouts"`
}

// LoadCorpus decodes a YAML corpus.
func LoadCorpus(r io.Reader) (Corpus, error) {
	var c Corpus
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Corpus{}, fmt.Errorf("recommend: decode corpus: %w", err)
	}
	for i := range c.Meals {
		domain.NormalizeTags(&c.Meals[i])
	}
	for i := range c.Workouts {
		domain.NormalizeWorkoutTags(&c.Workouts[i])
	}
	return c, nil
}

// DefaultCorpus returns the built-in sample corpus.
func DefaultCorpus() Corpus {
	c, err := LoadCorpus(bytes.NewReader(defaultCorpus))
	if err != nil {
		panic(err)
	}
	return c
}

// SeedOptions controls corpus seeding.
type SeedOptions struct {
	Workers int
	// EmbedRate caps embedding calls per second; zero is unlimited.
	EmbedRate float64
	Retry     fn.RetryOpts
}

// DefaultSeedOptions returns the seeder defaults.
func DefaultSeedOptions() SeedOptions {
	return SeedOptions{
		Workers:   4,
		EmbedRate: 5,
		Retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
			Retryable:   func(err error) bool { return !errors.Is(err, context.Canceled) },
		},
	}
}

// SeedReport counts upserted documents.
type SeedReport struct {
	Meals    int
	Workouts int
}

type seedDoc struct {
	index string
	key   string
	text  string
	doc   semantic.Document
}

// Seed embeds every corpus item as "title description tags" and upserts it
// under meal:{id} or workout:{id}. Both indices must already exist.
func Seed(ctx context.Context, index semantic.Index, embedder Embedder, corpus Corpus, opts SeedOptions, logger *slog.Logger) (SeedReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	docs := make([]seedDoc, 0, len(corpus.Meals)+len(corpus.Workouts))
	for _, m := range corpus.Meals {
		docs = append(docs, seedDoc{
			index: MealsIndex,
			key:   MealKeyPrefix + m.ID,
			text:  describe(m.Title, m.Description, m.Tags),
			doc:   semantic.Document{Fields: domain.MealFields(m)},
		})
	}
	for _, w := range corpus.Workouts {
		docs = append(docs, seedDoc{
			index: WorkoutsIndex,
			key:   WorkoutKeyPrefix + w.ID,
			text:  describe(w.Title, w.Description, w.Tags),
			doc:   semantic.Document{Fields: domain.WorkoutFields(w)},
		})
	}

	embedStage := fn.Stage[seedDoc, seedDoc](func(ctx context.Context, d seedDoc) fn.Result[seedDoc] {
		vec, err := embedder.Embed(ctx, d.text)
		if err != nil {
			return fn.Err[seedDoc](fmt.Errorf("embed %s: %w", d.key, err))
		}
		d.doc.Vector = vec
		return fn.Ok(d)
	})
	if opts.EmbedRate > 0 {
		embedStage = resilience.LimiterStageWait(resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.EmbedRate, Burst: 1}), embedStage)
	}
	upsertStage := fn.Stage[seedDoc, seedDoc](func(ctx context.Context, d seedDoc) fn.Result[seedDoc] {
		if err := index.Upsert(ctx, d.index, d.key, d.doc); err != nil {
			return fn.Err[seedDoc](fmt.Errorf("upsert %s: %w", d.key, err))
		}
		return fn.Ok(d)
	})
	retry := opts.Retry
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("seed embed retry", "attempt", attempt, "wait", wait.String(), "err", err)
	}
	pipeline := fn.TracedStage("recommend.seed", fn.Then(fn.RetryStage(retry, embedStage), upsertStage))

	results := make([]fn.Result[seedDoc], len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, d := range docs {
		g.Go(func() error {
			results[i] = pipeline(gctx, d)
			_, err := results[i].Unwrap()
			return err
		})
	}
	err := g.Wait()

	var rep SeedReport
	for _, r := range results {
		d, rerr := r.Unwrap()
		if rerr != nil || !r.IsOk() {
			continue
		}
		if d.index == MealsIndex {
			rep.Meals++
		} else {
			rep.Workouts++
		}
	}
	if err != nil {
		return rep, fmt.Errorf("recommend: seed: %w", err)
	}
	logger.Info("corpus seeded", "meals", rep.Meals, "workouts", rep.Workouts)
	return rep, nil
}
