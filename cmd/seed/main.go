// Command seed creates the vector indices and loads the meal and workout
// corpus into them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/WessleyAI/wellness-mvp/engine/bootstrap"
	"github.com/WessleyAI/wellness-mvp/engine/recommend"
	"github.com/WessleyAI/wellness-mvp/engine/semantic"
	"github.com/WessleyAI/wellness-mvp/pkg/embed"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	var (
		qdrantAddr = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		backend    = flag.String("embed", envOr("EMBED_BACKEND", "openai"), "embedding backend: openai or ollama")
		model      = flag.String("model", os.Getenv("EMBED_MODEL"), "embedding model (backend default when empty)")
		dims       = flag.Int("dims", embed.DefaultDimensions, "embedding dimensions")
		ollamaURL  = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		corpusFile = flag.String("corpus", "", "YAML corpus file (built-in sample corpus when empty)")
		workers    = flag.Int("workers", 4, "concurrent embedding workers")
		rate       = flag.Float64("rate", 5, "embedding calls per second, 0 for unlimited")
		timeout    = flag.Duration("timeout", 5*time.Minute, "overall deadline")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	corpus, err := loadCorpus(*corpusFile)
	if err != nil {
		logger.Error("load corpus", "err", err)
		os.Exit(1)
	}

	var embedder embed.Embedder
	switch *backend {
	case "openai":
		embedder = embed.NewOpenAI(embed.OpenAIConfig{
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			BaseURL:    os.Getenv("OPENAI_BASE_URL"),
			Model:      *model,
			Dimensions: *dims,
		})
	case "ollama":
		if *model == "" {
			*model = "nomic-embed-text"
		}
		embedder = embed.NewOllama(*ollamaURL, *model, *dims)
	default:
		logger.Error("unknown embedding backend", "backend", *backend)
		os.Exit(2)
	}

	vs, err := semantic.New(*qdrantAddr)
	if err != nil {
		logger.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer vs.Close()

	if err := bootstrap.New(vs, embedder.Dimensions(), logger).EnsureIndicesReady(ctx); err != nil {
		logger.Error("index bootstrap failed", "err", err)
		os.Exit(1)
	}

	opts := recommend.DefaultSeedOptions()
	opts.Workers = *workers
	opts.EmbedRate = *rate
	start := time.Now()
	report, err := recommend.Seed(ctx, vs, embedder, corpus, opts, logger)
	if err != nil {
		logger.Error("seed failed", "meals", report.Meals, "workouts", report.Workouts, "err", err)
		os.Exit(1)
	}
	logger.Info("seed complete", "meals", report.Meals, "workouts", report.Workouts, "took", time.Since(start).String())
}

func loadCorpus(path string) (recommend.Corpus, error) {
	if path == "" {
		return recommend.DefaultCorpus(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return recommend.Corpus{}, err
	}
	defer f.Close()
	c, err := recommend.LoadCorpus(f)
	if err != nil {
		return recommend.Corpus{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
