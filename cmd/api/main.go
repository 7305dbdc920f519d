// Package main implements the wellness coach API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/wellness-mvp/engine/bootstrap"
	"github.com/WessleyAI/wellness-mvp/engine/cache"
	"github.com/WessleyAI/wellness-mvp/engine/health"
	"github.com/WessleyAI/wellness-mvp/engine/healthstore"
	"github.com/WessleyAI/wellness-mvp/engine/llm"
	"github.com/WessleyAI/wellness-mvp/engine/recommend"
	"github.com/WessleyAI/wellness-mvp/engine/semantic"
	"github.com/WessleyAI/wellness-mvp/pkg/embed"
	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
	"github.com/WessleyAI/wellness-mvp/pkg/mid"
	"github.com/WessleyAI/wellness-mvp/pkg/resilience"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// backends are the process-wide store handles.
type backends struct {
	index   semantic.Index
	store   healthstore.Store
	checks  []check
	closers []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	if cfg.StoreBackend == "memory" {
		logger.Warn("using in-memory stores; data is lost on exit")
		b.index = semantic.NewMemoryStore()
		b.store = healthstore.NewMemoryStore()
		return b, nil
	}

	vs, err := semantic.New(cfg.QdrantURL)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	b.closers = append(b.closers, func() { _ = vs.Close() })
	b.index = vs

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		b.close()
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	b.closers = append(b.closers, func() { _ = driver.Close(context.Background()) })
	if err := driver.VerifyConnectivity(ctx); err != nil {
		b.close()
		return nil, fmt.Errorf("neo4j connect: %w", err)
	}
	store := healthstore.NewNeo4jStore(driver, cfg.Neo4jDatabase, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		b.close()
		return nil, fmt.Errorf("neo4j schema: %w", err)
	}
	b.store = store
	b.checks = append(b.checks, check{name: "neo4j", probe: driver.VerifyConnectivity})
	return b, nil
}

func newEmbedder(cfg Config, logger *slog.Logger) embed.Embedder {
	var e embed.Embedder
	switch cfg.EmbedBackend {
	case "ollama":
		model := cfg.EmbedModel
		if model == "" {
			model = "nomic-embed-text"
		}
		e = embed.NewOllama(cfg.OllamaURL, model, cfg.EmbedDims)
	default:
		e = embed.NewOpenAI(embed.OpenAIConfig{
			APIKey:     cfg.OpenAIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.EmbedModel,
			Dimensions: cfg.EmbedDims,
		})
	}
	opts := resilience.DefaultBreakerOpts
	opts.OnStateChange = func(from, to resilience.State) {
		logger.Warn("embedding breaker state changed", "from", from.String(), "to", to.String())
	}
	return embed.WithBreaker(e, resilience.NewBreaker(opts))
}

// newDispatcher publishes insight jobs over NATS when configured, and runs
// them in-process otherwise.
func newDispatcher(cfg Config, proc *health.Processor, logger *slog.Logger) (health.Dispatcher, *check, func(), error) {
	if cfg.NATSURL == "" {
		return health.NewAsyncDispatcher(proc, cfg.InsightTimeout, logger), nil, func() {}, nil
	}
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("wellness-api"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	probe := &check{name: "nats", probe: func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats: %s", nc.Status())
		}
		return nil
	}}
	return health.NewNATSDispatcher(nc), probe, nc.Close, nil
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	embedder := newEmbedder(cfg, logger)
	boot := bootstrap.New(b.index, embedder.Dimensions(), logger)
	if err := boot.EnsureIndicesReady(ctx); err != nil {
		// Requests retry the bootstrap; the server still starts.
		logger.Warn("indices not ready at startup", "err", err)
	}

	opts := cache.DefaultOptions()
	opts.Threshold = semantic.Distance(cfg.CacheThreshold)
	opts.ContextThreshold = semantic.Distance(cfg.CacheContextThreshold)
	opts.ContextVersion = health.ContextFormatVersion

	proc := health.NewProcessor(b.store, reg, logger)
	jobs, natsCheck, closeNATS, err := newDispatcher(cfg, proc, logger)
	if err != nil {
		return err
	}
	defer closeNATS()

	checks := append([]check{{name: "indices", probe: boot.EnsureIndicesReady}}, b.checks...)
	if natsCheck != nil {
		checks = append(checks, *natsCheck)
	}

	s := &server{
		cache:    cache.New(b.index, embedder, opts, reg, logger),
		recs:     recommend.New(b.index, embedder, b.store, reg, logger),
		health:   health.NewAggregator(b.store, health.DefaultMemoTTL, reg, logger),
		store:    b.store,
		llm:      llm.NewOpenAI(llm.Config{APIKey: cfg.OpenAIKey, BaseURL: cfg.OpenAIBaseURL, Model: cfg.ChatModel}),
		jobs:     jobs,
		insights: proc,
		indices:  boot,
		seed: func(ctx context.Context) (recommend.SeedReport, error) {
			return recommend.Seed(ctx, b.index, embedder, recommend.DefaultCorpus(), recommend.DefaultSeedOptions(), logger)
		},
		checks: checks,
		logger: logger,
		now:    time.Now,
	}

	sessions := mid.NewJWTSessions([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	limiter := resilience.NewKeyedLimiter(resilience.LimiterOpts{Rate: cfg.RateLimit, Burst: cfg.RateBurst}, 10*time.Minute)

	handler := mid.Chain(s.routes(sessions, limiter, reg),
		mid.Recover(logger),
		mid.OTel("wellness-api"),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "store", cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutCtx)
	if cerr := jobs.Close(); cerr != nil {
		logger.Error("insight dispatcher close", "err", cerr)
	}
	return err
}
