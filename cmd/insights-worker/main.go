// Command insights-worker consumes logged health entries from NATS and stores
// the insights and goal progress generated for them in Neo4j.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/wellness-mvp/engine/health"
	"github.com/WessleyAI/wellness-mvp/engine/healthstore"
	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	var (
		natsURL     = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
		neo4jURL    = flag.String("neo4j", envOr("NEO4J_URL", "neo4j://localhost:7687"), "Neo4j bolt URL")
		neo4jUser   = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", envOr("NEO4J_PASS", "password"), "Neo4j password")
		neo4jDB     = flag.String("neo4j-db", envOr("NEO4J_DATABASE", "neo4j"), "Neo4j database")
		maxAttempts = flag.Int("max-attempts", 3, "deliveries before a job is dead-lettered")
		metricsPort = flag.Int("metrics-port", 9091, "Prometheus metrics port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	reg.ServeAsync(*metricsPort)

	driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
	if err != nil {
		logger.Error("neo4j connect failed", "err", err)
		os.Exit(1)
	}
	defer driver.Close(context.Background())
	if err := driver.VerifyConnectivity(ctx); err != nil {
		logger.Error("neo4j verify failed", "err", err)
		os.Exit(1)
	}
	store := healthstore.NewNeo4jStore(driver, *neo4jDB, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("neo4j schema failed", "err", err)
		os.Exit(1)
	}

	closed := make(chan struct{})
	nc, err := nats.Connect(*natsURL,
		nats.Name("wellness-insights-worker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) { logger.Info("nats reconnected", "url", c.ConnectedUrl()) }),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	)
	if err != nil {
		logger.Error("nats connect failed", "err", err)
		os.Exit(1)
	}
	defer nc.Close()

	proc := health.NewProcessor(store, reg, logger)
	if _, err := health.Consume(nc, proc, *maxAttempts, logger); err != nil {
		logger.Error("subscribe failed", "subject", health.SubjectEntries, "err", err)
		os.Exit(1)
	}
	logger.Info("insights worker running", "subject", health.SubjectEntries, "queue", health.QueueWorkers, "max_attempts", *maxAttempts)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	// Drain lets in-flight jobs finish before the connection closes.
	if err := nc.Drain(); err != nil {
		logger.Error("drain connection", "err", err)
		return
	}
	select {
	case <-closed:
	case <-time.After(30 * time.Second):
		logger.Warn("drain timed out")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
