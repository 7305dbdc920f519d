package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
	"github.com/WessleyAI/wellness-mvp/pkg/natsutil"
)

// NATS subjects carrying insight jobs.
const (
	SubjectEntries    = "health.entries"
	SubjectDeadLetter = "health.entries.dlq"
	QueueWorkers      = "insights-workers"
)

// historyDays bounds the history insight rules look at.
const historyDays = 30

// InsightStore is the part of the primary datastore insight processing uses.
type InsightStore interface {
	Reader
	SaveInsights(ctx context.Context, userID string, insights []domain.Insight) error
	SaveGoalProgress(ctx context.Context, userID string, progress []domain.GoalProgress) error
}

// Job asks for insights on a newly logged entry.
type Job struct {
	UserID string             `json:"userId"`
	Entry  domain.HealthEntry `json:"entry"`
}

// Processor turns new entries into stored insights and goal progress.
type Processor struct {
	store   InsightStore
	metrics *metrics.Registry
	logger  *slog.Logger
	now     func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(store InsightStore, m *metrics.Registry, logger *slog.Logger) *Processor {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, metrics: m, logger: logger, now: time.Now}
}

// Process generates insights for entry against the user's recent history.
// Nothing is written when no rule fires.
func (p *Processor) Process(ctx context.Context, userID string, entry domain.HealthEntry) error {
	err := p.process(ctx, userID, entry)
	if err != nil {
		p.metrics.InsightJobs.WithLabelValues("error").Inc()
	}
	return err
}

func (p *Processor) process(ctx context.Context, userID string, entry domain.HealthEntry) error {
	now := p.now()
	recent, err := p.store.Entries(ctx, userID, now.AddDate(0, 0, -historyDays), now, historyDays+1)
	if err != nil {
		return fmt.Errorf("health: history %s: %w", userID, err)
	}
	history := make([]domain.HealthEntry, 0, len(recent))
	for _, e := range recent {
		if !e.Timestamp.Equal(entry.Timestamp) {
			history = append(history, e)
		}
	}
	if len(history) > historyDays {
		history = history[len(history)-historyDays:]
	}

	profile, err := p.store.Profile(ctx, userID)
	if err != nil {
		p.logger.Warn("profile unavailable, using default goals", "user", userID, "err", err)
		profile = nil
	}
	goals := Goals(profile)

	insights := GenerateInsights(entry, history, goals, now)
	if len(insights) == 0 {
		p.metrics.InsightJobs.WithLabelValues("empty").Inc()
		return nil
	}
	if err := p.store.SaveInsights(ctx, userID, insights); err != nil {
		return fmt.Errorf("health: save insights %s: %w", userID, err)
	}
	if err := p.store.SaveGoalProgress(ctx, userID, ProgressSnapshot(entry, goals, now)); err != nil {
		return fmt.Errorf("health: save progress %s: %w", userID, err)
	}
	p.metrics.InsightJobs.WithLabelValues("ok").Inc()
	p.logger.Info("insights generated", "user", userID, "count", len(insights))
	return nil
}

// Dispatcher hands a job off without blocking the caller on its outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
	Close() error
}

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("health: dispatcher closed")

// AsyncDispatcher runs jobs in-process on detached goroutines. Job errors are
// sent to an internal channel and logged by a single drain goroutine.
type AsyncDispatcher struct {
	proc    *Processor
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	errs   chan error
	done   chan struct{}
}

// NewAsyncDispatcher starts the error drain. Each job gets timeout.
func NewAsyncDispatcher(proc *Processor, timeout time.Duration, logger *slog.Logger) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &AsyncDispatcher{proc: proc, timeout: timeout, logger: logger, errs: make(chan error, 16), done: make(chan struct{})}
	go d.drain()
	return d
}

func (d *AsyncDispatcher) drain() {
	defer close(d.done)
	for err := range d.errs {
		d.logger.Error("insight processing failed", "err", err)
	}
}

// Dispatch starts processing job. The job outlives ctx's cancellation.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.proc.Process(jctx, job.UserID, job.Entry); err != nil {
			d.errs <- err
		}
	}()
	return nil
}

// Close waits for in-flight jobs and the error drain.
func (d *AsyncDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
	close(d.errs)
	<-d.done
	return nil
}

// NATSDispatcher publishes jobs for cmd/insights-worker.
type NATSDispatcher struct {
	nc *nats.Conn
}

// NewNATSDispatcher creates a NATSDispatcher.
func NewNATSDispatcher(nc *nats.Conn) *NATSDispatcher { return &NATSDispatcher{nc: nc} }

// Dispatch publishes job on SubjectEntries.
func (d *NATSDispatcher) Dispatch(ctx context.Context, job Job) error {
	return natsutil.Publish(ctx, d.nc, SubjectEntries, job)
}

// Close flushes pending publishes.
func (d *NATSDispatcher) Close() error { return d.nc.Flush() }

// Consume processes jobs from SubjectEntries in the worker queue group,
// redelivering failures up to maxAttempts before dead-lettering them.
func Consume(nc *nats.Conn, proc *Processor, maxAttempts int, logger *slog.Logger) (*nats.Subscription, error) {
	return natsutil.Consume(nc, SubjectEntries, QueueWorkers,
		natsutil.Policy{MaxAttempts: maxAttempts, DeadLetter: SubjectDeadLetter, Logger: logger},
		func(ctx context.Context, job Job) error {
			return proc.Process(ctx, job.UserID, job.Entry)
		})
}
