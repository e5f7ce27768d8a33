package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autoblog/internal/apperr"
	"autoblog/internal/jobs"
	"autoblog/internal/metrics"
	"autoblog/internal/queue"
)

// Source is the subset of *queue.StreamQueue the worker consumes.
type Source interface {
	EnsureGroup(ctx context.Context) error
	Enqueue(ctx context.Context, task queue.Task) (string, error)
	Read(ctx context.Context, count int64) ([]queue.Message, error)
	Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
	Ack(ctx context.Context, messageID string) error
}

type Claimer interface {
	Claim(ctx context.Context, jobID string) (bool, error)
	Release(ctx context.Context, jobID string) error
}

// Executor runs one persisted job to a terminal status. Both orchestrators
// implement it.
type Executor interface {
	Execute(ctx context.Context, id string) error
}

type Worker struct {
	queue         Source
	claimer       Claimer
	handlers      map[jobs.Kind]Executor
	maxJobRetries int
	retryDelay    time.Duration
	reclaimIdle   time.Duration
	logger        zerolog.Logger
	metrics       *metrics.Metrics

	inflight sync.Map
}

type Config struct {
	Queue    Source
	Claimer  Claimer
	Handlers map[jobs.Kind]Executor
	// MaxJobRetries bounds how often a task whose Execute returned an
	// error is put back on the stream.
	MaxJobRetries int
	RetryDelay    time.Duration
	// ReclaimIdle is how long a task may sit unacknowledged in the pending
	// list before this worker takes it over.
	ReclaimIdle time.Duration
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = 10 * time.Minute
	}
	return &Worker{
		queue:         cfg.Queue,
		claimer:       cfg.Claimer,
		handlers:      cfg.Handlers,
		maxJobRetries: cfg.MaxJobRetries,
		retryDelay:    cfg.RetryDelay,
		reclaimIdle:   cfg.ReclaimIdle,
		logger:        cfg.Logger.With().Str("component", "worker").Logger(),
		metrics:       m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaimLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
			continue
		}

		for _, msg := range messages {
			w.Handle(ctx, msg)
		}
	}
}

// reclaimLoop re-drives tasks another consumer left pending, for example
// after a shutdown interrupted them.
func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.reclaimIdle)
	defer ticker.Stop()
	for {
		w.reclaimOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) reclaimOnce(ctx context.Context) {
	messages, err := w.queue.Reclaim(ctx, w.reclaimIdle, 10)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("failed to reclaim pending tasks")
		}
		return
	}
	for _, msg := range messages {
		if _, busy := w.inflight.Load(msg.ID); busy {
			continue
		}
		w.logger.Info().Str("job_id", msg.Task.JobID).Str("msg_id", msg.ID).Msg("reclaimed pending task")
		w.Handle(ctx, msg)
	}
}

// Handle claims, executes and acknowledges one message. A task whose
// Execute fails is released and re-enqueued until MaxJobRetries is spent.
// A task cut short by cancellation stays pending for reclaim.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) {
	w.inflight.Store(msg.ID, struct{}{})
	defer w.inflight.Delete(msg.ID)

	task := msg.Task
	log := w.logger.With().Str("job_id", task.JobID).Str("kind", string(task.Kind)).Str("msg_id", msg.ID).Logger()
	pctx, cancel := jobs.PersistContext(ctx)
	defer cancel()
	ack := func() {
		if err := w.queue.Ack(pctx, msg.ID); err != nil {
			log.Error().Err(err).Msg("failed to ack message")
		}
	}

	h, ok := w.handlers[task.Kind]
	if !ok {
		w.metrics.FailedTasks.Inc()
		log.Error().Msg("no handler for task kind, dropping")
		ack()
		return
	}

	claimed, err := w.claimer.Claim(ctx, task.JobID)
	if err != nil {
		// Execute skips terminal jobs, so running without a claim is safe.
		log.Warn().Err(err).Msg("claim failed, executing anyway")
		claimed = true
	}
	if !claimed {
		if msg.Reclaimed {
			// The claim holder may still be running; keep the task pending
			// until the claim is released or expires.
			log.Info().Msg("reclaimed job still claimed, leaving pending")
			return
		}
		log.Info().Msg("job already claimed, skipping")
		ack()
		return
	}

	err = h.Execute(ctx, task.JobID)
	if err == nil {
		w.metrics.ProcessedTasks.Inc()
		ack()
		return
	}

	if errors.Is(err, jobs.ErrInterrupted) || ctx.Err() != nil {
		if err := w.claimer.Release(pctx, task.JobID); err != nil {
			log.Error().Err(err).Msg("failed to release claim")
		}
		log.Warn().Err(err).Msg("task interrupted, left pending")
		return
	}

	w.metrics.FailedTasks.Inc()
	log.Error().Err(err).Int("attempt", task.Attempts).Msg("task failed")
	if apperr.Is(err, apperr.KindNotFound) || task.Attempts >= w.maxJobRetries {
		ack()
		return
	}

	if err := w.claimer.Release(ctx, task.JobID); err != nil {
		log.Error().Err(err).Msg("failed to release claim")
		ack()
		return
	}
	task.Attempts++
	task.EnqueuedAt = time.Now().UTC()
	if _, err := w.queue.Enqueue(ctx, task); err != nil {
		log.Error().Err(fmt.Errorf("re-enqueue: %w", err)).Msg("failed to re-enqueue task")
		return
	}
	w.metrics.EnqueuedTasks.Inc()
	ack()
}
