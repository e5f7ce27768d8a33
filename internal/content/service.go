package content

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"autoblog/internal/aiclient"
	"autoblog/internal/apperr"
	"autoblog/internal/bundle"
	"autoblog/internal/jobs"
	"autoblog/internal/metrics"
	"autoblog/internal/providers"
	"autoblog/internal/queue"
)

// Generator is satisfied by *aiclient.Dispatcher.
type Generator interface {
	Generate(ctx context.Context, req providers.ChatRequest, opts ...aiclient.Option) (providers.ChatResponse, error)
	Configured(p providers.Provider) bool
}

type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

type Config struct {
	Jobs    *jobs.Repository
	Bundles *bundle.Manager
	AI      Generator
	Queue   Enqueuer
	// Preferred is the primary provider used when a request names none.
	Preferred providers.Provider
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Service owns generation jobs from submission to a terminal status.
type Service struct {
	jobs      *jobs.Repository
	bundles   *bundle.Manager
	ai        Generator
	queue     Enqueuer
	preferred providers.Provider
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		jobs:      cfg.Jobs,
		bundles:   cfg.Bundles,
		ai:        cfg.AI,
		queue:     cfg.Queue,
		preferred: cfg.Preferred,
		logger:    cfg.Logger.With().Str("component", "content").Logger(),
		metrics:   m,
		now:       now,
	}
}

// Submit validates req, records the job as in progress and queues it.
func (s *Service) Submit(ctx context.Context, req jobs.GenerationRequest) (jobs.GenerationJob, error) {
	if err := req.Normalize(); err != nil {
		return jobs.GenerationJob{}, err
	}
	if req.Provider != "" {
		p, err := providers.ParseProvider(req.Provider)
		if err != nil {
			return jobs.GenerationJob{}, apperr.Validation("content.submit", err.Error())
		}
		req.Provider = string(p)
	}

	now := s.now()
	job := jobs.GenerationJob{
		ID:        uuid.NewString(),
		Status:    jobs.StatusInProgress,
		Progress:  0,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.SaveGeneration(ctx, job); err != nil {
		return jobs.GenerationJob{}, fmt.Errorf("save job: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, queue.Task{JobID: job.ID, Kind: jobs.KindGeneration, EnqueuedAt: now}); err != nil {
		pctx, cancel := jobs.PersistContext(ctx)
		defer cancel()
		_ = s.finish(pctx, &job, fmt.Errorf("enqueue: %w", err))
		return jobs.GenerationJob{}, fmt.Errorf("enqueue job: %w", err)
	}
	s.metrics.EnqueuedTasks.Inc()
	s.metrics.JobsSubmitted.WithLabelValues(string(jobs.KindGeneration)).Inc()
	s.logger.Info().Str("job_id", job.ID).Str("topic", req.Topic).Msg("generation submitted")
	return job, nil
}

// Execute runs one generation job. Generation failures are recorded on the
// job; only storage errors and jobs.ErrInterrupted are returned. Terminal
// jobs are left untouched.
func (s *Service) Execute(ctx context.Context, id string) error {
	job, err := s.jobs.GetGeneration(ctx, id)
	if err != nil {
		return err
	}
	log := s.logger.With().Str("job_id", id).Logger()
	if job.Status.Terminal() {
		log.Info().Str("status", string(job.Status)).Msg("job already finished, skipping")
		return nil
	}

	content, resp, genErr := s.generate(ctx, job.Request)
	if genErr != nil && ctx.Err() != nil {
		log.Warn().Err(genErr).Msg("generation interrupted, job left in progress")
		return fmt.Errorf("%w: %w", jobs.ErrInterrupted, ctx.Err())
	}

	// A finished generation is persisted even if ctx is cancelled from here.
	pctx, cancel := jobs.PersistContext(ctx)
	defer cancel()
	if genErr == nil {
		job.Provider = string(resp.Provider)
		job.Model = resp.Model
		job.Content = &content
		b, err := s.bundles.Create(pctx, content.Title, derefOr(content.Summary, ""), []bundle.Post{postFromContent(content)}, map[string]any{
			"source":            "generation",
			"generation_job_id": job.ID,
			"provider":          job.Provider,
		})
		if err != nil {
			genErr = fmt.Errorf("store bundle: %w", err)
		} else {
			job.BundleID = b.ID
		}
	}
	if err := s.finish(pctx, &job, genErr); err != nil {
		return err
	}
	if genErr != nil {
		log.Error().Err(genErr).Msg("generation failed")
	} else {
		log.Info().Str("provider", job.Provider).Str("bundle_id", job.BundleID).Msg("generation completed")
	}
	return nil
}

func (s *Service) generate(ctx context.Context, req jobs.GenerationRequest) (jobs.GeneratedContent, providers.ChatResponse, error) {
	var explicit providers.Provider
	if req.Provider != "" {
		p, err := providers.ParseProvider(req.Provider)
		if err != nil {
			return jobs.GeneratedContent{}, providers.ChatResponse{}, err
		}
		explicit = p
	}
	target, err := aiclient.SelectProvider(explicit, s.preferred, s.ai.Configured)
	if err != nil {
		return jobs.GeneratedContent{}, providers.ChatResponse{}, err
	}
	resp, err := s.ai.Generate(ctx, BuildRequest(req), aiclient.WithProvider(target))
	if err != nil {
		return jobs.GeneratedContent{}, providers.ChatResponse{}, err
	}
	return ParseReply(resp.Content, req.Topic), resp, nil
}

// finish moves job to completed or failed and persists it. A job another
// executor already finished is left as stored.
func (s *Service) finish(ctx context.Context, job *jobs.GenerationJob, cause error) error {
	target := jobs.StatusCompleted
	if cause != nil {
		target = jobs.StatusFailed
	}
	stored, err := s.jobs.GetGeneration(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !jobs.CanTransition(stored.Status, target) {
		s.logger.Warn().Str("job_id", job.ID).Str("from", string(stored.Status)).Str("to", string(target)).Msg("job already finished, result dropped")
		*job = stored
		return nil
	}

	now := s.now()
	job.UpdatedAt = now
	job.CompletedAt = &now
	job.Status = target
	if cause != nil {
		job.Error = jobs.StringPtr(cause.Error())
		job.Content = nil
		job.BundleID = ""
	} else {
		job.Progress = 1
		job.Error = nil
	}
	s.metrics.JobsFinished.WithLabelValues(string(jobs.KindGeneration), string(job.Status)).Inc()
	if err := s.jobs.SaveGeneration(ctx, *job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (jobs.GenerationJob, error) {
	return s.jobs.GetGeneration(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]jobs.GenerationJob, error) {
	return s.jobs.ListGeneration(ctx, limit, offset)
}

func postFromContent(c jobs.GeneratedContent) bundle.Post {
	return bundle.Post{
		Title:   c.Title,
		Content: c.Content,
		Format:  bundle.FormatMarkdown,
		Summary: derefOr(c.Summary, ""),
		Excerpt: derefOr(c.Summary, ""),
		Tags:    c.Tags,
	}
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
