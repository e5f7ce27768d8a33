package publishing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"autoblog/internal/apperr"
	"autoblog/internal/bundle"
	"autoblog/internal/jobs"
	"autoblog/internal/metrics"
	"autoblog/internal/publisher"
	"autoblog/internal/queue"
	"autoblog/internal/render"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

// Limiter is satisfied by *queue.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, scope string, now time.Time) (bool, int64, time.Time, error)
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Config struct {
	Jobs       *jobs.Repository
	Bundles    *bundle.Manager
	Publishers map[publisher.Platform]publisher.Publisher
	Queue      Enqueuer
	Limiter    Limiter
	Notifier   Notifier
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Request is a submit-publish call.
type Request struct {
	BundleID    string         `json:"bundle_id"`
	PostIndex   int            `json:"post_index"`
	Platform    string         `json:"platform"`
	Mode        string         `json:"mode"`
	ScheduledAt *time.Time     `json:"scheduled_datetime,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Service owns publish jobs from submission to a terminal status.
type Service struct {
	jobs       *jobs.Repository
	bundles    *bundle.Manager
	publishers map[publisher.Platform]publisher.Publisher
	queue      Enqueuer
	limiter    Limiter
	notifier   Notifier
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
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
	pubs := cfg.Publishers
	if pubs == nil {
		pubs = map[publisher.Platform]publisher.Publisher{}
	}
	return &Service{
		jobs:       cfg.Jobs,
		bundles:    cfg.Bundles,
		publishers: pubs,
		queue:      cfg.Queue,
		limiter:    cfg.Limiter,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger.With().Str("component", "publishing").Logger(),
		metrics:    m,
		now:        now,
	}
}

func (s *Service) publisherFor(op string, platform publisher.Platform) (publisher.Publisher, error) {
	p, ok := s.publishers[platform]
	if !ok || p == nil {
		return nil, apperr.Config(op, fmt.Sprintf("%s is not configured", platform))
	}
	return p, nil
}

// Submit validates req before any platform call, records the job as in
// progress and queues it.
func (s *Service) Submit(ctx context.Context, req Request) (jobs.PublishJob, error) {
	const op = "publishing.submit"
	platform, err := publisher.ParsePlatform(req.Platform)
	if err != nil {
		return jobs.PublishJob{}, err
	}
	mode, err := publisher.ParseMode(req.Mode)
	if err != nil {
		return jobs.PublishJob{}, err
	}
	now := s.now()
	var scheduled *time.Time
	if mode == publisher.ModeSchedule {
		if req.ScheduledAt == nil || req.ScheduledAt.IsZero() {
			return jobs.PublishJob{}, apperr.Validation(op, "scheduled_datetime is required for schedule mode")
		}
		if !req.ScheduledAt.After(now) {
			return jobs.PublishJob{}, apperr.Validation(op, "scheduled_datetime must be in the future")
		}
		t := req.ScheduledAt.UTC()
		scheduled = &t
	}
	if req.PostIndex < 0 {
		return jobs.PublishJob{}, apperr.Validation(op, "post_index must not be negative")
	}
	if _, err := s.publisherFor(op, platform); err != nil {
		return jobs.PublishJob{}, err
	}

	b, err := s.bundles.Get(ctx, req.BundleID)
	if err != nil {
		return jobs.PublishJob{}, err
	}
	if req.PostIndex >= len(b.Posts) {
		return jobs.PublishJob{}, apperr.Validation(op, fmt.Sprintf("bundle %s has no post at index %d", b.ID, req.PostIndex))
	}

	if s.limiter != nil {
		ok, _, resetAt, err := s.limiter.Allow(ctx, "publish:"+string(platform), now)
		if err != nil {
			s.logger.Error().Err(err).Msg("rate limiter failed")
		} else if !ok {
			return jobs.PublishJob{}, apperr.New(apperr.KindRateLimit, op,
				fmt.Sprintf("publish rate limit for %s exceeded, try again after %s", platform, resetAt.Format("15:04 UTC")))
		}
	}

	job := jobs.PublishJob{
		ID:          uuid.NewString(),
		BundleID:    b.ID,
		PostIndex:   req.PostIndex,
		Platform:    platform,
		Mode:        mode,
		ScheduledAt: scheduled,
		Status:      jobs.StatusInProgress,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobs.SavePublish(ctx, job); err != nil {
		return jobs.PublishJob{}, fmt.Errorf("save job: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, queue.Task{JobID: job.ID, Kind: jobs.KindPublish, EnqueuedAt: now}); err != nil {
		pctx, cancel := jobs.PersistContext(ctx)
		defer cancel()
		_, _ = s.finish(pctx, &job, fmt.Errorf("enqueue: %w", err))
		return jobs.PublishJob{}, fmt.Errorf("enqueue job: %w", err)
	}
	s.metrics.EnqueuedTasks.Inc()
	s.metrics.JobsSubmitted.WithLabelValues(string(jobs.KindPublish)).Inc()
	s.logger.Info().Str("job_id", job.ID).Str("platform", string(platform)).Str("mode", string(mode)).Msg("publish submitted")
	return job, nil
}

// Execute drives one publisher invocation for the job. Publish failures are
// recorded on the job; only storage errors and jobs.ErrInterrupted are
// returned.
func (s *Service) Execute(ctx context.Context, id string) error {
	job, err := s.jobs.GetPublish(ctx, id)
	if err != nil {
		return err
	}
	log := s.logger.With().Str("job_id", id).Str("platform", string(job.Platform)).Logger()
	if job.Status.Terminal() {
		log.Info().Str("status", string(job.Status)).Msg("job already finished, skipping")
		return nil
	}
	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}
	now := s.now()
	if _, seen := job.Metadata["started_at"]; seen {
		job.RetryCount++
		job.LastRetryAt = &now
	} else {
		job.Metadata["started_at"] = now.Format(time.RFC3339)
	}

	res, pubErr := s.publish(ctx, job)
	if pubErr == nil && !res.Success {
		pubErr = fmt.Errorf("%s: %s", res.ErrorCode, res.ErrorMessage)
	}

	pctx, cancel := jobs.PersistContext(ctx)
	defer cancel()
	if pubErr != nil && ctx.Err() != nil {
		// Keep started_at so the next delivery counts as a retry.
		job.UpdatedAt = now
		if err := s.jobs.SavePublish(pctx, job); err != nil {
			return fmt.Errorf("save job: %w", err)
		}
		log.Warn().Err(pubErr).Msg("publish interrupted, job left in progress")
		return fmt.Errorf("%w: %w", jobs.ErrInterrupted, ctx.Err())
	}
	s.metrics.PublishResults.WithLabelValues(string(job.Platform), metrics.Outcome(pubErr)).Inc()
	if pubErr == nil {
		job.PostID = jobs.StringPtr(res.PostID)
		if res.PostURL != "" {
			job.PublishedURL = jobs.StringPtr(res.PostURL)
		}
		if res.PublishedAt != nil {
			job.Metadata["published_at"] = res.PublishedAt.UTC().Format(time.RFC3339)
		}
		if len(res.Metadata) > 0 {
			job.Metadata["platform"] = res.Metadata
		}
	}
	written, err := s.finish(pctx, &job, pubErr)
	if err != nil {
		return err
	}
	if !written {
		return nil
	}

	if pubErr != nil {
		log.Error().Err(pubErr).Msg("publish failed")
	} else {
		log.Info().Str("post_id", res.PostID).Str("url", res.PostURL).Msg("publish completed")
	}
	s.notify(pctx, job)
	return nil
}

func (s *Service) publish(ctx context.Context, job jobs.PublishJob) (publisher.PublishResult, error) {
	pub, err := s.publisherFor("publishing.execute", job.Platform)
	if err != nil {
		return publisher.PublishResult{}, err
	}
	b, err := s.bundles.Get(ctx, job.BundleID)
	if err != nil {
		return publisher.PublishResult{}, err
	}
	if job.PostIndex < 0 || job.PostIndex >= len(b.Posts) {
		return publisher.PublishResult{}, apperr.Validation("publishing.execute", fmt.Sprintf("bundle %s has no post at index %d", b.ID, job.PostIndex))
	}
	post, err := BuildPost(b, b.Posts[job.PostIndex])
	if err != nil {
		return publisher.PublishResult{}, err
	}
	if job.Mode == publisher.ModeSchedule && job.ScheduledAt != nil {
		post.Metadata.Schedule = map[string]any{"publish_at": job.ScheduledAt.Format(time.RFC3339)}
	}
	return publisher.Publish(ctx, pub, post, job.Mode, job.ScheduledAt)
}

// BuildPost converts a bundle post into publisher input, rendering Markdown
// bodies to HTML.
func BuildPost(b bundle.Bundle, p bundle.Post) (publisher.Post, error) {
	body := p.Content
	if p.Format != bundle.FormatHTML {
		html, err := render.Markdown(p.Content)
		if err != nil {
			return publisher.Post{}, err
		}
		body = html
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = b.Title
	}
	excerpt := p.Excerpt
	if excerpt == "" {
		excerpt = p.Summary
	}
	images := make([]publisher.Image, 0, len(p.Images))
	for _, img := range p.Images {
		images = append(images, publisher.Image{
			Filename:    img.Filename,
			Data:        img.Data,
			ContentType: img.ContentType,
			AltText:     img.AltText,
		})
	}
	return publisher.Post{
		Content: body,
		Metadata: publisher.PostMetadata{
			Title:         title,
			Slug:          p.Slug,
			Excerpt:       excerpt,
			Categories:    p.Categories,
			Tags:          p.Tags,
			Labels:        p.Labels,
			FeaturedImage: p.FeaturedImage,
		},
		Images: images,
	}, nil
}

// finish moves job to completed or failed and persists it. A job another
// executor already finished is left as stored.
func (s *Service) finish(ctx context.Context, job *jobs.PublishJob, cause error) (bool, error) {
	target := jobs.StatusCompleted
	if cause != nil {
		target = jobs.StatusFailed
	}
	stored, err := s.jobs.GetPublish(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("load job: %w", err)
	}
	if !jobs.CanTransition(stored.Status, target) {
		s.logger.Warn().Str("job_id", job.ID).Str("from", string(stored.Status)).Str("to", string(target)).Msg("job already finished, result dropped")
		*job = stored
		return false, nil
	}

	now := s.now()
	job.UpdatedAt = now
	job.CompletedAt = &now
	job.Status = target
	if cause != nil {
		job.Error = jobs.StringPtr(cause.Error())
	} else {
		job.Error = nil
	}
	s.metrics.JobsFinished.WithLabelValues(string(jobs.KindPublish), string(job.Status)).Inc()
	if err := s.jobs.SavePublish(ctx, *job); err != nil {
		return false, fmt.Errorf("save job: %w", err)
	}
	return true, nil
}

func (s *Service) notify(ctx context.Context, job jobs.PublishJob) {
	if s.notifier == nil {
		return
	}
	var text string
	if job.Status == jobs.StatusCompleted {
		text = fmt.Sprintf("Published to %s (%s)", job.Platform, job.Mode)
		if job.PublishedURL != nil {
			text += "\n" + *job.PublishedURL
		}
	} else {
		text = fmt.Sprintf("Publishing to %s failed for job %s", job.Platform, job.ID)
		if job.Error != nil {
			text += "\n" + *job.Error
		}
	}
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("notify failed")
	}
}

// TestConnection checks credentials and reachability for one platform.
func (s *Service) TestConnection(ctx context.Context, platform string) (publisher.ConnectionInfo, error) {
	p, err := publisher.ParsePlatform(platform)
	if err != nil {
		return publisher.ConnectionInfo{}, err
	}
	pub, err := s.publisherFor("publishing.test_connection", p)
	if err != nil {
		return publisher.ConnectionInfo{}, err
	}
	return pub.TestConnection(ctx)
}

// RevertToDraft unpublishes a live post on platforms that support it.
func (s *Service) RevertToDraft(ctx context.Context, platform, postID string) (publisher.PublishResult, error) {
	const op = "publishing.revert_to_draft"
	pub, err := s.platformPublisher(op, platform)
	if err != nil {
		return publisher.PublishResult{}, err
	}
	if strings.TrimSpace(postID) == "" {
		return publisher.PublishResult{}, apperr.Validation(op, "post id is required")
	}
	r, ok := pub.(publisher.Reverter)
	if !ok {
		return publisher.PublishResult{}, apperr.Validation(op, fmt.Sprintf("%s cannot revert posts to draft", pub.Platform()))
	}
	res := r.RevertToDraft(ctx, postID)
	s.logger.Info().Str("platform", string(pub.Platform())).Str("post_id", postID).Bool("success", res.Success).Msg("revert to draft")
	return res, nil
}

// Search finds remote posts by text on platforms that support it.
func (s *Service) Search(ctx context.Context, platform, query string, limit int) ([]publisher.RemotePost, error) {
	const op = "publishing.search"
	pub, err := s.platformPublisher(op, platform)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation(op, "query is required")
	}
	sr, ok := pub.(publisher.Searcher)
	if !ok {
		return nil, apperr.Validation(op, fmt.Sprintf("%s does not support post search", pub.Platform()))
	}
	return sr.Search(ctx, query, limit)
}

func (s *Service) platformPublisher(op, platform string) (publisher.Publisher, error) {
	p, err := publisher.ParsePlatform(platform)
	if err != nil {
		return nil, err
	}
	return s.publisherFor(op, p)
}

func (s *Service) Get(ctx context.Context, id string) (jobs.PublishJob, error) {
	return s.jobs.GetPublish(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]jobs.PublishJob, error) {
	return s.jobs.ListPublish(ctx, limit, offset)
}

// Platforms lists the configured publishers.
func (s *Service) Platforms() []publisher.Platform {
	out := make([]publisher.Platform, 0, len(s.publishers))
	for _, p := range []publisher.Platform{publisher.WordPress, publisher.Blogger} {
		if _, ok := s.publishers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
