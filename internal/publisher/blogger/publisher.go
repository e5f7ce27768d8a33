package blogger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	bloggerapi "google.golang.org/api/blogger/v3"
	"google.golang.org/api/googleapi"

	"autoblog/internal/apperr"
	"autoblog/internal/publisher"
	"autoblog/internal/retry"
)

const (
	CodePostFailed   = "BLOGGER_POST_FAILED"
	CodeUpdateFailed = "BLOGGER_UPDATE_FAILED"

	defaultConcurrency = 4
	defaultSearchLimit = 20
)

type Config struct {
	BlogID       string
	ClientID     string
	ClientSecret string
	RefreshToken string
	// Endpoint overrides the Blogger API base URL.
	Endpoint    string
	Timeout     time.Duration
	Concurrency int
	Retry       retry.Policy
	Logger      zerolog.Logger
}

// Publisher implements publisher.Publisher against the Blogger v3 API.
type Publisher struct {
	blogID string
	api    api
	pool   *offloader
	policy retry.Policy
	logger zerolog.Logger
}

var _ publisher.Publisher = (*Publisher)(nil)

func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.BlogID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, apperr.Config("blogger.new", "blog id, client id, client secret and refresh token are required")
	}
	sdk, err := newSDK(ctx, cfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "blogger.new", err)
	}
	return newWithAPI(cfg, sdk), nil
}

func newWithAPI(cfg Config, a api) *Publisher {
	n := cfg.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	return &Publisher{
		blogID: cfg.BlogID,
		api:    a,
		pool:   newOffloader(n),
		policy: cfg.Retry,
		logger: cfg.Logger.With().Str("platform", "blogger").Logger(),
	}
}

func (p *Publisher) Platform() publisher.Platform { return publisher.Blogger }

// call runs fn off the caller's goroutine under the retry policy and maps
// Google API errors onto apperr kinds.
func call[T any](ctx context.Context, p *Publisher, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoValue(ctx, p.policy, func(ctx context.Context) (T, error) {
		v, err := offload(ctx, p.pool, fn)
		if err != nil {
			var zero T
			return zero, classify(op, err)
		}
		return v, nil
	})
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		e := apperr.FromStatus(op, gerr.Code, []byte(gerr.Message))
		e.Err = gerr
		return e
	}
	return apperr.Transport(op, err)
}

func (p *Publisher) TestConnection(ctx context.Context) (publisher.ConnectionInfo, error) {
	blog, err := call(ctx, p, "blogger.test_connection", func(ctx context.Context) (*bloggerapi.Blog, error) {
		return p.api.GetBlog(ctx, p.blogID)
	})
	if err != nil {
		return publisher.ConnectionInfo{}, err
	}
	var total int64
	if blog.Posts != nil {
		total = blog.Posts.TotalItems
	}
	return publisher.ConnectionInfo{
		Platform: publisher.Blogger,
		Name:     blog.Name,
		URL:      blog.Url,
		Details: map[string]any{
			"status":      "connected",
			"blog_id":     blog.Id,
			"posts_count": total,
		},
	}, nil
}

func (p *Publisher) PublishDraft(ctx context.Context, post publisher.Post) publisher.PublishResult {
	created, err := p.insert(ctx, post, true)
	if err != nil {
		return p.fail(CodePostFailed, err)
	}
	return result(created)
}

func (p *Publisher) PublishImmediately(ctx context.Context, post publisher.Post) publisher.PublishResult {
	created, err := p.insert(ctx, post, false)
	if err != nil {
		return p.fail(CodePostFailed, err)
	}
	return result(created)
}

// SchedulePublish inserts a draft and then publishes it with a publish date,
// which Blogger holds as a scheduled post.
func (p *Publisher) SchedulePublish(ctx context.Context, post publisher.Post, when time.Time) publisher.PublishResult {
	draft, err := p.insert(ctx, post, true)
	if err != nil {
		return p.fail(CodePostFailed, err)
	}
	scheduled, err := call(ctx, p, "blogger.publish_post", func(ctx context.Context) (*bloggerapi.Post, error) {
		return p.api.PublishPost(ctx, p.blogID, draft.Id, &when)
	})
	if err != nil {
		res := p.fail(CodePostFailed, err)
		res.PostID = draft.Id
		return res
	}
	res := result(scheduled)
	res.Metadata["scheduled_for"] = when.UTC().Format(time.RFC3339)
	return res
}

func (p *Publisher) insert(ctx context.Context, post publisher.Post, draft bool) (*bloggerapi.Post, error) {
	body := &bloggerapi.Post{
		Title:   post.Metadata.Title,
		Content: publisher.SanitizeHTML(post.Content),
		Labels:  labelsFor(post.Metadata),
	}
	return call(ctx, p, "blogger.insert_post", func(ctx context.Context) (*bloggerapi.Post, error) {
		return p.api.InsertPost(ctx, p.blogID, body, draft)
	})
}

// RevertToDraft moves a published post back to draft.
func (p *Publisher) RevertToDraft(ctx context.Context, id string) publisher.PublishResult {
	reverted, err := call(ctx, p, "blogger.revert_post", func(ctx context.Context) (*bloggerapi.Post, error) {
		return p.api.RevertPost(ctx, p.blogID, id)
	})
	if err != nil {
		return p.fail(CodeUpdateFailed, err)
	}
	return result(reverted)
}

func (p *Publisher) GetPost(ctx context.Context, id string) (*publisher.RemotePost, error) {
	bp, err := call(ctx, p, "blogger.get_post", func(ctx context.Context) (*bloggerapi.Post, error) {
		return p.api.GetPost(ctx, p.blogID, id)
	})
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return remote(bp), nil
}

// UpdatePost patches title, content and labels. Empty fields keep the
// current remote value.
func (p *Publisher) UpdatePost(ctx context.Context, id string, post publisher.Post) publisher.PublishResult {
	current, err := p.GetPost(ctx, id)
	if err != nil {
		return p.fail(CodeUpdateFailed, err)
	}
	if current == nil {
		return p.fail(CodeUpdateFailed, apperr.NotFound("blogger.update_post", fmt.Sprintf("post %s not found", id)))
	}

	body := &bloggerapi.Post{
		Id:      id,
		Title:   current.Title,
		Content: current.Content,
		Labels:  current.Labels,
	}
	if post.Metadata.Title != "" {
		body.Title = post.Metadata.Title
	}
	if post.Content != "" {
		body.Content = publisher.SanitizeHTML(post.Content)
	}
	if labels := labelsFor(post.Metadata); labels != nil {
		body.Labels = labels
	}

	updated, err := call(ctx, p, "blogger.patch_post", func(ctx context.Context) (*bloggerapi.Post, error) {
		return p.api.PatchPost(ctx, p.blogID, id, body)
	})
	if err != nil {
		return p.fail(CodeUpdateFailed, err)
	}
	return result(updated)
}

func (p *Publisher) DeletePost(ctx context.Context, id string) (bool, error) {
	_, err := call(ctx, p, "blogger.delete_post", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.api.DeletePost(ctx, p.blogID, id)
	})
	if err == nil || apperr.Is(err, apperr.KindNotFound) {
		return true, nil
	}
	p.logger.Error().Err(err).Str("post_id", id).Msg("delete failed")
	return false, err
}

// Search returns up to limit posts matching query.
func (p *Publisher) Search(ctx context.Context, query string, limit int) ([]publisher.RemotePost, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	items, err := call(ctx, p, "blogger.search_posts", func(ctx context.Context) ([]*bloggerapi.Post, error) {
		return p.api.SearchPosts(ctx, p.blogID, query)
	})
	if err != nil {
		return nil, err
	}
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]publisher.RemotePost, 0, len(items))
	for _, it := range items {
		out = append(out, *remote(it))
	}
	return out, nil
}

func (p *Publisher) fail(code string, err error) publisher.PublishResult {
	p.logger.Error().Err(err).Str("code", code).Msg("blogger publish failed")
	return publisher.Failure(code, err)
}

// labelsFor prefers explicit labels and falls back to tags.
func labelsFor(md publisher.PostMetadata) []string {
	if len(md.Labels) > 0 {
		return md.Labels
	}
	if len(md.Tags) > 0 {
		return md.Tags
	}
	return nil
}

func result(bp *bloggerapi.Post) publisher.PublishResult {
	return publisher.PublishResult{
		Success:     true,
		PostID:      bp.Id,
		PostURL:     bp.Url,
		PublishedAt: parseTime(bp.Published),
		Metadata: map[string]any{
			"blogger_id": bp.Id,
			"status":     bp.Status,
			"labels":     bp.Labels,
		},
	}
}

func remote(bp *bloggerapi.Post) *publisher.RemotePost {
	return &publisher.RemotePost{
		ID:        bp.Id,
		Title:     bp.Title,
		Content:   bp.Content,
		URL:       bp.Url,
		Status:    bp.Status,
		Labels:    bp.Labels,
		Published: parseTime(bp.Published),
		Updated:   parseTime(bp.Updated),
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
