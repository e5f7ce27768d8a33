package wordpress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"autoblog/internal/publisher"
)

const (
	CodePostFailed   = "WORDPRESS_POST_FAILED"
	CodeUpdateFailed = "WORDPRESS_UPDATE_FAILED"

	statusDraft   = "draft"
	statusPublish = "publish"
	statusFuture  = "future"
)

// Publisher implements publisher.Publisher on top of Client.
type Publisher struct {
	client *Client
	logger zerolog.Logger
}

var _ publisher.Publisher = (*Publisher)(nil)

func New(cfg Config) (*Publisher, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(c), nil
}

func NewWithClient(c *Client) *Publisher {
	return &Publisher{client: c, logger: c.logger}
}

func (p *Publisher) Platform() publisher.Platform { return publisher.WordPress }

func (p *Publisher) TestConnection(ctx context.Context) (publisher.ConnectionInfo, error) {
	u, err := p.client.TestConnection(ctx)
	if err != nil {
		return publisher.ConnectionInfo{}, err
	}
	return publisher.ConnectionInfo{
		Platform: publisher.WordPress,
		Name:     u.Username,
		URL:      p.client.base,
		Details: map[string]any{
			"status":       "connected",
			"user_id":      u.ID,
			"display_name": u.Name,
			"capabilities": u.Capabilities,
		},
	}, nil
}

func (p *Publisher) PublishDraft(ctx context.Context, post publisher.Post) publisher.PublishResult {
	return p.create(ctx, post, statusDraft, "")
}

func (p *Publisher) PublishImmediately(ctx context.Context, post publisher.Post) publisher.PublishResult {
	return p.create(ctx, post, statusPublish, "")
}

func (p *Publisher) SchedulePublish(ctx context.Context, post publisher.Post, when time.Time) publisher.PublishResult {
	return p.create(ctx, post, statusFuture, when.Format(time.RFC3339))
}

type mediaInfo struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
	Alt string `json:"alt"`
}

// create uploads images, reconciles taxonomy and then creates the post in a
// single call. Later steps depend on ids from earlier ones.
func (p *Publisher) create(ctx context.Context, post publisher.Post, status, date string) publisher.PublishResult {
	md := post.Metadata
	media := make(map[string]mediaInfo, len(post.Images))
	urls := make(map[string]string, len(post.Images))
	for _, img := range post.Images {
		m, err := p.client.UploadMedia(ctx, img.Filename, img.Data, img.AltText)
		if err != nil {
			p.logger.Error().Err(err).Str("filename", img.Filename).Msg("image upload failed")
			return publisher.Failure(CodePostFailed, fmt.Errorf("image upload failed: %s: %w", img.Filename, err))
		}
		media[img.Filename] = mediaInfo{ID: m.ID, URL: m.SourceURL, Alt: m.AltText}
		urls[img.Filename] = m.SourceURL
		p.logger.Info().Str("filename", img.Filename).Int64("media_id", m.ID).Msg("uploaded image")
	}

	content := post.Content
	if len(urls) > 0 {
		content = publisher.RewriteImageRefs(content, urls)
	}

	categoryIDs, err := p.client.EnsureCategories(ctx, md.Categories)
	if err != nil {
		return p.fail(CodePostFailed, err)
	}
	tagIDs, err := p.client.EnsureTags(ctx, md.Tags)
	if err != nil {
		return p.fail(CodePostFailed, err)
	}

	var featured int64
	if md.FeaturedImage != "" {
		if m, ok := media[md.FeaturedImage]; ok {
			featured = m.ID
		}
	}

	created, err := p.client.CreatePost(ctx, PostInput{
		Title:         md.Title,
		Content:       publisher.SanitizeHTML(content),
		Status:        status,
		Slug:          md.Slug,
		Excerpt:       md.Excerpt,
		Categories:    categoryIDs,
		Tags:          tagIDs,
		FeaturedMedia: featured,
		Date:          date,
	})
	if err != nil {
		return p.fail(CodePostFailed, err)
	}

	return publisher.PublishResult{
		Success:     true,
		PostID:      strconv.FormatInt(created.ID, 10),
		PostURL:     created.Link,
		PublishedAt: postTime(created.DateGMT, created.Date),
		Metadata: map[string]any{
			"wordpress_id": created.ID,
			"status":       created.Status,
			"media_info":   media,
			"category_ids": categoryIDs,
			"tag_ids":      tagIDs,
		},
	}
}

func (p *Publisher) GetPost(ctx context.Context, id string) (*publisher.RemotePost, error) {
	wp, err := p.client.GetPost(ctx, id)
	if err != nil || wp == nil {
		return nil, err
	}
	return &publisher.RemotePost{
		ID:        strconv.FormatInt(wp.ID, 10),
		Title:     wp.Title.Rendered,
		Content:   wp.Content.Rendered,
		URL:       wp.Link,
		Status:    wp.Status,
		Published: postTime(wp.DateGMT, wp.Date),
		Updated:   postTime(wp.ModifiedGMT, wp.Modified),
	}, nil
}

// UpdatePost reconciles taxonomy and rewrites the post body. Images are not
// re-uploaded on update.
func (p *Publisher) UpdatePost(ctx context.Context, id string, post publisher.Post) publisher.PublishResult {
	md := post.Metadata
	categoryIDs, err := p.client.EnsureCategories(ctx, md.Categories)
	if err != nil {
		return p.fail(CodeUpdateFailed, err)
	}
	tagIDs, err := p.client.EnsureTags(ctx, md.Tags)
	if err != nil {
		return p.fail(CodeUpdateFailed, err)
	}
	updated, err := p.client.UpdatePost(ctx, id, PostInput{
		Title:      md.Title,
		Content:    publisher.SanitizeHTML(post.Content),
		Slug:       md.Slug,
		Excerpt:    md.Excerpt,
		Categories: categoryIDs,
		Tags:       tagIDs,
	})
	if err != nil {
		return p.fail(CodeUpdateFailed, err)
	}
	return publisher.PublishResult{
		Success:     true,
		PostID:      strconv.FormatInt(updated.ID, 10),
		PostURL:     updated.Link,
		PublishedAt: postTime(updated.ModifiedGMT, updated.Modified),
		Metadata: map[string]any{
			"wordpress_id": updated.ID,
			"status":       updated.Status,
			"category_ids": categoryIDs,
			"tag_ids":      tagIDs,
		},
	}
}

func (p *Publisher) DeletePost(ctx context.Context, id string) (bool, error) {
	return p.client.DeletePost(ctx, id)
}

func (p *Publisher) fail(code string, err error) publisher.PublishResult {
	p.logger.Error().Err(err).Str("code", code).Msg("wordpress publish failed")
	return publisher.Failure(code, err)
}

// postTime parses WordPress timestamps. The *_gmt fields carry no offset and
// are UTC; the plain fields are in site-local time.
func postTime(gmt, local string) *time.Time {
	for _, s := range []string{gmt, local} {
		if s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return &t
		}
		if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
			return &t
		}
	}
	return nil
}
