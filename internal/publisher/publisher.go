package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autoblog/internal/apperr"
)

type Platform string

const (
	WordPress Platform = "wordpress"
	Blogger   Platform = "blogger"
)

func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case WordPress:
		return WordPress, nil
	case Blogger:
		return Blogger, nil
	default:
		return "", apperr.Validation("publisher.platform", fmt.Sprintf("platform must be wordpress or blogger, got %q", s))
	}
}

type Mode string

const (
	ModeDraft    Mode = "draft"
	ModePublish  Mode = "publish"
	ModeSchedule Mode = "schedule"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDraft:
		return ModeDraft, nil
	case ModePublish:
		return ModePublish, nil
	case ModeSchedule:
		return ModeSchedule, nil
	default:
		return "", apperr.Validation("publisher.mode", fmt.Sprintf("unsupported publish mode %q", s))
	}
}

type PostMetadata struct {
	Title         string         `json:"title"`
	Slug          string         `json:"slug,omitempty"`
	Excerpt       string         `json:"excerpt,omitempty"`
	Categories    []string       `json:"categories,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Labels        []string       `json:"labels,omitempty"`
	Schedule      map[string]any `json:"schedule,omitempty"`
	FeaturedImage string         `json:"featured_image,omitempty"`
}

type Image struct {
	Filename    string
	Data        []byte
	ContentType string
	AltText     string
}

// Post is the normalized input to every publish operation. Content is HTML.
type Post struct {
	Content  string
	Metadata PostMetadata
	Images   []Image
}

type PublishResult struct {
	Success      bool           `json:"success"`
	PostID       string         `json:"post_id,omitempty"`
	PostURL      string         `json:"post_url,omitempty"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func Failure(code string, err error) PublishResult {
	return PublishResult{Success: false, ErrorCode: code, ErrorMessage: err.Error()}
}

type RemotePost struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	URL       string     `json:"url"`
	Status    string     `json:"status"`
	Labels    []string   `json:"labels,omitempty"`
	Published *time.Time `json:"published,omitempty"`
	Updated   *time.Time `json:"updated,omitempty"`
}

type ConnectionInfo struct {
	Platform Platform       `json:"platform"`
	Name     string         `json:"name"`
	URL      string         `json:"url"`
	Details  map[string]any `json:"details,omitempty"`
}

// Publisher is implemented once per CMS. Publish-style operations report
// platform failures in PublishResult rather than as errors.
type Publisher interface {
	Platform() Platform
	TestConnection(ctx context.Context) (ConnectionInfo, error)
	PublishDraft(ctx context.Context, post Post) PublishResult
	PublishImmediately(ctx context.Context, post Post) PublishResult
	SchedulePublish(ctx context.Context, post Post, when time.Time) PublishResult
	// GetPost returns nil, nil when the post does not exist.
	GetPost(ctx context.Context, id string) (*RemotePost, error)
	UpdatePost(ctx context.Context, id string, post Post) PublishResult
	// DeletePost treats an already missing post as deleted.
	DeletePost(ctx context.Context, id string) (bool, error)
}

// Reverter is implemented by platforms that can unpublish a live post.
type Reverter interface {
	RevertToDraft(ctx context.Context, id string) PublishResult
}

// Searcher is implemented by platforms with a post search endpoint.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]RemotePost, error)
}

// Publish routes to the operation for mode.
func Publish(ctx context.Context, p Publisher, post Post, mode Mode, when *time.Time) (PublishResult, error) {
	switch mode {
	case ModeDraft:
		return p.PublishDraft(ctx, post), nil
	case ModePublish:
		return p.PublishImmediately(ctx, post), nil
	case ModeSchedule:
		if when == nil || when.IsZero() {
			return PublishResult{}, apperr.Validation("publisher.publish", "scheduled time is required for schedule mode")
		}
		return p.SchedulePublish(ctx, post, *when), nil
	default:
		return PublishResult{}, apperr.Validation("publisher.publish", fmt.Sprintf("unsupported publish mode %q", mode))
	}
}
