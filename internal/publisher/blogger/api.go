package blogger

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	bloggerapi "google.golang.org/api/blogger/v3"
	"google.golang.org/api/option"
)

// api is the subset of the Blogger v3 service the publisher drives.
type api interface {
	GetBlog(ctx context.Context, blogID string) (*bloggerapi.Blog, error)
	InsertPost(ctx context.Context, blogID string, post *bloggerapi.Post, draft bool) (*bloggerapi.Post, error)
	PublishPost(ctx context.Context, blogID, postID string, at *time.Time) (*bloggerapi.Post, error)
	RevertPost(ctx context.Context, blogID, postID string) (*bloggerapi.Post, error)
	GetPost(ctx context.Context, blogID, postID string) (*bloggerapi.Post, error)
	PatchPost(ctx context.Context, blogID, postID string, post *bloggerapi.Post) (*bloggerapi.Post, error)
	DeletePost(ctx context.Context, blogID, postID string) error
	SearchPosts(ctx context.Context, blogID, query string) ([]*bloggerapi.Post, error)
}

type sdkAPI struct {
	svc *bloggerapi.Service
}

// newSDK builds a Blogger service whose token source refreshes the access
// token from the long-lived refresh token.
func newSDK(ctx context.Context, cfg Config) (*sdkAPI, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{bloggerapi.BloggerScope},
	}
	hc := oauth2.NewClient(ctx, oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := bloggerapi.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &sdkAPI{svc: svc}, nil
}

func (s *sdkAPI) GetBlog(ctx context.Context, blogID string) (*bloggerapi.Blog, error) {
	return s.svc.Blogs.Get(blogID).Context(ctx).Do()
}

func (s *sdkAPI) InsertPost(ctx context.Context, blogID string, post *bloggerapi.Post, draft bool) (*bloggerapi.Post, error) {
	return s.svc.Posts.Insert(blogID, post).IsDraft(draft).Context(ctx).Do()
}

func (s *sdkAPI) PublishPost(ctx context.Context, blogID, postID string, at *time.Time) (*bloggerapi.Post, error) {
	call := s.svc.Posts.Publish(blogID, postID).Context(ctx)
	if at != nil {
		call = call.PublishDate(at.UTC().Format(time.RFC3339))
	}
	return call.Do()
}

func (s *sdkAPI) RevertPost(ctx context.Context, blogID, postID string) (*bloggerapi.Post, error) {
	return s.svc.Posts.Revert(blogID, postID).Context(ctx).Do()
}

func (s *sdkAPI) GetPost(ctx context.Context, blogID, postID string) (*bloggerapi.Post, error) {
	return s.svc.Posts.Get(blogID, postID).Context(ctx).Do()
}

func (s *sdkAPI) PatchPost(ctx context.Context, blogID, postID string, post *bloggerapi.Post) (*bloggerapi.Post, error) {
	return s.svc.Posts.Patch(blogID, postID, post).Context(ctx).Do()
}

func (s *sdkAPI) DeletePost(ctx context.Context, blogID, postID string) error {
	return s.svc.Posts.Delete(blogID, postID).Context(ctx).Do()
}

func (s *sdkAPI) SearchPosts(ctx context.Context, blogID, query string) ([]*bloggerapi.Post, error) {
	list, err := s.svc.Posts.Search(blogID, query).FetchBodies(false).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}
