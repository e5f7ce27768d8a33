package publishing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"autoblog/internal/apperr"
	"autoblog/internal/bundle"
	"autoblog/internal/jobs"
	"autoblog/internal/publisher"
	"autoblog/internal/queue"
	"autoblog/internal/storage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakePublisher struct {
	platform publisher.Platform
	posts    []publisher.Post
	modes    []string
	when     *time.Time
	fail     bool
	// onPublish runs before a publish call is recorded.
	onPublish func()
}

func (f *fakePublisher) Platform() publisher.Platform { return f.platform }

func (f *fakePublisher) TestConnection(context.Context) (publisher.ConnectionInfo, error) {
	if f.fail {
		return publisher.ConnectionInfo{}, apperr.FromStatus("fake.test_connection", 401, nil)
	}
	return publisher.ConnectionInfo{Platform: f.platform, Name: "site"}, nil
}

func (f *fakePublisher) record(mode string, post publisher.Post) publisher.PublishResult {
	f.posts = append(f.posts, post)
	f.modes = append(f.modes, mode)
	if f.fail {
		return publisher.Failure("FAKE_FAILED", errors.New("platform said no"))
	}
	at := testNow
	return publisher.PublishResult{Success: true, PostID: "77", PostURL: "https://blog.example/77", PublishedAt: &at, Metadata: map[string]any{"status": mode}}
}

func (f *fakePublisher) PublishDraft(ctx context.Context, post publisher.Post) publisher.PublishResult {
	if f.onPublish != nil {
		f.onPublish()
	}
	if err := ctx.Err(); err != nil {
		return publisher.Failure("FAKE_CANCELLED", err)
	}
	return f.record("draft", post)
}

func (f *fakePublisher) PublishImmediately(_ context.Context, post publisher.Post) publisher.PublishResult {
	return f.record("publish", post)
}

func (f *fakePublisher) SchedulePublish(_ context.Context, post publisher.Post, when time.Time) publisher.PublishResult {
	f.when = &when
	return f.record("schedule", post)
}

func (f *fakePublisher) GetPost(context.Context, string) (*publisher.RemotePost, error) { return nil, nil }

func (f *fakePublisher) UpdatePost(context.Context, string, publisher.Post) publisher.PublishResult {
	return publisher.PublishResult{Success: true}
}

func (f *fakePublisher) DeletePost(context.Context, string) (bool, error) { return true, nil }

// fakeBlog adds the optional revert and search operations.
type fakeBlog struct {
	*fakePublisher
	reverted []string
}

func (f *fakeBlog) RevertToDraft(_ context.Context, id string) publisher.PublishResult {
	f.reverted = append(f.reverted, id)
	return publisher.PublishResult{Success: true, PostID: id, Metadata: map[string]any{"status": "DRAFT"}}
}

func (f *fakeBlog) Search(_ context.Context, query string, limit int) ([]publisher.RemotePost, error) {
	return []publisher.RemotePost{{ID: "b-1", Title: query}}[:min(limit, 1)], nil
}

type fakeQueue struct{ tasks []queue.Task }

func (q *fakeQueue) Enqueue(_ context.Context, t queue.Task) (string, error) {
	q.tasks = append(q.tasks, t)
	return "1-0", nil
}

type fakeLimiter struct {
	allow bool
	err   error
	scope string
}

func (l *fakeLimiter) Allow(_ context.Context, scope string, now time.Time) (bool, int64, time.Time, error) {
	l.scope = scope
	return l.allow, 1, now.Add(time.Hour), l.err
}

type fakeNotifier struct{ texts []string }

func (n *fakeNotifier) Notify(_ context.Context, text string) error {
	n.texts = append(n.texts, text)
	return errors.New("telegram unavailable")
}

type fixture struct {
	svc      *Service
	wp       *fakePublisher
	queue    *fakeQueue
	limiter  *fakeLimiter
	notifier *fakeNotifier
	bundle   bundle.Bundle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "p.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bundles := bundle.NewManager(store)
	b, err := bundles.Create(ctx, "Weekly", "", []bundle.Post{{
		Title:   "Hello",
		Content: "# Hello\n\n![cover](cover.png)\n\n| a | b |\n|---|---|\n| 1 | 2 |",
		Format:  bundle.FormatMarkdown,
		Summary: "sum",
		Tags:    []string{"go"},
		Images:  []bundle.Image{{Filename: "cover.png", Data: []byte{1}}},
	}}, nil)
	require.NoError(t, err)

	f := &fixture{
		wp:       &fakePublisher{platform: publisher.WordPress},
		queue:    &fakeQueue{},
		limiter:  &fakeLimiter{allow: true},
		notifier: &fakeNotifier{},
		bundle:   b,
	}
	f.svc = NewService(Config{
		Jobs:       jobs.NewRepository(store),
		Bundles:    bundles,
		Publishers: map[publisher.Platform]publisher.Publisher{publisher.WordPress: f.wp},
		Queue:      f.queue,
		Limiter:    f.limiter,
		Notifier:   f.notifier,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return testNow },
	})
	return f
}

func TestSubmitScheduleRequiresFutureTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := testNow.Add(-time.Minute)

	for _, when := range []*time.Time{nil, &past, &testNow} {
		_, err := f.svc.Submit(ctx, Request{BundleID: f.bundle.ID, Platform: "wordpress", Mode: "schedule", ScheduledAt: when})
		require.True(t, apperr.Is(err, apperr.KindValidation), err)
	}
	require.Empty(t, f.queue.tasks)
	require.Empty(t, f.wp.posts)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, Request{BundleID: f.bundle.ID, Platform: "medium"})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Submit(ctx, Request{BundleID: f.bundle.ID, Platform: "wordpress", Mode: "later"})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Submit(ctx, Request{BundleID: f.bundle.ID, Platform: "blogger"})
	require.True(t, apperr.Is(err, apperr.KindConfig))

	_, err = f.svc.Submit(ctx, Request{BundleID: "missing", Platform: "wordpress"})
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.Submit(ctx, Request{BundleID: f.bundle.ID, Platform: "wordpress", PostIndex: 3})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSubmitRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.allow = false
	_, err := f.svc.Submit(context.Background(), Request{BundleID: f.bundle.ID, Platform: "wordpress"})
	require.True(t, apperr.Is(err, apperr.KindRateLimit))
	require.Equal(t, "publish:wordpress", f.limiter.scope)
	require.Empty(t, f.queue.tasks)
}

func TestSubmitLimiterErrorFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.limiter.allow = false
	f.limiter.err = errors.New("redis down")
	_, err := f.svc.Submit(context.Background(), Request{BundleID: f.bundle.ID, Platform: "wordpress"})
	require.NoError(t, err)
}

func TestSubmitAndExecuteDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, Request{BundleID: f.bundle.ID, Platform: "WordPress"})
	require.NoError(t, err)
	require.Equal(t, jobs.StatusInProgress, job.Status)
	require.Equal(t, publisher.ModeDraft, job.Mode)
	require.Len(t, f.queue.tasks, 1)
	require.Equal(t, jobs.KindPublish, f.queue.tasks[0].Kind)

	require.NoError(t, f.svc.Execute(ctx, job.ID))

	done, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, done.Status)
	require.Equal(t, "https://blog.example/77", *done.PublishedURL)
	require.Equal(t, "77", *done.PostID)
	require.NotNil(t, done.CompletedAt)
	require.Zero(t, done.RetryCount)

	require.Equal(t, []string{"draft"}, f.wp.modes)
	sent := f.wp.posts[0]
	require.Equal(t, "Hello", sent.Metadata.Title)
	require.Equal(t, "sum", sent.Metadata.Excerpt)
	require.Contains(t, sent.Content, "<h1>Hello</h1>")
	require.Contains(t, sent.Content, "<table>")
	require.Len(t, sent.Images, 1)

	require.Len(t, f.notifier.texts, 1)
	require.Contains(t, f.notifier.texts[0], "https://blog.example/77")
}

func TestExecuteSchedulePassesTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	when := testNow.Add(48 * time.Hour)

	job, err := f.svc.Submit(ctx, Request{BundleID: f.bundle.ID, Platform: "wordpress", Mode: "schedule", ScheduledAt: &when})
	require.NoError(t, err)
	require.NoError(t, f.svc.Execute(ctx, job.ID))

	require.Equal(t, []string{"schedule"}, f.wp.modes)
	require.True(t, f.wp.when.Equal(when))
	require.Equal(t, when.Format(time.RFC3339), f.wp.posts[0].Metadata.Schedule["publish_at"])
}

func TestExecuteFailureRecordsError(t *testing.T) {
	f := newFixture(t)
	f.wp.fail = true
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, Request{BundleID: f.bundle.ID, Platform: "wordpress", Mode: "publish"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Execute(ctx, job.ID))

	failed, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, failed.Status)
	require.Contains(t, *failed.Error, "FAKE_FAILED")
	require.Contains(t, *failed.Error, "platform said no")
	require.Nil(t, failed.PublishedURL)
	require.Contains(t, f.notifier.texts[0], "failed")
}

func TestExecuteIsOncePerJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, err := f.svc.Submit(ctx, Request{BundleID: f.bundle.ID, Platform: "wordpress"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Execute(ctx, job.ID))
	require.NoError(t, f.svc.Execute(ctx, job.ID))
	require.Len(t, f.wp.posts, 1)
}

func TestBuildPostKeepsHTML(t *testing.T) {
	b := bundle.Bundle{Title: "Bundle title"}
	post, err := BuildPost(b, bundle.Post{Content: "<p>raw</p>", Format: bundle.FormatHTML, Labels: []string{"x"}})
	require.NoError(t, err)
	require.Equal(t, "<p>raw</p>", post.Content)
	require.Equal(t, "Bundle title", post.Metadata.Title)
	require.Equal(t, []string{"x"}, post.Metadata.Labels)
}

func TestTestConnection(t *testing.T) {
	f := newFixture(t)
	info, err := f.svc.TestConnection(context.Background(), "wordpress")
	require.NoError(t, err)
	require.Equal(t, "site", info.Name)

	_, err = f.svc.TestConnection(context.Background(), "blogger")
	require.True(t, apperr.Is(err, apperr.KindConfig))

	f.wp.fail = true
	_, err = f.svc.TestConnection(context.Background(), "wordpress")
	require.True(t, apperr.Is(err, apperr.KindAuth))

	require.Equal(t, []publisher.Platform{publisher.WordPress}, f.svc.Platforms())
}

func TestRevertAndSearchNeedPlatformSupport(t *testing.T) {
	f := newFixture(t)
	blog := &fakeBlog{fakePublisher: &fakePublisher{platform: publisher.Blogger}}
	f.svc.publishers[publisher.Blogger] = blog
	ctx := context.Background()

	res, err := f.svc.RevertToDraft(ctx, "blogger", "b-9")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, []string{"b-9"}, blog.reverted)

	_, err = f.svc.RevertToDraft(ctx, "blogger", " ")
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.RevertToDraft(ctx, "wordpress", "1")
	require.True(t, apperr.Is(err, apperr.KindValidation))

	posts, err := f.svc.Search(ctx, "blogger", "generics", 5)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "generics", posts[0].Title)

	_, err = f.svc.Search(ctx, "wordpress", "generics", 5)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Search(ctx, "medium", "generics", 5)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestExecuteInterruptedKeepsJobForRedelivery(t *testing.T) {
	f := newFixture(t)
	job, err := f.svc.Submit(context.Background(), Request{BundleID: f.bundle.ID, Platform: "wordpress"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f.wp.onPublish = cancel
	err = f.svc.Execute(ctx, job.ID)
	require.ErrorIs(t, err, jobs.ErrInterrupted)

	stored, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusInProgress, stored.Status)
	require.Contains(t, stored.Metadata, "started_at")
	require.Nil(t, stored.Error)
	require.Empty(t, f.notifier.texts)

	f.wp.onPublish = nil
	require.NoError(t, f.svc.Execute(context.Background(), job.ID))
	done, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, done.Status)
	require.Equal(t, 1, done.RetryCount)
	require.Len(t, f.notifier.texts, 1)
}
