package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoblog/internal/apperr"
)

type recordingPublisher struct {
	called string
	when   time.Time
}

func (r *recordingPublisher) Platform() Platform { return WordPress }
func (r *recordingPublisher) TestConnection(context.Context) (ConnectionInfo, error) {
	return ConnectionInfo{}, nil
}
func (r *recordingPublisher) PublishDraft(context.Context, Post) PublishResult {
	r.called = "draft"
	return PublishResult{Success: true}
}
func (r *recordingPublisher) PublishImmediately(context.Context, Post) PublishResult {
	r.called = "publish"
	return PublishResult{Success: true}
}
func (r *recordingPublisher) SchedulePublish(_ context.Context, _ Post, when time.Time) PublishResult {
	r.called = "schedule"
	r.when = when
	return PublishResult{Success: true}
}
func (r *recordingPublisher) GetPost(context.Context, string) (*RemotePost, error) { return nil, nil }
func (r *recordingPublisher) UpdatePost(context.Context, string, Post) PublishResult {
	return PublishResult{}
}
func (r *recordingPublisher) DeletePost(context.Context, string) (bool, error) { return true, nil }

func TestPublishRoutesByMode(t *testing.T) {
	ctx := context.Background()
	p := &recordingPublisher{}

	_, err := Publish(ctx, p, Post{}, ModeDraft, nil)
	require.NoError(t, err)
	require.Equal(t, "draft", p.called)

	_, err = Publish(ctx, p, Post{}, ModePublish, nil)
	require.NoError(t, err)
	require.Equal(t, "publish", p.called)

	when := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	_, err = Publish(ctx, p, Post{}, ModeSchedule, &when)
	require.NoError(t, err)
	require.Equal(t, "schedule", p.called)
	require.Equal(t, when, p.when)
}

func TestPublishScheduleWithoutTimeIsValidationError(t *testing.T) {
	p := &recordingPublisher{}
	_, err := Publish(context.Background(), p, Post{}, ModeSchedule, nil)
	require.True(t, apperr.Is(err, apperr.KindValidation))
	require.Empty(t, p.called)

	_, err = Publish(context.Background(), p, Post{}, Mode("later"), nil)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestParsePlatformAndMode(t *testing.T) {
	pl, err := ParsePlatform(" WordPress ")
	require.NoError(t, err)
	require.Equal(t, WordPress, pl)
	_, err = ParsePlatform("medium")
	require.Error(t, err)

	m, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeDraft, m)
	_, err = ParseMode("asap")
	require.Error(t, err)
}

func TestSanitizeHTML(t *testing.T) {
	in := "<p>a</p><SCRIPT type=\"text/javascript\">\nalert(1)\n</script><p>b</p><script>x()</script>"
	require.Equal(t, "<p>a</p><p>b</p>", SanitizeHTML(in))
}

func TestRewriteImageRefs(t *testing.T) {
	in := `<img src="images/cat.png"><img src='./cat.png'> ![cat](assets/cat.png) <img src="dog.png">`
	out := RewriteImageRefs(in, map[string]string{"cat.png": "https://cdn.example/cat.png"})
	require.Equal(t, `<img src="https://cdn.example/cat.png"><img src="https://cdn.example/cat.png"> ![cat](https://cdn.example/cat.png) <img src="dog.png">`, out)
}

func TestRewriteImageRefsSuffixCollision(t *testing.T) {
	urls := map[string]string{
		"banana.png": "https://cdn/uploads/banana.png",
		"a.png":      "https://cdn/uploads/a.png",
	}
	in := `<img src="banana.png"><img src="a.png"> ![b](img/banana.png) ![x](xa.png)`
	want := `<img src="https://cdn/uploads/banana.png"><img src="https://cdn/uploads/a.png"> ![b](https://cdn/uploads/banana.png) ![x](xa.png)`
	for i := 0; i < 20; i++ {
		require.Equal(t, want, RewriteImageRefs(in, urls))
	}
}

func TestRewriteImageRefsKeepsDollarSigns(t *testing.T) {
	out := RewriteImageRefs(`![a](a.png)`, map[string]string{"a.png": "https://cdn/$1/a.png"})
	require.Equal(t, `![a](https://cdn/$1/a.png)`, out)
}
