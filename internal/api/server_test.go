package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"autoblog/internal/apperr"
	"autoblog/internal/bundle"
	"autoblog/internal/jobs"
	"autoblog/internal/publisher"
	"autoblog/internal/publishing"
	"autoblog/internal/storage"
)

type fakeGeneration struct {
	submitted []jobs.GenerationRequest
	err       error
}

func (f *fakeGeneration) Submit(_ context.Context, req jobs.GenerationRequest) (jobs.GenerationJob, error) {
	if f.err != nil {
		return jobs.GenerationJob{}, f.err
	}
	f.submitted = append(f.submitted, req)
	return jobs.GenerationJob{ID: "g-1", Status: jobs.StatusInProgress, Request: req}, nil
}

func (f *fakeGeneration) Get(_ context.Context, id string) (jobs.GenerationJob, error) {
	if id != "g-1" {
		return jobs.GenerationJob{}, apperr.NotFound("jobs.get", "job "+id)
	}
	return jobs.GenerationJob{ID: "g-1", Status: jobs.StatusCompleted}, nil
}

func (f *fakeGeneration) List(_ context.Context, limit, offset int) ([]jobs.GenerationJob, error) {
	return []jobs.GenerationJob{{ID: "g-1"}}, nil
}

type fakePublishing struct {
	submitted []publishing.Request
	err       error
	connErr   error
	limit     int
	offset    int
	query     string
}

func (f *fakePublishing) Submit(_ context.Context, req publishing.Request) (jobs.PublishJob, error) {
	if f.err != nil {
		return jobs.PublishJob{}, f.err
	}
	f.submitted = append(f.submitted, req)
	return jobs.PublishJob{ID: "p-1", Status: jobs.StatusInProgress, Platform: publisher.Platform(req.Platform)}, nil
}

func (f *fakePublishing) Get(_ context.Context, id string) (jobs.PublishJob, error) {
	return jobs.PublishJob{ID: id}, nil
}

func (f *fakePublishing) List(_ context.Context, limit, offset int) ([]jobs.PublishJob, error) {
	f.limit, f.offset = limit, offset
	return nil, nil
}

func (f *fakePublishing) TestConnection(_ context.Context, platform string) (publisher.ConnectionInfo, error) {
	if f.connErr != nil {
		return publisher.ConnectionInfo{}, f.connErr
	}
	return publisher.ConnectionInfo{Platform: publisher.Platform(platform), Name: "My Blog"}, nil
}

func (f *fakePublishing) RevertToDraft(_ context.Context, platform, postID string) (publisher.PublishResult, error) {
	if platform != string(publisher.Blogger) {
		return publisher.PublishResult{}, apperr.Validation("publishing.revert_to_draft", platform+" cannot revert posts to draft")
	}
	if postID == "gone" {
		return publisher.Failure("UPDATE_FAILED", errors.New("post gone not found")), nil
	}
	return publisher.PublishResult{Success: true, PostID: postID}, nil
}

func (f *fakePublishing) Search(_ context.Context, platform, query string, limit int) ([]publisher.RemotePost, error) {
	if query == "" {
		return nil, apperr.Validation("publishing.search", "query is required")
	}
	f.query, f.limit = query, limit
	return []publisher.RemotePost{{ID: "b-1", Title: "Go tips"}}, nil
}

type fixture struct {
	srv     *httptest.Server
	gen     *fakeGeneration
	pub     *fakePublishing
	bundles *bundle.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "api.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{gen: &fakeGeneration{}, pub: &fakePublishing{}, bundles: bundle.NewManager(store)}
	s := New(Config{Generation: f.gen, Publishing: f.pub, Bundles: f.bundles, Logger: zerolog.Nop()})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/generation/generate", `{"topic":"Go generics","word_count":900}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "g-1", body["job_id"])
	require.Equal(t, "in_progress", body["status"])
	require.Contains(t, body["message"], "Go generics")
	require.Equal(t, 900, f.gen.submitted[0].WordCount)
}

func TestGenerateErrors(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/generation/generate", `{"topic":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation", body["kind"])

	f.gen.err = apperr.Validation("generation.request", "topic must be between 1 and 500 characters")
	resp, _ = f.do(t, http.MethodPost, "/api/v1/generation/generate", `{"topic":""}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerationJobLookup(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/v1/generation/jobs/g-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "completed", body["status"])

	resp, _ = f.do(t, http.MethodGet, "/api/v1/generation/jobs/nope", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/v1/generation/jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["jobs"], 1)
}

func TestPublishStatusMapping(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/publishing/publish", `{"bundle_id":"b-1","platform":"wordpress","mode":"draft"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "Publishing to wordpress started", body["message"])

	cases := []struct {
		err    error
		status int
	}{
		{apperr.New(apperr.KindRateLimit, "publishing.submit", "limit reached"), http.StatusTooManyRequests},
		{apperr.Config("publishing.submit", "blogger is not configured"), http.StatusServiceUnavailable},
		{apperr.NotFound("bundle.get", "bundle b-9"), http.StatusNotFound},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f.pub.err = tc.err
		resp, _ := f.do(t, http.MethodPost, "/api/v1/publishing/publish", `{"bundle_id":"b-1","platform":"wordpress"}`)
		require.Equal(t, tc.status, resp.StatusCode, tc.err.Error())
	}
}

func TestPublishJobsPaging(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/v1/publishing/jobs?limit=10&offset=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 10, f.pub.limit)
	require.Equal(t, 5, f.pub.offset)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/publishing/jobs?limit=1000", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTestConnection(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/publishing/test-connection/wordpress", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "success", body["status"])

	f.pub.connErr = apperr.FromStatus("wordpress.test_connection", 401, []byte("bad password"))
	resp, body = f.do(t, http.MethodPost, "/api/v1/publishing/test-connection/wordpress", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "error", body["status"])

	f.pub.connErr = apperr.Validation("publisher.platform", "unknown platform")
	resp, _ = f.do(t, http.MethodPost, "/api/v1/publishing/test-connection/medium", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBundleLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/bundles", `{"title":"Weekly","posts":[{"title":"One","content":"# One"}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["bundle_id"].(string)
	require.NotEmpty(t, id)

	resp, body = f.do(t, http.MethodPost, "/api/v1/bundles/"+id+"/posts", `{"title":"Two","content":"<p>two</p>","format":"html"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["bundle"].(map[string]any)["posts"], 2)

	resp, body = f.do(t, http.MethodGet, "/api/v1/bundles?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["count"])

	resp, _ = f.do(t, http.MethodGet, "/api/v1/bundles/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/bundles/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/bundles/"+id, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/v1/bundles/"+id, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBundleCreateRequiresTitle(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/v1/bundles", `{"title":"  "}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchPosts(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/v1/publishing/platforms/blogger/posts?q=go&limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["count"])
	require.Equal(t, "go", f.pub.query)
	require.Equal(t, 5, f.pub.limit)

	resp, body = f.do(t, http.MethodGet, "/api/v1/publishing/platforms/blogger/posts", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation", body["kind"])
}

func TestRevertPost(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/publishing/platforms/blogger/posts/b-7/revert", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.Equal(t, "b-7", body["post_id"])

	resp, body = f.do(t, http.MethodPost, "/api/v1/publishing/platforms/blogger/posts/gone/revert", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["success"])
	require.Equal(t, "UPDATE_FAILED", body["error_code"])

	resp, _ = f.do(t, http.MethodPost, "/api/v1/publishing/platforms/wordpress/posts/1/revert", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
