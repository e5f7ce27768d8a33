package jobs

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoblog/internal/apperr"
	"autoblog/internal/publisher"
	"autoblog/internal/storage"
)

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusInProgress))
	require.True(t, CanTransition(StatusInProgress, StatusCompleted))
	require.True(t, CanTransition(StatusInProgress, StatusFailed))
	require.False(t, CanTransition(StatusCompleted, StatusInProgress))
	require.False(t, CanTransition(StatusFailed, StatusPending))
	require.False(t, CanTransition(StatusInProgress, StatusPending))
	require.True(t, StatusCancelled.Terminal())
	require.False(t, StatusInProgress.Terminal())
}

func TestGenerationRequestDefaults(t *testing.T) {
	r := GenerationRequest{Topic: "  Go generics  "}
	require.NoError(t, r.Normalize())
	require.Equal(t, "Go generics", r.Topic)
	require.Equal(t, "professional", r.Tone)
	require.Equal(t, 800, r.WordCount)
	require.Equal(t, "ko", r.TargetLanguage)
	require.NotNil(t, r.IncludeImages)
	require.True(t, *r.IncludeImages)
}

func TestGenerationRequestValidation(t *testing.T) {
	cases := []GenerationRequest{
		{Topic: ""},
		{Topic: string(make([]rune, 501))},
		{Topic: "x", WordCount: 299},
		{Topic: "x", WordCount: 3001},
		{Topic: "x", TargetLanguage: "much-too-long"},
	}
	for i, r := range cases {
		err := r.Normalize()
		require.True(t, apperr.Is(err, apperr.KindValidation), "case %d: %v", i, err)
	}
}

func newRepo(t *testing.T) *Repository {
	t.Helper()
	store, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "jobs.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewRepository(store)
}

func TestGenerationJobPersistsLosslessly(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	done := created.Add(time.Minute)
	summary := "short"

	job := GenerationJob{
		ID:       "g-1",
		Status:   StatusCompleted,
		Progress: 1,
		Request:  GenerationRequest{Topic: "t", Tone: "casual", WordCount: 900, TargetLanguage: "en"},
		Provider: "claude",
		Content: &GeneratedContent{
			Title:   "T",
			Content: "C",
			Summary: &summary,
			Tags:    []string{"a", "b"},
			Images:  []GeneratedImage{},
		},
		CreatedAt:   created,
		UpdatedAt:   done,
		CompletedAt: &done,
	}
	require.NoError(t, repo.SaveGeneration(ctx, job))

	got, err := repo.GetGeneration(ctx, "g-1")
	require.NoError(t, err)
	require.Equal(t, job.Content, got.Content)
	require.Equal(t, StatusCompleted, got.Status)
	require.True(t, got.CompletedAt.Equal(done))
}

func TestPublishJobWireShape(t *testing.T) {
	when := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	job := PublishJob{
		ID:          "p-1",
		BundleID:    "b-1",
		Platform:    publisher.Blogger,
		Mode:        publisher.ModeSchedule,
		ScheduledAt: &when,
		Status:      StatusInProgress,
	}
	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, "blogger", m["platform"])
	require.Equal(t, "schedule", m["mode"])
	require.Equal(t, "in_progress", m["status"])
	require.Equal(t, "2030-01-01T09:00:00Z", m["scheduled_datetime"])
}

func TestMissingJobIsNotFound(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.GetPublish(context.Background(), "missing")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}
