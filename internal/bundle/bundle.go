package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"autoblog/internal/apperr"
	"autoblog/internal/storage"
)

const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

type Image struct {
	Filename    string `json:"filename"`
	Data        []byte `json:"data,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	AltText     string `json:"alt_text,omitempty"`
}

type Post struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Format        string   `json:"format,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	Slug          string   `json:"slug,omitempty"`
	Excerpt       string   `json:"excerpt,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Labels        []string `json:"labels,omitempty"`
	FeaturedImage string   `json:"featured_image,omitempty"`
	Images        []Image  `json:"images,omitempty"`
}

type Bundle struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Posts       []Post         `json:"posts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Manager persists bundles in a record store.
type Manager struct {
	store storage.RecordStore
	now   func() time.Time
}

func NewManager(store storage.RecordStore) *Manager {
	return &Manager{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (m *Manager) Create(ctx context.Context, title, description string, posts []Post, metadata map[string]any) (Bundle, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Bundle{}, apperr.Validation("bundle.create", "title is required")
	}
	if posts == nil {
		posts = []Post{}
	}
	now := m.now()
	b := Bundle{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Posts:       posts,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.put(ctx, b); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// Save writes b, refreshing UpdatedAt.
func (m *Manager) Save(ctx context.Context, b Bundle) (Bundle, error) {
	if b.ID == "" {
		return Bundle{}, apperr.Validation("bundle.save", "id is required")
	}
	now := m.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if err := m.put(ctx, b); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Bundle, error) {
	rec, err := m.store.GetRecord(ctx, storage.Bundles, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Bundle{}, apperr.Wrap(apperr.KindNotFound, "bundle.get", fmt.Errorf("bundle %s: %w", id, err))
		}
		return Bundle{}, err
	}
	var b Bundle
	if err := json.Unmarshal(rec.Payload, &b); err != nil {
		return Bundle{}, fmt.Errorf("decode bundle %s: %w", id, err)
	}
	return b, nil
}

// List returns bundles newest first.
func (m *Manager) List(ctx context.Context, limit, offset int) ([]Bundle, error) {
	recs, err := m.store.ListRecords(ctx, storage.Bundles, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]Bundle, 0, len(recs))
	for _, rec := range recs {
		var b Bundle
		if err := json.Unmarshal(rec.Payload, &b); err != nil {
			return nil, fmt.Errorf("decode bundle %s: %w", rec.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteRecord(ctx, storage.Bundles, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Wrap(apperr.KindNotFound, "bundle.delete", fmt.Errorf("bundle %s: %w", id, err))
		}
		return err
	}
	return nil
}

func (m *Manager) AddPost(ctx context.Context, id string, post Post) (Bundle, error) {
	if strings.TrimSpace(post.Title) == "" {
		return Bundle{}, apperr.Validation("bundle.add_post", "post title is required")
	}
	b, err := m.Get(ctx, id)
	if err != nil {
		return Bundle{}, err
	}
	b.Posts = append(b.Posts, post)
	return m.Save(ctx, b)
}

func (m *Manager) put(ctx context.Context, b Bundle) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bundle %s: %w", b.ID, err)
	}
	return m.store.PutRecord(ctx, storage.Bundles, storage.Record{
		ID:        b.ID,
		Status:    "active",
		Payload:   payload,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	})
}
