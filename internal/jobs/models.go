package jobs

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"autoblog/internal/apperr"
	"autoblog/internal/publisher"
)

const (
	DefaultTone           = "professional"
	DefaultWordCount      = 800
	DefaultTargetLanguage = "ko"

	MinWordCount = 300
	MaxWordCount = 3000
)

type GenerationRequest struct {
	Topic          string `json:"topic"`
	Tone           string `json:"tone"`
	WordCount      int    `json:"word_count"`
	IncludeImages  *bool  `json:"include_images"`
	TargetLanguage string `json:"target_language"`
	Provider       string `json:"provider,omitempty"`
}

// Normalize applies defaults and validates r in place.
func (r *GenerationRequest) Normalize() error {
	const op = "generation.request"
	r.Topic = strings.TrimSpace(r.Topic)
	if n := utf8.RuneCountInString(r.Topic); n < 1 || n > 500 {
		return apperr.Validation(op, "topic must be between 1 and 500 characters")
	}
	r.Tone = strings.TrimSpace(r.Tone)
	if r.Tone == "" {
		r.Tone = DefaultTone
	}
	if utf8.RuneCountInString(r.Tone) > 50 {
		return apperr.Validation(op, "tone must be at most 50 characters")
	}
	if r.WordCount == 0 {
		r.WordCount = DefaultWordCount
	}
	if r.WordCount < MinWordCount || r.WordCount > MaxWordCount {
		return apperr.Validation(op, fmt.Sprintf("word_count must be between %d and %d", MinWordCount, MaxWordCount))
	}
	if r.IncludeImages == nil {
		v := true
		r.IncludeImages = &v
	}
	r.TargetLanguage = strings.TrimSpace(r.TargetLanguage)
	if r.TargetLanguage == "" {
		r.TargetLanguage = DefaultTargetLanguage
	}
	if utf8.RuneCountInString(r.TargetLanguage) > 10 {
		return apperr.Validation(op, "target_language must be at most 10 characters")
	}
	r.Provider = strings.ToLower(strings.TrimSpace(r.Provider))
	return nil
}

type GeneratedImage struct {
	Filename    string `json:"filename,omitempty"`
	URL         string `json:"url,omitempty"`
	AltText     string `json:"alt_text,omitempty"`
	Description string `json:"description,omitempty"`
}

type GeneratedContent struct {
	Title   string           `json:"title"`
	Content string           `json:"content"`
	Summary *string          `json:"summary"`
	Tags    []string         `json:"tags"`
	Images  []GeneratedImage `json:"images"`
}

type GenerationJob struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	Progress    float64           `json:"progress"`
	Request     GenerationRequest `json:"request"`
	Provider    string            `json:"provider,omitempty"`
	Model       string            `json:"model,omitempty"`
	Content     *GeneratedContent `json:"generated_content"`
	BundleID    string            `json:"bundle_id,omitempty"`
	Error       *string           `json:"error"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at"`
}

type PublishJob struct {
	ID           string             `json:"id"`
	BundleID     string             `json:"bundle_id"`
	PostIndex    int                `json:"post_index"`
	Platform     publisher.Platform `json:"platform"`
	Mode         publisher.Mode     `json:"mode"`
	ScheduledAt  *time.Time         `json:"scheduled_datetime"`
	Status       Status             `json:"status"`
	PublishedURL *string            `json:"published_url"`
	PostID       *string            `json:"post_id"`
	Error        *string            `json:"error"`
	RetryCount   int                `json:"retry_count"`
	LastRetryAt  *time.Time         `json:"last_retry_at"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	CompletedAt  *time.Time         `json:"completed_at"`
}

func StringPtr(s string) *string { return &s }
