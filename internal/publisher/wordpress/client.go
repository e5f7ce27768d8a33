package wordpress

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"autoblog/internal/apperr"
	"autoblog/internal/retry"
)

const (
	apiPrefix        = "/wp-json/wp/v2"
	userAgent        = "autoblog/1.0"
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 8 << 20
	termsPerPage     = 100
	maxTermPages     = 50
	termCreateTries  = 2
)

type Config struct {
	BaseURL  string
	Username string
	// Password is a WordPress application password.
	Password string
	Timeout  time.Duration
	Retry    retry.Policy
	Logger   zerolog.Logger

	HTTPClient *http.Client
}

// Client talks to the WordPress REST API.
type Client struct {
	base   string
	auth   string
	hc     *http.Client
	policy retry.Policy
	logger zerolog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, apperr.Config("wordpress.new", "base url, username and password are required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, apperr.Config("wordpress.new", fmt.Sprintf("invalid base url: %v", err))
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	token := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
	return &Client{
		base:   base,
		auth:   "Basic " + token,
		hc:     hc,
		policy: cfg.Retry,
		logger: cfg.Logger.With().Str("platform", "wordpress").Logger(),
	}, nil
}

type User struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Username     string          `json:"username"`
	Capabilities map[string]bool `json:"capabilities"`
}

type Media struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
	AltText   string `json:"alt_text"`
}

type Term struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type rendered struct {
	Rendered string `json:"rendered"`
}

// Post is the subset of a WordPress post object the publisher reads.
type Post struct {
	ID          int64    `json:"id"`
	Link        string   `json:"link"`
	Status      string   `json:"status"`
	Date        string   `json:"date"`
	DateGMT     string   `json:"date_gmt"`
	Modified    string   `json:"modified"`
	ModifiedGMT string   `json:"modified_gmt"`
	Title       rendered `json:"title"`
	Content     rendered `json:"content"`
}

// PostInput is the create/update payload. Zero fields are omitted.
type PostInput struct {
	Title         string  `json:"title,omitempty"`
	Content       string  `json:"content,omitempty"`
	Status        string  `json:"status,omitempty"`
	Slug          string  `json:"slug,omitempty"`
	Excerpt       string  `json:"excerpt,omitempty"`
	Categories    []int64 `json:"categories,omitempty"`
	Tags          []int64 `json:"tags,omitempty"`
	FeaturedMedia int64   `json:"featured_media,omitempty"`
	Date          string  `json:"date,omitempty"`
}

func (c *Client) TestConnection(ctx context.Context) (User, error) {
	var u User
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		body, err := c.do(ctx, "wordpress.test_connection", http.MethodGet, "/users/me", nil, nil, "")
		if err != nil {
			return err
		}
		return decode("wordpress.test_connection", body, &u)
	})
	return u, err
}

// UploadMedia sends one file and, when altText is set, updates the
// attachment's alt text afterwards.
func (c *Client) UploadMedia(ctx context.Context, filename string, data []byte, altText string) (Media, error) {
	var m Media
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		headers := map[string]string{
			"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": filename}),
		}
		body, _, err := c.doRaw(ctx, "wordpress.upload_media", http.MethodPost, "/media", nil, bytes.NewReader(data), "application/octet-stream", headers)
		if err != nil {
			return err
		}
		return decode("wordpress.upload_media", body, &m)
	})
	if err != nil {
		return Media{}, err
	}
	if altText != "" {
		path := "/media/" + strconv.FormatInt(m.ID, 10)
		if _, err := c.do(ctx, "wordpress.media_alt_text", http.MethodPost, path, nil, map[string]string{"alt_text": altText}, ""); err != nil {
			c.logger.Warn().Err(err).Int64("media_id", m.ID).Msg("set alt text failed")
		} else {
			m.AltText = altText
		}
	}
	return m, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]Term, error) {
	return c.listTerms(ctx, "categories")
}

func (c *Client) ListTags(ctx context.Context) ([]Term, error) {
	return c.listTerms(ctx, "tags")
}

func (c *Client) CreateCategory(ctx context.Context, name string) (Term, error) {
	return c.createTerm(ctx, "categories", name)
}

func (c *Client) CreateTag(ctx context.Context, name string) (Term, error) {
	return c.createTerm(ctx, "tags", name)
}

// EnsureCategories resolves names to ids, creating missing ones. Matching
// is case-insensitive and the result is aligned with names.
func (c *Client) EnsureCategories(ctx context.Context, names []string) ([]int64, error) {
	return c.ensureTerms(ctx, "categories", names)
}

func (c *Client) EnsureTags(ctx context.Context, names []string) ([]int64, error) {
	return c.ensureTerms(ctx, "tags", names)
}

func (c *Client) CreatePost(ctx context.Context, in PostInput) (Post, error) {
	var p Post
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		body, err := c.do(ctx, "wordpress.create_post", http.MethodPost, "/posts", nil, in, "")
		if err != nil {
			return err
		}
		return decode("wordpress.create_post", body, &p)
	})
	return p, err
}

// GetPost returns nil, nil when the post does not exist.
func (c *Client) GetPost(ctx context.Context, id string) (*Post, error) {
	p, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) (*Post, error) {
		body, err := c.do(ctx, "wordpress.get_post", http.MethodGet, "/posts/"+url.PathEscape(id), nil, nil, "")
		if err != nil {
			return nil, err
		}
		var p Post
		if err := decode("wordpress.get_post", body, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	return p, err
}

func (c *Client) UpdatePost(ctx context.Context, id string, in PostInput) (Post, error) {
	var p Post
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		body, err := c.do(ctx, "wordpress.update_post", http.MethodPost, "/posts/"+url.PathEscape(id), nil, in, "")
		if err != nil {
			return err
		}
		return decode("wordpress.update_post", body, &p)
	})
	return p, err
}

// DeletePost permanently removes a post. A missing post counts as deleted.
func (c *Client) DeletePost(ctx context.Context, id string) (bool, error) {
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		_, err := c.do(ctx, "wordpress.delete_post", http.MethodDelete, "/posts/"+url.PathEscape(id), url.Values{"force": {"true"}}, nil, "")
		return err
	})
	if err == nil || apperr.Is(err, apperr.KindNotFound) {
		return true, nil
	}
	return false, err
}

// listTerms walks every page of a taxonomy. WordPress caps per_page at 100
// and reports the page count in X-WP-TotalPages.
func (c *Client) listTerms(ctx context.Context, kind string) ([]Term, error) {
	op := "wordpress.list_" + kind
	var terms []Term
	for page := 1; page <= maxTermPages; page++ {
		var batch []Term
		var total int
		err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
			q := url.Values{"per_page": {strconv.Itoa(termsPerPage)}, "page": {strconv.Itoa(page)}}
			body, header, err := c.doRaw(ctx, op, http.MethodGet, "/"+kind, q, nil, "", nil)
			if err != nil {
				return err
			}
			total, _ = strconv.Atoi(header.Get("X-WP-TotalPages"))
			batch = nil
			return decode(op, body, &batch)
		})
		if err != nil {
			return nil, err
		}
		terms = append(terms, batch...)
		if total > 0 && page >= total {
			break
		}
		if total <= 0 && len(batch) < termsPerPage {
			break
		}
	}
	return terms, nil
}

// createTerm adds a term. When WordPress answers term_exists the id it
// reports is returned instead.
func (c *Client) createTerm(ctx context.Context, kind, name string) (Term, error) {
	op := "wordpress.create_" + kind
	policy := c.policy
	if policy.MaxRetries > termCreateTries {
		policy = policy.WithMaxRetries(termCreateTries)
	}
	var t Term
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		body, err := c.do(ctx, op, http.MethodPost, "/"+kind, nil, map[string]string{"name": name, "description": ""}, "")
		if err != nil {
			return err
		}
		return decode(op, body, &t)
	})
	if id, ok := existingTermID(err); ok {
		return Term{ID: id, Name: name}, nil
	}
	return t, err
}

func existingTermID(err error) (int64, bool) {
	var e *apperr.Error
	if !errors.As(err, &e) || e.StatusCode != http.StatusBadRequest {
		return 0, false
	}
	if gjson.Get(e.Message, "code").String() != "term_exists" {
		return 0, false
	}
	id := gjson.Get(e.Message, "data.term_id").Int()
	return id, id > 0
}

// termKey folds a term name for comparison. WordPress returns names with
// HTML entities escaped.
func termKey(name string) string {
	return strings.ToLower(strings.TrimSpace(html.UnescapeString(name)))
}

func (c *Client) ensureTerms(ctx context.Context, kind string, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	existing, err := c.listTerms(ctx, kind)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int64, len(existing))
	for _, t := range existing {
		byName[termKey(t.Name)] = t.ID
	}

	ids := make([]int64, 0, len(names))
	for _, name := range names {
		key := termKey(name)
		if id, ok := byName[key]; ok {
			ids = append(ids, id)
			continue
		}
		t, err := c.createTerm(ctx, kind, name)
		if err != nil {
			return nil, err
		}
		byName[key] = t.ID
		ids = append(ids, t.ID)
		c.logger.Info().Str("kind", kind).Str("name", name).Int64("id", t.ID).Msg("created term")
	}
	return ids, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any, contentType string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, op, fmt.Errorf("marshal payload: %w", err))
		}
		body = bytes.NewReader(raw)
		if contentType == "" {
			contentType = "application/json"
		}
	}
	raw, _, err := c.doRaw(ctx, op, method, path, query, body, contentType, nil)
	return raw, err
}

func (c *Client) doRaw(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string, headers map[string]string) ([]byte, http.Header, error) {
	endpoint := c.base + apiPrefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindConfig, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		return nil, nil, apperr.Transport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, apperr.Transport(op, fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, apperr.FromStatus(op, resp.StatusCode, raw)
	}
	return raw, resp.Header, nil
}

func decode(op string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Wrap(apperr.KindServer, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
