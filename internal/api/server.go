package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"autoblog/internal/apperr"
	"autoblog/internal/bundle"
	"autoblog/internal/jobs"
	"autoblog/internal/publisher"
	"autoblog/internal/publishing"
)

const maxBodyBytes = 32 << 20

type Generation interface {
	Submit(ctx context.Context, req jobs.GenerationRequest) (jobs.GenerationJob, error)
	Get(ctx context.Context, id string) (jobs.GenerationJob, error)
	List(ctx context.Context, limit, offset int) ([]jobs.GenerationJob, error)
}

type Publishing interface {
	Submit(ctx context.Context, req publishing.Request) (jobs.PublishJob, error)
	Get(ctx context.Context, id string) (jobs.PublishJob, error)
	List(ctx context.Context, limit, offset int) ([]jobs.PublishJob, error)
	TestConnection(ctx context.Context, platform string) (publisher.ConnectionInfo, error)
	RevertToDraft(ctx context.Context, platform, postID string) (publisher.PublishResult, error)
	Search(ctx context.Context, platform, query string, limit int) ([]publisher.RemotePost, error)
}

type Bundles interface {
	Create(ctx context.Context, title, description string, posts []bundle.Post, metadata map[string]any) (bundle.Bundle, error)
	Get(ctx context.Context, id string) (bundle.Bundle, error)
	List(ctx context.Context, limit, offset int) ([]bundle.Bundle, error)
	Delete(ctx context.Context, id string) error
	AddPost(ctx context.Context, id string, post bundle.Post) (bundle.Bundle, error)
}

type Config struct {
	Generation Generation
	Publishing Publishing
	Bundles    Bundles
	Logger     zerolog.Logger
	// RequestTimeout bounds every handler; test-connection calls reach
	// the CMS synchronously.
	RequestTimeout time.Duration
}

type Server struct {
	gen     Generation
	pub     Publishing
	bundles Bundles
	logger  zerolog.Logger
	timeout time.Duration
}

func New(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Server{
		gen:     cfg.Generation,
		pub:     cfg.Publishing,
		bundles: cfg.Bundles,
		logger:  cfg.Logger.With().Str("component", "api").Logger(),
		timeout: cfg.RequestTimeout,
	}
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/generation/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/v1/generation/jobs", s.handleGenerationJobs)
	mux.HandleFunc("GET /api/v1/generation/jobs/{id}", s.handleGenerationJob)

	mux.HandleFunc("POST /api/v1/publishing/publish", s.handlePublish)
	mux.HandleFunc("GET /api/v1/publishing/jobs", s.handlePublishJobs)
	mux.HandleFunc("GET /api/v1/publishing/jobs/{id}", s.handlePublishJob)
	mux.HandleFunc("POST /api/v1/publishing/test-connection/{platform}", s.handleTestConnection)
	mux.HandleFunc("GET /api/v1/publishing/platforms/{platform}/posts", s.handleSearchPosts)
	mux.HandleFunc("POST /api/v1/publishing/platforms/{platform}/posts/{id}/revert", s.handleRevertPost)

	mux.HandleFunc("POST /api/v1/bundles", s.handleBundleCreate)
	mux.HandleFunc("GET /api/v1/bundles", s.handleBundleList)
	mux.HandleFunc("GET /api/v1/bundles/{id}", s.handleBundleGet)
	mux.HandleFunc("DELETE /api/v1/bundles/{id}", s.handleBundleDelete)
	mux.HandleFunc("POST /api/v1/bundles/{id}/posts", s.handleBundleAddPost)
}

// Handler returns the API routes wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return s.logRequests(mux)
}

type jobResponse struct {
	JobID   string      `json:"job_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req jobs.GenerationRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.gen.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: fmt.Sprintf("Content generation started for topic: %s", job.Request.Topic),
	})
}

func (s *Server) handleGenerationJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := s.page(w, r)
	if !ok {
		return
	}
	list, err := s.gen.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleGenerationJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.gen.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishing.Request
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.pub.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: fmt.Sprintf("Publishing to %s started", job.Platform),
	})
}

func (s *Server) handlePublishJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := s.page(w, r)
	if !ok {
		return
	}
	list, err := s.pub.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handlePublishJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.pub.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleTestConnection reports platform failures in the body; only bad
// input and missing configuration change the status code.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	info, err := s.pub.TestConnection(r.Context(), r.PathValue("platform"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": info})
	case apperr.Is(err, apperr.KindValidation), apperr.Is(err, apperr.KindConfig):
		s.writeError(w, r, err)
	default:
		s.logger.Warn().Err(err).Str("platform", r.PathValue("platform")).Msg("connection test failed")
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": err.Error()})
	}
}

func (s *Server) handleSearchPosts(w http.ResponseWriter, r *http.Request) {
	limit, _, ok := s.page(w, r)
	if !ok {
		return
	}
	posts, err := s.pub.Search(r.Context(), r.PathValue("platform"), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts, "count": len(posts)})
}

// handleRevertPost mirrors publish jobs: platform failures are reported in
// the result body.
func (s *Server) handleRevertPost(w http.ResponseWriter, r *http.Request) {
	res, err := s.pub.RevertToDraft(r.Context(), r.PathValue("platform"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type bundleCreateRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Posts       []bundle.Post  `json:"posts"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) handleBundleCreate(w http.ResponseWriter, r *http.Request) {
	var req bundleCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.bundles.Create(r.Context(), req.Title, req.Description, req.Posts, req.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bundle_id": b.ID, "bundle": b})
}

func (s *Server) handleBundleList(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := s.page(w, r)
	if !ok {
		return
	}
	list, err := s.bundles.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bundles": list, "count": len(list)})
}

func (s *Server) handleBundleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, err := s.bundles.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bundle_id": id, "bundle": b})
}

func (s *Server) handleBundleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.bundles.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("Bundle %s deleted successfully", id)})
}

func (s *Server) handleBundleAddPost(w http.ResponseWriter, r *http.Request) {
	var post bundle.Post
	if !s.decode(w, r, &post) {
		return
	}
	id := r.PathValue("id")
	b, err := s.bundles.AddPost(r.Context(), id, post)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bundle_id": id, "bundle": b})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		s.writeError(w, r, apperr.Validation("api.decode", "invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

// page reads limit (1..100, default 50) and offset (>= 0) query parameters.
func (s *Server) page(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, offset := 50, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			s.writeError(w, r, apperr.Validation("api.page", "limit must be between 1 and 100"))
			return 0, 0, false
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, apperr.Validation("api.page", "offset must be >= 0"))
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

type errorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= 500 {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: apperr.KindOf(err)})
}

// StatusFor maps an error to the HTTP status returned to API callers.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindRateLimit:
		return http.StatusTooManyRequests
	case apperr.KindConfig:
		return http.StatusServiceUnavailable
	case apperr.KindAuth, apperr.KindTransport, apperr.KindServer:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
