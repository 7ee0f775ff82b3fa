// Package api exposes the HTTP interface for the crawl and search service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/konduit/internal/crawler"
	"github.com/JakeFAU/konduit/internal/id/uuid"
	"github.com/JakeFAU/konduit/internal/metrics"
	"github.com/JakeFAU/konduit/internal/search"
	"github.com/JakeFAU/konduit/internal/storage/memory"
)

// Service is the crawl and search surface the handlers call.
type Service interface {
	Crawl(ctx context.Context, roots ...string) (search.CrawlReport, error)
	Search(ctx context.Context, q search.Query) (search.SearchReport, error)
	Sessions(ctx context.Context) []crawler.CrawlSession
	Session(ctx context.Context, id string) (memory.SessionEntry, error)
}

// Config tunes the HTTP layer.
type Config struct {
	RequestTimeout time.Duration
	// Ready reports downstream readiness; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the search service.
type Server struct {
	router chi.Router
	svc    Service
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Service, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/crawl", s.crawl)
		r.Post("/search", s.search)
		r.Get("/sessions", s.listSessions)
		r.Get("/sessions/{session_id}", s.getSession)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URL  string `json:"url"`
	URL2 string `json:"url2"`
}

type sessionView struct {
	ID       string              `json:"id"`
	Root     string              `json:"root"`
	Status   string              `json:"status"`
	Pages    int                 `json:"pages"`
	Blocked  []string            `json:"blocked"`
	Errors   []crawler.FailedURL `json:"errors"`
	Fallback string              `json:"fallback,omitempty"`
}

type crawlResponse struct {
	Success  bool          `json:"success"`
	Pages    int           `json:"pages"`
	Sessions []sessionView `json:"sessions"`
	Blocked  []string      `json:"blocked"`
	Message  string        `json:"message"`
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, err := search.Roots(req.URL, req.URL2); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.svc.Crawl(r.Context(), req.URL, req.URL2)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := crawlResponse{
		Success:  report.Success,
		Pages:    report.Pages,
		Sessions: make([]sessionView, 0, len(report.Sessions)),
		Blocked:  report.Blocked,
		Message:  report.Message,
	}
	for _, sess := range report.Sessions {
		resp.Sessions = append(resp.Sessions, viewOf(sess, nil, -1))
	}
	writeJSON(w, http.StatusOK, resp)
}

type searchRequest struct {
	Query string `json:"query"`
	URL   string `json:"url"`
	URL2  string `json:"url2"`
	Smart bool   `json:"smart"`
}

type resultView struct {
	URL           string  `json:"url"`
	Title         string  `json:"title,omitempty"`
	Content       string  `json:"content"`
	SemanticScore float64 `json:"semantic_score"`
	KeywordScore  float64 `json:"keyword_score"`
	FinalScore    float64 `json:"final_score"`
}

type searchResponse struct {
	Success  bool         `json:"success"`
	Results  []resultView `json:"results"`
	Summary  *string      `json:"summary,omitempty"`
	Blocked  []string     `json:"blocked"`
	Degraded bool         `json:"degraded"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	report, err := s.svc.Search(r.Context(), search.Query{
		Text:  req.Query,
		Roots: []string{req.URL, req.URL2},
		Smart: req.Smart,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := searchResponse{
		Success:  report.Success,
		Results:  make([]resultView, 0, len(report.Results)),
		Blocked:  report.Blocked,
		Degraded: report.Degraded,
	}
	for _, res := range report.Results {
		resp.Results = append(resp.Results, resultView{
			URL:           res.URL,
			Title:         res.Title,
			Content:       res.Chunk.Text,
			SemanticScore: res.SemanticScore,
			KeywordScore:  res.KeywordScore,
			FinalScore:    res.FinalScore,
		})
	}
	if report.Summary != "" {
		resp.Summary = &report.Summary
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.svc.Sessions(r.Context())
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, viewOf(sess, nil, -1))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if err := uuid.Validate(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := s.svc.Session(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": viewOf(entry.Session, entry.Fallback, entry.Pages.Len()),
		"pages":   entry.Pages.All(r.Context()),
	})
}

// viewOf flattens a session. pages < 0 means use the session's own count.
func viewOf(sess crawler.CrawlSession, fallback *crawler.CrawlSession, pages int) sessionView {
	v := sessionView{
		ID:      sess.ID,
		Root:    sess.RootURL,
		Status:  string(sess.Status),
		Pages:   sess.PagesStored,
		Blocked: append([]string{}, sess.Blocked...),
		Errors:  append([]crawler.FailedURL{}, sess.Errors...),
	}
	if fallback != nil {
		v.Fallback = fallback.RootURL
	}
	if pages >= 0 {
		v.Pages = pages
	}
	return v
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrInvalidQuery), errors.Is(err, crawler.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, crawler.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
