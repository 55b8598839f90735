// Package api exposes the lifecycle engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/bootstrap"
	"github.com/Lllllllleong/drawingmigration/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP front of one Engine.
type Server struct {
	engine *bootstrap.Engine
	logger *slog.Logger
}

// NewServer creates a server for engine.
func NewServer(engine *bootstrap.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/documents", s.handleListDocuments)
		r.Get("/drafts", s.handleListDrafts)

		r.Route("/documents/{name}", func(r chi.Router) {
			r.Post("/open", s.handleOpenDocument)
			r.Get("/", s.handleGetDocument)
			r.Delete("/", s.handleCloseDocument)
			r.Post("/sync", s.handleSyncDocument)
			r.Put("/fields", s.handleSetCommonField)
			r.Post("/revision", s.handleEvaluateRevision)
			r.Post("/submit", s.handleSubmitDocument)
			r.Post("/drafts", s.handleSaveDraft)
			r.Post("/drafts/restore", s.handleRestoreDraft)
			r.Delete("/drafts", s.handleDeleteDraft)

			r.Route("/pages/{page}", func(r chi.Router) {
				r.Put("/fields", s.handleSetPageField)
				r.Post("/transition", s.handleTransitionPage)
				r.Post("/skip", s.handleSkipPage)
				r.Post("/reopen", s.handleReopenPage)
				r.Post("/submit", s.handleSubmitPage)
			})
		})

		r.Get("/items/{id}/versions", s.handleListVersions)
		r.Post("/items/{id}/moderation", s.handleModeration)
		r.Post("/folders", s.handleEnsureFolder)
		r.Post("/moves", s.handleMove)
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
				"requestId", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// documentName returns the {name} parameter. Names containing slashes are
// sent escaped.
func documentName(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorBody{Error: message})
}

type errorBody struct {
	Error   string      `json:"error"`
	Kind    string      `json:"kind,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// respondDomainError maps error kinds to status codes. Anything without a
// kind came from the repository and is reported as a bad gateway.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: kind}
	var de *services.DomainError
	if errors.As(err, &de) {
		body.Details = de.Details
	}
	if status == http.StatusBadGateway {
		s.logger.Error("Repository call failed", "path", r.URL.Path, "error", err)
	}
	s.respondJSON(w, status, body)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrClosed):
		return http.StatusConflict, "closed"
	case errors.Is(err, services.ErrValidationFailed):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, services.ErrStalled):
		return http.StatusGatewayTimeout, "stalled"
	default:
		return http.StatusBadGateway, "repository_error"
	}
}
