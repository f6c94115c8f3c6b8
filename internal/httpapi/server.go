// Package httpapi serves the question-answering service as a JSON HTTP API.
//
// Routes:
//
//	GET    /healthz            liveness
//	GET    /v1/status          index and backend status
//	POST   /v1/query           retrieve context for a question
//	POST   /v1/ask             retrieve and generate an answer
//	POST   /v1/classify        route a question without retrieval
//	POST   /v1/index           ingest a path, replacing the corpus
//	DELETE /v1/sources/{id}    drop one source document
//
// The Prometheus handler and the MCP streamable transport are mounted when
// configured.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/amanrag/internal/corpus"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/rag"
	"github.com/Aman-CERP/amanrag/internal/router"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Backend is the service the API exposes. *rag.Service implements it.
type Backend interface {
	Query(ctx context.Context, req rag.QueryRequest) (*rag.QueryResponse, error)
	Ask(ctx context.Context, req rag.AskRequest) (*rag.AskResponse, error)
	Decide(ctx context.Context, question string) (router.Decision, error)
	IndexPath(ctx context.Context, path string, opts ...rag.IndexOption) (*rag.IndexResult, error)
	RemoveSource(ctx context.Context, sourceID string) (int, error)
	Status() rag.Status
}

var _ Backend = (*rag.Service)(nil)

// Options configures the optional mounts.
type Options struct {
	// Metrics records request counts and exposes /metrics. May be nil.
	Metrics *telemetry.Metrics

	// MetricsPath defaults to /metrics.
	MetricsPath string

	// MCP is mounted at /mcp when non-nil.
	MCP http.Handler

	// CorpusRoot confines POST /v1/index. Empty rejects every index request.
	CorpusRoot string
}

// Server routes HTTP requests to a Backend.
type Server struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
}

// New creates a server over backend.
func New(backend Backend, opts Options) (*Server, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &Server{backend: backend, opts: opts, logger: slog.Default()}, nil
}

// Handler returns the routed handler with request ID and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /v1/status", s.status)
	mux.HandleFunc("POST /v1/query", s.query)
	mux.HandleFunc("POST /v1/ask", s.ask)
	mux.HandleFunc("POST /v1/classify", s.classify)
	mux.HandleFunc("POST /v1/index", s.index)
	mux.HandleFunc("DELETE /v1/sources/{id}", s.removeSource)
	if s.opts.Metrics != nil {
		mux.Handle("GET "+s.opts.MetricsPath, s.opts.Metrics.Handler())
	}
	if s.opts.MCP != nil {
		mux.Handle("/mcp", s.opts.MCP)
	}
	return s.middleware(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_server_starting", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http_server_stopped")
	return nil
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req rag.QueryRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.backend.Query(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req rag.AskRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.backend.Ask(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type classifyRequest struct {
	Question string `json:"question"`
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, r, amerrors.New(amerrors.ErrCodeQueryEmpty, "question is required", nil))
		return
	}
	d, err := s.backend.Decide(r.Context(), req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"route": string(d.Route), "stage": string(d.Stage)})
}

type indexRequest struct {
	Path string `json:"path"`
}

type indexResponse struct {
	*rag.IndexResult
	Warning *amerrors.Payload `json:"warning,omitempty"`
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		s.writeError(w, r, amerrors.New(amerrors.ErrCodeInvalidPath, "path is required", nil))
		return
	}
	path, err := corpus.ResolveWithin(s.opts.CorpusRoot, req.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.backend.IndexPath(r.Context(), path)
	if err != nil && res == nil {
		s.writeError(w, r, err)
		return
	}
	out := indexResponse{IndexResult: res}
	if err != nil {
		// Published but not persisted.
		p := amerrors.ToPayload(err)
		out.Warning = &p
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) removeSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.backend.RemoveSource(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_id": id, "removed": n})
}

// =============================================================================
// Helpers
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, amerrors.ToPayload(
			amerrors.New(amerrors.ErrCodeInvalidInput, "invalid JSON body", err)))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	attrs := append([]slog.Attr{
		slog.String("request_id", w.Header().Get(RequestIDHeader)),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
	}, amerrors.LogAttrs(err)...)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.LogAttrs(r.Context(), level, "http_request_failed", attrs...)

	writeJSON(w, status, amerrors.ToPayload(err))
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	}

	ae, ok := amerrors.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ae.Code {
	case amerrors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case amerrors.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case amerrors.ErrCodeUnsupportedFile:
		return http.StatusUnsupportedMediaType
	case amerrors.ErrCodeCorpusLocked:
		return http.StatusConflict
	case amerrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	}
	switch ae.Category {
	case amerrors.CategoryValidation:
		return http.StatusBadRequest
	case amerrors.CategoryNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// =============================================================================
// Middleware
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps the MCP streamable transport working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// middleware assigns request IDs, logs requests and records metrics.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// r.Pattern is set by the mux; it keeps metric labels bounded.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		latency := time.Since(start)
		s.opts.Metrics.ObserveHTTP(r.Method, route, rec.status, latency)
		s.logger.Debug("http_request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Duration("duration", latency))
	})
}
