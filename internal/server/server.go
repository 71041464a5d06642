// Package server exposes the RAG engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"manual-rag/internal/llm"
	"manual-rag/internal/logging"
	"manual-rag/internal/rag"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// ChatRequest is the body of POST /chat/rag
type ChatRequest struct {
	Question string `json:"question"`
}

// ChatResponse is returned for an answered question
type ChatResponse struct {
	Answer string `json:"answer"`
}

// ErrorResponse is returned for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}

// Server serves questions against one engine
type Server struct {
	engine          *rag.Engine
	logger          *zap.Logger
	router          *mux.Router
	registry        *prometheus.Registry
	metrics         *metrics
	addr            string
	shutdownTimeout time.Duration
}

// New creates a server listening on addr once Run is called
func New(engine *rag.Engine, addr string, shutdownTimeout time.Duration, logger *zap.Logger) *Server {
	registry := prometheus.NewRegistry()
	s := &Server{
		engine:          engine,
		logger:          logging.OrNop(logger),
		router:          mux.NewRouter(),
		registry:        registry,
		metrics:         newMetrics(registry),
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.instrument)
	s.router.HandleFunc("/chat/rag", s.handleChat).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("server exited")
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.engine.Ask(r.Context(), req.Question)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("chat request failed", zap.Int("status", status), zap.Error(err))
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.metrics.retrieved.Observe(float64(len(resp.Sources)))

	s.writeJSON(w, http.StatusOK, ChatResponse{Answer: resp.Answer})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Retriever.Searcher.Len(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Chunks: n})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// instrument logs every request and records its metrics
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		duration := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		s.metrics.requests.WithLabelValues(route, r.Method, strconv.Itoa(wrapper.statusCode)).Inc()
		s.metrics.latency.WithLabelValues(route).Observe(duration.Seconds())

		s.logger.Info("HTTP request processed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapper.statusCode),
			zap.Duration("duration", duration))
	})
}

// responseWrapper captures the status code for logging and metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
