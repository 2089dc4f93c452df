// Package server implements the HTTP server that exposes the RAG API:
// question answering, ingestion control, and document/document-search
// passthroughs to the document-management service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paperless-rag/ragserver-go/internal/logging"
)

// New constructs a Server from its dependencies and config.
// If cfg.Logger is nil, [logging.New] is used.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Answer == nil {
		return nil, fmt.Errorf("server: Deps.Answer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8088
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Server{
		deps:     deps,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /ingest/history", s.handleIngestHistory)
	mux.HandleFunc("GET /documents/search", s.handleDocumentsSearch)
	mux.HandleFunc("GET /documents/{id}", s.handleDocument)
	mux.HandleFunc("GET /documents", s.handleDocuments)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = defaultRateLimit
	}
	rateBurst := cfg.RateBurst
	if rateBurst == 0 {
		rateBurst = defaultRateBurst
	}
	rl, stopRL := newRateLimiter(rateLimit, rateBurst, s.log)
	s.stopRL = stopRL

	handler := requestLogger(s.log, corsMiddleware(rl.middleware(s.metricsMiddleware(mux))))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.bgCancel()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.bgCancel()
		if s.stopRL != nil {
			s.stopRL()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// metricsMiddleware records httpRequestsTotal/httpDurationSeconds for every
// request handled by the mux, labeled by the matched route pattern rather
// than the raw path so cardinality stays bounded.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		handler := r.Pattern
		if handler == "" {
			handler = r.URL.Path
		}
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}

// allowedOriginPattern permits any origin — this server is intended for LAN
// deployment behind a reverse proxy or VPN, not public exposure, so origin
// restriction adds friction without real protection.
var allowedOriginPattern = regexp.MustCompile(`.*`)

// corsMiddleware applies a permissive CORS policy: any origin is echoed
// back, credentials are never allowed, and preflight OPTIONS requests are
// answered directly without reaching the mux.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowedOriginPattern.MatchString(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleIndex handles GET / with a brief self-description of the API.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	resp := indexResponseBody{
		Name:        "ragserver",
		Description: "Retrieval-augmented question answering over a document-management service.",
		Endpoints: []string{
			"GET /health", "GET /ready", "POST /ask", "POST /ingest",
			"GET /ingest/history", "GET /documents", "GET /documents/{id}",
			"GET /documents/search", "GET /stats", "GET /metrics",
		},
	}
	writeJSON(w, http.StatusOK, resp)
}
