// ABOUTME: chi router assembling CORS, auth, timeouts, health checks and the socket endpoint
// ABOUTME: REST routes live under /api/messaging; /health and /health/ready are unauthenticated

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/2389/hostel-messaging/internal/auth"
)

// BasePath prefixes every REST route.
const BasePath = "/api/messaging"

// SocketPath is where the websocket endpoint is mounted.
const SocketPath = "/ws"

// readyTimeout bounds the store ping behind /health/ready.
const readyTimeout = 2 * time.Second

// RouterConfig wires the HTTP surface together.
type RouterConfig struct {
	Handler *Handler

	// Socket is mounted at SocketPath when non-nil
	Socket http.Handler

	// Verifier enables bearer auth on REST and socket routes; nil disables it
	Verifier auth.TokenVerifier

	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter builds the root HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		MaxAge:         300,
	}))

	// Health endpoints - no auth required
	r.Get("/health", handleHealth)
	r.Get("/health/ready", cfg.Handler.handleReady)

	r.Route(BasePath, func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(cfg.Verifier))
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		cfg.Handler.Routes(r)
	})

	if cfg.Socket != nil {
		// No request timeout: the connection outlives the handler deadline
		r.With(auth.HTTPAuthMiddleware(cfg.Verifier)).Get(SocketPath, cfg.Socket.ServeHTTP)
	}

	return r
}

// requestLogger logs each request at debug level with its status and latency.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// handleHealth returns 200 OK if the server is alive.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.svc.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("storage unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
