// Package api provides the HTTP server for StarkPass.
// It exposes the wallet session, the profile and its quest/credential flows,
// ecosystem stats and a live profile event feed.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starkpass/starkpass/internal/app/profile"
	"github.com/starkpass/starkpass/internal/app/wallet"
	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/observability"
)

// requestTimeout bounds every non-streaming request. It sits above the mint
// timeout so a timed-out mint still gets its own error response.
const requestTimeout = 2 * time.Minute

// Server is the StarkPass HTTP API server.
type Server struct {
	registry       *wallet.Registry
	sessions       *wallet.Store
	profile        *profile.Aggregator
	events         *EventHub
	tracer         *observability.Tracer
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(registry *wallet.Registry, sessions *wallet.Store, agg *profile.Aggregator) *Server {
	return &Server{registry: registry, sessions: sessions, profile: agg}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetEventHub sets the live profile event feed.
func (s *Server) SetEventHub(h *EventHub) { s.events = h }

// SetTracer exposes recent spans under /api/debug/spans.
func (s *Server) SetTracer(t *observability.Tracer) { s.tracer = t }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(traceMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/api/wallet", func(r chi.Router) {
			r.Get("/connectors", s.handleConnectors)
			r.Get("/session", s.handleSession)
			r.Post("/connect", s.handleConnect)
			r.Post("/disconnect", s.handleDisconnect)
			r.Post("/sign", s.handleSign)
		})

		r.Get("/api/profile", s.handleProfile)
		r.Post("/api/profile/reload", s.handleReload)
		r.Get("/api/quests", s.handleQuests)
		r.Post("/api/quests/{id}/complete", s.handleCompleteQuest)
		r.Get("/api/campaigns", s.handleCampaigns)
		r.Post("/api/credentials/{id}/claim", s.handleClaimCredential)
		r.Get("/api/stats", s.handleStats)
		r.Get("/api/export/{kind}", s.handleExport)

		if s.tracer != nil {
			r.Get("/api/debug/spans", s.handleSpans)
		}
	})

	// Streams outlive the request timeout.
	if s.events != nil {
		r.Get("/api/events", s.events.HandleSSE)
	}

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Responses ──────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code domain.Code, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": msg,
		},
	})
}

// writeDomainError maps err through the error taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	writeError(w, statusFor(code), code, domain.UserMessage(err))
}

// statusFor returns the HTTP status for an error code.
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeNotConnected:
		return http.StatusUnauthorized
	case domain.CodeConnectionRejected, domain.CodeNotEligible:
		return http.StatusForbidden
	case domain.CodeConnectorUnavailable, domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyCompleted, domain.CodeOperationInProgress,
		domain.CodeCampaignExhausted, domain.CodeSessionChanged:
		return http.StatusConflict
	case domain.CodeMintPending:
		return http.StatusAccepted
	case domain.CodeMintTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeMintFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// traceMiddleware uses the request id as the trace id of every span the
// request opens.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(observability.WithTraceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware counts requests by route pattern and status.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
