// Package observability holds the operation tracer and Prometheus metrics.
//
// This provides:
//   - Spans for wallet, profile and ledger operations, kept in a ring buffer
//   - Prometheus metrics for sessions, mints, caches and the HTTP surface
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans
// ═══════════════════════════════════════════════════════════════════════════

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Span represents one traced operation.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer records recent spans in memory for inspection via the API.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 1_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 1_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a new span. The returned context carries the span id so
// nested spans link to it. A nil tracer is valid and records nothing.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) (context.Context, *Span) {
	if t == nil || !t.enabled {
		return ctx, &Span{Operation: operation}
	}

	traceID, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		traceID = uuid.NewString()
		ctx = WithTraceID(ctx, traceID)
	}
	span := &Span{
		TraceID:   traceID,
		SpanID:    uuid.NewString(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
	return WithSpanID(ctx, span.SpanID), span
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if t == nil || !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "starkpass-trace-id"
	spanIDKey  contextKey = "starkpass-span-id"
)

// WithTraceID returns a context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context with the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

// TraceIDFromContext returns the trace id carried by ctx, if any.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Session Metrics ────────────────────────────────────────────────────────

// SessionConnected is 1 while a wallet session is connected.
var SessionConnected = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "starkpass",
	Subsystem: "session",
	Name:      "connected",
	Help:      "Whether a wallet session is currently connected (1) or not (0).",
})

// SessionTransitions counts session state transitions.
var SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "session",
	Name:      "transitions_total",
	Help:      "Total wallet session transitions by target state.",
}, []string{"state"})

// ConnectAttempts counts connect attempts by connector and outcome.
var ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "session",
	Name:      "connect_attempts_total",
	Help:      "Total connect attempts by connector and outcome.",
}, []string{"connector", "outcome"})

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// MintsTotal counts mints by token kind and outcome.
var MintsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "ledger",
	Name:      "mints_total",
	Help:      "Total mint attempts by token kind and outcome.",
}, []string{"kind", "outcome"})

// MintLatency tracks mint latency until confirmation.
var MintLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "starkpass",
	Subsystem: "ledger",
	Name:      "mint_latency_seconds",
	Help:      "Mint latency until confirmation in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
}, []string{"kind"})

// LedgerReads counts ledger read calls by operation and outcome.
var LedgerReads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "ledger",
	Name:      "reads_total",
	Help:      "Total ledger read calls by operation and outcome.",
}, []string{"op", "outcome"})

// ─── Cache Metrics ──────────────────────────────────────────────────────────

// CacheLookups counts cache lookups by cache name and result.
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Total cache lookups by cache and result (hit/miss).",
}, []string{"cache", "result"})

// CacheInvalidations counts explicit invalidations.
var CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "cache",
	Name:      "invalidations_total",
	Help:      "Total cache invalidations by cache.",
}, []string{"cache"})

// CacheEvictions counts least-recently-used evictions.
var CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "cache",
	Name:      "evictions_total",
	Help:      "Total cache evictions by cache.",
}, []string{"cache"})

// ─── Profile Metrics ────────────────────────────────────────────────────────

// QuestsCompleted counts committed quest completions.
var QuestsCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "profile",
	Name:      "quests_completed_total",
	Help:      "Total quest completions committed to a profile.",
})

// CredentialsClaimed counts committed credential claims.
var CredentialsClaimed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "profile",
	Name:      "credentials_claimed_total",
	Help:      "Total credential claims committed to a profile.",
})

// StaleResults counts async results discarded because the session moved on.
var StaleResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "profile",
	Name:      "stale_results_total",
	Help:      "Async results discarded because the wallet session changed.",
}, []string{"op"})

// ─── HTTP Metrics ───────────────────────────────────────────────────────────

// HTTPRequests counts API requests by route and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total HTTP requests by route pattern and status code.",
}, []string{"route", "status"})

// EventSubscribers tracks connected SSE clients.
var EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "starkpass",
	Subsystem: "http",
	Name:      "event_subscribers",
	Help:      "Number of connected event stream subscribers.",
})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "starkpass",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
