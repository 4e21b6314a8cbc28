package observability

import (
	"context"
	"errors"
	"testing"
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

func TestTracer_StartEnd_RecordsSpan(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())

	_, span := tr.StartSpan(context.Background(), "profile.load", map[string]string{"address": "0xabc"})
	tr.EndSpan(span, nil)

	if tr.SpanCount() != 1 {
		t.Fatalf("SpanCount() = %d, want 1", tr.SpanCount())
	}
	spans := tr.Spans(1)
	if spans[0].Operation != "profile.load" {
		t.Errorf("Operation = %q, want %q", spans[0].Operation, "profile.load")
	}
	if spans[0].Status != SpanOK {
		t.Errorf("Status = %d, want SpanOK", spans[0].Status)
	}
	if spans[0].EndTime.Before(spans[0].StartTime) {
		t.Error("EndTime should not be before StartTime")
	}
	if spans[0].Attrs["address"] != "0xabc" {
		t.Errorf("Attrs[address] = %q", spans[0].Attrs["address"])
	}
}

func TestTracer_EndSpan_RecordsError(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())

	_, span := tr.StartSpan(context.Background(), "ledger.mint", nil)
	tr.EndSpan(span, errors.New("boom"))

	spans := tr.Spans(1)
	if spans[0].Status != SpanError {
		t.Errorf("Status = %d, want SpanError", spans[0].Status)
	}
	if spans[0].Attrs["error"] != "boom" {
		t.Errorf("error attr = %q, want %q", spans[0].Attrs["error"], "boom")
	}
}

func TestTracer_Disabled(t *testing.T) {
	tr := NewTracer(TracerConfig{Enabled: false, MaxSpans: 100})
	_, span := tr.StartSpan(context.Background(), "noop", nil)
	tr.EndSpan(span, nil)

	if tr.SpanCount() != 0 {
		t.Errorf("disabled tracer SpanCount() = %d, want 0", tr.SpanCount())
	}
}

func TestTracer_NilIsNoop(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartSpan(context.Background(), "noop", nil)
	tr.EndSpan(span, nil)
	if ctx == nil || span == nil {
		t.Fatal("nil tracer should still return a context and span")
	}
}

func TestTracer_RingBuffer_Overflow(t *testing.T) {
	tr := NewTracer(TracerConfig{Enabled: true, MaxSpans: 3})

	for i := 0; i < 5; i++ {
		_, span := tr.StartSpan(context.Background(), "op", nil)
		tr.EndSpan(span, nil)
	}

	if tr.SpanCount() != 3 {
		t.Errorf("SpanCount() = %d, want 3 (ring buffer overflow)", tr.SpanCount())
	}
}

func TestTracer_Spans_Limit(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	for i := 0; i < 10; i++ {
		_, span := tr.StartSpan(context.Background(), "op", nil)
		tr.EndSpan(span, nil)
	}

	if got := len(tr.Spans(3)); got != 3 {
		t.Errorf("Spans(3) returned %d, want 3", got)
	}
	if got := len(tr.Spans(0)); got != 10 {
		t.Errorf("Spans(0) returned %d, want all 10", got)
	}

	tr.Reset()
	if tr.SpanCount() != 0 {
		t.Errorf("SpanCount() after Reset = %d, want 0", tr.SpanCount())
	}
}

// ─── Context Propagation ────────────────────────────────────────────────────

func TestTracer_ContextPropagation(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	ctx := WithTraceID(context.Background(), "trace-abc")

	ctx, parent := tr.StartSpan(ctx, "quest.complete", nil)
	_, child := tr.StartSpan(ctx, "ledger.mint", nil)
	tr.EndSpan(child, nil)
	tr.EndSpan(parent, nil)

	spans := tr.Spans(2)
	if spans[0].TraceID != "trace-abc" || spans[1].TraceID != "trace-abc" {
		t.Errorf("trace ids = %q, %q, want trace-abc", spans[0].TraceID, spans[1].TraceID)
	}
	if spans[0].ParentID != parent.SpanID {
		t.Errorf("child ParentID = %q, want %q", spans[0].ParentID, parent.SpanID)
	}
	if TraceIDFromContext(ctx) != "trace-abc" {
		t.Error("TraceIDFromContext lost the trace id")
	}
}

func TestTracer_AutoGeneratesTraceID(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())

	_, span1 := tr.StartSpan(context.Background(), "op1", nil)
	_, span2 := tr.StartSpan(context.Background(), "op2", nil)

	if span1.TraceID == "" {
		t.Error("TraceID should be auto-generated, got empty")
	}
	if span1.SpanID == span2.SpanID {
		t.Errorf("SpanIDs should be unique, both = %q", span1.SpanID)
	}
}
