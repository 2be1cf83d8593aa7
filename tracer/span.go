// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"context"
	"crypto/rand"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tracelift/tracelift-go/ext"
)

// Span wraps an underlying SDK span together with this library's record of
// it. Callers must call Finish when a span is complete; ownership of the
// underlying span is exclusive to the wrapper that created it.
//
//	span, ctx := tracer.StartSpan(ctx, "orders.submit")
//	defer span.Finish()
type Span struct {
	mu       sync.Mutex
	tracer   *Tracer
	rec      *spanRecord
	otel     trace.Span
	ctx      context.Context
	finished bool
}

// StartSpan creates a span with the given operation name. If a span is found
// in ctx it becomes the parent of the resulting span; otherwise a remote
// parent provided via ChildOf is used. The returned context carries the new
// span as the ambient current span for downstream continuations.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...StartSpanOption) (*Span, context.Context) {
	cfg := StartSpanConfig{Kind: trace.SpanKindInternal}
	for _, fn := range opts {
		fn(&cfg)
	}
	return t.startSpan(ctx, name, &cfg)
}

func (t *Tracer) startSpan(ctx context.Context, name string, cfg *StartSpanConfig) (*Span, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, hasParent := SpanFromContext(ctx)
	if cfg.DetachedRoot {
		// A detached root records its surroundings as links, never as a
		// parent edge.
		hasParent = false
	}

	startOpts := []trace.SpanStartOption{trace.WithSpanKind(cfg.Kind)}
	if !cfg.StartTime.IsZero() {
		startOpts = append(startOpts, trace.WithTimestamp(cfg.StartTime))
	}
	octx := ctx
	if !hasParent && !cfg.DetachedRoot && cfg.Parent.IsValid() {
		octx = trace.ContextWithRemoteSpanContext(ctx, cfg.Parent)
	}
	if cfg.DetachedRoot {
		startOpts = append(startOpts, trace.WithNewRoot())
		if links := detachmentLinks(ctx, cfg); len(links) > 0 {
			startOpts = append(startOpts, trace.WithLinks(links...))
		}
	}
	octx, otelSpan := t.tracer.Start(octx, name, startOpts...)

	start := cfg.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	depth := 1
	var parentID trace.SpanID
	var inherited map[string]string
	if hasParent {
		depth = parent.rec.depth + 1
		parentID = parent.rec.spanID
		inherited = parent.rec.copyBaggage()
	}
	traceID, spanID := spanIdentity(otelSpan)
	rec := &spanRecord{
		otel:     otelSpan,
		traceID:  traceID,
		spanID:   spanID,
		parentID: parentID,
		name:     name,
		kind:     cfg.Kind,
		start:    start,
		depth:    depth,
		status:   codes.Unset,
		tags:     make(map[string]interface{}, len(cfg.Tags)+len(t.config.globalTags)+1),
		baggage:  inherited,
	}
	for k, v := range t.config.globalTags {
		rec.tags[k] = serializeTagValue(v)
	}
	for k, v := range cfg.Tags {
		rec.tags[k] = serializeTagValue(v)
	}
	rec.tags[ext.OperationDepth] = depth
	t.registry.insert(rec)

	s := &Span{tracer: t, rec: rec, otel: otelSpan}
	nctx := ContextWithSpan(octx, s)
	s.ctx = nctx
	t.notifyStarted(name, depth)
	return s, nctx
}

// detachmentLinks collects the causal links a detached root carries: the
// remote parent context passed by the caller and the prior ambient span, so
// both remain discoverable without being the structural parent.
func detachmentLinks(ctx context.Context, cfg *StartSpanConfig) []trace.Link {
	var links []trace.Link
	if cfg.Parent.IsValid() {
		links = append(links, trace.Link{SpanContext: cfg.Parent})
	}
	if prior, ok := SpanFromContext(ctx); ok {
		if sc := prior.otel.SpanContext(); sc.IsValid() {
			links = append(links, trace.Link{SpanContext: sc})
		}
	}
	return links
}

// spanIdentity reads the trace/span id pair off the SDK span, generating a
// random pair when the SDK is a no-op and produces invalid identifiers. The
// registry needs distinct ids regardless of the SDK in use.
func spanIdentity(s trace.Span) (trace.TraceID, trace.SpanID) {
	sc := s.SpanContext()
	if sc.IsValid() {
		return sc.TraceID(), sc.SpanID()
	}
	var tid trace.TraceID
	var sid trace.SpanID
	for !tid.IsValid() {
		rand.Read(tid[:])
	}
	for !sid.IsValid() {
		rand.Read(sid[:])
	}
	return tid, sid
}

// TraceID returns the identifier of the trace this span belongs to.
func (s *Span) TraceID() trace.TraceID { return s.rec.traceID }

// SpanID returns this span's identifier.
func (s *Span) SpanID() trace.SpanID { return s.rec.spanID }

// OperationName returns the span's current display name.
func (s *Span) OperationName() string { return s.rec.operationName() }

// SpanContext returns the underlying SDK span context.
func (s *Span) SpanContext() trace.SpanContext { return s.otel.SpanContext() }

// SetTag adds a tag to the span, overwriting pre-existing values for the
// given key. Non-primitive values are serialized to JSON text before being
// attached.
func (s *Span) SetTag(key string, value interface{}) *Span {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished {
		return s
	}
	s.rec.setTag(key, serializeTagValue(value))
	return s
}

// SetStatus sets the span status. A status of error, once set, is never
// downgraded by a later ok.
func (s *Span) SetStatus(code codes.Code, description string) *Span {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished {
		return s
	}
	r := s.rec
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == codes.Error && code != codes.Error {
		return s
	}
	r.status = code
	r.statusDesc = description
	return s
}

// RecordException marks the span as failed with the error's message,
// attaches exception tags and a structured exception event, and notifies the
// activity logger. Logger failures are swallowed; recording an exception
// never fails the instrumented operation.
func (s *Span) RecordException(err error) *Span {
	if err == nil {
		return s
	}
	s.SetStatus(codes.Error, err.Error())
	s.SetTag(ext.ErrorType, reflect.TypeOf(err).String())
	s.SetTag(ext.ErrorMsg, err.Error())
	s.SetTag(ext.ErrorStack, string(debug.Stack()))
	s.otel.AddEvent("exception", trace.WithAttributes(
		attribute.String("exception.type", reflect.TypeOf(err).String()),
		attribute.String("exception.message", err.Error()),
	))
	s.tracer.notifyException(s.rec.operationName(), err)
	return s
}

// AddEvent appends a timestamped event to the span.
func (s *Span) AddEvent(name string, attrs map[string]interface{}) *Span {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished {
		return s
	}
	s.otel.AddEvent(name, trace.WithAttributes(toAttributes(attrs)...))
	return s
}

// Finish closes the span. A status still unset is promoted to ok, the
// truncation pass runs against the accumulated tags, the activity logger is
// notified of completion, and the underlying span is ended. Finish is
// idempotent and guaranteed not to propagate collaborator failures.
func (s *Span) Finish(opts ...FinishOption) {
	var cfg FinishConfig
	for _, fn := range opts {
		fn(&cfg)
	}
	if cfg.Error != nil {
		s.RecordException(cfg.Error)
	}
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.mu.Unlock()
	s.close(&cfg)
}

func (s *Span) close(cfg *FinishConfig) {
	t := s.tracer
	r := s.rec
	r.mu.Lock()
	if r.status == codes.Unset {
		r.status = codes.Ok
	}
	status, desc := r.status, r.statusDesc
	r.mu.Unlock()

	// The overflow snapshot is read before tags are truncated in place; see
	// truncator.process.
	t.truncator.process(s.ctx, s)
	s.flushTags()
	s.otel.SetStatus(status, desc)
	t.notifyCompleted(r.operationName(), status, desc, time.Since(r.start))
	var endOpts []trace.SpanEndOption
	if !cfg.FinishTime.IsZero() {
		endOpts = append(endOpts, trace.WithTimestamp(cfg.FinishTime))
	}
	s.otel.End(endOpts...)
	t.registry.drop(r.spanID)
}

// flushTags applies the record's final tag set to the underlying SDK span.
// Tags are buffered on the record until here so the truncation pass can
// mutate them before they reach the SDK.
func (s *Span) flushTags() {
	r := s.rec
	r.mu.RLock()
	attrs := make([]attribute.KeyValue, 0, len(r.tags)+len(r.baggage))
	for k, v := range r.tags {
		attrs = append(attrs, toAttribute(k, v))
	}
	for k, v := range r.baggage {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.mu.RUnlock()
	s.otel.SetAttributes(attrs...)
}

// serializeTagValue passes primitive values through verbatim and serializes
// anything structured to JSON text.
func serializeTagValue(v interface{}) interface{} {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		time.Time, time.Duration, uuid.UUID:
		return v
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if text, err := sonic.MarshalString(v); err == nil {
		return text
	}
	return fmt.Sprint(v)
}

func toAttributes(m map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, toAttribute(k, serializeTagValue(v)))
	}
	return attrs
}

func toAttribute(key string, v interface{}) attribute.KeyValue {
	switch val := v.(type) {
	case bool:
		return attribute.Bool(key, val)
	case string:
		return attribute.String(key, val)
	case int:
		return attribute.Int(key, val)
	case int8:
		return attribute.Int64(key, int64(val))
	case int16:
		return attribute.Int64(key, int64(val))
	case int32:
		return attribute.Int64(key, int64(val))
	case int64:
		return attribute.Int64(key, val)
	case uint:
		return attribute.Int64(key, int64(val))
	case uint8:
		return attribute.Int64(key, int64(val))
	case uint16:
		return attribute.Int64(key, int64(val))
	case uint32:
		return attribute.Int64(key, int64(val))
	case uint64:
		return attribute.Int64(key, int64(val))
	case float32:
		return attribute.Float64(key, float64(val))
	case float64:
		return attribute.Float64(key, val)
	case time.Time:
		return attribute.String(key, val.Format(time.RFC3339Nano))
	case time.Duration:
		return attribute.String(key, val.String())
	case uuid.UUID:
		return attribute.String(key, val.String())
	default:
		return attribute.String(key, fmt.Sprint(val))
	}
}
