// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// spanRecord is the library's own view of a live span: the mutable state the
// underlying SDK span does not let us read back. Records form an arena
// indexed by span id, each holding its parent's id, so upward walks are
// plain loops bounded by tree depth.
type spanRecord struct {
	mu sync.RWMutex

	otel     trace.Span
	traceID  trace.TraceID
	spanID   trace.SpanID
	parentID trace.SpanID

	name  string
	kind  trace.SpanKind
	start time.Time
	depth int

	status     codes.Code
	statusDesc string

	tags    map[string]interface{}
	baggage map[string]string
}

func (r *spanRecord) setTag(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[key] = value
}

func (r *spanRecord) tag(key string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.tags[key]
	return v, ok
}

func (r *spanRecord) setBaggage(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.baggage == nil {
		r.baggage = make(map[string]string, 1)
	}
	r.baggage[key] = value
}

func (r *spanRecord) baggageItem(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baggage[key]
}

// copyBaggage returns a copy of the record's baggage, for inheritance by a
// child record.
func (r *spanRecord) copyBaggage() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.baggage) == 0 {
		return nil
	}
	c := make(map[string]string, len(r.baggage))
	for k, v := range r.baggage {
		c[k] = v
	}
	return c
}

func (r *spanRecord) rename(name string) {
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
	r.otel.SetName(name)
}

func (r *spanRecord) operationName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// registry is the arena of live span records. Records are inserted when a
// wrapper creates a span and dropped when the owning wrapper finishes it.
type registry struct {
	mu    sync.RWMutex
	spans map[trace.SpanID]*spanRecord
}

func newRegistry() *registry {
	return &registry{spans: make(map[trace.SpanID]*spanRecord)}
}

func (g *registry) insert(rec *spanRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spans[rec.spanID] = rec
}

func (g *registry) lookup(id trace.SpanID) *spanRecord {
	if !id.IsValid() {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.spans[id]
}

func (g *registry) drop(id trace.SpanID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.spans, id)
}

// rootOf walks parent ids upward from rec and returns the highest live
// ancestor, which is rec itself for root spans. Finished ancestors have been
// dropped from the arena, so the walk stops at the highest record still
// alive.
func (g *registry) rootOf(rec *spanRecord) *spanRecord {
	cur := rec
	for cur != nil {
		parent := g.lookup(cur.parentID)
		if parent == nil {
			return cur
		}
		cur = parent
	}
	return nil
}
