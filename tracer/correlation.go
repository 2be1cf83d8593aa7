// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/tracelift/tracelift-go/ext"
)

// GenerateCorrelationID returns a new globally unique correlation token in
// canonical 36-character form.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// CorrelationID returns the correlation id for the calling chain. Lookup
// order: baggage on the current span, a direct tag on the current span, the
// same two checks on each ancestor walking upward, the ambient fallback
// slot, and finally a freshly generated token which is stored before being
// returned. The result is never empty. The returned context must be used by
// downstream work so that a generated token remains visible on the chain.
func (t *Tracer) CorrelationID(ctx context.Context) (string, context.Context) {
	if id := t.lookupCorrelationID(ctx); id != "" {
		return id, ctx
	}
	id := GenerateCorrelationID()
	return id, t.SetCorrelationID(ctx, id)
}

// SetCorrelationID attaches the given correlation id to the calling chain:
// as a tag and a baggage entry on the current span when one is active, and
// always in the ambient fallback slot. An empty or whitespace-only id is
// substituted with a freshly generated one; it never persists as the token.
func (t *Tracer) SetCorrelationID(ctx context.Context, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		id = GenerateCorrelationID()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s, ok := SpanFromContext(ctx); ok {
		s.rec.setTag(ext.CorrelationID, id)
		s.rec.setBaggage(ext.CorrelationID, id)
	}
	return contextWithCorrelationSlot(ctx, id)
}

// lookupCorrelationID performs the read-only part of the lookup: span tree
// first, ambient fallback slot second. Returns the empty string when the
// chain carries no token.
func (t *Tracer) lookupCorrelationID(ctx context.Context) string {
	if s, ok := SpanFromContext(ctx); ok {
		if id := treeCorrelationID(t.registry, s.rec); id != "" {
			return id
		}
	}
	return correlationSlot(ctx)
}

// treeCorrelationID walks from rec to the tree root, checking baggage then
// tags at each level. The walk is a parent-id loop over the registry arena,
// bounded by tree depth.
func treeCorrelationID(reg *registry, rec *spanRecord) string {
	for cur := rec; cur != nil; cur = reg.lookup(cur.parentID) {
		if id := cur.baggageItem(ext.CorrelationID); id != "" {
			return id
		}
		if v, ok := cur.tag(ext.CorrelationID); ok {
			if id, ok := v.(string); ok && id != "" {
				return id
			}
		}
	}
	return ""
}
