// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// RootSpan is the root variant of the span lifecycle wrapper, used by
// background and worker code that needs to force a new trace root or rename
// an inherited one. It remembers the ambient context captured at open so
// Finish can hand it back, which matters for thread-reusing worker loops
// processing unrelated jobs in sequence.
type RootSpan struct {
	*Span
	prior   context.Context
	created bool
}

// StartRootSpan opens a root span named name.
//
// With WithDetachedRoot the span starts a new trace: the prior ambient span
// and any remote parent passed via ChildOf are recorded as causal links
// rather than parent edges, so both remain discoverable while the new trace
// stays structurally detached.
//
// Without it, the current tree's root span (when one exists) is renamed in
// place and reused; no new span object is created and the returned wrapper
// does not own the underlying span. Only when no span is active does a fresh
// root get created.
//
// Finish restores the ambient context captured here unconditionally and
// disposes the underlying span only if this wrapper created it; nested root
// wrappers along one chain must not tear down a span another wrapper still
// owns.
func (t *Tracer) StartRootSpan(ctx context.Context, name string, opts ...StartSpanOption) (*RootSpan, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := StartSpanConfig{Kind: trace.SpanKindInternal}
	for _, fn := range opts {
		fn(&cfg)
	}
	prior := ctx

	if !cfg.DetachedRoot {
		if cur, ok := SpanFromContext(ctx); ok {
			if root := t.registry.rootOf(cur.rec); root != nil {
				root.rename(name)
				s := &Span{tracer: t, rec: root, otel: root.otel}
				nctx := ContextWithSpan(ctx, s)
				s.ctx = nctx
				return &RootSpan{Span: s, prior: prior, created: false}, nctx
			}
		}
	}
	s, nctx := t.startSpan(ctx, name, &cfg)
	return &RootSpan{Span: s, prior: prior, created: true}, nctx
}

// Created reports whether this wrapper created (and therefore owns) the
// underlying span, as opposed to renaming and reusing an existing root.
func (rs *RootSpan) Created() bool { return rs.created }

// Finish restores and returns the ambient context captured when the root
// span was opened. The underlying span is ended only when this wrapper
// created it; a reused root stays alive for the wrapper that owns it.
func (rs *RootSpan) Finish(opts ...FinishOption) context.Context {
	if rs.created {
		rs.Span.Finish(opts...)
	}
	return rs.prior
}
