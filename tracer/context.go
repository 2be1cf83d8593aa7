// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import "context"

// activeSpanKey is an unexported type used as a context key. It holds the
// ambient current span for the logical call chain.
type activeSpanKey struct{}

// correlationSlotKey holds the ambient fallback correlation token, used when
// no span is active on the chain.
type correlationSlotKey struct{}

// ContextWithSpan returns a copy of the given context which includes the span s.
func ContextWithSpan(ctx context.Context, s *Span) context.Context {
	return context.WithValue(ctx, activeSpanKey{}, s)
}

// SpanFromContext returns the span contained in the given context. A second
// return value indicates if a span was found in the context.
func SpanFromContext(ctx context.Context) (*Span, bool) {
	if ctx == nil {
		return nil, false
	}
	v := ctx.Value(activeSpanKey{})
	if s, ok := v.(*Span); ok {
		// A nil *Span may have been wrapped in an interface by a caller
		// storing the zero value; treat it as no span.
		return s, s != nil
	}
	return nil, false
}

// contextWithCorrelationSlot returns a copy of ctx carrying token in the
// ambient fallback slot. The token becomes visible to downstream
// continuations of the returned context only; branches forked from ctx
// before this call never observe it.
func contextWithCorrelationSlot(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, correlationSlotKey{}, token)
}

// correlationSlot reads the ambient fallback correlation token. Returns the
// empty string when the slot was never set on this chain.
func correlationSlot(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(correlationSlotKey{}).(string)
	return token
}
