// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package tracer augments an OpenTelemetry-based tracing pipeline with
// hierarchical span lifecycle management, correlation-identifier propagation
// and size-bounding of oversized attribute payloads with an out-of-band
// overflow forwarding channel.
package tracer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tracelift/tracelift-go/internal/log"
	"github.com/tracelift/tracelift-go/internal/version"
)

// Tracer wraps an underlying SDK tracer with the span lifecycle, correlation
// and size-bounding behavior of this library. A Tracer is safe for
// concurrent use.
type Tracer struct {
	config    *config
	registry  *registry
	enricher  *enricher
	truncator *truncator
	overflow  *overflowClient

	provider trace.TracerProvider
	tracer   trace.Tracer

	// shutdown stops the bundled OTLP provider, when one was built.
	shutdown func(context.Context) error
}

// NewTracer returns a Tracer built from the given options. It fails fast on
// configuration errors: an unusable overflow backend or an unknown enricher
// identifier is reported here, never silently disabled.
func NewTracer(opts ...StartOption) (*Tracer, error) {
	c := newConfig(opts...)
	if err := validateEnrichers(c.enrichers); err != nil {
		return nil, err
	}
	t := &Tracer{
		config:   c,
		registry: newRegistry(),
	}
	t.enricher = &enricher{cfg: c, reg: t.registry}
	if c.enabled && c.sqlInstrumentation && c.sqlInstrumentationText {
		client, err := newOverflowClient(c)
		if err != nil {
			return nil, err
		}
		t.overflow = client
	}
	t.truncator = &truncator{cfg: c, enrich: t.enricher, reg: t.registry, client: t.overflow}
	switch {
	case c.tracerProvider != nil:
		t.provider = c.tracerProvider
	case c.otlpEndpoint != "":
		tp, err := newTracerProvider(c)
		if err != nil {
			return nil, errors.Wrap(err, "building trace provider")
		}
		t.provider = tp
		t.shutdown = tp.Shutdown
		otel.SetTracerProvider(tp)
	default:
		t.provider = otel.GetTracerProvider()
	}
	t.tracer = t.provider.Tracer(version.Name, trace.WithInstrumentationVersion(version.Tag))
	if c.debug {
		log.SetLevel(log.LevelDebug)
	}
	return t, nil
}

// Stop flushes and stops the bundled provider, if the tracer built one.
func (t *Tracer) Stop(ctx context.Context) error {
	if t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}

var (
	globalMu sync.RWMutex
	global   *Tracer
)

// Start starts the global tracer with the given set of options. It returns
// an error on invalid configuration; instrumentation that cannot be
// constructed is reported immediately rather than silently disabled.
func Start(opts ...StartOption) error {
	t, err := NewTracer(opts...)
	if err != nil {
		return err
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	global = t
	log.Debug("tracer started with service %q", t.config.serviceName)
	return nil
}

// Stop stops the global tracer, flushing the bundled exporter when present.
func Stop() {
	globalMu.Lock()
	t := global
	global = nil
	globalMu.Unlock()
	if t == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.Stop(ctx); err != nil {
		log.Warn("error stopping tracer: %v", err)
	}
}

// getGlobalTracer returns the active tracer, lazily building a default one
// so package-level calls are usable before Start.
func getGlobalTracer() *Tracer {
	globalMu.RLock()
	t := global
	globalMu.RUnlock()
	if t != nil {
		return t
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		t, err := NewTracer()
		if err != nil {
			// The default configuration has no overflow backend to
			// validate, so this cannot normally happen.
			log.Warn("falling back to disabled tracer: %v", err)
			t = &Tracer{config: newConfig(WithEnabled(false)), registry: newRegistry()}
			t.enricher = &enricher{cfg: t.config, reg: t.registry}
			t.truncator = &truncator{cfg: t.config, enrich: t.enricher, reg: t.registry}
			t.provider = otel.GetTracerProvider()
			t.tracer = t.provider.Tracer(version.Name)
		}
		global = t
	}
	return global
}

// StartSpan starts a span on the global tracer. See Tracer.StartSpan.
func StartSpan(ctx context.Context, name string, opts ...StartSpanOption) (*Span, context.Context) {
	return getGlobalTracer().StartSpan(ctx, name, opts...)
}

// StartRootSpan starts a root span on the global tracer. See Tracer.StartRootSpan.
func StartRootSpan(ctx context.Context, name string, opts ...StartSpanOption) (*RootSpan, context.Context) {
	return getGlobalTracer().StartRootSpan(ctx, name, opts...)
}

// CorrelationID returns the correlation id for the calling chain, generating
// one when absent. See Tracer.CorrelationID.
func CorrelationID(ctx context.Context) (string, context.Context) {
	return getGlobalTracer().CorrelationID(ctx)
}

// SetCorrelationID attaches the given correlation id to the calling chain.
// See Tracer.SetCorrelationID.
func SetCorrelationID(ctx context.Context, id string) context.Context {
	return getGlobalTracer().SetCorrelationID(ctx, id)
}
