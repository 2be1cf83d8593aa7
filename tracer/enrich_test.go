// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelift/tracelift-go/ext"
)

func TestEnrichServiceIdentity(t *testing.T) {
	assert := assert.New(t)
	tr, _ := startTestTracer(t)

	bag := tr.enricher.enrich(context.Background(), nil)
	assert.Equal("test-service", bag[ext.ServiceName])
	assert.Equal("test", bag[ext.Environment])
	assert.Equal("0.0.1", bag[ext.ServiceVersion])
}

func TestEnrichTraceAttributes(t *testing.T) {
	assert := assert.New(t)
	tr, _ := startTestTracer(t)

	root, ctx := tr.StartSpan(context.Background(), "web.request")
	defer root.Finish()
	child, cctx := tr.StartSpan(ctx, "db.query")
	defer child.Finish()

	bag := tr.enricher.enrich(cctx, child.rec)
	assert.Equal(child.rec.traceID.String(), bag[ext.TraceID])
	assert.Equal(child.rec.spanID.String(), bag[ext.SpanID])
	assert.Equal("web.request", bag[ext.RootOperation])
}

func TestEnrichCorrelationPrefersTreeOverSlot(t *testing.T) {
	assert := assert.New(t)
	tr, _ := startTestTracer(t)

	span, ctx := tr.StartSpan(context.Background(), "web.request")
	defer span.Finish()
	ctx = tr.SetCorrelationID(ctx, "tree-token")
	ctx = contextWithCorrelationSlot(ctx, "slot-token")

	bag := tr.enricher.enrich(ctx, span.rec)
	assert.Equal("tree-token", bag[ext.CorrelationID])

	// without a span the ambient slot is the source
	bag = tr.enricher.enrich(ctx, nil)
	assert.Equal("slot-token", bag[ext.CorrelationID])
}

func TestEnrichThreadAndUser(t *testing.T) {
	assert := assert.New(t)
	tr, _ := startTestTracer(t)

	bag := tr.enricher.enrich(context.Background(), nil)
	if id, ok := bag[ext.ThreadID]; assert.True(ok) {
		assert.Positive(id.(int64))
	}
	assert.NotEmpty(bag[ext.ProcessName])
}

func TestEnrichToggles(t *testing.T) {
	assert := assert.New(t)
	tr, _ := startTestTracer(t,
		WithThreadInfo(false),
		WithUserInfo(false),
		WithSourceLocation(false),
	)

	bag := tr.enricher.enrich(context.Background(), nil)
	assert.NotContains(bag, ext.ThreadID)
	assert.NotContains(bag, ext.UserName)
	assert.NotContains(bag, ext.ProcessName)
	assert.NotContains(bag, ext.CodeFunction)
	assert.NotContains(bag, ext.CodeFilepath)
}

func TestEnrichOrderAndSubset(t *testing.T) {
	assert := assert.New(t)
	tr, _ := startTestTracer(t, WithEnrichers(EnricherTrace))

	span, ctx := tr.StartSpan(context.Background(), "web.request")
	defer span.Finish()

	bag := tr.enricher.enrich(ctx, span.rec)
	assert.Contains(bag, ext.TraceID)
	assert.NotContains(bag, ext.ThreadID)
	assert.NotContains(bag, ext.ProcessName)
}

func TestValidateEnrichers(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(validateEnrichers(defaultEnrichers()))
	err := validateEnrichers([]string{EnricherTrace, "bogus"})
	require.Error(t, err)
	assert.Contains(err.Error(), `"bogus"`)
}

func TestStackExclusions(t *testing.T) {
	assert := assert.New(t)
	tr, _ := startTestTracer(t, WithStackExclusions("github.com/acme/middleware"))

	e := tr.enricher
	assert.True(e.excluded("runtime.goexit"))
	assert.True(e.excluded("testing.tRunner"))
	assert.True(e.excluded("github.com/tracelift/tracelift-go/tracer.(*Span).Finish"))
	assert.True(e.excluded("github.com/acme/middleware.Wrap"))
	// prefixes match case-insensitively
	assert.True(e.excluded("GitHub.com/Acme/Middleware.Wrap"))
	assert.False(e.excluded("github.com/acme/app.Handler"))
}

func TestSplitFunction(t *testing.T) {
	assert := assert.New(t)

	ns, fn := splitFunction("github.com/org/repo/pkg.(*Type).Method")
	assert.Equal("github.com/org/repo/pkg.(*Type)", ns)
	assert.Equal("Method", fn)

	ns, fn = splitFunction("main.main")
	assert.Equal("main", ns)
	assert.Equal("main", fn)

	ns, fn = splitFunction("init")
	assert.Equal("", ns)
	assert.Equal("init", fn)
}

func TestGoroutineID(t *testing.T) {
	assert := assert.New(t)

	id, ok := goroutineID()
	require.True(t, ok)
	assert.Positive(id)

	// two reads on the same goroutine agree
	again, _ := goroutineID()
	assert.Equal(id, again)

	done := make(chan int64, 1)
	go func() {
		other, _ := goroutineID()
		done <- other
	}()
	assert.NotEqual(id, <-done)
}
