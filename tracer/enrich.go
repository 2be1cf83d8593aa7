// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tracelift/tracelift-go/ext"
)

// Enricher step identifiers accepted by WithEnrichers.
const (
	EnricherTrace       = "trace"
	EnricherCorrelation = "correlation"
	EnricherThread      = "thread"
	EnricherUser        = "user"
	EnricherSource      = "source"
)

type enrichFunc func(e *enricher, ctx context.Context, rec *spanRecord, bag map[string]interface{})

// enrichRegistry maps configuration identifiers to known enrichment steps.
// Unknown identifiers are rejected at configuration load, not skipped at
// call time.
var enrichRegistry = map[string]enrichFunc{
	EnricherTrace:       (*enricher).traceAttributes,
	EnricherCorrelation: (*enricher).correlationAttributes,
	EnricherThread:      (*enricher).threadAttributes,
	EnricherUser:        (*enricher).userAttributes,
	EnricherSource:      (*enricher).sourceAttributes,
}

func defaultEnrichers() []string {
	return []string{EnricherTrace, EnricherCorrelation, EnricherThread, EnricherUser, EnricherSource}
}

func validateEnrichers(names []string) error {
	for _, name := range names {
		if _, ok := enrichRegistry[name]; !ok {
			return errors.Errorf("unknown enricher %q", name)
		}
	}
	return nil
}

// builtinStackExclusions are function-name prefixes always skipped during
// source-location capture, merged with the configured exclusions.
var builtinStackExclusions = []string{
	"runtime.",
	"testing.",
	"github.com/tracelift/tracelift-go",
	"go.opentelemetry.io/",
	"go.uber.org/zap",
}

// enricher assembles the cross-cutting attribute bag attached to every
// overflow record. Bags are recomputed per call, never cached: thread, user
// and source-location context can change between calls.
type enricher struct {
	cfg *config
	reg *registry
}

// enrich builds a fresh attribute bag for the given span record (which may
// be nil). Every lookup is best-effort; a failing source is omitted from the
// bag rather than raised.
func (e *enricher) enrich(ctx context.Context, rec *spanRecord) map[string]interface{} {
	bag := make(map[string]interface{}, 16)
	if e.cfg.serviceName != "" {
		bag[ext.ServiceName] = e.cfg.serviceName
	}
	if e.cfg.environment != "" {
		bag[ext.Environment] = e.cfg.environment
	}
	if e.cfg.serviceVersion != "" {
		bag[ext.ServiceVersion] = e.cfg.serviceVersion
	}
	if e.cfg.hostname != "" {
		bag[ext.HostName] = e.cfg.hostname
	}
	for _, name := range e.cfg.enrichers {
		if fn, ok := enrichRegistry[name]; ok {
			fn(e, ctx, rec, bag)
		}
	}
	return bag
}

func (e *enricher) traceAttributes(_ context.Context, rec *spanRecord, bag map[string]interface{}) {
	if rec == nil {
		return
	}
	bag[ext.TraceID] = rec.traceID.String()
	bag[ext.SpanID] = rec.spanID.String()
	if root := e.reg.rootOf(rec); root != nil {
		bag[ext.RootOperation] = root.operationName()
	}
}

func (e *enricher) correlationAttributes(ctx context.Context, rec *spanRecord, bag map[string]interface{}) {
	var id string
	if rec != nil {
		id = treeCorrelationID(e.reg, rec)
	}
	if id == "" {
		id = correlationSlot(ctx)
	}
	if id != "" {
		bag[ext.CorrelationID] = id
	}
}

func (e *enricher) threadAttributes(_ context.Context, _ *spanRecord, bag map[string]interface{}) {
	if !e.cfg.includeThreadInfo {
		return
	}
	if id, ok := goroutineID(); ok {
		bag[ext.ThreadID] = id
	}
}

func (e *enricher) userAttributes(_ context.Context, _ *spanRecord, bag map[string]interface{}) {
	if !e.cfg.includeUserInfo {
		return
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		bag[ext.UserName] = u.Username
	} else if name := os.Getenv("USER"); name != "" {
		bag[ext.UserName] = name
	}
	if len(os.Args) > 0 {
		bag[ext.ProcessName] = filepath.Base(os.Args[0])
	}
}

func (e *enricher) sourceAttributes(_ context.Context, _ *spanRecord, bag map[string]interface{}) {
	if !e.cfg.includeSourceLocation {
		return
	}
	frame, ok := e.callerFrame()
	if !ok {
		return
	}
	ns, fn := splitFunction(frame.Function)
	if ns != "" {
		bag[ext.CodeNamespace] = ns
	}
	if fn != "" {
		bag[ext.CodeFunction] = fn
	}
	if frame.File != "" {
		bag[ext.CodeFilepath] = frame.File
		bag[ext.CodeLineno] = frame.Line
	}
}

// callerFrame scans the call stack from the enrichment call site outward and
// returns the first frame whose function is not excluded by prefix
// (case-insensitive). A stack consisting only of excluded frames yields no
// source attributes.
func (e *enricher) callerFrame() (runtime.Frame, bool) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !e.excluded(frame.Function) {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func (e *enricher) excluded(function string) bool {
	fn := strings.ToLower(function)
	for _, prefix := range builtinStackExclusions {
		if strings.HasPrefix(fn, strings.ToLower(prefix)) {
			return true
		}
	}
	for _, prefix := range e.cfg.stackExclusions {
		if prefix != "" && strings.HasPrefix(fn, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// splitFunction splits a fully qualified function name like
// "github.com/org/repo/pkg.(*Type).Method" into its package-and-receiver
// part and the bare method name.
func splitFunction(full string) (namespace, function string) {
	dot := strings.LastIndex(full, ".")
	if dot < 0 {
		return "", full
	}
	return full[:dot], full[dot+1:]
}

// goroutineID parses the current goroutine id from the runtime stack header.
// Best effort; callers omit the attribute when parsing fails.
func goroutineID() (int64, bool) {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 || fields[0] != "goroutine" {
		return 0, false
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
