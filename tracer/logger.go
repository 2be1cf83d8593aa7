// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/tracelift/tracelift-go/internal/log"
)

// Logger implementations are able to log given messages that the library
// might output for its own diagnostics.
type Logger = log.Logger

// UseLogger sets l as the logger for all library diagnostics.
func UseLogger(l Logger) {
	log.UseLogger(l)
}

// ActivityLogger receives notifications about span lifecycle events. All
// calls are made on the instrumented code path, so implementations should be
// cheap; failures (including panics) are swallowed and never reach the
// instrumented operation.
type ActivityLogger interface {
	// OperationStarted is invoked when a span is opened.
	OperationStarted(name string, depth int)

	// OperationCompleted is invoked when a span finishes, with its final
	// status.
	OperationCompleted(name string, status codes.Code, description string, duration time.Duration)

	// OperationFailed is invoked when an exception is recorded on a span.
	OperationFailed(name string, err error)
}

func (t *Tracer) notifyStarted(name string, depth int) {
	l := t.config.activityLogger
	if l == nil {
		return
	}
	defer swallowPanic()
	l.OperationStarted(name, depth)
}

func (t *Tracer) notifyCompleted(name string, status codes.Code, description string, d time.Duration) {
	l := t.config.activityLogger
	if l == nil {
		return
	}
	defer swallowPanic()
	l.OperationCompleted(name, status, description, d)
}

func (t *Tracer) notifyException(name string, err error) {
	l := t.config.activityLogger
	if l == nil {
		return
	}
	defer swallowPanic()
	l.OperationFailed(name, err)
}

func swallowPanic() {
	if r := recover(); r != nil {
		log.Warn("activity logger failure discarded: %v", r)
	}
}

// zapActivityLogger logs lifecycle notifications through a zap logger.
type zapActivityLogger struct {
	l *zap.Logger
}

// NewZapActivityLogger returns an ActivityLogger writing debug-level entries
// to l.
func NewZapActivityLogger(l *zap.Logger) ActivityLogger {
	return &zapActivityLogger{l: l}
}

func (z *zapActivityLogger) OperationStarted(name string, depth int) {
	z.l.Debug("operation started", zap.String("operation", name), zap.Int("depth", depth))
}

func (z *zapActivityLogger) OperationCompleted(name string, status codes.Code, description string, d time.Duration) {
	z.l.Debug("operation completed",
		zap.String("operation", name),
		zap.String("status", statusText(status)),
		zap.String("description", description),
		zap.Duration("duration", d))
}

func statusText(c codes.Code) string {
	switch c {
	case codes.Ok:
		return "ok"
	case codes.Error:
		return "error"
	default:
		return "unset"
	}
}

func (z *zapActivityLogger) OperationFailed(name string, err error) {
	z.l.Debug("operation failed", zap.String("operation", name), zap.Error(err))
}
