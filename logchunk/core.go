// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package logchunk provides a zapcore.Core wrapper that splits oversized log
// messages into ordered, metadata-tagged fragments before they reach the
// backend-bound core. Tracing backends silently drop or reject log lines
// above fixed byte limits; chunking keeps the full text recoverable.
package logchunk

import (
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tracelift/tracelift-go/ext"
	"github.com/tracelift/tracelift-go/internal/log"
)

// ErrClosed is returned by Write after the core has been closed. Writing to
// a closed core indicates a lifecycle bug in the caller.
var ErrClosed = errors.New("logchunk: core is closed")

// DefaultMaxMessageLength bounds messages passed through unchanged.
const DefaultMaxMessageLength = 130000

// Core wraps an inner backend-bound core. Messages within the bound are
// forwarded unchanged, with the inner core's own enrichment intact.
// Oversized messages are forwarded as ceil(n/bound) ordered chunks.
type Core struct {
	inner zapcore.Core
	limit int

	closed    *atomic.Bool
	closeOnce *sync.Once
}

var _ zapcore.Core = (*Core)(nil)

// NewCore returns a Core wrapping inner. The inner core is injected
// explicitly; there is no process-wide registration point.
func NewCore(inner zapcore.Core, maxMessageLength int) (*Core, error) {
	if inner == nil {
		return nil, errors.New("logchunk: inner core is required")
	}
	if maxMessageLength <= 0 {
		maxMessageLength = DefaultMaxMessageLength
	}
	return &Core{
		inner:     inner,
		limit:     maxMessageLength,
		closed:    new(atomic.Bool),
		closeOnce: new(sync.Once),
	}, nil
}

// Enabled implements zapcore.Core.
func (c *Core) Enabled(lvl zapcore.Level) bool {
	return c.inner.Enabled(lvl)
}

// With implements zapcore.Core. The returned core shares the closed state of
// its parent.
func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	return &Core{
		inner:     c.inner.With(fields),
		limit:     c.limit,
		closed:    c.closed,
		closeOnce: c.closeOnce,
	}
}

// Check implements zapcore.Core.
func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write forwards the entry, chunking its message when it exceeds the bound.
// Each chunk shares the original timestamp and level and carries the
// original fields plus chunk.index, chunk.count and overflow=true; the
// original stack trace rides only the final chunk. A failing chunk is logged
// to the diagnostic channel and the remaining chunks continue; a wholesale
// failure falls back to forwarding the original entry, and if that also
// fails the error is swallowed. Log emission never throws back into
// application code.
func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if utf8.RuneCountInString(ent.Message) <= c.limit {
		return c.inner.Write(ent, fields)
	}
	c.writeChunked(ent, fields)
	return nil
}

func (c *Core) writeChunked(ent zapcore.Entry, fields []zapcore.Field) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("logchunk", "chunked write failed, forwarding original record: %v", r)
			func() {
				defer func() { recover() }()
				c.inner.Write(ent, fields)
			}()
		}
	}()
	chunks := split(ent.Message, c.limit)
	for i, chunk := range chunks {
		entry := ent
		entry.Message = chunk
		if i < len(chunks)-1 {
			entry.Stack = ""
		}
		tagged := make([]zapcore.Field, 0, len(fields)+3)
		tagged = append(tagged, fields...)
		tagged = append(tagged,
			zap.Int(ext.ChunkIndex, i+1),
			zap.Int(ext.ChunkCount, len(chunks)),
			zap.Bool(ext.Overflow, true),
		)
		if err := c.inner.Write(entry, tagged); err != nil {
			log.Error("logchunk", "failed to forward chunk %d/%d: %v", i+1, len(chunks), err)
		}
	}
}

// Sync implements zapcore.Core.
func (c *Core) Sync() error {
	if c.closed.Load() {
		return nil
	}
	return c.inner.Sync()
}

// Close releases the inner core exactly once. It is safe to invoke multiple
// times; writes after Close return ErrClosed.
func (c *Core) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.inner.Sync()
		c.closed.Store(true)
	})
	return err
}

// split cuts msg into fragments of at most size characters. Concatenating
// the fragments in index order reproduces msg exactly.
func split(msg string, size int) []string {
	runes := []rune(msg)
	n := (len(runes) + size - 1) / size
	chunks := make([]string, 0, n)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
