// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package log

import (
	stdlog "log"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordLogger) Log(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordLogger) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = r.msgs[:0]
}

func (r *recordLogger) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func useRecordLogger(t *testing.T) *recordLogger {
	t.Helper()
	rl := &recordLogger{}
	UseLogger(rl)
	t.Cleanup(func() {
		UseLogger(&defaultLogger{l: stdlog.New(os.Stderr, "", stdlog.LstdFlags)})
		SetLevel(LevelWarn)
	})
	return rl
}

func TestWarn(t *testing.T) {
	assert := assert.New(t)
	rl := useRecordLogger(t)

	Warn("problem %d", 7)
	lines := rl.Lines()
	require.Len(t, lines, 1)
	assert.Contains(lines[0], "WARN: problem 7")
	assert.Contains(lines[0], prefixMsg)
}

func TestDebugSuppressedByDefault(t *testing.T) {
	rl := useRecordLogger(t)

	Debug("hidden")
	assert.Empty(t, rl.Lines())
}

func TestDebugAtDebugLevel(t *testing.T) {
	assert := assert.New(t)
	rl := useRecordLogger(t)
	SetLevel(LevelDebug)

	assert.True(DebugEnabled())
	Debug("visible %s", "msg")
	lines := rl.Lines()
	require.Len(t, lines, 1)
	assert.Contains(lines[0], "DEBUG: visible msg")
}

func TestErrorAggregation(t *testing.T) {
	assert := assert.New(t)
	rl := useRecordLogger(t)

	for i := 0; i < 5; i++ {
		Error("key", "boom %d", i)
	}
	// nothing printed until the aggregate is flushed
	assert.Empty(rl.Lines())

	Flush()
	lines := rl.Lines()
	require.Len(t, lines, 1)
	assert.Contains(lines[0], "ERROR: boom 0")
	assert.Contains(lines[0], "4 additional messages skipped")

	// flushing resets the aggregate
	rl.Reset()
	Flush()
	assert.Empty(rl.Lines())
}

func TestErrorLimit(t *testing.T) {
	assert := assert.New(t)
	rl := useRecordLogger(t)

	for i := 0; i < 2*defaultErrorLimit; i++ {
		Error("key", "spam")
	}
	Flush()
	lines := rl.Lines()
	require.Len(t, lines, 1)
	assert.Contains(lines[0], "50+ additional messages skipped")
}

func TestErrorDistinctKeys(t *testing.T) {
	rl := useRecordLogger(t)

	Error("a", "first")
	Error("b", "second")
	Flush()
	lines := rl.Lines()
	assert.Len(t, lines, 2)
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "first")
	assert.Contains(t, joined, "second")
}
