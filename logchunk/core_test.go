// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package logchunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tracelift/tracelift-go/ext"
)

func newTestCore(t *testing.T, limit int) (*Core, *observer.ObservedLogs) {
	t.Helper()
	inner, logs := observer.New(zapcore.DebugLevel)
	core, err := NewCore(inner, limit)
	require.NoError(t, err)
	return core, logs
}

func fieldMap(fields []zapcore.Field) map[string]zapcore.Field {
	m := make(map[string]zapcore.Field, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}
	return m
}

func TestNewCoreRequiresInner(t *testing.T) {
	_, err := NewCore(nil, 100)
	assert.Error(t, err)
}

func TestNewCoreDefaultLimit(t *testing.T) {
	inner, _ := observer.New(zapcore.DebugLevel)
	core, err := NewCore(inner, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxMessageLength, core.limit)
}

func TestWritePassthrough(t *testing.T) {
	assert := assert.New(t)
	core, logs := newTestCore(t, 10)
	logger := zap.New(core)

	logger.Info("short", zap.String("k", "v"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal("short", entries[0].Message)
	fm := fieldMap(entries[0].Context)
	assert.Contains(fm, "k")
	// bounded messages carry no chunk metadata
	assert.NotContains(fm, ext.ChunkIndex)
	assert.NotContains(fm, ext.Overflow)
}

func TestWriteChunksOversized(t *testing.T) {
	assert := assert.New(t)
	core, logs := newTestCore(t, 5)
	logger := zap.New(core)

	logger.Warn("abcdefghijkl", zap.String("k", "v")) // 12 characters, 3 chunks

	entries := logs.All()
	require.Len(t, entries, 3)
	var rebuilt strings.Builder
	for i, e := range entries {
		assert.Equal(zapcore.WarnLevel, e.Level)
		rebuilt.WriteString(e.Message)
		fm := fieldMap(e.Context)
		assert.Contains(fm, "k")
		assert.EqualValues(i+1, fm[ext.ChunkIndex].Integer)
		assert.EqualValues(3, fm[ext.ChunkCount].Integer)
		assert.Equal(zapcore.BoolType, fm[ext.Overflow].Type)
		assert.EqualValues(1, fm[ext.Overflow].Integer)
	}
	assert.Equal("abcdefghijkl", rebuilt.String())
}

func TestWriteChunksShareTimestamp(t *testing.T) {
	assert := assert.New(t)
	core, logs := newTestCore(t, 5)
	logger := zap.New(core)

	logger.Info("abcdefghijkl")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(entries[0].Time, entries[1].Time)
	assert.Equal(entries[0].Time, entries[2].Time)
}

func TestStackOnFinalChunkOnly(t *testing.T) {
	assert := assert.New(t)
	core, logs := newTestCore(t, 5)

	ent := zapcore.Entry{
		Level:   zapcore.ErrorLevel,
		Message: "abcdefghijkl",
		Stack:   "goroutine 1 [running]:\nmain.main()",
	}
	require.NoError(t, core.Write(ent, nil))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Empty(entries[0].Stack)
	assert.Empty(entries[1].Stack)
	assert.Equal(ent.Stack, entries[2].Stack)
}

func TestCharacterBasedChunking(t *testing.T) {
	core, logs := newTestCore(t, 5)
	logger := zap.New(core)

	// six two-byte characters stay within a five-character bound per chunk
	logger.Info("éééééé")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "ééééé", entries[0].Message)
	assert.Equal(t, "é", entries[1].Message)
}

func TestWriteAfterClose(t *testing.T) {
	assert := assert.New(t)
	core, logs := newTestCore(t, 5)

	require.NoError(t, core.Close())
	err := core.Write(zapcore.Entry{Message: "late"}, nil)
	assert.ErrorIs(err, ErrClosed)
	assert.Zero(logs.Len())
}

func TestCloseIdempotent(t *testing.T) {
	assert := assert.New(t)
	core, _ := newTestCore(t, 5)

	assert.NoError(core.Close())
	assert.NoError(core.Close())
	assert.NoError(core.Sync())
}

func TestWithSharesClosedState(t *testing.T) {
	assert := assert.New(t)
	core, _ := newTestCore(t, 5)

	child := core.With([]zapcore.Field{zap.String("component", "db")})
	require.NoError(t, core.Close())

	err := child.Write(zapcore.Entry{Message: "late"}, nil)
	assert.ErrorIs(err, ErrClosed)
}

func TestWithKeepsFields(t *testing.T) {
	assert := assert.New(t)
	core, logs := newTestCore(t, 5)
	logger := zap.New(core).With(zap.String("component", "db"))

	logger.Info("abcdefghijkl")

	entries := logs.All()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Contains(fieldMap(e.Context), "component")
	}
}

func TestSplit(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"abcde", "fgh"}, split("abcdefgh", 5))
	assert.Equal([]string{"abc"}, split("abc", 5))

	in := strings.Repeat("0123456789", 13)
	assert.Equal(in, strings.Join(split(in, 17), ""))
}
