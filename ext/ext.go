// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package ext contains the tag and attribute keys shared between the span
// lifecycle wrapper, the enricher, the overflow channel and the log chunking
// sink.
package ext

const (
	// CorrelationID threads together all telemetry emitted for one logical
	// operation. It is stored on spans as both a tag and a baggage entry.
	CorrelationID = "correlation.id"

	// OperationDepth records the nesting depth of a span inside its trace
	// tree. Root spans have depth 1.
	OperationDepth = "operation.depth"

	// RootOperation holds the display name of the tree's root span.
	RootOperation = "operation.root"

	// TraceID and SpanID carry the hex identifiers of the active span.
	TraceID = "trace.id"
	SpanID  = "span.id"
)

const (
	// ErrorType specifies the type of the recorded exception.
	ErrorType = "error.type"
	// ErrorMsg specifies the message of the recorded exception.
	ErrorMsg = "error.message"
	// ErrorStack specifies the stack captured when the exception was recorded.
	ErrorStack = "error.stack"
)

const (
	// DBStatement records a database statement. Allow-listed for overflow
	// forwarding by default.
	DBStatement = "db.statement"
	// DBStatementParams records the parameters bound to a database
	// statement. Allow-listed for overflow forwarding by default.
	DBStatementParams = "db.statement.params"
)

const (
	ThreadID    = "thread.id"
	UserName    = "user.name"
	ProcessName = "process.name"

	CodeNamespace = "code.namespace"
	CodeFunction  = "code.function"
	CodeFilepath  = "code.filepath"
	CodeLineno    = "code.lineno"
)

const (
	ServiceName    = "service.name"
	ServiceVersion = "service.version"
	Environment    = "deployment.environment"
	HostName       = "host.name"
)

const (
	// ChunkIndex is the 1-based position of a fragment within an oversized
	// payload. ChunkCount is the total number of fragments.
	ChunkIndex = "chunk.index"
	ChunkCount = "chunk.count"

	// Overflow marks a record whose original payload exceeded the chunk
	// threshold.
	Overflow = "overflow"

	// AttributeKey names the span tag an overflow record originated from.
	AttributeKey = "attribute.key"

	LibraryName    = "otel.library.name"
	LibraryVersion = "otel.library.version"
)

// TruncatedSuffix is appended to a tag key to form the companion boolean tag
// marking that the tag's value was truncated in place.
const TruncatedSuffix = "Truncated"
