// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package tracer

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tracelift/tracelift-go/ext"
)

// newTracerProvider builds the bundled OTLP batch exporting provider. The
// SDK itself stays an external collaborator; this wiring only binds the
// configured endpoint and batching knobs.
func newTracerProvider(c *config) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpointURL(c.otlpEndpoint))
	if err != nil {
		return nil, errors.Wrap(err, "creating OTLP exporter")
	}
	attrs := []attribute.KeyValue{
		attribute.String(ext.ServiceName, c.serviceName),
	}
	if c.environment != "" {
		attrs = append(attrs, attribute.String(ext.Environment, c.environment))
	}
	if c.serviceVersion != "" {
		attrs = append(attrs, attribute.String(ext.ServiceVersion, c.serviceVersion))
	}
	if c.hostname != "" {
		attrs = append(attrs, attribute.String(ext.HostName, c.hostname))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxExportBatchSize(c.batchSize),
			sdktrace.WithMaxQueueSize(c.queueSize),
			sdktrace.WithBatchTimeout(c.batchDelay),
			sdktrace.WithExportTimeout(c.exportTimeout),
		),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	)
	return tp, nil
}
