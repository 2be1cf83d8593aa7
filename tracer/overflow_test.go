// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2018 Datadog, Inc.

package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOverflowClientDatadog(t *testing.T) {
	assert := assert.New(t)

	c := &config{backend: BackendDatadog, apiKey: "secret"}
	client, err := newOverflowClient(c)
	require.NoError(t, err)
	assert.Equal(defaultDatadogIntakeURL, client.url)
	assert.Equal("secret", client.headers["DD-API-KEY"])
	assert.Equal("application/json", client.headers["Content-Type"])
	assert.Equal("message", client.field)
}

func TestNewOverflowClientDatadogCustomIntake(t *testing.T) {
	assert := assert.New(t)

	c := &config{backend: BackendDatadog, apiKey: "secret", ingestEndpoint: "https://intake.example.com/api/v2/logs"}
	client, err := newOverflowClient(c)
	require.NoError(t, err)
	assert.Equal("https://intake.example.com/api/v2/logs", client.url)
}

func TestNewOverflowClientDynatrace(t *testing.T) {
	assert := assert.New(t)

	c := &config{
		backend:        BackendDynatrace,
		apiKey:         "dt0c01.token",
		ingestEndpoint: "https://abc12345.live.dynatrace.com",
	}
	client, err := newOverflowClient(c)
	require.NoError(t, err)
	assert.Equal("https://abc12345.live.dynatrace.com/api/v2/logs/ingest", client.url)
	assert.Equal("Api-Token dt0c01.token", client.headers["Authorization"])
	assert.Equal("content", client.field)
}

func TestNewOverflowClientMissingAPIKey(t *testing.T) {
	for _, key := range []string{"", "   "} {
		_, err := newOverflowClient(&config{backend: BackendDatadog, apiKey: key})
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	}
}

func TestNewOverflowClientUnknownBackend(t *testing.T) {
	_, err := newOverflowClient(&config{backend: BackendKind(99), apiKey: "secret"})
	assert.Error(t, err)
}

func TestDynatraceIngestURL(t *testing.T) {
	assert := assert.New(t)

	for _, tt := range []struct {
		endpoint string
		want     string
	}{
		{"https://abc12345.live.dynatrace.com", "https://abc12345.live.dynatrace.com/api/v2/logs/ingest"},
		{"https://abc12345.live.dynatrace.com/some/path", "https://abc12345.live.dynatrace.com/api/v2/logs/ingest"},
		{"http://tenant-1.internal:9999", "http://tenant-1.internal:9999/api/v2/logs/ingest"},
	} {
		got, err := dynatraceIngestURL(tt.endpoint)
		require.NoError(t, err, tt.endpoint)
		assert.Equal(tt.want, got)
	}
}

func TestDynatraceIngestURLInvalid(t *testing.T) {
	assert := assert.New(t)

	_, err := dynatraceIngestURL("")
	assert.ErrorIs(err, ErrMissingEndpoint)

	for _, endpoint := range []string{
		"https://UPPER.live.dynatrace.com",
		"https://-leading.live.dynatrace.com",
		"https://trailing-.live.dynatrace.com",
		"https://ten_ant.live.dynatrace.com",
	} {
		_, err := dynatraceIngestURL(endpoint)
		assert.Error(err, endpoint)
	}
}
