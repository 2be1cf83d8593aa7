// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2018 Datadog, Inc.

package tracer

import (
	"bytes"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/tracelift/tracelift-go/ext"
	"github.com/tracelift/tracelift-go/internal/log"
)

// BackendKind selects the overflow ingest backend.
type BackendKind int

const (
	// BackendDatadog POSTs to the Datadog logs intake with a DD-API-KEY
	// header; the chunk text travels under the "message" field.
	BackendDatadog BackendKind = iota

	// BackendDynatrace derives the tenant from the configured endpoint host
	// and POSTs to the tenant's log ingest with an Api-Token authorization
	// header; the chunk text travels under the "content" field.
	BackendDynatrace
)

const defaultDatadogIntakeURL = "https://http-intake.logs.datadoghq.com/api/v2/logs"

// Configuration errors raised at construction. Overflow forwarding that
// cannot be built is reported immediately, never silently disabled.
var (
	ErrMissingAPIKey   = errors.New("tracer: overflow backend requires an API key")
	ErrMissingEndpoint = errors.New("tracer: overflow backend requires an ingest endpoint")
)

// tenantPattern matches a valid tenant identifier: 1-63 lowercase
// alphanumerics with internal hyphens.
var tenantPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// chunkRecord is one bounded fragment of an oversized tag value, shipped as
// a log-shaped JSON record.
type chunkRecord struct {
	timestamp int64
	bag       map[string]interface{}
	key       string
	overflow  bool
	index     int
	count     int
	payload   string
}

// overflowClient delivers chunk records to the ingest endpoint. The URL,
// headers and payload field are immutable after construction and safely
// shared across concurrent emissions.
type overflowClient struct {
	url     string
	headers map[string]string
	field   string
	client  *http.Client
}

func newOverflowClient(c *config) (*overflowClient, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	client := c.httpClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
			Timeout: 5 * time.Second,
		}
	}
	switch c.backend {
	case BackendDatadog:
		intake := c.ingestEndpoint
		if intake == "" {
			intake = defaultDatadogIntakeURL
		}
		return &overflowClient{
			url: intake,
			headers: map[string]string{
				"DD-API-KEY":   c.apiKey,
				"Content-Type": "application/json",
			},
			field:  "message",
			client: client,
		}, nil
	case BackendDynatrace:
		intake, err := dynatraceIngestURL(c.ingestEndpoint)
		if err != nil {
			return nil, err
		}
		return &overflowClient{
			url: intake,
			headers: map[string]string{
				"Authorization": "Api-Token " + c.apiKey,
				"Content-Type":  "application/json",
			},
			field:  "content",
			client: client,
		}, nil
	default:
		return nil, errors.Errorf("tracer: unknown overflow backend %d", c.backend)
	}
}

// dynatraceIngestURL derives the tenant-specific log ingest URL from the
// configured endpoint. The tenant identifier is the first DNS label of the
// endpoint host and must match tenantPattern.
func dynatraceIngestURL(endpoint string) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", ErrMissingEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "tracer: invalid ingest endpoint %q", endpoint)
	}
	host := u.Hostname()
	labels := strings.Split(host, ".")
	tenant := labels[0]
	if !tenantPattern.MatchString(tenant) {
		return "", errors.Errorf("tracer: invalid tenant identifier %q in endpoint %q", tenant, endpoint)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host + "/api/v2/logs/ingest", nil
}

// send delivers the chunks of one overflow value in index order. Delivery is
// best effort: a failed chunk is logged and discarded, and the remaining
// chunks are still attempted.
func (c *overflowClient) send(records []chunkRecord) {
	for _, rec := range records {
		if err := c.post(rec); err != nil {
			log.Error("overflow", "failed to deliver overflow chunk %d/%d for %q: %v",
				rec.index, rec.count, rec.key, err)
		}
	}
}

func (c *overflowClient) post(rec chunkRecord) error {
	attrs := make(map[string]interface{}, len(rec.bag)+5)
	for k, v := range rec.bag {
		attrs[k] = v
	}
	attrs[ext.AttributeKey] = rec.key
	attrs[ext.Overflow] = rec.overflow
	attrs[ext.ChunkIndex] = rec.index
	attrs[ext.ChunkCount] = rec.count
	attrs["level"] = "Information"

	body, err := sonic.Marshal([]map[string]interface{}{{
		"timestamp":  rec.timestamp,
		"attributes": attrs,
		c.field:      rec.payload,
	}})
	if err != nil {
		return errors.Wrap(err, "encoding chunk record")
	}
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	for header, value := range c.headers {
		req.Header.Set(header, value)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg := make([]byte, 1000)
		n, _ := resp.Body.Read(msg)
		if n > 0 {
			return errors.Errorf("%s (Status: %s)", msg[:n], http.StatusText(resp.StatusCode))
		}
		return errors.New(http.StatusText(resp.StatusCode))
	}
	return nil
}
