// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/trace"

	"github.com/tracelift/tracelift-go/ext"
	"github.com/tracelift/tracelift-go/internal/log"
)

const (
	// defaultMaxAttributeValueLength is the truncation threshold applied to
	// span tag values at span end.
	defaultMaxAttributeValueLength = 4000

	// defaultMaxLogMessageLength is the chunk size used when splitting
	// oversized payloads, both on the overflow channel and in the log
	// chunking sink.
	defaultMaxLogMessageLength = 130000

	defaultBatchSize     = 512
	defaultQueueSize     = 2048
	defaultBatchDelay    = 5 * time.Second
	defaultExportTimeout = 30 * time.Second
)

// config holds the tracer configuration.
type config struct {
	// enabled gates all span post-processing. Spans are still created when
	// false, but the truncation/overflow pass is skipped.
	enabled bool

	// debug, when true, writes details to logs.
	debug bool

	// serviceName specifies the name of this application.
	serviceName    string
	serviceVersion string
	environment    string
	hostname       string

	// globalTags holds a set of tags that will be automatically applied to
	// all spans.
	globalTags map[string]interface{}

	sqlInstrumentation     bool
	sqlInstrumentationText bool

	maxAttributeValueLength int
	maxLogMessageLength     int

	sendOverflowLogs      bool
	overflowLogOperations []string
	overflowAttributeKeys map[string]struct{}

	includeSourceLocation bool
	includeThreadInfo     bool
	includeUserInfo       bool

	// stackExclusions holds caller-supplied function prefixes skipped during
	// source-location capture, merged with builtinStackExclusions.
	stackExclusions []string

	// enrichers lists the enrichment steps applied when assembling an
	// attribute bag, in order. Unknown identifiers fail Start.
	enrichers []string

	backend        BackendKind
	ingestEndpoint string
	apiKey         string

	activityLogger ActivityLogger

	// tracerProvider overrides the provider used to create underlying SDK
	// spans. When nil and otlpEndpoint is set, Start builds an OTLP batch
	// exporting provider; otherwise the global provider is used.
	tracerProvider trace.TracerProvider
	otlpEndpoint   string
	batchSize      int
	queueSize      int
	batchDelay     time.Duration
	exportTimeout  time.Duration

	// httpClient is the outbound client for overflow emission. Immutable
	// after construction and shared across emissions.
	httpClient *http.Client
}

// StartOption represents a function that can be provided as a parameter to Start.
type StartOption func(*config)

// defaults sets the default values for a config.
func defaults(c *config) {
	c.enabled = true
	c.serviceName = filepath.Base(os.Args[0])
	c.sqlInstrumentation = true
	c.sqlInstrumentationText = false
	c.maxAttributeValueLength = defaultMaxAttributeValueLength
	c.maxLogMessageLength = defaultMaxLogMessageLength
	c.sendOverflowLogs = true
	c.overflowAttributeKeys = map[string]struct{}{
		ext.DBStatement:       {},
		ext.DBStatementParams: {},
	}
	c.includeSourceLocation = true
	c.includeThreadInfo = true
	c.includeUserInfo = true
	c.enrichers = defaultEnrichers()
	c.backend = BackendDatadog
	c.batchSize = defaultBatchSize
	c.queueSize = defaultQueueSize
	c.batchDelay = defaultBatchDelay
	c.exportTimeout = defaultExportTimeout
	if host, err := os.Hostname(); err == nil {
		c.hostname = host
	}
}

// envOptions mirrors the configuration surface read from the environment.
// Pointer fields distinguish "unset" from zero values, so environment
// variables only override what they actually set.
type envOptions struct {
	Enabled                 *bool    `envconfig:"ENABLED"`
	Service                 *string  `envconfig:"SERVICE"`
	Env                     *string  `envconfig:"ENV"`
	Version                 *string  `envconfig:"VERSION"`
	SQLInstrumentation      *bool    `envconfig:"SQL_INSTRUMENTATION"`
	SQLInstrumentationText  *bool    `envconfig:"SQL_INSTRUMENTATION_TEXT"`
	MaxAttributeValueLength *int     `envconfig:"MAX_ATTRIBUTE_VALUE_LENGTH"`
	MaxLogMessageLength     *int     `envconfig:"MAX_LOG_MESSAGE_LENGTH"`
	SendOverflowLogs        *bool    `envconfig:"SEND_OVERFLOW_LOGS"`
	OverflowLogOperations   []string `envconfig:"OVERFLOW_LOG_OPERATIONS"`
	LogStackExclusions      []string `envconfig:"LOG_STACK_EXCLUSIONS"`
	IngestEndpoint          *string  `envconfig:"INGEST_ENDPOINT"`
	APIKey                  *string  `envconfig:"API_KEY"`
	OTLPEndpoint            *string  `envconfig:"OTLP_ENDPOINT"`
}

// loadEnv applies TRACELIFT_* environment variables on top of defaults.
// Binding failures are reported and ignored so that a malformed variable
// cannot keep instrumentation from starting.
func loadEnv(c *config) {
	var e envOptions
	if err := envconfig.Process("tracelift", &e); err != nil {
		log.Warn("invalid environment configuration: %v", err)
		return
	}
	if e.Enabled != nil {
		c.enabled = *e.Enabled
	}
	if e.Service != nil {
		c.serviceName = *e.Service
	}
	if e.Env != nil {
		c.environment = *e.Env
	}
	if e.Version != nil {
		c.serviceVersion = *e.Version
	}
	if e.SQLInstrumentation != nil {
		c.sqlInstrumentation = *e.SQLInstrumentation
	}
	if e.SQLInstrumentationText != nil {
		c.sqlInstrumentationText = *e.SQLInstrumentationText
	}
	if e.MaxAttributeValueLength != nil {
		c.maxAttributeValueLength = *e.MaxAttributeValueLength
	}
	if e.MaxLogMessageLength != nil {
		c.maxLogMessageLength = *e.MaxLogMessageLength
	}
	if e.SendOverflowLogs != nil {
		c.sendOverflowLogs = *e.SendOverflowLogs
	}
	if len(e.OverflowLogOperations) > 0 {
		c.overflowLogOperations = e.OverflowLogOperations
	}
	if len(e.LogStackExclusions) > 0 {
		c.stackExclusions = append(c.stackExclusions, e.LogStackExclusions...)
	}
	if e.IngestEndpoint != nil {
		c.ingestEndpoint = *e.IngestEndpoint
	}
	if e.APIKey != nil {
		c.apiKey = *e.APIKey
	}
	if e.OTLPEndpoint != nil {
		c.otlpEndpoint = *e.OTLPEndpoint
	}
}

func newConfig(opts ...StartOption) *config {
	c := new(config)
	defaults(c)
	loadEnv(c)
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// WithEnabled toggles span post-processing. Disabled tracers still create
// spans but never truncate tags or emit overflow records.
func WithEnabled(enabled bool) StartOption {
	return func(c *config) {
		c.enabled = enabled
	}
}

// WithDebugMode enables debug mode on the tracer, making logging more verbose.
func WithDebugMode(enabled bool) StartOption {
	return func(c *config) {
		c.debug = enabled
	}
}

// WithService sets the service identity attached to every span and every
// overflow record.
func WithService(name, environment, version string) StartOption {
	return func(c *config) {
		c.serviceName = name
		c.environment = environment
		c.serviceVersion = version
	}
}

// WithGlobalTag sets a key/value pair which will be set as a tag on all spans
// created by tracer.
func WithGlobalTag(k string, v interface{}) StartOption {
	return func(c *config) {
		if c.globalTags == nil {
			c.globalTags = make(map[string]interface{})
		}
		c.globalTags[k] = v
	}
}

// WithSQLInstrumentation toggles the span-end truncation pass and, when text
// is true, capture and overflow forwarding of allow-listed statement text.
func WithSQLInstrumentation(enabled, text bool) StartOption {
	return func(c *config) {
		c.sqlInstrumentation = enabled
		c.sqlInstrumentationText = text
	}
}

// WithMaxAttributeValueLength sets the truncation threshold for span tag values.
func WithMaxAttributeValueLength(n int) StartOption {
	return func(c *config) {
		c.maxAttributeValueLength = n
	}
}

// WithMaxLogMessageLength sets the chunk size for overflow emission.
func WithMaxLogMessageLength(n int) StartOption {
	return func(c *config) {
		c.maxLogMessageLength = n
	}
}

// WithSendOverflowLogs controls whether every chunk of an oversized value is
// forwarded. When false only the first chunk is sent.
func WithSendOverflowLogs(enabled bool) StartOption {
	return func(c *config) {
		c.sendOverflowLogs = enabled
	}
}

// WithOverflowLogOperations restricts full overflow forwarding to spans whose
// root operation name is in ops. An empty list means unrestricted.
func WithOverflowLogOperations(ops ...string) StartOption {
	return func(c *config) {
		c.overflowLogOperations = ops
	}
}

// WithOverflowAttributeKeys adds keys to the allow-list of span tags eligible
// for overflow forwarding.
func WithOverflowAttributeKeys(keys ...string) StartOption {
	return func(c *config) {
		for _, k := range keys {
			c.overflowAttributeKeys[k] = struct{}{}
		}
	}
}

// WithSourceLocation toggles capture of the calling code location during
// attribute enrichment.
func WithSourceLocation(enabled bool) StartOption {
	return func(c *config) {
		c.includeSourceLocation = enabled
	}
}

// WithThreadInfo toggles capture of the goroutine id during enrichment.
func WithThreadInfo(enabled bool) StartOption {
	return func(c *config) {
		c.includeThreadInfo = enabled
	}
}

// WithUserInfo toggles capture of the current user and process name during
// enrichment.
func WithUserInfo(enabled bool) StartOption {
	return func(c *config) {
		c.includeUserInfo = enabled
	}
}

// WithStackExclusions adds function-name prefixes to skip when locating the
// calling frame. The prefixes are merged with a built-in exclusion list.
func WithStackExclusions(prefixes ...string) StartOption {
	return func(c *config) {
		c.stackExclusions = append(c.stackExclusions, prefixes...)
	}
}

// WithEnrichers replaces the ordered list of enrichment steps. Unknown
// identifiers cause Start to fail.
func WithEnrichers(names ...string) StartOption {
	return func(c *config) {
		c.enrichers = names
	}
}

// WithBackend selects the overflow ingest backend along with its endpoint
// and API key.
func WithBackend(kind BackendKind, endpoint, apiKey string) StartOption {
	return func(c *config) {
		c.backend = kind
		c.ingestEndpoint = endpoint
		c.apiKey = apiKey
	}
}

// WithActivityLogger injects the logger notified of span start, completion
// and recorded exceptions. Failures inside the logger are swallowed.
func WithActivityLogger(l ActivityLogger) StartOption {
	return func(c *config) {
		c.activityLogger = l
	}
}

// WithTracerProvider sets the provider used to create underlying SDK spans.
func WithTracerProvider(tp trace.TracerProvider) StartOption {
	return func(c *config) {
		c.tracerProvider = tp
	}
}

// WithOTLPExport configures the bundled OTLP batch exporting provider.
func WithOTLPExport(endpoint string, batchSize, queueSize int, delay, timeout time.Duration) StartOption {
	return func(c *config) {
		c.otlpEndpoint = endpoint
		if batchSize > 0 {
			c.batchSize = batchSize
		}
		if queueSize > 0 {
			c.queueSize = queueSize
		}
		if delay > 0 {
			c.batchDelay = delay
		}
		if timeout > 0 {
			c.exportTimeout = timeout
		}
	}
}

// withHTTPClient replaces the outbound overflow client; used in tests.
func withHTTPClient(client *http.Client) StartOption {
	return func(c *config) {
		c.httpClient = client
	}
}

func (c *config) overflowAllowed(key string) bool {
	_, ok := c.overflowAttributeKeys[key]
	return ok
}

func (c *config) overflowOperationAllowed(rootOp string) bool {
	if len(c.overflowLogOperations) == 0 {
		return true
	}
	for _, op := range c.overflowLogOperations {
		if op == rootOp {
			return true
		}
	}
	return false
}

// StartSpanConfig holds the configuration for starting a span.
type StartSpanConfig struct {
	// Kind is the span kind. Defaults to internal.
	Kind trace.SpanKind

	// Tags are set on the started span.
	Tags map[string]interface{}

	// StartTime overrides the span start time.
	StartTime time.Time

	// Parent is a remote parent context used when no span is active on the
	// calling chain.
	Parent trace.SpanContext

	// DetachedRoot forces the span to start a new trace, recording any prior
	// ambient span and same-trace remote parent as links instead of parents.
	DetachedRoot bool
}

// StartSpanOption is a configuration option for StartSpan.
type StartSpanOption func(*StartSpanConfig)

// Tag sets the given key/value pair as a tag on the started Span.
func Tag(k string, v interface{}) StartSpanOption {
	return func(cfg *StartSpanConfig) {
		if cfg.Tags == nil {
			cfg.Tags = map[string]interface{}{}
		}
		cfg.Tags[k] = v
	}
}

// WithKind sets the kind of the started span.
func WithKind(kind trace.SpanKind) StartSpanOption {
	return func(cfg *StartSpanConfig) {
		cfg.Kind = kind
	}
}

// StartTime sets a custom time as the start time for the created span. By
// default a span is started using the current time.
func StartTime(t time.Time) StartSpanOption {
	return func(cfg *StartSpanConfig) {
		cfg.StartTime = t
	}
}

// ChildOf tells StartSpan to use the given remote span context as a parent
// when no span is active on the calling chain.
func ChildOf(sc trace.SpanContext) StartSpanOption {
	return func(cfg *StartSpanConfig) {
		cfg.Parent = sc
	}
}

// WithDetachedRoot forces StartRootSpan to begin a new trace, severing the
// span from the ambient trace in progress.
func WithDetachedRoot() StartSpanOption {
	return func(cfg *StartSpanConfig) {
		cfg.DetachedRoot = true
	}
}

// FinishConfig holds the configuration for finishing a span.
type FinishConfig struct {
	FinishTime time.Time
	Error      error
}

// FinishOption is a configuration option for Finish.
type FinishOption func(*FinishConfig)

// FinishTime sets the given time as the finishing time for the span.
func FinishTime(t time.Time) FinishOption {
	return func(cfg *FinishConfig) {
		cfg.FinishTime = t
	}
}

// WithError records the given error on the span before marking it as finished.
func WithError(err error) FinishOption {
	return func(cfg *FinishConfig) {
		cfg.Error = err
	}
}
