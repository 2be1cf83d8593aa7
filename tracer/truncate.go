// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/tracelift/tracelift-go/ext"
	"github.com/tracelift/tracelift-go/internal/log"
	"github.com/tracelift/tracelift-go/internal/version"
)

// truncator runs once per span at finish: it truncates oversized tag values
// in place and, for allow-listed keys, forwards the untruncated value
// out-of-band to the ingest endpoint.
type truncator struct {
	cfg    *config
	reg    *registry
	enrich *enricher
	client *overflowClient
}

// process applies the size-bounding policy to the span's tags. For every
// overflow emission the full value is snapshotted before the tag is mutated,
// so the overflow channel never carries truncated data. The emission itself
// is dispatched detached; this call returns once the send is scheduled.
func (p *truncator) process(ctx context.Context, s *Span) {
	if p == nil || s == nil || !p.cfg.enabled || !p.cfg.sqlInstrumentation {
		return
	}
	max := p.cfg.maxAttributeValueLength
	if max <= 0 {
		return
	}
	r := s.rec
	rootOp := r.operationName()
	if root := p.reg.rootOf(r); root != nil {
		rootOp = root.operationName()
	}

	r.mu.Lock()
	type pending struct {
		key   string
		value string
	}
	var overflows []pending
	for key, v := range r.tags {
		text, ok := v.(string)
		if !ok || utf8.RuneCountInString(text) <= max {
			continue
		}
		if p.client != nil && p.cfg.sqlInstrumentationText && p.cfg.overflowAllowed(key) {
			overflows = append(overflows, pending{key: key, value: text})
			r.tags[key] = truncate(text, max)
			r.tags[key+ext.TruncatedSuffix] = true
			continue
		}
		r.tags[key] = truncate(text, max)
	}
	r.mu.Unlock()

	for _, o := range overflows {
		p.emitOverflow(ctx, r, rootOp, o.key, o.value)
	}
}

// emitOverflow splits the full value into chunks and schedules their
// delivery. The enriched attribute snapshot is taken synchronously, since
// thread, user and source context can change by the time the send runs.
func (p *truncator) emitOverflow(ctx context.Context, rec *spanRecord, rootOp, key, full string) {
	chunks := chunkText(full, p.cfg.maxLogMessageLength)
	overflowed := len(chunks) > 1
	total := len(chunks)
	if !p.cfg.sendOverflowLogs || !p.cfg.overflowOperationAllowed(rootOp) {
		// Gated emissions still report chunk 1 of the full count.
		chunks = chunks[:1]
	}
	bag := p.enrich.enrich(ctx, rec)
	bag[ext.LibraryName] = version.Name
	bag[ext.LibraryVersion] = version.Tag

	ts := time.Now().UnixMilli()
	records := make([]chunkRecord, 0, len(chunks))
	for i, chunk := range chunks {
		records = append(records, chunkRecord{
			timestamp: ts,
			bag:       bag,
			key:       key,
			overflow:  overflowed,
			index:     i + 1,
			count:     total,
			payload:   chunk,
		})
	}
	go p.client.send(records)
	log.Debug("scheduled %d overflow chunk(s) for tag %q", len(records), key)
}

// truncate returns the first max characters of text.
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

// chunkText splits text into fragments of at most size characters.
// Concatenating the fragments in order reproduces text exactly. Empty text
// yields a single empty fragment.
func chunkText(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
