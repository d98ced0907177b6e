// Package pipeline runs an ordered list of exchange descriptors against a
// session, resolving each through the cache when allowed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dashscrape/internal/cache"
	"dashscrape/internal/components/assert"
	"dashscrape/internal/components/telemetry"
	"dashscrape/internal/output"
	"dashscrape/internal/sockjs"
)

const (
	report_pipeline_resolve = "pipeline.resolve"
	report_pipeline_parse   = "pipeline.parse"
	report_pipeline_errors  = "pipeline.dataset_errors"
)

// Exchanger sends one query and returns the first response accepted by validate.
type Exchanger interface {
	Send(ctx context.Context, query string, validate sockjs.Validator, initial bool) (json.RawMessage, error)
}

// Query yields the payload of a descriptor from the pipeline state.
type Query[S any] interface {
	resolve(state *S) string
}

// Static is a query known up front.
type Static[S any] string

func (q Static[S]) resolve(*S) string {
	return string(q)
}

// Computed is evaluated right before its descriptor runs, so it sees
// everything earlier descriptors parsed into the state.
type Computed[S any] func(state *S) string

func (q Computed[S]) resolve(state *S) string {
	return q(state)
}

type CachePolicy int

const (
	// CacheEligible responses are read from and written to the cache.
	CacheEligible CachePolicy = iota
	// AlwaysFetch responses bypass the cache, the exchange also initializes
	// the session and is replayed after a restart.
	AlwaysFetch
)

// ParseFunc turns the raw response into a record. Returning a nil record is
// fine for bookkeeping steps, returning an error aborts the run.
type ParseFunc[S any] func(state *S, raw json.RawMessage, sink ErrorSink) (*output.Record, error)

type Descriptor[S any] struct {
	Name     string
	Query    Query[S]
	Validate sockjs.Validator
	Parse    ParseFunc[S]
	Policy   CachePolicy
}

// ErrorSink collects recoverable problems embedded in otherwise valid datasets.
type ErrorSink interface {
	Report(dataset string, messages ...string)
}

// ErrorLog is the ErrorSink used by a pipeline run.
type ErrorLog struct {
	Count    int
	Messages []string

	tel telemetry.API
}

func (l *ErrorLog) Report(dataset string, messages ...string) {
	if len(messages) == 0 {
		return
	}
	var combined strings.Builder
	fmt.Fprintf(&combined, "Errors found in '%s' data fetch:\n", dataset)
	for _, m := range messages {
		fmt.Fprintf(&combined, "- %s\n", m)
	}
	l.Count += len(messages)
	l.Messages = append(l.Messages, combined.String())
	if l.tel != nil {
		l.tel.ReportWarning(report_pipeline_errors, dataset, messages)
	}
}

type Counters struct {
	Downloaded    int
	ReadFromCache int
	Processed     int
}

type Pipeline[S any] struct {
	exchanger Exchanger
	store     cache.Store
	state     *S
	tel       telemetry.API

	errors   ErrorLog
	counters Counters
}

// New creates a pipeline threading `state` through every descriptor. Pass
// cache.Disabled{} as store to skip the cache entirely.
func New[S any](exchanger Exchanger, store cache.Store, state *S, tel telemetry.API) *Pipeline[S] {
	assert.NotNil(exchanger)
	assert.NotNil(store)
	assert.NotNil(state)
	assert.NotNil(tel)

	scoped := telemetry.NewScopedAPI("pipeline", tel)
	return &Pipeline[S]{
		exchanger: exchanger,
		store:     store,
		state:     state,
		tel:       scoped,
		errors:    ErrorLog{tel: scoped},
	}
}

func (p *Pipeline[S]) Errors() ErrorLog {
	return p.errors
}

func (p *Pipeline[S]) Counters() Counters {
	return p.counters
}

// Run executes descriptors one by one in order and returns the non-nil records.
func (p *Pipeline[S]) Run(ctx context.Context, descriptors []Descriptor[S]) ([]*output.Record, error) {
	var records []*output.Record
	for _, d := range descriptors {
		record, err := p.runOne(ctx, d)
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, record)
		}
	}
	p.counters.Processed = len(records)
	return records, nil
}

func (p *Pipeline[S]) runOne(ctx context.Context, d Descriptor[S]) (*output.Record, error) {
	query := d.Query.resolve(p.state)
	raw, err := p.resolve(ctx, d, query)
	if err != nil {
		return nil, err
	}

	record, err := d.Parse(p.state, raw, &p.errors)
	if err != nil {
		p.tel.ReportBroken(report_pipeline_parse, err, d.Name)
		return nil, fmt.Errorf("parse %s: %w", d.Name, err)
	}
	return record, nil
}

func (p *Pipeline[S]) resolve(ctx context.Context, d Descriptor[S], query string) (json.RawMessage, error) {
	key := cache.Key(query)

	if d.Policy == CacheEligible {
		raw, err := p.store.Get(ctx, key)
		if err == nil {
			p.counters.ReadFromCache++
			p.tel.ReportDebug("read from cache", d.Name, key)
			return raw, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			p.tel.ReportWarning(report_pipeline_resolve, err, d.Name, key)
		}
	}

	p.tel.ReportDebug("fetch", d.Name, key)
	raw, err := p.exchanger.Send(ctx, query, d.Validate, d.Policy == AlwaysFetch)
	if err != nil {
		return nil, fmt.Errorf("exchange %s: %w", d.Name, err)
	}

	if d.Policy == CacheEligible {
		err = p.store.Put(ctx, key, raw)
		if err != nil {
			p.tel.ReportBroken(report_pipeline_resolve, err, d.Name, key)
			return nil, fmt.Errorf("save cache for %s: %w", d.Name, err)
		}
	}
	p.counters.Downloaded++
	return raw, nil
}
