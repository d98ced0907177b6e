package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"dashscrape/internal/cache"
	"dashscrape/internal/components/telemetry"
	"dashscrape/internal/output"
	"dashscrape/internal/sockjs"
	"dashscrape/lib/testutil"

	"github.com/stretchr/testify/require"
)

type sent struct {
	query   string
	initial bool
}

type fakeExchanger struct {
	sent      []sent
	responses map[string]string
	errs      map[string]error
}

func (f *fakeExchanger) Send(ctx context.Context, query string, validate sockjs.Validator, initial bool) (json.RawMessage, error) {
	f.sent = append(f.sent, sent{query: query, initial: initial})
	if err, ok := f.errs[query]; ok {
		return nil, err
	}
	response, ok := f.responses[query]
	if !ok {
		response = `{"echo":` + fmt.Sprintf("%q", query) + `}`
	}
	return json.RawMessage(response), nil
}

type testState struct {
	marker string
}

func accept(map[string]any) bool {
	return true
}

func valuesRecord(code string) ParseFunc[testState] {
	return func(state *testState, raw json.RawMessage, sink ErrorSink) (*output.Record, error) {
		var body struct {
			Values any      `json:"values"`
			Errors []string `json:"errors"`
		}
		err := json.Unmarshal(raw, &body)
		if err != nil {
			return nil, err
		}
		sink.Report(code, body.Errors...)
		return &output.Record{Code: code, Values: body.Values}, nil
	}
}

func TestComputedQuerySeesEarlierParse(t *testing.T) {
	exchanger := &fakeExchanger{}
	state := &testState{}
	p := New(exchanger, cache.Disabled{}, state, telemetry.SlogAPI{})

	records, err := p.Run(context.Background(), []Descriptor[testState]{
		{
			Name:     "a",
			Query:    Static[testState]("A"),
			Validate: accept,
			Policy:   AlwaysFetch,
			Parse: func(state *testState, raw json.RawMessage, sink ErrorSink) (*output.Record, error) {
				state.marker = "MARKER-42"
				return nil, nil
			},
		},
		{
			Name: "b",
			Query: Computed[testState](func(state *testState) string {
				return "select " + state.marker
			}),
			Validate: accept,
			Parse:    valuesRecord("b"),
		},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.Equal(t, []sent{
		{query: "A", initial: true},
		{query: "select MARKER-42", initial: false},
	}, exchanger.sent)
	require.Contains(t, exchanger.sent[1].query, "MARKER-42")
}

func TestCachedRunIsIdempotent(t *testing.T) {
	store, err := cache.NewFileStore(filepath.Join(t.TempDir(), "cache"), "response", "json")
	require.NoError(t, err)

	descriptors := []Descriptor[testState]{
		{
			Name:     "handshake",
			Query:    Static[testState]("hello"),
			Validate: accept,
			Policy:   AlwaysFetch,
			Parse: func(*testState, json.RawMessage, ErrorSink) (*output.Record, error) {
				return nil, nil
			},
		},
		{Name: "x", Query: Static[testState]("query-x"), Validate: accept, Parse: valuesRecord("x")},
	}
	responses := map[string]string{"query-x": `{"values":[1,2,3]}`}

	run := func() ([]byte, *fakeExchanger, Counters) {
		exchanger := &fakeExchanger{responses: responses}
		p := New(exchanger, store, &testState{}, telemetry.SlogAPI{})
		records, err := p.Run(context.Background(), descriptors)
		require.NoError(t, err)
		encoded, err := json.Marshal(records)
		require.NoError(t, err)
		return encoded, exchanger, p.Counters()
	}

	first, exchanger, counters := run()
	require.Equal(t, []sent{{query: "hello", initial: true}, {query: "query-x"}}, exchanger.sent)
	require.Equal(t, Counters{Downloaded: 2, Processed: 1}, counters)

	has, err := store.Has(context.Background(), cache.Key("query-x"))
	require.NoError(t, err)
	require.True(t, has)
	has, err = store.Has(context.Background(), cache.Key("hello"))
	require.NoError(t, err)
	require.False(t, has)

	second, exchanger, counters := run()
	// only the session handshake goes to the network
	require.Equal(t, []sent{{query: "hello", initial: true}}, exchanger.sent)
	require.Equal(t, Counters{Downloaded: 1, ReadFromCache: 1, Processed: 1}, counters)
	require.Equal(t, string(first), string(second))
}

func TestRecoverableDatasetErrors(t *testing.T) {
	exchanger := &fakeExchanger{responses: map[string]string{
		"q": `{"values":[1],"errors":["bad row"]}`,
	}}
	p := New(exchanger, cache.Disabled{}, &testState{}, telemetry.SlogAPI{})

	records, err := p.Run(context.Background(), []Descriptor[testState]{
		{Name: "q", Query: Static[testState]("q"), Validate: accept, Parse: valuesRecord("q")},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []any{float64(1)}, records[0].Values)

	errs := p.Errors()
	require.Equal(t, 1, errs.Count)
	require.Len(t, errs.Messages, 1)
	require.True(t, strings.Contains(errs.Messages[0], "- bad row"))
}

func TestFatalExchangeAbortsRun(t *testing.T) {
	exchanger := &fakeExchanger{errs: map[string]error{
		"broken": sockjs.ProtocolError{Code: 500, Reason: "query failed", PerExchange: true},
	}}
	p := New(exchanger, cache.Disabled{}, &testState{}, telemetry.SlogAPI{})

	records, err := p.Run(context.Background(), []Descriptor[testState]{
		{Name: "ok", Query: Static[testState]("ok"), Validate: accept, Parse: valuesRecord("ok")},
		{Name: "broken", Query: Static[testState]("broken"), Validate: accept, Parse: valuesRecord("broken")},
		{Name: "never", Query: Static[testState]("never"), Validate: accept, Parse: valuesRecord("never")},
	})
	var protoErr sockjs.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	require.Nil(t, records)
	require.Len(t, exchanger.sent, 2)
	require.Equal(t, 0, p.Errors().Count)
}

func TestParseErrorAbortsRun(t *testing.T) {
	exchanger := &fakeExchanger{}
	p := New(exchanger, cache.Disabled{}, &testState{}, telemetry.SlogAPI{})

	_, err := p.Run(context.Background(), []Descriptor[testState]{
		{
			Name:     "menu",
			Query:    Static[testState]("menu"),
			Validate: accept,
			Parse: func(*testState, json.RawMessage, ErrorSink) (*output.Record, error) {
				return nil, fmt.Errorf("menu item not found")
			},
		},
	})
	require.ErrorContains(t, err, "parse menu: menu item not found")
}

func TestCacheWriteFailureIsFatal(t *testing.T) {
	diskFull := errors.New("disk full")
	exchanger := &fakeExchanger{responses: map[string]string{"query-x": `{"values":1}`}}
	p := New(exchanger, testutil.ReadOnlyStore{Err: diskFull}, &testState{}, telemetry.SlogAPI{})

	records, err := p.Run(context.Background(), []Descriptor[testState]{
		{Name: "x", Query: Static[testState]("query-x"), Validate: accept, Parse: valuesRecord("x")},
		{Name: "y", Query: Static[testState]("query-y"), Validate: accept, Parse: valuesRecord("y")},
	})
	require.ErrorIs(t, err, diskFull)
	require.ErrorContains(t, err, "save cache for x")
	require.Nil(t, records)
	require.Len(t, exchanger.sent, 1)
}
