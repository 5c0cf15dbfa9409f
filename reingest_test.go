package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reingest(t *testing.T, input string, inject *ErrorInjection) (*ReingestGenerator, []*Trace, *DataQueue) {
	t.Helper()
	queue := NewDataQueue(true)
	g := NewReingestGenerator(strings.NewReader(input), queue, NewStatistics(), fakeHeap{},
		LoaderConfig{Source: "replay"}, inject, NewRng("reingest"), NewNopLogger())
	g.now = func() time.Time { return time.UnixMilli(9_000_000) }

	var wg sync.WaitGroup
	wg.Add(1)
	g.Generate(&wg, make(chan struct{}))
	require.True(t, queue.Finished())
	return g, queue.DrainTraces(), queue
}

func dump(t *testing.T, traces ...*Trace) string {
	t.Helper()
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)
	for _, tr := range traces {
		require.NoError(t, tw.Write(tr))
	}
	require.NoError(t, tw.Close())
	return buf.String()
}

func TestReingestRoundTrip(t *testing.T) {
	def := loadPattern(t, checkoutPattern)
	b := NewPatternBuilder(def, LoaderConfig{TraceCount: 10, Source: "gen"}, NewRng("orig"), nil, NewNopLogger())
	require.NoError(t, b.Init())
	var orig []*Trace
	for i := 0; i < 10; i++ {
		tr, err := b.GenerateOne(int64(100_000 + i*500))
		require.NoError(t, err)
		orig = append(orig, tr)
	}

	input := "start_ms: 1000000\n" + dump(t, orig...)
	g, got, queue := reingest(t, input, nil)
	require.Len(t, got, len(orig))
	assert.Equal(t, int64(10), g.traces)
	assert.Zero(t, g.skipped)
	assert.Equal(t, int64(10), queue.EnteredTraces())

	seen := map[string]bool{}
	for _, tr := range orig {
		for _, s := range tr.Spans() {
			seen[s.SpanID.String()] = true
		}
		seen[tr.TraceID().String()] = true
	}
	delta := int64(1_000_000) - orig[0].StartMs()
	for i, tr := range got {
		o := orig[i]
		assert.Equal(t, o.Root, tr.Root)
		assert.Equal(t, o.SpanCount(), tr.SpanCount())
		assert.Equal(t, o.DurationMs(), tr.DurationMs())
		assert.Equal(t, o.StartMs()+delta, tr.StartMs())
		assert.False(t, seen[tr.TraceID().String()], "trace id reused")
		assertConnected(t, tr)
		for j, s := range tr.Spans() {
			assert.False(t, seen[s.SpanID.String()], "span id reused")
			assert.Equal(t, o.Spans()[j].Name, s.Name)
			assert.Equal(t, "gen", s.Source)
		}
	}
	assert.Equal(t, int64(1_000_000), got[0].StartMs())

	// the statistics trace follows the replayed spans
	spans := queue.Drain()
	assert.Equal(t, "REINGEST_STAT", spans[queue.EnteredSpans()].Name)
}

func TestReingestAnchors(t *testing.T) {
	rng := NewRng("anchors")
	a := chain(rng, "a", 2, 5000)
	b := chain(rng, "b", 2, 7000)
	c := chain(rng, "c", 2, 20000)

	// without an anchor the first trace starts now
	input := dump(t, a, b) + "start_ms: 50000\n" + dump(t, c)
	_, got, _ := reingest(t, input, nil)
	require.Len(t, got, 3)
	assert.Equal(t, int64(9_000_000), got[0].StartMs())
	assert.Equal(t, int64(9_002_000), got[1].StartMs())
	assert.Equal(t, int64(50000), got[2].StartMs())
}

func TestReingestLineForms(t *testing.T) {
	rng := NewRng("forms")
	line := strings.TrimSpace(strings.SplitN(dump(t, chain(rng, "a", 2, 100)), "\n", 2)[0])
	input := strings.Join([]string{
		"start_ms: 1000",
		"",
		"data: " + line,
		`[{"root":"a","spans":` + line + `]`,
		"garbage",
		"start_ms: soon",
		`{"traceId":"x","spans":[]}`,
		line,
	}, "\n")

	g, got, _ := reingest(t, input, nil)
	assert.Len(t, got, 3)
	assert.Equal(t, int64(3), g.skipped)
	// every replay of the same record gets its own ids
	assert.NotEqual(t, got[0].TraceID(), got[1].TraceID())
	assert.NotEqual(t, got[0].TraceID(), got[2].TraceID())
	assert.NotEqual(t, got[1].TraceID(), got[2].TraceID())
}

func TestReingestRepeatedRecord(t *testing.T) {
	rng := NewRng("repeat")
	a := chain(rng, "a", 3, 5000)
	line := strings.SplitN(dump(t, a), "\n", 2)[0]
	input := "start_ms: 100000\n" + line + "\nstart_ms: 200000\n" + line + "\n"

	_, got, _ := reingest(t, input, nil)
	require.Len(t, got, 2)
	first, second := got[0], got[1]
	assert.Equal(t, int64(100000), first.StartMs())
	assert.Equal(t, int64(200000), second.StartMs())
	assert.NotEqual(t, first.TraceID(), second.TraceID())

	ids := map[string]bool{}
	for _, tr := range got {
		assertConnected(t, tr)
		for _, s := range tr.Spans() {
			assert.Equal(t, tr.TraceID(), s.TraceID)
			assert.False(t, ids[s.SpanID.String()], "span id shared between replays")
			ids[s.SpanID.String()] = true
		}
	}
	assert.Len(t, ids, 6)
}

func TestReingestKeepsLevels(t *testing.T) {
	orig := chain(NewRng("depth"), "a", 3, 5000)
	_, got, _ := reingest(t, dump(t, orig), nil)
	require.Len(t, got, 1)
	tr := got[0]
	require.Len(t, tr.Levels, 3)
	for lvl := range tr.Levels {
		require.Len(t, tr.Levels[lvl], 1)
		assert.Equal(t, orig.Levels[lvl][0].Name, tr.Levels[lvl][0].Name)
	}
	// each parent sits one level above its child
	for lvl := 1; lvl < len(tr.Levels); lvl++ {
		assert.Equal(t, tr.Levels[lvl-1][0].SpanID, tr.Levels[lvl][0].Parents[0])
	}
}

func latencyDump(t *testing.T) string {
	t.Helper()
	rec := TraceRecord{
		TraceID: "t1",
		Spans: []SpanRecord{
			{Name: "root", StartMs: 0, DurationMs: 100, SpanID: "r", TraceID: "t1"},
			{Name: "call", StartMs: 10, DurationMs: 50, SpanID: "c", TraceID: "t1",
				Annotations: []map[string]string{{ParentTag: "r"}, {"db": "slow"}}},
			{Name: "after", StartMs: 70, DurationMs: 20, SpanID: "f", TraceID: "t1",
				Annotations: []map[string]string{{FollowsFromTag: "c"}, {"db": "fast"}}},
		},
	}
	rec.Bounds()
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	return "start_ms: 0\n" + string(b) + "\n"
}

func TestReingestLatency(t *testing.T) {
	input := `latency: {"spanName":"call","tagName":"db","tagValue":"slow","delta":200,"probability":100}` + "\n" +
		latencyDump(t)
	_, got, _ := reingest(t, input, nil)
	require.Len(t, got, 1)
	tr := got[0]
	require.Len(t, tr.Levels, 2)
	root := tr.Levels[0][0]
	assert.Equal(t, int64(200), root.DurationMs)
	var call, after *Span
	for _, s := range tr.Spans() {
		switch s.Name {
		case "call":
			call = s
		case "after":
			after = s
		}
	}
	require.NotNil(t, call)
	require.NotNil(t, after)
	assert.Equal(t, int64(100), call.DurationMs)
	assert.Equal(t, int64(20), after.DurationMs)
	assert.Equal(t, call.SpanID, after.FollowsFrom[0])
	assert.Equal(t, int64(200), tr.DurationMs())
}

func TestReingestFollowsFromLatency(t *testing.T) {
	input := `latency: {"spanName":"after","tagName":"db","tagValue":"fast","delta":50,"probability":100}` + "\n" +
		latencyDump(t)
	_, got, _ := reingest(t, input, nil)
	require.Len(t, got, 1)
	durations := map[string]int64{}
	for _, s := range got[0].Spans() {
		durations[s.Name] = s.DurationMs
	}
	// the chain runs after -> call -> root
	assert.Equal(t, map[string]int64{"root": 50, "call": 25, "after": 10}, durations)
}

func TestReingestErrorInjection(t *testing.T) {
	inject := &ErrorInjection{Tag: Tag{"db", "slow"}, Rate: 100}
	_, got, _ := reingest(t, latencyDump(t), inject)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasError())
	for _, s := range got[0].Spans() {
		assert.Equal(t, s.Name == "call", s.IsError(), s.Name)
	}
}

func TestReingestEmpty(t *testing.T) {
	g, got, queue := reingest(t, "Roots: \nTotal traces - 0: Erroneous - 0\n", nil)
	assert.Empty(t, got)
	assert.Zero(t, g.skipped)
	// only the statistics root is queued
	spans := queue.Drain()
	require.Len(t, spans, 1)
	assert.Equal(t, "REINGEST_STAT", spans[0].Name)
}
