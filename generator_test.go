package main

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHeap struct {
	used, max uint64
}

func (h fakeHeap) Used() uint64 { return h.used }
func (h fakeHeap) Max() uint64  { return h.max }

func newPatternGenerator(t *testing.T, cfg LoaderConfig, queue *DataQueue, stats *Statistics) *TraceGenerator {
	t.Helper()
	rng := NewRng("driver")
	b := NewPatternBuilder(loadPattern(t, checkoutPattern), cfg, rng, nil, NewNopLogger())
	require.NoError(t, b.Init())
	return NewTraceGenerator(b, queue, stats, fakeHeap{}, cfg, rng, NewNopLogger())
}

func runGenerator(g Generator, stop chan struct{}) {
	var wg sync.WaitGroup
	wg.Add(1)
	g.Generate(&wg, stop)
	wg.Wait()
}

func TestTraceGeneratorExactCount(t *testing.T) {
	cfg := LoaderConfig{Rate: 1000, TraceCount: 500, Source: "test"}
	queue := NewDataQueue(true)
	stats := NewStatistics()
	g := newPatternGenerator(t, cfg, queue, stats)
	start := time.UnixMilli(1_700_000_000_000)
	g.now = func() time.Time { return start }

	runGenerator(g, make(chan struct{}))

	assert.True(t, queue.Finished())
	assert.Equal(t, int64(500), queue.EnteredTraces())
	assert.Equal(t, int64(500), stats.Document().TotalTraces)
	traces := queue.DrainTraces()
	assert.Len(t, traces, 500)
	for _, trace := range traces {
		assert.GreaterOrEqual(t, trace.StartMs(), start.UnixMilli())
	}

	spans := queue.Drain()
	// the statistics root and one child per trace type close the stream
	require.Equal(t, queue.EnteredSpans()+3, int64(len(spans)))
	tail := spans[len(spans)-3:]
	assert.Equal(t, "PATTERN_STAT", tail[0].Name)
	total, _ := tail[0].Tag("totalTraces")
	assert.Equal(t, "500", total)
	assert.Equal(t, []string{"browse", "checkout"}, []string{tail[1].Name, tail[2].Name})
}

func TestTraceGeneratorDuration(t *testing.T) {
	cfg := LoaderConfig{Rate: 100, Duration: 10 * time.Second}
	queue := NewDataQueue(false)
	stats := NewStatistics()
	g := newPatternGenerator(t, cfg, queue, stats)
	start := time.UnixMilli(1_700_000_000_000)
	g.now = func() time.Time { return start }

	runGenerator(g, make(chan struct{}))

	assert.Equal(t, int64(1000), cfg.SpanTarget())
	// the last trace may overshoot by less than one trace of up to 5 spans
	assert.GreaterOrEqual(t, queue.EnteredSpans(), int64(1000))
	assert.Less(t, queue.EnteredSpans(), int64(1005))
	assert.Equal(t, stats.Document().TotalSpans, queue.EnteredSpans())
}

func TestTraceGeneratorRealTime(t *testing.T) {
	cfg := LoaderConfig{Rate: 100000, TraceCount: 20, RealTime: true}
	queue := NewDataQueue(false)
	g := newPatternGenerator(t, cfg, queue, NewStatistics())
	g.pace = time.Millisecond

	runGenerator(g, make(chan struct{}))
	assert.Equal(t, int64(20), queue.EnteredTraces())
}

func TestTraceGeneratorStop(t *testing.T) {
	cfg := LoaderConfig{Rate: 100, TraceCount: 10}
	queue := NewDataQueue(false)
	g := newPatternGenerator(t, cfg, queue, NewStatistics())
	stop := make(chan struct{})
	close(stop)

	runGenerator(g, stop)
	assert.True(t, queue.Finished())
	assert.Zero(t, queue.EnteredTraces())
	assert.Zero(t, queue.Len())
}

func TestWaitForHeap(t *testing.T) {
	rng := NewRng("heap")
	log := NewNopLogger()
	queue := NewDataQueue(false)
	for i := 0; i < 50; i++ {
		queue.AddTrace(chain(rng, "t", 2, 0))
	}

	// below the high-water mark or without a ceiling there is no wait
	assert.True(t, waitForHeap(nil, queue, time.Millisecond, log, nil))
	assert.True(t, waitForHeap(fakeHeap{used: 89, max: 100}, queue, time.Millisecond, log, nil))
	assert.True(t, waitForHeap(fakeHeap{used: 1000}, queue, time.Millisecond, log, nil))

	resumed := make(chan bool)
	go func() {
		resumed <- waitForHeap(fakeHeap{used: 95, max: 100}, queue, time.Millisecond, log, make(chan struct{}))
	}()
	// consume until the waiter lets go; it waits for a fifth of the depth it saw
	var ok bool
	for waiting := true; waiting; {
		select {
		case ok = <-resumed:
			waiting = false
		case <-time.After(time.Millisecond):
			if queue.PollSpan() != nil {
				queue.Done(1)
			}
		}
	}
	assert.True(t, ok)
	assert.LessOrEqual(t, queue.Pending(), 20)

	for i := 0; i < 50; i++ {
		queue.AddTrace(chain(rng, "t", 2, 0))
	}
	stop := make(chan struct{})
	close(stop)
	assert.False(t, waitForHeap(fakeHeap{used: 95, max: 100}, queue, time.Millisecond, log, stop))
}

func TestWaitForHeapCountsHeldSpans(t *testing.T) {
	rng := NewRng("held")
	log := NewNopLogger()
	queue := NewDataQueue(false)
	client := &recordingClient{}
	s := NewSender(queue, client, nil, 0, true, log)
	s.pace = time.Millisecond
	release := time.Now().Add(200 * time.Millisecond).UnixMilli()
	for i := 0; i < 10; i++ {
		queue.AddTrace(chain(rng, "held", 2, release))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go s.Run(&wg, make(chan struct{}))
	// the sender drains the queue into its backlog and holds the future spans
	require.Eventually(t, func() bool { return queue.Len() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 20, queue.Pending())

	resumed := make(chan bool, 1)
	go func() {
		resumed <- waitForHeap(fakeHeap{used: 95, max: 100}, queue, time.Millisecond, log, make(chan struct{}))
	}()
	var ok bool
	select {
	case ok = <-resumed:
		assert.GreaterOrEqual(t, time.Now().UnixMilli(), release, "resumed while every span was held")
	case <-time.After(20 * time.Millisecond):
		// once the spans are due the sender hands them off and the wait ends
		ok = <-resumed
	}
	assert.True(t, ok)
	assert.LessOrEqual(t, queue.Pending(), 4)

	queue.Finish()
	wg.Wait()
	assert.Len(t, client.sent(), 20)
	assert.Zero(t, queue.Pending())
}
