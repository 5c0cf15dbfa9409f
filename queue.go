package main

import (
	"sync"
	"sync/atomic"
)

// DataQueue hands spans from the producing goroutine to the sender. The
// buffers are guarded by one mutex; the running counts are atomic so they
// can be read without it. A span stays pending from the moment it is added
// until the consumer reports it handed off with Done, so spans a consumer
// has drained but still holds keep counting against the producer.
type DataQueue struct {
	mut        sync.Mutex
	spans      []*Span
	traces     []*Trace
	keepTraces bool
	tracesIn   atomic.Int64
	spansIn    atomic.Int64
	pending    atomic.Int64
	finished   atomic.Bool
}

// NewDataQueue returns an empty queue. With keepTraces set, whole traces
// are also buffered for trace-level output.
func NewDataQueue(keepTraces bool) *DataQueue {
	return &DataQueue{keepTraces: keepTraces}
}

// AddTrace appends the spans of t and counts it.
func (q *DataQueue) AddTrace(t *Trace) {
	q.add(t, q.keepTraces)
	q.tracesIn.Add(1)
	q.spansIn.Add(int64(t.SpanCount()))
}

// AddUncounted appends only the spans of t, without touching the entered
// counters or the trace buffer; the end-of-run statistics trace goes
// through here.
func (q *DataQueue) AddUncounted(t *Trace) {
	q.add(t, false)
}

func (q *DataQueue) add(t *Trace, keep bool) {
	spans := t.Spans()
	q.mut.Lock()
	q.spans = append(q.spans, spans...)
	if keep {
		q.traces = append(q.traces, t)
	}
	q.mut.Unlock()
	q.pending.Add(int64(len(spans)))
}

// PollSpan removes and returns the oldest span, or nil if there is none.
func (q *DataQueue) PollSpan() *Span {
	q.mut.Lock()
	defer q.mut.Unlock()
	if len(q.spans) == 0 {
		return nil
	}
	s := q.spans[0]
	q.spans[0] = nil
	q.spans = q.spans[1:]
	return s
}

// Drain swaps the span buffer for an empty one and returns what it held.
// The caller owns the result and iterates it without holding the lock.
func (q *DataQueue) Drain() []*Span {
	q.mut.Lock()
	spans := q.spans
	q.spans = nil
	q.mut.Unlock()
	return spans
}

// DrainTraces is Drain for the trace buffer.
func (q *DataQueue) DrainTraces() []*Trace {
	q.mut.Lock()
	traces := q.traces
	q.traces = nil
	q.mut.Unlock()
	return traces
}

// Len is the number of spans currently buffered.
func (q *DataQueue) Len() int {
	q.mut.Lock()
	defer q.mut.Unlock()
	return len(q.spans)
}

// Pending is the number of spans added and not yet reported Done, whether
// still buffered or held by the consumer.
func (q *DataQueue) Pending() int {
	return int(q.pending.Load())
}

// Done reports n drained spans as handed off.
func (q *DataQueue) Done(n int) {
	q.pending.Add(-int64(n))
}

// EnteredTraces and EnteredSpans count everything added through AddTrace.
func (q *DataQueue) EnteredTraces() int64 {
	return q.tracesIn.Load()
}

func (q *DataQueue) EnteredSpans() int64 {
	return q.spansIn.Load()
}

// Finish tells the consumer that no more input will arrive.
func (q *DataQueue) Finish() {
	q.finished.Store(true)
}

func (q *DataQueue) Finished() bool {
	return q.finished.Load()
}
