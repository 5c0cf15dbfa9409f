// Package sink holds what the OTLP sink binaries share: distinct trace and
// span counting, a span rate tracker and request decoding.
package sink

import (
	"sync"

	cuckoo "github.com/panmari/cuckoofilter"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// Counter counts distinct traces and spans with cuckoo filters, so memory
// stays fixed however long the sink runs. Counts are approximate once the
// filters fill up.
type Counter struct {
	mut        sync.Mutex
	traces     *cuckoo.Filter
	spans      *cuckoo.Filter
	traceCount int64
	spanCount  int64
	roots      int64
	errors     int64
	stats      int64
}

func NewCounter(maxTraces, maxSpans uint) *Counter {
	return &Counter{
		traces: cuckoo.NewFilter(maxTraces),
		spans:  cuckoo.NewFilter(maxSpans),
	}
}

// Observe records every span of req and returns how many spans it held.
func (c *Counter) Observe(req *collectortrace.ExportTraceServiceRequest) int {
	n := 0
	c.mut.Lock()
	defer c.mut.Unlock()
	for _, resource := range req.GetResourceSpans() {
		for _, scope := range resource.GetScopeSpans() {
			for _, span := range scope.GetSpans() {
				n++
				if insertNew(c.traces, span.GetTraceId()) {
					c.traceCount++
				}
				if !insertNew(c.spans, span.GetSpanId()) {
					continue
				}
				c.spanCount++
				if len(span.GetParentSpanId()) == 0 {
					c.roots++
				}
				if span.GetStatus().GetCode() == tracepb.Status_STATUS_CODE_ERROR {
					c.errors++
				}
				if isStatSpan(span.GetName()) {
					c.stats++
				}
			}
		}
	}
	return n
}

// insertNew adds id to f and reports whether it was not there already.
func insertNew(f *cuckoo.Filter, id []byte) bool {
	if f.Lookup(id) {
		return false
	}
	f.Insert(id)
	return true
}

func isStatSpan(name string) bool {
	const suffix = "_STAT"
	return len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix
}

// Totals is a snapshot of a Counter.
type Totals struct {
	Traces     int64
	Spans      int64
	RootSpans  int64
	ErrorSpans int64
	StatSpans  int64
}

func (c *Counter) Totals() Totals {
	c.mut.Lock()
	defer c.mut.Unlock()
	return Totals{
		Traces:     c.traceCount,
		Spans:      c.spanCount,
		RootSpans:  c.roots,
		ErrorSpans: c.errors,
		StatSpans:  c.stats,
	}
}
