package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	anchorPrefix  = "start_ms: "
	latencyPrefix = "latency: "
	dataPrefix    = "data: "
	exportPrefix  = `[{"root":`

	maxLineSize = 64 << 20
)

// LatencyDirective scales the duration of spans with a given name and tag.
// Delta and Probability are percentages: a delta of 150 makes a matching
// span half as long again.
type LatencyDirective struct {
	SpanName    string  `json:"spanName"`
	TagName     string  `json:"tagName"`
	TagValue    string  `json:"tagValue"`
	Delta       float64 `json:"delta"`
	Probability float64 `json:"probability"`
}

// ErrorInjection flags spans carrying Tag as errors with Rate percent
// probability.
type ErrorInjection struct {
	Tag  Tag
	Rate float64
}

// ReingestGenerator replays a trace dump. Every trace gets fresh ids and is
// shifted in time so that the first trace after an anchor starts at the
// anchor, and the rest keep their spacing relative to it.
type ReingestGenerator struct {
	input  io.Reader
	queue  *DataQueue
	stats  *Statistics
	heap   HeapMonitor
	cfg    LoaderConfig
	inject *ErrorInjection
	rng    Rng
	log    Logger

	now  func() time.Time
	poll time.Duration

	latencies []LatencyDirective
	anchor    int64
	delta     int64
	shifted   bool

	traces  int64
	first   int64
	last    int64
	skipped int64
}

// make sure it implements Generator
var _ Generator = (*ReingestGenerator)(nil)

func NewReingestGenerator(input io.Reader, queue *DataQueue, stats *Statistics, heap HeapMonitor, cfg LoaderConfig, inject *ErrorInjection, rng Rng, log Logger) *ReingestGenerator {
	return &ReingestGenerator{
		input:  input,
		queue:  queue,
		stats:  stats,
		heap:   heap,
		cfg:    cfg,
		inject: inject,
		rng:    rng,
		log:    log,
		now:    time.Now,
		poll:   backpressurePoll,
	}
}

func (g *ReingestGenerator) Generate(wg *sync.WaitGroup, stop chan struct{}) {
	defer wg.Done()
	defer g.queue.Finish()

	g.anchor = g.now().UnixMilli()
	scanner := bufio.NewScanner(g.input)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineSize)
	lineno := 0
	for scanner.Scan() {
		lineno++
		if stopped(stop) {
			g.log.Warn("re-ingestion stopped at line %d after %d traces\n", lineno, g.traces)
			return
		}
		if err := g.handleLine(scanner.Text()); err != nil {
			g.skipped++
			g.log.Warn("skipping line %d: %v\n", lineno, err)
			continue
		}
		if !waitForHeap(g.heap, g.queue, g.poll, g.log, stop) {
			g.log.Warn("re-ingestion stopped at line %d after %d traces\n", lineno, g.traces)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		g.log.Error("unable to read the trace dump after line %d: %v\n", lineno, err)
	}

	g.queue.AddUncounted(g.stats.StatTrace("REINGEST", g.now().UnixMilli(), g.cfg.Source, g.rng))
	if g.traces == 0 {
		g.log.Warn("no traces re-ingested, %d lines skipped\n", g.skipped)
		return
	}
	g.log.Info("re-ingested %d traces (%d lines skipped); ingestion starts at %s and completes at %s (%d - %d)\n",
		g.traces, g.skipped,
		time.UnixMilli(g.first).Format("15:04:05"), time.UnixMilli(g.last).Format("15:04:05"),
		g.first/1000, g.last/1000)
}

// extractTrace returns the JSON trace object held by a dump line, or "" for
// lines that carry none.
func extractTrace(line string) string {
	switch {
	case strings.HasPrefix(line, "{"):
		return line
	case strings.HasPrefix(line, dataPrefix+"{"):
		return line[len(dataPrefix):]
	case strings.HasPrefix(line, exportPrefix):
		start := strings.Index(line, `{"traceId":`)
		end := strings.LastIndex(line, "]")
		if start >= 0 && end > start {
			return line[start:end]
		}
	}
	return ""
}

// isFooter matches the summary lines a TraceWriter appends.
func isFooter(line string) bool {
	return strings.HasPrefix(line, "Roots:") || strings.HasPrefix(line, "Total traces - ")
}

func (g *ReingestGenerator) handleLine(line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "" || isFooter(line):
		return nil
	case strings.HasPrefix(line, anchorPrefix):
		ms, err := strconv.ParseInt(strings.TrimSpace(line[len(anchorPrefix):]), 10, 64)
		if err != nil {
			return fmt.Errorf("bad time anchor: %w", err)
		}
		g.anchor = ms
		g.shifted = false
		return nil
	case strings.HasPrefix(line, latencyPrefix):
		var d LatencyDirective
		if err := json.Unmarshal([]byte(line[len(latencyPrefix):]), &d); err != nil {
			return fmt.Errorf("bad latency directive: %w", err)
		}
		g.latencies = append(g.latencies, d)
		return nil
	}

	body := extractTrace(line)
	if body == "" {
		return fmt.Errorf("unrecognized line %.40q", line)
	}
	var rec TraceRecord
	// Decode stops at the end of the object, so trailing export text is ignored
	if err := json.NewDecoder(strings.NewReader(body)).Decode(&rec); err != nil {
		return fmt.Errorf("bad trace record: %w", err)
	}
	if len(rec.Spans) == 0 {
		return fmt.Errorf("trace %s has no spans", rec.TraceID)
	}
	return g.replay(&rec)
}

func (g *ReingestGenerator) replay(rec *TraceRecord) error {
	g.injectErrors(rec)
	g.applyLatencies(rec)

	rec.Bounds()
	if !g.shifted {
		g.delta = g.anchor - rec.StartMs
		g.shifted = true
	}
	for i := range rec.Spans {
		rec.Spans[i].StartMs += g.delta
	}
	rec.Bounds()
	g.remap(rec)

	t, err := rec.Trace()
	if err != nil {
		return err
	}
	g.stats.Offer(t)
	g.queue.AddTrace(t)

	if g.traces == 0 || t.StartMs() < g.first {
		g.first = t.StartMs()
	}
	if t.EndMs() > g.last {
		g.last = t.EndMs()
	}
	g.traces++
	return nil
}

func (g *ReingestGenerator) injectErrors(rec *TraceRecord) {
	if g.inject == nil || g.inject.Rate <= 0 {
		return
	}
	for i := range rec.Spans {
		sr := &rec.Spans[i]
		if !sr.hasAnnotation(g.inject.Tag.Key, g.inject.Tag.Value) || !g.rng.Percent(g.inject.Rate) {
			continue
		}
		if sr.hasAnnotation(ErrorTag, trueValue) {
			continue
		}
		sr.Annotations = append(sr.Annotations, map[string]string{ErrorTag: trueValue})
	}
}

func (g *ReingestGenerator) applyLatencies(rec *TraceRecord) {
	if len(g.latencies) == 0 {
		return
	}
	index := make(map[string]int, len(rec.Spans))
	for i, sr := range rec.Spans {
		index[sr.SpanID] = i
	}
	for i := range rec.Spans {
		for _, d := range g.latencies {
			sr := &rec.Spans[i]
			if sr.Name != d.SpanName || !sr.hasAnnotation(d.TagName, d.TagValue) {
				continue
			}
			if !g.rng.Percent(d.Probability) {
				continue
			}
			factor := d.Delta / HundredPercent
			scale(sr, factor)
			g.propagate(rec, index, i, factor)
		}
	}
}

func scale(sr *SpanRecord, factor float64) {
	sr.DurationMs = int64(float64(sr.DurationMs) * factor)
}

// propagate scales the ancestors of span i, following the parent reference
// or failing that the followsFrom reference, so that callers stay at least
// as long as the span they wait on. The trace bounds follow from the spans.
func (g *ReingestGenerator) propagate(rec *TraceRecord, index map[string]int, i int, factor float64) {
	for hops := 0; hops < len(rec.Spans); hops++ {
		id, ok := rec.Spans[i].annotation(ParentTag)
		if !ok {
			id, ok = rec.Spans[i].annotation(FollowsFromTag)
		}
		if !ok {
			return
		}
		next, ok := index[id]
		if !ok {
			return
		}
		scale(&rec.Spans[next], factor)
		i = next
	}
}

// remap replaces every identifier in the record with a fresh one. The table
// lives for one record only, so a record replayed twice never shares ids
// with its earlier copy.
func (g *ReingestGenerator) remap(rec *TraceRecord) {
	ids := make(map[string]string, 2*len(rec.Spans)+1)
	mapID := func(old string) string {
		if id, ok := ids[old]; ok {
			return id
		}
		id := g.rng.UUID().String()
		ids[old] = id
		return id
	}
	rec.TraceID = mapID(rec.TraceID)
	for i := range rec.Spans {
		sr := &rec.Spans[i]
		sr.SpanID = mapID(sr.SpanID)
		sr.TraceID = mapID(sr.TraceID)
		for _, a := range sr.Annotations {
			for k, v := range a {
				switch k {
				case ParentTag, FollowsFromTag, "spanId", "traceId":
					a[k] = mapID(v)
				}
			}
		}
	}
}
