package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

type minMeanMax struct {
	Min  int64   `json:"min"`
	Mean float64 `json:"mean"`
	Max  int64   `json:"max"`
}

type counter struct {
	min, max, sum int64
}

func (c *counter) offer(v int64, first bool) {
	if first || v < c.min {
		c.min = v
	}
	if first || v > c.max {
		c.max = v
	}
	c.sum += v
}

func (c counter) summary(n int64) minMeanMax {
	if n == 0 {
		return minMeanMax{}
	}
	return minMeanMax{Min: c.min, Mean: math.Round(float64(c.sum)/float64(n)*100) / 100, Max: c.max}
}

type typeStats struct {
	count      int64
	errors     int64
	debugSpans int64
	spans      counter
	durations  counter
}

// Statistics accumulates per-trace-type counters. Only the producing
// goroutine touches it, so it has no locking.
type Statistics struct {
	types map[string]*typeStats
}

func NewStatistics() *Statistics {
	return &Statistics{types: make(map[string]*typeStats)}
}

// Offer counts one generated trace under its type name.
func (s *Statistics) Offer(t *Trace) {
	name := t.TypeName
	if name == "" {
		name = t.Root
	}
	ts, ok := s.types[name]
	if !ok {
		ts = &typeStats{}
		s.types[name] = ts
	}
	first := ts.count == 0
	ts.count++
	if t.HasError() {
		ts.errors++
	}
	ts.debugSpans += int64(t.DebugSpans())
	ts.spans.offer(int64(t.SpanCount()), first)
	ts.durations.offer(t.DurationMs(), first)
}

type TypeStatistics struct {
	Count           int64      `json:"count"`
	ErroneousTraces int64      `json:"erroneousTraces"`
	DebugSpans      int64      `json:"debugSpans"`
	Spans           minMeanMax `json:"spans"`
	DurationMs      minMeanMax `json:"durationMs"`
}

// StatisticsDocument is the shape written to the statistics file.
type StatisticsDocument struct {
	TotalTraces     int64                     `json:"totalTraces"`
	TotalSpans      int64                     `json:"totalSpans"`
	ErroneousTraces int64                     `json:"erroneousTraces"`
	ErrorPercentage float64                   `json:"errorPercentage"`
	DebugSpans      int64                     `json:"debugSpans"`
	TraceTypes      map[string]TypeStatistics `json:"traceTypes"`
}

func (s *Statistics) Document() StatisticsDocument {
	doc := StatisticsDocument{TraceTypes: make(map[string]TypeStatistics, len(s.types))}
	for name, ts := range s.types {
		doc.TotalTraces += ts.count
		doc.TotalSpans += ts.spans.sum
		doc.ErroneousTraces += ts.errors
		doc.DebugSpans += ts.debugSpans
		doc.TraceTypes[name] = TypeStatistics{
			Count:           ts.count,
			ErroneousTraces: ts.errors,
			DebugSpans:      ts.debugSpans,
			Spans:           ts.spans.summary(ts.count),
			DurationMs:      ts.durations.summary(ts.count),
		}
	}
	if doc.TotalTraces > 0 {
		doc.ErrorPercentage = math.Round(float64(doc.ErroneousTraces)/float64(doc.TotalTraces)*10000) / 100
	}
	return doc
}

// WriteJSON writes the document as indented JSON.
func (s *Statistics) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.Document())
}

func (s *Statistics) String() string {
	b, err := json.Marshal(s.Document())
	if err != nil {
		return fmt.Sprintf("statistics unavailable: %v", err)
	}
	return string(b)
}

// StatTrace renders the counters as a trace: one root span named
// <mode>_STAT with the totals as tags and a child per trace type.
func (s *Statistics) StatTrace(mode string, startMs int64, source string, rng Rng) *Trace {
	doc := s.Document()
	name := mode + "_STAT"
	trace := NewTrace(name)
	trace.TypeName = name
	traceID := rng.UUID()
	root := &Span{
		Name:       name,
		StartMs:    startMs,
		DurationMs: 1,
		Source:     source,
		TraceID:    traceID,
		SpanID:     rng.UUID(),
		Tags: []Tag{
			{"totalTraces", strconv.FormatInt(doc.TotalTraces, 10)},
			{"totalSpans", strconv.FormatInt(doc.TotalSpans, 10)},
			{"erroneousTraces", strconv.FormatInt(doc.ErroneousTraces, 10)},
			{"errorPercentage", strconv.FormatFloat(doc.ErrorPercentage, 'f', 2, 64)},
			{"debugSpans", strconv.FormatInt(doc.DebugSpans, 10)},
		},
	}
	trace.Add(0, root)

	names := make([]string, 0, len(doc.TraceTypes))
	for n := range doc.TraceTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		ts := doc.TraceTypes[n]
		trace.Add(1, &Span{
			Name:       n,
			StartMs:    startMs,
			DurationMs: 1,
			Source:     source,
			TraceID:    traceID,
			SpanID:     rng.UUID(),
			Parents:    []uuid.UUID{root.SpanID},
			Tags: []Tag{
				{"count", strconv.FormatInt(ts.Count, 10)},
				{"erroneousTraces", strconv.FormatInt(ts.ErroneousTraces, 10)},
				{"debugSpans", strconv.FormatInt(ts.DebugSpans, 10)},
				{"minSpans", strconv.FormatInt(ts.Spans.Min, 10)},
				{"meanSpans", strconv.FormatFloat(ts.Spans.Mean, 'f', 2, 64)},
				{"maxSpans", strconv.FormatInt(ts.Spans.Max, 10)},
				{"minDurationMs", strconv.FormatInt(ts.DurationMs.Min, 10)},
				{"meanDurationMs", strconv.FormatFloat(ts.DurationMs.Mean, 'f', 2, 64)},
				{"maxDurationMs", strconv.FormatInt(ts.DurationMs.Max, 10)},
			},
		})
	}
	return trace
}
