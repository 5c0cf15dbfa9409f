package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// SpanRecord is a span as it appears in a trace dump. Tags, including the
// parent and followsFrom references, are single-entry annotation objects.
type SpanRecord struct {
	Name        string              `json:"name"`
	Host        string              `json:"host"`
	StartMs     int64               `json:"startMs"`
	DurationMs  int64               `json:"durationMs"`
	SpanID      string              `json:"spanId"`
	TraceID     string              `json:"traceId"`
	Annotations []map[string]string `json:"annotations"`
}

// TraceRecord is one line of a trace dump.
type TraceRecord struct {
	TraceID         string       `json:"traceId"`
	StartMs         int64        `json:"start_ms"`
	EndMs           int64        `json:"end_ms"`
	TotalDurationMs int64        `json:"total_duration_ms"`
	Spans           []SpanRecord `json:"spans"`
}

func NewTraceRecord(t *Trace) TraceRecord {
	rec := TraceRecord{
		TraceID:         t.TraceID().String(),
		StartMs:         t.StartMs(),
		EndMs:           t.EndMs(),
		TotalDurationMs: t.DurationMs(),
	}
	for _, s := range t.Spans() {
		sr := SpanRecord{
			Name:        s.Name,
			Host:        s.Source,
			StartMs:     s.StartMs,
			DurationMs:  s.DurationMs,
			SpanID:      s.SpanID.String(),
			TraceID:     s.TraceID.String(),
			Annotations: make([]map[string]string, 0, len(s.Tags)+len(s.Parents)+len(s.FollowsFrom)),
		}
		for _, p := range s.Parents {
			sr.Annotations = append(sr.Annotations, map[string]string{ParentTag: p.String()})
		}
		for _, f := range s.FollowsFrom {
			sr.Annotations = append(sr.Annotations, map[string]string{FollowsFromTag: f.String()})
		}
		for _, tag := range s.Tags {
			sr.Annotations = append(sr.Annotations, map[string]string{tag.Key: tag.Value})
		}
		rec.Spans = append(rec.Spans, sr)
	}
	return rec
}

// Bounds recomputes the start, end and total duration from the spans.
func (r *TraceRecord) Bounds() {
	if len(r.Spans) == 0 {
		r.StartMs, r.EndMs, r.TotalDurationMs = 0, 0, 0
		return
	}
	r.StartMs, r.EndMs = r.Spans[0].StartMs, r.Spans[0].StartMs+r.Spans[0].DurationMs
	for _, s := range r.Spans[1:] {
		if s.StartMs < r.StartMs {
			r.StartMs = s.StartMs
		}
		if end := s.StartMs + s.DurationMs; end > r.EndMs {
			r.EndMs = end
		}
	}
	r.TotalDurationMs = r.EndMs - r.StartMs
}

// Trace converts the record back into a Trace. Parent and followsFrom
// annotations become references; spans keep the order of the record and
// sit at the level of their parent chain.
func (r *TraceRecord) Trace() (*Trace, error) {
	if len(r.Spans) == 0 {
		return nil, fmt.Errorf("trace %s has no spans", r.TraceID)
	}
	spans := make([]*Span, len(r.Spans))
	for i, sr := range r.Spans {
		s, err := sr.Span()
		if err != nil {
			return nil, err
		}
		spans[i] = s
	}

	byID := make(map[uuid.UUID]*Span, len(spans))
	for _, s := range spans {
		byID[s.SpanID] = s
	}
	levels := make(map[*Span]int, len(spans))
	var level func(s *Span, depth int) int
	level = func(s *Span, depth int) int {
		if l, ok := levels[s]; ok {
			return l
		}
		l := 0
		// depth bounds a cycle of bad references
		if len(s.Parents) > 0 && depth < len(spans) {
			if p, ok := byID[s.Parents[0]]; ok {
				l = level(p, depth+1) + 1
			}
		}
		levels[s] = l
		return l
	}

	for _, s := range spans {
		level(s, 0)
	}
	root := spans[0]
	for _, s := range spans {
		if levels[s] == 0 {
			root = s
			break
		}
	}
	t := NewTrace(root.Name)
	for _, s := range spans {
		t.Add(levels[s], s)
	}
	return t, nil
}

func (sr SpanRecord) Span() (*Span, error) {
	spanID, err := uuid.Parse(sr.SpanID)
	if err != nil {
		return nil, fmt.Errorf("span %s: bad span id: %w", sr.Name, err)
	}
	traceID, err := uuid.Parse(sr.TraceID)
	if err != nil {
		return nil, fmt.Errorf("span %s: bad trace id: %w", sr.Name, err)
	}
	s := &Span{
		Name:       sr.Name,
		StartMs:    sr.StartMs,
		DurationMs: sr.DurationMs,
		Source:     sr.Host,
		TraceID:    traceID,
		SpanID:     spanID,
	}
	for _, a := range sr.Annotations {
		for k, v := range a {
			switch k {
			case ParentTag, FollowsFromTag:
				id, err := uuid.Parse(v)
				if err != nil {
					return nil, fmt.Errorf("span %s: bad %s reference: %w", sr.Name, k, err)
				}
				if k == ParentTag {
					s.Parents = append(s.Parents, id)
				} else {
					s.FollowsFrom = append(s.FollowsFrom, id)
				}
			default:
				s.Tags = append(s.Tags, Tag{k, v})
			}
		}
	}
	return s, nil
}

// annotation returns the value of the first annotation with key.
func (sr SpanRecord) annotation(key string) (string, bool) {
	for _, a := range sr.Annotations {
		if v, ok := a[key]; ok {
			return v, true
		}
	}
	return "", false
}

func (sr SpanRecord) hasAnnotation(key, value string) bool {
	for _, a := range sr.Annotations {
		if v, ok := a[key]; ok && v == value {
			return true
		}
	}
	return false
}

// TraceWriter dumps traces as one JSON object per line and closes the dump
// with the list of distinct root names and the totals.
type TraceWriter struct {
	w         *bufio.Writer
	closer    io.Closer
	roots     []string
	seen      map[string]struct{}
	total     int64
	erroneous int64
}

// NewTraceWriter writes to w; if w is also an io.Closer it is closed by
// Close.
func NewTraceWriter(w io.Writer) *TraceWriter {
	tw := &TraceWriter{
		w:    bufio.NewWriter(w),
		seen: make(map[string]struct{}),
	}
	if c, ok := w.(io.Closer); ok {
		tw.closer = c
	}
	return tw
}

func (tw *TraceWriter) Write(t *Trace) error {
	b, err := json.Marshal(NewTraceRecord(t))
	if err != nil {
		return err
	}
	if _, err := tw.w.Write(append(b, '\n')); err != nil {
		return err
	}
	if _, ok := tw.seen[t.Root]; !ok {
		tw.seen[t.Root] = struct{}{}
		tw.roots = append(tw.roots, t.Root)
	}
	tw.total++
	if t.HasError() {
		tw.erroneous++
	}
	return nil
}

func (tw *TraceWriter) Close() error {
	fmt.Fprintf(tw.w, "Roots: %s\n", strings.Join(tw.roots, ", "))
	fmt.Fprintf(tw.w, "Total traces - %d: Erroneous - %d\n", tw.total, tw.erroneous)
	err := tw.w.Flush()
	if tw.closer != nil {
		if cerr := tw.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
