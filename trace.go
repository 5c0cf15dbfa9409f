package main

import (
	"math"

	"github.com/google/uuid"
)

const (
	ErrorTag       = "error"
	DebugTag       = "debug"
	ParentTag      = "parent"
	FollowsFromTag = "followsFrom"
	trueValue      = "true"
)

type Tag struct {
	Key   string
	Value string
}

type SpanLog struct {
	TimestampMs int64
	Fields      []Tag
}

// Span is one timed unit of work. Once a span is in a Trace only its tag
// list may grow, and only through the Trace.
type Span struct {
	Name        string
	StartMs     int64
	DurationMs  int64
	Source      string
	TraceID     uuid.UUID
	SpanID      uuid.UUID
	Parents     []uuid.UUID
	FollowsFrom []uuid.UUID
	Tags        []Tag
	Logs        []SpanLog
}

func (s *Span) EndMs() int64 {
	return s.StartMs + s.DurationMs
}

func (s *Span) Tag(key string) (string, bool) {
	for _, t := range s.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

func (s *Span) HasTag(key, value string) bool {
	for _, t := range s.Tags {
		if t.Key == key && t.Value == value {
			return true
		}
	}
	return false
}

func (s *Span) IsError() bool {
	return s.HasTag(ErrorTag, trueValue)
}

func (s *Span) IsDebug() bool {
	return s.HasTag(DebugTag, trueValue)
}

// Trace is a tree of spans kept by nesting level, level 0 holding the root.
// Aggregates are maintained as spans are added.
type Trace struct {
	Levels   [][]*Span
	Root     string
	TypeName string

	index      map[uuid.UUID]*Span
	spanCount  int
	debugSpans int
	errored    bool
	startMs    int64
	endMs      int64
}

func NewTrace(root string) *Trace {
	return &Trace{
		Root:    root,
		index:   make(map[uuid.UUID]*Span),
		startMs: math.MaxInt64,
		endMs:   math.MinInt64,
	}
}

// Add places s at the given level, growing the level list as needed.
func (t *Trace) Add(level int, s *Span) {
	for len(t.Levels) <= level {
		t.Levels = append(t.Levels, nil)
	}
	t.Levels[level] = append(t.Levels[level], s)
	t.index[s.SpanID] = s
	t.spanCount++
	if s.IsError() {
		t.errored = true
	}
	if s.IsDebug() {
		t.debugSpans++
	}
	t.tighten(s)
}

func (t *Trace) tighten(s *Span) {
	if s.StartMs < t.startMs {
		t.startMs = s.StartMs
	}
	if s.EndMs() > t.endMs {
		t.endMs = s.EndMs()
	}
}

// MarkError adds error=true to s unless it is already flagged. It reports
// whether the tag was added.
func (t *Trace) MarkError(s *Span) bool {
	if s.IsError() {
		return false
	}
	s.Tags = append(s.Tags, Tag{ErrorTag, trueValue})
	t.errored = true
	return true
}

// Lookup finds a span of this trace by id.
func (t *Trace) Lookup(id uuid.UUID) *Span {
	return t.index[id]
}

// Spans returns every span, root level first.
func (t *Trace) Spans() []*Span {
	spans := make([]*Span, 0, t.spanCount)
	for _, level := range t.Levels {
		spans = append(spans, level...)
	}
	return spans
}

func (t *Trace) SpanCount() int {
	return t.spanCount
}

func (t *Trace) DebugSpans() int {
	return t.debugSpans
}

func (t *Trace) HasError() bool {
	return t.errored
}

func (t *Trace) StartMs() int64 {
	if t.spanCount == 0 {
		return 0
	}
	return t.startMs
}

func (t *Trace) EndMs() int64 {
	if t.spanCount == 0 {
		return 0
	}
	return t.endMs
}

func (t *Trace) DurationMs() int64 {
	return t.EndMs() - t.StartMs()
}

// TraceID is the id shared by all spans, taken from the first one added.
func (t *Trace) TraceID() uuid.UUID {
	if len(t.Levels) == 0 || len(t.Levels[0]) == 0 {
		return uuid.Nil
	}
	return t.Levels[0][0].TraceID
}

// Retime recomputes the start and end bounds after span timings changed.
func (t *Trace) Retime() {
	t.startMs, t.endMs = math.MaxInt64, math.MinInt64
	for _, level := range t.Levels {
		for _, s := range level {
			t.tighten(s)
		}
	}
}
