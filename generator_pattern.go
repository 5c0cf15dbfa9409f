package main

import (
	"errors"

	"github.com/google/uuid"
)

type patternSamplers struct {
	spanCounts     *ValueSampler
	traceDurations *ValueSampler
	spanDurations  *ValueSampler
}

// PatternBuilder builds traces from trace-type patterns. Spans of a trace are
// laid end to end starting at the trace start, and spread over the nesting
// levels by a triangular sweep so that deeper levels fill up last.
type PatternBuilder struct {
	def        *PatternDefinition
	traceCount int
	source     string
	rng        Rng
	fielder    *Fielder
	log        Logger

	types    Picker[*TraceTypePattern]
	samplers map[*TraceTypePattern]*patternSamplers
}

// make sure it implements TraceBuilder
var _ TraceBuilder = (*PatternBuilder)(nil)

func NewPatternBuilder(def *PatternDefinition, cfg LoaderConfig, rng Rng, fielder *Fielder, log Logger) *PatternBuilder {
	return &PatternBuilder{
		def:        def,
		traceCount: cfg.TraceCount,
		source:     cfg.Source,
		rng:        rng,
		fielder:    fielder,
		log:        log,
	}
}

func (b *PatternBuilder) Mode() string {
	return "PATTERN"
}

// Init prepares the samplers. With a trace count every sampler runs in exact
// mode, each trace type's own samplers sized by that type's share.
func (b *PatternBuilder) Init() error {
	items := make([]Weighted[*TraceTypePattern], len(b.def.TraceTypes))
	total := 0.0
	for i, p := range b.def.TraceTypes {
		items[i] = Weighted[*TraceTypePattern]{Item: p, Weight: p.TracePercentage}
		total += p.TracePercentage
	}
	if total <= 0 {
		return errors.New("trace type percentages add up to zero")
	}
	items = Normalize(items)
	b.types = NewPicker(b.rng, items, b.traceCount)

	var shares []int
	if b.traceCount > 0 {
		shares = Allocate(items, b.traceCount)
	}
	b.samplers = make(map[*TraceTypePattern]*patternSamplers, len(items))
	for i, it := range items {
		n := 0
		if shares != nil {
			n = shares[i]
			b.log.Debug("%s: %d traces\n", it.Item.Name, n)
		}
		p := it.Item
		s := &patternSamplers{spanCounts: NewValueSampler(b.rng, p.SpanCounts, n)}
		if len(p.TraceDurations) > 0 {
			s.traceDurations = NewValueSampler(b.rng, p.TraceDurations, n)
		} else {
			// one draw per span, so the count is unknown up front
			s.spanDurations = NewValueSampler(b.rng, p.SpanDurations, 0)
		}
		b.samplers[p] = s
	}
	return nil
}

// GenerateOne returns ErrExhausted once the exact quota of trace types is
// used up, and nil without an error when only this trace had to be dropped.
func (b *PatternBuilder) GenerateOne(startMs int64) (*Trace, error) {
	p, ok := b.types.Next()
	if !ok {
		return nil, ErrExhausted
	}
	s := b.samplers[p]
	n, ok := s.spanCounts.Next()
	if !ok || n < 1 {
		return nil, nil
	}
	total := int(n)
	levels := p.NestingLevel
	if levels == 1 {
		total = 1
	}

	durations := make([]int64, total)
	if s.traceDurations != nil {
		d, ok := s.traceDurations.Next()
		if !ok {
			return nil, nil
		}
		per := d / int64(total)
		for i := range durations {
			durations[i] = per
		}
		durations[total-1] += d % int64(total)
	} else {
		for i := range durations {
			d, ok := s.spanDurations.Next()
			if !ok {
				return nil, nil
			}
			durations[i] = d
		}
	}

	trace := NewTrace(p.Name)
	trace.TypeName = p.Name
	traceID := b.rng.UUID()
	trace.Add(0, &Span{
		Name:       p.Name,
		StartMs:    startMs,
		DurationMs: durations[0],
		Source:     b.source,
		TraceID:    traceID,
		SpanID:     b.rng.UUID(),
		Tags:       b.tags(p, p.Name, 0),
	})

	start := startMs
	idx := 1
	for idx < total {
		for lvl := 1; lvl < levels && idx < total; lvl++ {
			for m := lvl; m < levels && idx < total; m++ {
				start += durations[idx-1]
				prev := trace.Levels[m-1]
				parent := prev[b.rng.Intn(len(prev))]
				name := "name_" + string(p.SpanNameSuffixes[b.rng.Intn(len(p.SpanNameSuffixes))])
				trace.Add(m, &Span{
					Name:       name,
					StartMs:    start,
					DurationMs: durations[idx],
					Source:     b.source,
					TraceID:    traceID,
					SpanID:     b.rng.UUID(),
					Parents:    []uuid.UUID{parent.SpanID},
					Tags:       b.tags(p, name, m),
				})
				idx++
			}
		}
	}
	return trace, nil
}

// tags draws the tags of one span. Without error conditions only the root can
// carry the flat error rate; with them each span is checked against its own
// tags.
func (b *PatternBuilder) tags(p *TraceTypePattern, spanName string, level int) []Tag {
	tags := make([]Tag, 0, len(p.MandatoryTags)+len(p.OptionalTags)+2)
	for _, tv := range p.MandatoryTags {
		tags = append(tags, Tag{tv.Name, tv.Pick(b.rng)})
	}
	optional := p.OptionalPercent()
	for _, tv := range p.OptionalTags {
		if b.rng.Percent(optional) {
			tags = append(tags, Tag{tv.Name, tv.Pick(b.rng)})
		}
	}
	rate := 0.0
	if len(p.ErrorConditions) > 0 {
		rate = CombinedErrorRate(spanName, tags, p.ErrorConditions)
	} else if level == 0 {
		rate = p.ErrorRate
	}
	if b.rng.Percent(rate) {
		tags = append(tags, Tag{ErrorTag, trueValue})
	}
	if b.rng.Percent(p.DebugRate) {
		tags = append(tags, Tag{DebugTag, trueValue})
	}
	if b.fielder != nil {
		tags = append(tags, b.fielder.Tags(level)...)
	}
	return tags
}
