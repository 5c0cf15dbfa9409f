package main

import (
	"errors"
	"math/bits"

	"github.com/google/uuid"
)

type templateSpan struct {
	name    string
	service string
	level   int
	parent  int // index into template.spans, -1 for the root
}

// template is the fixed shape of one trace type; spans are stored level by
// level so a parent always precedes its children.
type template struct {
	name  string
	spans []templateSpan
}

// TopologyBuilder builds traces by instantiating one template per trace type.
// The shape is decided once at Init; every instance gets fresh ids, timings
// and tags.
type TopologyBuilder struct {
	topo       *Topology
	traceCount int
	source     string
	rng        Rng
	fielder    *Fielder
	log        Logger

	types     Picker[*TopologyTraceType]
	durations map[*TopologyTraceType]*ValueSampler
	templates map[*TopologyTraceType]*template
}

// make sure it implements TraceBuilder
var _ TraceBuilder = (*TopologyBuilder)(nil)

func NewTopologyBuilder(topo *Topology, cfg LoaderConfig, rng Rng, fielder *Fielder, log Logger) *TopologyBuilder {
	return &TopologyBuilder{
		topo:       topo,
		traceCount: cfg.TraceCount,
		source:     cfg.Source,
		rng:        rng,
		fielder:    fielder,
		log:        log,
	}
}

func (b *TopologyBuilder) Mode() string {
	return "TOPOLOGY"
}

func (b *TopologyBuilder) Init() error {
	items := make([]Weighted[*TopologyTraceType], len(b.topo.TraceTypes))
	total := 0.0
	for i, tt := range b.topo.TraceTypes {
		items[i] = Weighted[*TopologyTraceType]{Item: tt, Weight: tt.TracePercentage}
		total += tt.TracePercentage
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
	b.durations = make(map[*TopologyTraceType]*ValueSampler, len(items))
	b.templates = make(map[*TopologyTraceType]*template, len(items))
	for i, it := range items {
		n := 0
		if shares != nil {
			n = shares[i]
		}
		tt := it.Item
		b.durations[tt] = NewValueSampler(b.rng, tt.TraceDurations, n)
		tpl := b.buildTemplate(tt)
		b.templates[tt] = tpl
		b.log.Debug("%s: template of %d spans\n", tpl.name, len(tpl.spans))
	}
	return nil
}

// buildTemplate lays out up to SpansCount spans over bitlen(SpansCount)
// levels, level n holding at most 2^n spans. Expansion stops early when no
// service of the previous level has children.
func (b *TopologyBuilder) buildTemplate(tt *TopologyTraceType) *template {
	levels := bits.Len(uint(tt.SpansCount))
	root := b.topo.RandomRoot(b.rng)
	tpl := &template{
		spans: []templateSpan{{name: b.topo.SpanName(b.rng, root), service: root, level: 0, parent: -1}},
	}
	tpl.name = tt.Name
	if tpl.name == "" {
		tpl.name = tpl.spans[0].name
	}

	previous := []int{0}
	generated := 1
	for n := 1; n < levels && generated < tt.SpansCount; n++ {
		max := 1 << n
		if left := tt.SpansCount - generated; left < max {
			max = left
		}
		services := make([]string, 0, len(previous))
		for _, idx := range previous {
			if s := tpl.spans[idx].service; !contains(services, s) {
				services = append(services, s)
			}
		}
		var next []int
		for m := 0; m < max; m++ {
			svc := b.topo.NextLevelService(b.rng, services)
			if svc == "" {
				break
			}
			var parents []int
			for _, idx := range previous {
				if b.topo.IsParent(svc, tpl.spans[idx].service) {
					parents = append(parents, idx)
				}
			}
			if len(parents) == 0 {
				b.log.Error("%s: no parent span found for service %s\n", tpl.name, svc)
				break
			}
			tpl.spans = append(tpl.spans, templateSpan{
				name:    b.topo.SpanName(b.rng, svc),
				service: svc,
				level:   n,
				parent:  parents[b.rng.Intn(len(parents))],
			})
			next = append(next, len(tpl.spans)-1)
		}
		if len(next) == 0 {
			break
		}
		generated += len(next)
		previous = next
	}
	return tpl
}

func (b *TopologyBuilder) GenerateOne(startMs int64) (*Trace, error) {
	tt, ok := b.types.Next()
	if !ok {
		return nil, ErrExhausted
	}
	duration, ok := b.durations[tt].Next()
	if !ok {
		return nil, nil
	}
	tpl := b.templates[tt]

	trace := NewTrace(tpl.spans[0].name)
	trace.TypeName = tpl.name
	traceID := b.rng.UUID()
	spans := make([]*Span, len(tpl.spans))
	for i, ts := range tpl.spans {
		span := &Span{
			Name:    ts.name,
			Source:  b.source,
			TraceID: traceID,
			SpanID:  b.rng.UUID(),
		}
		if ts.parent < 0 {
			span.StartMs = startMs
			span.DurationMs = duration
		} else {
			parent := spans[ts.parent]
			half := parent.DurationMs / 2
			span.DurationMs = half + int64(b.rng.Float64()*float64(parent.DurationMs-half))
			span.StartMs = parent.StartMs + int64(b.rng.Float64()*float64(parent.DurationMs-span.DurationMs))
			span.Parents = []uuid.UUID{parent.SpanID}
		}
		span.Tags = b.topo.ServiceTagsFor(b.rng, ts.service)
		if b.rng.Percent(tt.DebugRate) {
			span.Tags = appendFlag(span.Tags, DebugTag)
		}
		escalate := false
		if len(tt.ErrorConditions) == 0 {
			if ts.parent < 0 && b.rng.Percent(tt.ErrorRate) {
				span.Tags = appendFlag(span.Tags, ErrorTag)
			}
		} else if b.rng.Percent(CombinedErrorRate(ts.name, span.Tags, tt.ErrorConditions)) {
			span.Tags = appendFlag(span.Tags, ErrorTag)
			escalate = true
		}
		if b.fielder != nil {
			span.Tags = append(span.Tags, b.fielder.Tags(ts.level)...)
		}
		spans[i] = span
		trace.Add(ts.level, span)

		if escalate {
			// flag ancestors up to the first one that already carries the flag
			for p := ts.parent; p >= 0; p = tpl.spans[p].parent {
				if !trace.MarkError(spans[p]) {
					break
				}
			}
		}
	}
	return trace, nil
}

func appendFlag(tags []Tag, key string) []Tag {
	for _, t := range tags {
		if t.Key == key && t.Value == trueValue {
			return tags
		}
	}
	return append(tags, Tag{key, trueValue})
}
