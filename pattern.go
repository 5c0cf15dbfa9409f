package main

import (
	"fmt"
)

const defaultSpanNameSuffixes = "abcdefghijklmnopqrstuvxyz"

var defaultPatternTags = []TagVariation{
	{Name: "application", Values: []string{"Application_1", "Application_2"}},
	{Name: "service", Values: []string{"Service_1", "Service_2"}},
}

var (
	defaultSpanCounts     = []Bucket{{Start: 3, End: 8, Weight: 100}}
	defaultTraceDurations = []Bucket{{Start: 200, End: 700, Weight: 100}}
)

// TraceTypePattern is a flat recipe for one class of trace.
type TraceTypePattern struct {
	Name                   string           `yaml:"traceTypeName" json:"traceTypeName"`
	SpanNameSuffixes       string           `yaml:"spanNameSuffixes,omitempty" json:"spanNameSuffixes,omitempty"`
	NestingLevel           int              `yaml:"nestingLevel" json:"nestingLevel"`
	TracePercentage        float64          `yaml:"tracePercentage" json:"tracePercentage"`
	SpanCounts             []Bucket         `yaml:"spansDistributions" json:"spansDistributions"`
	TraceDurations         []Bucket         `yaml:"traceDurations,omitempty" json:"traceDurations,omitempty"`
	SpanDurations          []Bucket         `yaml:"spansDurations,omitempty" json:"spansDurations,omitempty"`
	MandatoryTags          []TagVariation   `yaml:"mandatoryTags,omitempty" json:"mandatoryTags,omitempty"`
	OptionalTags           []TagVariation   `yaml:"optionalTags,omitempty" json:"optionalTags,omitempty"`
	OptionalTagsPercentage *float64         `yaml:"optionalTagsPercentage,omitempty" json:"optionalTagsPercentage,omitempty"`
	ErrorRate              float64          `yaml:"errorRate" json:"errorRate"`
	DebugRate              float64          `yaml:"debugRate" json:"debugRate"`
	ErrorConditions        []ErrorCondition `yaml:"errorConditions,omitempty" json:"errorConditions,omitempty"`
}

// OptionalPercent is the chance for each optional tag; 100 when unset.
func (p *TraceTypePattern) OptionalPercent() float64 {
	if p.OptionalTagsPercentage == nil {
		return HundredPercent
	}
	return *p.OptionalTagsPercentage
}

// PatternDefinition is the document read by --pattern.
type PatternDefinition struct {
	TraceTypes []*TraceTypePattern `yaml:"traceTypePatterns" json:"traceTypePatterns"`
}

// LoadPatternDefinition reads and sanitizes a pattern document.
func LoadPatternDefinition(log Logger, filename string) (*PatternDefinition, error) {
	var def PatternDefinition
	if err := readDefinition(filename, &def); err != nil {
		return nil, err
	}
	if err := def.Sanitize(log); err != nil {
		return nil, err
	}
	log.Info("read %d trace type patterns from %s\n", len(def.TraceTypes), filename)
	return &def, nil
}

// Sanitize fills defaults and repairs out-of-range values, logging every
// change. Only problems that cannot be repaired are returned.
func (d *PatternDefinition) Sanitize(log Logger) error {
	if len(d.TraceTypes) == 0 {
		return ErrNoTraceTypes
	}
	for i, p := range d.TraceTypes {
		if p == nil {
			return fmt.Errorf("trace type pattern %d is empty", i)
		}
		if err := p.sanitize(log, i); err != nil {
			return err
		}
	}
	return nil
}

func (p *TraceTypePattern) sanitize(log Logger, i int) error {
	if p.Name == "" {
		p.Name = fmt.Sprintf("traceType_%d", i+1)
		log.Warn("trace type pattern %d has no name, using %s\n", i, p.Name)
	}
	owner := p.Name
	if p.SpanNameSuffixes == "" {
		p.SpanNameSuffixes = defaultSpanNameSuffixes
	}
	if p.NestingLevel < 1 {
		log.Warn("%s: nestingLevel %d is not positive, using 1\n", owner, p.NestingLevel)
		p.NestingLevel = 1
	}
	p.TracePercentage = clampPercent(log, owner, "tracePercentage", p.TracePercentage)
	p.ErrorRate = clampPercent(log, owner, "errorRate", p.ErrorRate)
	p.DebugRate = clampPercent(log, owner, "debugRate", p.DebugRate)
	if p.OptionalTagsPercentage != nil && (*p.OptionalTagsPercentage < 0 || *p.OptionalTagsPercentage > HundredPercent) {
		log.Warn("%s: optionalTagsPercentage %g is meaningless, using 100\n", owner, *p.OptionalTagsPercentage)
		p.OptionalTagsPercentage = nil
	}

	var err error
	if len(p.SpanCounts) == 0 {
		log.Warn("%s: no spansDistributions, using %d-%d spans\n", owner, defaultSpanCounts[0].Start, defaultSpanCounts[0].End)
		p.SpanCounts = append([]Bucket(nil), defaultSpanCounts...)
	}
	if p.SpanCounts, err = sanitizeBuckets(log, owner, "spansDistributions", p.SpanCounts); err != nil {
		return err
	}
	for i, b := range p.SpanCounts {
		if b.Start < 1 {
			return fmt.Errorf("%s: spansDistributions[%d]: a trace needs at least one span", owner, i)
		}
	}
	if p.TraceDurations, err = sanitizeBuckets(log, owner, "traceDurations", p.TraceDurations); err != nil {
		return err
	}
	if p.SpanDurations, err = sanitizeBuckets(log, owner, "spansDurations", p.SpanDurations); err != nil {
		return err
	}
	if len(p.TraceDurations) == 0 && len(p.SpanDurations) == 0 {
		log.Warn("%s: no traceDurations or spansDurations, using %d-%dms traces\n", owner, defaultTraceDurations[0].Start, defaultTraceDurations[0].End)
		p.TraceDurations = append([]Bucket(nil), defaultTraceDurations...)
	}

	p.MandatoryTags = sanitizeTags(log, owner, p.MandatoryTags)
	for _, def := range defaultPatternTags {
		found := false
		for _, tv := range p.MandatoryTags {
			if tv.Name == def.Name {
				found = true
				break
			}
		}
		if !found {
			log.Warn("%s: missing mandatory tag %s was added\n", owner, def.Name)
			p.MandatoryTags = append(p.MandatoryTags, def.clone())
		}
	}
	p.OptionalTags = sanitizeTags(log, owner, p.OptionalTags)
	p.ErrorConditions = sanitizeConditions(log, owner, p.ErrorConditions)
	return nil
}

// sanitizeTags drops variations without a name, and fills values for the
// default tags when they were declared empty.
func sanitizeTags(log Logger, owner string, tags []TagVariation) []TagVariation {
	var out []TagVariation
	for _, tv := range tags {
		if tv.Name == "" {
			log.Warn("%s: tag without a name dropped\n", owner)
			continue
		}
		if len(tv.Values) == 0 {
			if def, ok := defaultTagValues(tv.Name); ok {
				log.Warn("%s: values for tag %s were added\n", owner, tv.Name)
				tv.Values = def
			} else {
				log.Warn("%s: tag %s has no values and was dropped\n", owner, tv.Name)
				continue
			}
		}
		out = append(out, tv)
	}
	return out
}

func defaultTagValues(name string) ([]string, bool) {
	for _, tv := range append(append([]TagVariation(nil), defaultPatternTags...), defaultTopologyTags...) {
		if tv.Name == name {
			return append([]string(nil), tv.Values...), true
		}
	}
	return nil, false
}
