package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoTraceTypes         = errors.New("at least one trace type must be defined")
	ErrNoTraceDurations     = errors.New("at least one trace duration must be defined")
	ErrNoServiceConnections = errors.New("at least one service connection must be defined")
	ErrNoRootService        = errors.New("at least one root service must be defined")
)

// TagVariation is a tag name with the values it may take. Percentage is the
// chance the tag is present at all; mandatory tags always are.
type TagVariation struct {
	Name       string   `yaml:"tagName" json:"tagName"`
	Values     []string `yaml:"tagValues" json:"tagValues"`
	Percentage float64  `yaml:"percentage,omitempty" json:"percentage,omitempty"`
}

func (tv TagVariation) Pick(rng Rng) string {
	return tv.Values[rng.Intn(len(tv.Values))]
}

func (tv TagVariation) clone() TagVariation {
	values := make([]string, len(tv.Values))
	copy(values, tv.Values)
	return TagVariation{Name: tv.Name, Values: values, Percentage: tv.Percentage}
}

// ErrorCondition raises the error probability of spans carrying a given tag,
// optionally only for the listed span names.
type ErrorCondition struct {
	SpanNames []string `yaml:"spanNames,omitempty" json:"spanNames,omitempty"`
	TagName   string   `yaml:"tagName" json:"tagName"`
	TagValue  string   `yaml:"tagValue" json:"tagValue"`
	ErrorRate float64  `yaml:"errorRate" json:"errorRate"`
}

func (c ErrorCondition) matches(spanName string, tags []Tag) bool {
	if len(c.SpanNames) > 0 {
		found := false
		for _, n := range c.SpanNames {
			if n == spanName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, t := range tags {
		if t.Key == c.TagName && t.Value == c.TagValue {
			return true
		}
	}
	return false
}

// CombinedErrorRate treats every matching condition as an independent event:
// P(A or B) = P(A) + P(B) - P(A)P(B), in percent and capped at 100.
func CombinedErrorRate(spanName string, tags []Tag, conditions []ErrorCondition) float64 {
	rate := 0.0
	for _, c := range conditions {
		if !c.matches(spanName, tags) {
			continue
		}
		rate += c.ErrorRate - rate*c.ErrorRate/HundredPercent
		if rate >= HundredPercent {
			return HundredPercent
		}
	}
	return rate
}

// sanitizeConditions drops conditions whose rate is outside [1,100]. An empty
// result is returned as nil so callers fall back to the flat error rate.
func sanitizeConditions(log Logger, owner string, conditions []ErrorCondition) []ErrorCondition {
	var kept []ErrorCondition
	for _, c := range conditions {
		if c.ErrorRate < 1 || c.ErrorRate > HundredPercent {
			log.Warn("%s: error condition %s=%s dropped, rate %g is not in [1,100]\n", owner, c.TagName, c.TagValue, c.ErrorRate)
			continue
		}
		kept = append(kept, c)
	}
	if len(conditions) > 0 && len(kept) == 0 {
		log.Warn("%s: no usable error conditions left, the flat error rate applies\n", owner)
	}
	return kept
}

// clampPercent pins a rate into [0,100], logging when it had to.
func clampPercent(log Logger, owner, field string, v float64) float64 {
	switch {
	case v < 0:
		log.Warn("%s: %s %g is below 0, using 0\n", owner, field, v)
		return 0
	case v > HundredPercent:
		log.Warn("%s: %s %g is above 100, using 100\n", owner, field, v)
		return HundredPercent
	}
	return v
}

// sanitizeBuckets validates a bucket list, clamping weights. Ranges with
// start after end cannot be repaired and fail the load.
func sanitizeBuckets(log Logger, owner, field string, buckets []Bucket) ([]Bucket, error) {
	out := make([]Bucket, 0, len(buckets))
	for i, b := range buckets {
		if b.Start > b.End {
			return nil, fmt.Errorf("%s: %s[%d]: start %d is after end %d", owner, field, i, b.Start, b.End)
		}
		b.Weight = clampPercent(log, owner, fmt.Sprintf("%s[%d] percentage", field, i), b.Weight)
		out = append(out, b)
	}
	return out, nil
}

// readDefinition decodes a YAML (or JSON) document into v.
func readDefinition(filename string, v interface{}) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unable to decode %s: %w", filename, err)
	}
	return nil
}
