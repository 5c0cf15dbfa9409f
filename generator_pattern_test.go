package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o600))
	return filename
}

const checkoutPattern = `
traceTypePatterns:
  - traceTypeName: checkout
    nestingLevel: 3
    tracePercentage: 30
    spansDistributions:
      - startValue: 3
        endValue: 5
        percentage: 100
    traceDurations:
      - startValue: 1000
        endValue: 1000
        percentage: 100
    mandatoryTags:
      - tagName: region
        tagValues: [us, eu]
  - traceTypeName: browse
    nestingLevel: 1
    tracePercentage: 70
    spansDistributions:
      - startValue: 4
        endValue: 4
        percentage: 100
    spansDurations:
      - startValue: 10
        endValue: 20
        percentage: 100
`

func loadPattern(t *testing.T, doc string) *PatternDefinition {
	t.Helper()
	def, err := LoadPatternDefinition(NewNopLogger(), writeFile(t, "pattern.yaml", doc))
	require.NoError(t, err)
	return def
}

// generateAll runs a builder until it is exhausted.
func generateAll(t *testing.T, b TraceBuilder, limit int) []*Trace {
	t.Helper()
	var traces []*Trace
	for i := 0; i < limit; i++ {
		trace, err := b.GenerateOne(int64(i * 1000))
		if err == ErrExhausted {
			return traces
		}
		require.NoError(t, err)
		if trace != nil {
			traces = append(traces, trace)
		}
	}
	t.Fatalf("builder not exhausted after %d traces", limit)
	return nil
}

// assertConnected checks that every span below the root hangs off a span one
// level up in the same trace.
func assertConnected(t *testing.T, trace *Trace) {
	t.Helper()
	require.Len(t, trace.Levels[0], 1)
	for lvl := 1; lvl < len(trace.Levels); lvl++ {
		for _, s := range trace.Levels[lvl] {
			require.Len(t, s.Parents, 1)
			parent := trace.Lookup(s.Parents[0])
			require.NotNil(t, parent, "span %s has no parent in its trace", s.Name)
			assert.Contains(t, trace.Levels[lvl-1], parent)
			assert.Equal(t, trace.TraceID(), s.TraceID)
		}
	}
}

func TestPatternSanitizeDefaults(t *testing.T) {
	def := loadPattern(t, `
traceTypePatterns:
  - nestingLevel: 0
    tracePercentage: 150
    errorRate: -5
`)
	p := def.TraceTypes[0]
	assert.Equal(t, "traceType_1", p.Name)
	assert.Equal(t, defaultSpanNameSuffixes, p.SpanNameSuffixes)
	assert.Equal(t, 1, p.NestingLevel)
	assert.Equal(t, HundredPercent, p.TracePercentage)
	assert.Zero(t, p.ErrorRate)
	assert.Equal(t, defaultSpanCounts, p.SpanCounts)
	assert.Equal(t, defaultTraceDurations, p.TraceDurations)
	names := []string{}
	for _, tv := range p.MandatoryTags {
		names = append(names, tv.Name)
	}
	assert.Equal(t, []string{"application", "service"}, names)
}

func TestPatternSanitizeErrors(t *testing.T) {
	_, err := LoadPatternDefinition(NewNopLogger(), writeFile(t, "empty.yaml", "traceTypePatterns: []\n"))
	assert.ErrorIs(t, err, ErrNoTraceTypes)

	_, err = LoadPatternDefinition(NewNopLogger(), writeFile(t, "zero.yaml", `
traceTypePatterns:
  - traceTypeName: zero
    spansDistributions:
      - startValue: 0
        endValue: 3
        percentage: 100
`))
	assert.ErrorContains(t, err, "at least one span")

	_, err = LoadPatternDefinition(NewNopLogger(), writeFile(t, "reversed.yaml", `
traceTypePatterns:
  - traceTypeName: reversed
    traceDurations:
      - startValue: 10
        endValue: 5
        percentage: 100
`))
	assert.ErrorContains(t, err, "after end")

	_, err = LoadPatternDefinition(NewNopLogger(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPatternBuilderExactCounts(t *testing.T) {
	def := loadPattern(t, checkoutPattern)
	b := NewPatternBuilder(def, LoaderConfig{TraceCount: 100, Source: "test"}, NewRng("pattern"), nil, NewNopLogger())
	require.NoError(t, b.Init())
	assert.Equal(t, "PATTERN", b.Mode())

	traces := generateAll(t, b, 1000)
	require.Len(t, traces, 100)
	byType := map[string]int{}
	for _, trace := range traces {
		byType[trace.TypeName]++
		assertConnected(t, trace)
		for _, s := range trace.Spans() {
			assert.Equal(t, "test", s.Source)
		}
		switch trace.TypeName {
		case "checkout":
			assert.GreaterOrEqual(t, trace.SpanCount(), 3)
			assert.LessOrEqual(t, trace.SpanCount(), 5)
			assert.LessOrEqual(t, len(trace.Levels), 3)
			assert.Equal(t, int64(1000), trace.DurationMs())
			for _, s := range trace.Spans() {
				region, ok := s.Tag("region")
				assert.True(t, ok)
				assert.Contains(t, []string{"us", "eu"}, region)
				_, ok = s.Tag("application")
				assert.True(t, ok)
				if s != trace.Levels[0][0] {
					assert.True(t, strings.HasPrefix(s.Name, "name_"))
				}
			}
		case "browse":
			// a single level means a single span
			assert.Equal(t, 1, trace.SpanCount())
			assert.Equal(t, "browse", trace.Levels[0][0].Name)
			assert.GreaterOrEqual(t, trace.DurationMs(), int64(10))
			assert.LessOrEqual(t, trace.DurationMs(), int64(20))
		}
	}
	assert.Equal(t, map[string]int{"checkout": 30, "browse": 70}, byType)
}

func TestPatternBuilderExactSpanCounts(t *testing.T) {
	def := loadPattern(t, `
traceTypePatterns:
  - traceTypeName: mixed
    nestingLevel: 4
    tracePercentage: 100
    spansDistributions:
      - startValue: 2
        endValue: 2
        percentage: 50
      - startValue: 6
        endValue: 6
        percentage: 50
`)
	b := NewPatternBuilder(def, LoaderConfig{TraceCount: 10}, NewRng("spans"), nil, NewNopLogger())
	require.NoError(t, b.Init())
	counts := map[int]int{}
	for _, trace := range generateAll(t, b, 100) {
		counts[trace.SpanCount()]++
		assertConnected(t, trace)
	}
	assert.Equal(t, map[int]int{2: 5, 6: 5}, counts)
}

func TestPatternBuilderRandomMode(t *testing.T) {
	def := loadPattern(t, checkoutPattern)
	b := NewPatternBuilder(def, LoaderConfig{}, NewRng("random"), nil, NewNopLogger())
	require.NoError(t, b.Init())
	for i := 0; i < 200; i++ {
		trace, err := b.GenerateOne(0)
		require.NoError(t, err)
		require.NotNil(t, trace)
	}
}

func TestPatternBuilderRepeatable(t *testing.T) {
	def := loadPattern(t, checkoutPattern)
	run := func() []string {
		b := NewPatternBuilder(def, LoaderConfig{TraceCount: 20}, NewRng("seed"), nil, NewNopLogger())
		require.NoError(t, b.Init())
		var ids []string
		for _, trace := range generateAll(t, b, 100) {
			ids = append(ids, trace.TraceID().String())
		}
		return ids
	}
	assert.Equal(t, run(), run())
}

func TestPatternBuilderErrors(t *testing.T) {
	def := loadPattern(t, `
traceTypePatterns:
  - traceTypeName: flaky
    nestingLevel: 2
    tracePercentage: 100
    errorRate: 100
    debugRate: 100
    spansDistributions:
      - startValue: 3
        endValue: 3
        percentage: 100
  - traceTypeName: conditional
    nestingLevel: 2
    tracePercentage: 0
    spansDistributions:
      - startValue: 3
        endValue: 3
        percentage: 100
    errorConditions:
      - tagName: application
        tagValue: Application_1
        errorRate: 100
`)
	fielder, err := NewFielder(NewRng("f"), map[string]string{"0.tier": "front"}, 0)
	require.NoError(t, err)
	b := NewPatternBuilder(def, LoaderConfig{TraceCount: 10}, NewRng("errors"), fielder, NewNopLogger())
	require.NoError(t, b.Init())
	for _, trace := range generateAll(t, b, 100) {
		assert.Equal(t, "flaky", trace.TypeName)
		assert.True(t, trace.HasError())
		assert.Equal(t, 3, trace.DebugSpans())
		root := trace.Levels[0][0]
		assert.True(t, root.IsError())
		tier, ok := root.Tag("tier")
		assert.True(t, ok)
		assert.Equal(t, "front", tier)
		for _, s := range trace.Levels[1] {
			// the flat rate only applies to the root
			assert.False(t, s.IsError())
			_, ok := s.Tag("tier")
			assert.False(t, ok)
		}
	}

	p := def.TraceTypes[1]
	b.rng = NewRng("conditions")
	for i := 0; i < 50; i++ {
		tags := b.tags(p, "name_a", 1)
		app, _ := (&Span{Tags: tags}).Tag("application")
		assert.Equal(t, app == "Application_1", (&Span{Tags: tags}).IsError())
	}
}
