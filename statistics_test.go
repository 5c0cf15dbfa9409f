package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatisticsDocument(t *testing.T) {
	rng := NewRng("stats")
	stats := NewStatistics()
	stats.Offer(chain(rng, "a", 2, 0))
	stats.Offer(chain(rng, "a", 4, 0))
	errored := chain(rng, "b", 3, 0)
	errored.MarkError(errored.Levels[0][0])
	stats.Offer(errored)

	doc := stats.Document()
	assert.Equal(t, int64(3), doc.TotalTraces)
	assert.Equal(t, int64(9), doc.TotalSpans)
	assert.Equal(t, int64(1), doc.ErroneousTraces)
	assert.InDelta(t, 33.33, doc.ErrorPercentage, 0.001)

	a := doc.TraceTypes["a"]
	assert.Equal(t, int64(2), a.Count)
	assert.Equal(t, minMeanMax{Min: 2, Mean: 3, Max: 4}, a.Spans)
	assert.Equal(t, int64(11), a.DurationMs.Min)
	assert.Equal(t, int64(13), a.DurationMs.Max)
	assert.Equal(t, int64(1), doc.TraceTypes["b"].ErroneousTraces)

	var buf bytes.Buffer
	require.NoError(t, stats.WriteJSON(&buf))
	var decoded StatisticsDocument
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, doc, decoded)
}

func TestStatTrace(t *testing.T) {
	rng := NewRng("stats")
	stats := NewStatistics()
	stats.Offer(chain(rng, "zeta", 2, 0))
	stats.Offer(chain(rng, "alpha", 1, 0))

	tr := stats.StatTrace("PATTERN", 5000, "loader", rng)
	require.Len(t, tr.Levels, 2)
	root := tr.Levels[0][0]
	assert.Equal(t, "PATTERN_STAT", root.Name)
	v, _ := root.Tag("totalTraces")
	assert.Equal(t, "2", v)
	v, _ = root.Tag("totalSpans")
	assert.Equal(t, "3", v)

	children := tr.Levels[1]
	require.Len(t, children, 2)
	assert.Equal(t, "alpha", children[0].Name)
	assert.Equal(t, "zeta", children[1].Name)
	for _, c := range children {
		assert.Equal(t, root.TraceID, c.TraceID)
		assert.Equal(t, root.SpanID, c.Parents[0])
		assert.Equal(t, int64(5000), c.StartMs)
		assert.Equal(t, "loader", c.Source)
	}
	v, _ = children[1].Tag("maxSpans")
	assert.Equal(t, "2", v)
}

func TestStatisticsEmpty(t *testing.T) {
	doc := NewStatistics().Document()
	assert.Zero(t, doc.TotalTraces)
	assert.Zero(t, doc.ErrorPercentage)
	assert.Empty(t, doc.TraceTypes)
}
