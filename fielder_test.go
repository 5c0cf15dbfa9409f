package main

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagMap(tags []Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t.Key] = t.Value
	}
	return m
}

func TestFielderConstants(t *testing.T) {
	f, err := NewFielder(NewRng("fields"), map[string]string{
		"region": "us-east",
		"shards": "12",
		"ratio":  "0.5",
		"canary": "false",
	}, 0)
	require.NoError(t, err)

	tags := tagMap(f.Tags(3))
	assert.Equal(t, map[string]string{
		"region": "us-east",
		"shards": "12",
		"ratio":  "0.5",
		"canary": "false",
	}, tags)
}

func TestFielderLevels(t *testing.T) {
	f, err := NewFielder(NewRng("fields"), map[string]string{
		"0.entry": "true",
		"1.hop":   "first",
		"any":     "x",
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"entry": "true", "any": "x"}, tagMap(f.Tags(0)))
	assert.Equal(t, map[string]string{"hop": "first", "any": "x"}, tagMap(f.Tags(1)))
	assert.Equal(t, map[string]string{"any": "x"}, tagMap(f.Tags(2)))
}

func TestFielderGenerators(t *testing.T) {
	f, err := NewFielder(NewRng("fields"), map[string]string{
		"count": "/ir10,20",
		"hex":   "/sx8",
		"word":  "/sw3",
		"flag":  "/b100",
	}, 0)
	require.NoError(t, err)

	words := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		tags := tagMap(f.Tags(0))
		n, err := strconv.Atoi(tags["count"])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 10)
		assert.Less(t, n, 20)
		assert.Len(t, tags["hex"], 8)
		assert.Equal(t, "true", tags["flag"])
		words[tags["word"]] = struct{}{}
	}
	assert.LessOrEqual(t, len(words), 3)
}

func TestFielderExtras(t *testing.T) {
	f, err := NewFielder(NewRng("fields"), nil, 5)
	require.NoError(t, err)
	assert.Len(t, f.Tags(0), 5)

	g, err := NewFielder(NewRng("fields"), nil, 5)
	require.NoError(t, err)
	first, second := f.Tags(0), g.Tags(0)
	for i := range first {
		assert.Equal(t, first[i].Key, second[i].Key)
	}
}

func TestFielderErrors(t *testing.T) {
	for _, fields := range []map[string]string{
		{"bad name": "1"},
		{"x": "/q"},
		{"x": "/b200"},
		{"x": "/iabc"},
	} {
		_, err := NewFielder(NewRng("fields"), fields, 0)
		assert.Error(t, err, "%v", fields)
	}
}

func TestNilFielder(t *testing.T) {
	var f *Fielder
	assert.Empty(t, f.Tags(0))
}
