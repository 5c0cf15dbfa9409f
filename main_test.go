package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() *Options {
	opts := newOptions()
	opts.Generation.Pattern = "pattern.yaml"
	opts.Generation.Rate = 100
	opts.Output.Sender = "otel"
	return opts
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, validOptions().Validate())

	tests := []struct {
		name   string
		modify func(o *Options)
	}{
		{"no input", func(o *Options) { o.Generation.Pattern = "" }},
		{"two inputs", func(o *Options) { o.Generation.Topology = "topology.yaml" }},
		{"zero rate", func(o *Options) { o.Generation.Rate = 0 }},
		{"negative count", func(o *Options) { o.Generation.TraceCount = -1 }},
		{"file without files", func(o *Options) { o.Output.Sender = "file" }},
		{"kafka without brokers", func(o *Options) { o.Output.Sender = "kafka" }},
		{"bad errortag", func(o *Options) { o.Generation.ErrorTag = "novalue" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.modify(opts)
			assert.Error(t, opts.Validate())
		})
	}

	// re-ingestion does not need a rate
	opts := validOptions()
	opts.Generation.Pattern = ""
	opts.Generation.Reingest = "dump.json"
	opts.Generation.Rate = 0
	opts.Generation.ErrorTag = "db=slow"
	assert.NoError(t, opts.Validate())
}

func TestLoaderConfig(t *testing.T) {
	opts := validOptions()
	opts.Generation.Duration = time.Minute
	opts.Generation.Source = "web"
	cfg := opts.LoaderConfig()
	assert.True(t, cfg.RealTime)
	assert.Equal(t, int64(6000), cfg.SpanTarget())
	assert.Equal(t, "web", cfg.Source)

	opts.Output.Sender = "file"
	assert.False(t, opts.LoaderConfig().RealTime)
}

func TestParseHost(t *testing.T) {
	log := NewNopLogger()
	tests := []struct {
		host     string
		insecure bool
		want     string
	}{
		{"honeycomb", false, "https://api.honeycomb.io:443"},
		{"local", false, "http://localhost:8889"},
		{"collector", true, "http://collector:4317"},
		{"collector", false, "https://collector:4317"},
		{"https://collector:4318", true, "https://collector:4318"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseHost(log, tt.host, tt.insecure).String(), tt.host)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	opts := validOptions()
	opts.Generation.TraceCount = 42
	opts.Output.KafkaBrokers = []string{"a:9092", "b:9092"}
	opts.Telemetry.APIKey = "secret"
	opts.Fields["1.tier"] = "/sw3"

	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteConfig(opts, filename))
	read := newOptions()
	require.NoError(t, ReadConfig(read, filename))
	assert.Equal(t, 42, read.Generation.TraceCount)
	assert.Equal(t, []string{"a:9092", "b:9092"}, read.Output.KafkaBrokers)
	assert.Equal(t, "/sw3", read.Fields["1.tier"])
	// starred fields never go to the file
	assert.Empty(t, read.Telemetry.APIKey)

	read.CopyStarredFieldsFrom(opts)
	assert.Equal(t, "secret", read.Telemetry.APIKey)
}

func TestDebugLevel(t *testing.T) {
	opts := newOptions()
	for level, want := range map[string]int{"debug": 3, "info": 2, "warn": 1, "error": 0, "": 0} {
		opts.Global.LogLevel = level
		assert.Equal(t, want, opts.DebugLevel())
	}
}
