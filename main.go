package main

import (
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goware/urlx"
	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

var ResourceLibrary = "traceloader"
var ResourceVersion = "dev"

type Options struct {
	Telemetry struct {
		Host     string `long:"host" description:"the url of the host to receive the telemetry (or honeycomb, dogfood, local)" default:"honeycomb"`
		Insecure bool   `long:"insecure" description:"use this for insecure http (not https) connections" yaml:",omitempty"`
		Dataset  string `long:"dataset" description:"sends all traces to the given dataset (the service name for OTLP and Kafka)" env:"HONEYCOMB_DATASET" default:"traceloader"`
		APIKey   string `long:"apikey" description:"the honeycomb API key(*)" env:"HONEYCOMB_API_KEY" yaml:"-"`
	} `group:"Telemetry Options"`
	Generation struct {
		Pattern    string        `long:"pattern" description:"YAML or JSON file of trace type patterns to generate from" yaml:",omitempty"`
		Topology   string        `long:"topology" description:"YAML or JSON file of a service topology to generate from" yaml:",omitempty"`
		Reingest   string        `long:"reingest" description:"trace dump file to replay instead of generating" yaml:",omitempty"`
		Rate       float64       `long:"rate" description:"the number of spans to generate and send per second" default:"100"`
		Duration   time.Duration `long:"duration" description:"generate rate*duration spans (0 means no limit)" default:"0s" yaml:",omitempty"`
		TraceCount int           `long:"tracecount" description:"generate exactly this many traces, following the distributions exactly (if neither this nor duration is set, defaults to 1)" default:"0" yaml:",omitempty"`
		Source     string        `long:"source" description:"the source (host) name put on every span" default:"traceloader"`
		Extra      int           `long:"extra" description:"the number of random tags in a span beyond the generated ones" default:"0" yaml:",omitempty"`
		ErrorTag   string        `long:"errortag" description:"when re-ingesting, flag spans with this key=value tag as errors" yaml:",omitempty"`
		ErrorRate  float64       `long:"errorrate" description:"when re-ingesting, the percentage of spans matching errortag to flag" default:"0" yaml:",omitempty"`
	} `group:"Generation Options"`
	Output struct {
		Sender             string        `long:"sender" description:"where spans go" choice:"otel" choice:"stdout" choice:"honeycomb" choice:"kafka" choice:"print" choice:"dummy" choice:"file" default:"otel"`
		Protocol           string        `long:"protocol" description:"for otel only, protocol to use" choice:"grpc" choice:"http" default:"grpc"`
		MaxExportBatchSize int           `long:"maxexportbatchsize" description:"for otel and kafka, maximum number of spans to export at once" default:"0"`
		ExportTimeout      time.Duration `long:"exporttimeout" description:"for otel and kafka, maximum time to wait for a batch to be sent" default:"0s"`
		KafkaBrokers       []string      `long:"kafkabroker" description:"for kafka only, a broker address (repeatable)" yaml:",omitempty"`
		KafkaTopic         string        `long:"kafkatopic" description:"for kafka only, the topic to publish to" default:"otlp_spans"`
		SpanFile           string        `long:"spanfile" description:"for file only, write spans in line protocol to this file" yaml:",omitempty"`
		TraceFile          string        `long:"tracefile" description:"write every trace as a JSON line to this file" yaml:",omitempty"`
		StatFile           string        `long:"statfile" description:"write the run statistics as JSON to this file instead of the log" yaml:",omitempty"`
	} `group:"Output Options"`
	Global struct {
		LogLevel  string `long:"loglevel" description:"level of logging" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
		DebugPort int    `long:"debugport" description:"port to listen on for pprof(*)" default:"-1" yaml:"-"`
		MaxHeap   uint64 `long:"maxheap" description:"heap size in bytes at which generation pauses (0 uses GOMEMLIMIT or a quarter of memory)" default:"0" yaml:",omitempty"`
		Seed      string `long:"seed" description:"string seed for random number generator (empty means a different run every time)" yaml:",omitempty"`
		Config    string `long:"config" description:"name of config file to load(*)" default:"" yaml:"-"`
		WriteCfg  string `long:"writecfg" description:"write effective YAML config to the specified output file and quit(*)" default:"" yaml:"-"`
	} `group:"Global Options"`
	Fields  map[string]string `yaml:"fields,omitempty"`
	apihost *url.URL
}

func newOptions() *Options {
	return &Options{Fields: make(map[string]string)}
}

func (o *Options) CopyStarredFieldsFrom(other *Options) {
	o.Telemetry.APIKey = other.Telemetry.APIKey
	o.Global.DebugPort = other.Global.DebugPort
	o.Global.Config = other.Global.Config
	o.Global.WriteCfg = other.Global.WriteCfg
}

func (o *Options) DebugLevel() int {
	switch o.Global.LogLevel {
	case "debug":
		return 3
	case "info":
		return 2
	case "warn":
		return 1
	case "error":
		return 0
	default:
		return 0
	}
}

// Validate checks the combinations go-flags cannot express.
func (o *Options) Validate() error {
	inputs := 0
	for _, in := range []string{o.Generation.Pattern, o.Generation.Topology, o.Generation.Reingest} {
		if in != "" {
			inputs++
		}
	}
	if inputs != 1 {
		return fmt.Errorf("exactly one of --pattern, --topology or --reingest is required")
	}
	if o.Generation.Reingest == "" && o.Generation.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %v", o.Generation.Rate)
	}
	if o.Generation.TraceCount < 0 {
		return fmt.Errorf("tracecount cannot be negative")
	}
	if o.Output.Sender == "file" && o.Output.SpanFile == "" && o.Output.TraceFile == "" {
		return fmt.Errorf("the file sender needs --spanfile or --tracefile")
	}
	if o.Output.Sender == "kafka" && len(o.Output.KafkaBrokers) == 0 {
		return fmt.Errorf("the kafka sender needs at least one --kafkabroker")
	}
	if o.Generation.ErrorTag != "" && !strings.Contains(o.Generation.ErrorTag, "=") {
		return fmt.Errorf("errortag must look like key=value, got %q", o.Generation.ErrorTag)
	}
	return nil
}

// LoaderConfig derives the run configuration. Only the file sender runs on
// a virtual clock; everything else is paced against the wall clock.
func (o *Options) LoaderConfig() LoaderConfig {
	return LoaderConfig{
		Rate:       o.Generation.Rate,
		Duration:   o.Generation.Duration,
		TraceCount: o.Generation.TraceCount,
		Source:     o.Generation.Source,
		RealTime:   o.Output.Sender != "file",
	}
}

// parses the host information and returns a cleaned-up version to make
// it easier to make sure that things are properly specified
// exits if it can't make sense of it
func parseHost(log Logger, host string, insecure bool) *url.URL {
	switch host {
	case "honeycomb":
		host = "https://api.honeycomb.io:443"
	case "dogfood":
		host = "https://api-dogfood.honeycomb.io:443"
	case "local":
		host = "http://localhost:8889"
	default:
	}

	// if the scheme is not specified, fall back to the value of the insecure flag
	defaultScheme := "https"
	if insecure {
		defaultScheme = "http"
	}
	u, err := urlx.ParseWithDefaultScheme(host, defaultScheme)
	if err != nil {
		log.Fatal("unable to parse host: %s\n", err)
	}
	port := u.Port()
	if port == "" {
		u.Host = fmt.Sprintf("%s:4317", u.Host) // default GRPC port
	}
	return u
}

func ReadConfig(opts *Options, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewDecoder(f).Decode(opts)
}

func WriteConfig(opts *Options, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewEncoder(f).Encode(opts)
}

// newBuilder loads whichever definition was given.
func newBuilder(log Logger, opts *Options, cfg LoaderConfig, rng Rng, fielder *Fielder) (TraceBuilder, error) {
	if opts.Generation.Pattern != "" {
		def, err := LoadPatternDefinition(log, opts.Generation.Pattern)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", opts.Generation.Pattern, err)
		}
		return NewPatternBuilder(def, cfg, rng, fielder, log), nil
	}
	topo, err := LoadTopology(log, opts.Generation.Topology)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", opts.Generation.Topology, err)
	}
	return NewTopologyBuilder(topo, cfg, rng, fielder, log), nil
}

// newClient returns the wire client for the chosen sender; for the file
// sender it is the span file writer, if any.
func newClient(log Logger, opts *Options) WireClient {
	switch opts.Output.Sender {
	case "otel", "stdout":
		return NewClientOTel(log, NewOTLPExporter(log, opts), opts.Telemetry.Dataset,
			opts.Output.MaxExportBatchSize, opts.Output.ExportTimeout)
	case "honeycomb":
		c, err := NewClientHoneycomb(log, opts, nil)
		if err != nil {
			log.Fatal("unable to configure honeycomb client: %v\n", err)
		}
		return c
	case "kafka":
		w := NewKafkaWriter(opts.Output.KafkaBrokers, opts.Output.KafkaTopic)
		return NewClientKafka(log, w, opts.Telemetry.Dataset, opts.Output.MaxExportBatchSize, opts.Output.ExportTimeout)
	case "print":
		// hide Close so that stdout stays open
		return NewClientPrint(log, struct{ io.Writer }{os.Stdout})
	case "dummy":
		return NewClientDummy(log)
	case "file":
		if opts.Output.SpanFile == "" {
			return nil
		}
		f, err := os.Create(opts.Output.SpanFile)
		if err != nil {
			log.Fatal("unable to create span file: %v\n", err)
		}
		return NewClientPrint(log, f)
	}
	log.Fatal("unknown sender %s\n", opts.Output.Sender)
	return nil
}

func writeStatistics(log Logger, stats *Statistics, filename string) {
	if filename == "" {
		log.Info("statistics: %s\n", stats)
		return
	}
	f, err := os.Create(filename)
	if err != nil {
		log.Error("unable to create statistics file: %v\n", err)
		return
	}
	defer f.Close()
	if err := stats.WriteJSON(f); err != nil {
		log.Error("unable to write statistics: %v\n", err)
		return
	}
	log.Info("wrote statistics to %s\n", filename)
}

func main() {
	cmdopts := newOptions()

	parser := flags.NewParser(cmdopts, flags.Default)
	parser.Usage = `[OPTIONS] [FIELD=VALUE]...

	traceloader generates synthetic distributed traces for load testing tracing
	backends. Traces are built either from trace type patterns (span count, nesting
	level and duration distributions, tags and error rates per trace type) or from a
	service topology (services, their connections and tags), and are sent at a
	steady rate of spans per second. A previous run's trace dump can be replayed
	with --reingest, with fresh ids and timestamps.

	Give --tracecount to generate an exact number of traces; the distributions in
	the definition are then followed exactly rather than sampled. Give --duration to
	generate rate*duration spans.

	Spans can be sent over OTLP (grpc or http), to Honeycomb as events, to Kafka as
	OTLP protobuf messages, or written to files (--sender=file with --spanfile and
	--tracefile), in which case generation runs as fast as possible. A statistics
	trace named <MODE>_STAT summarizes the run at the end.

	You can specify tags to be added to each generated span. Each tag should be
	specified as FIELD=VALUE. The value can be a constant or a generator starting
	with /. Allowed generators are /i, /ir, /ig, /f, /fr, /fg, /s, /sx, /sw, /b,
	optionally followed by a single number or a comma-separated pair of numbers.
	Example generators:
		- /s -- alphanumeric string of length 16
		- /sx32 -- hex string of 32 characters
		- /sw12 -- pronounceable words with cardinality 12
		- /ir100 -- int in a range of 0 to 100
		- /fg50,30 -- float in a gaussian distribution with mean 50 and stddev 30
		- /b33.3 -- boolean, true or false -- probability of true is 33.3% (default 50%)

	If a field name is prefixed with a number and a dot (e.g. 1.foo=bar) the tag
	will only be added to spans at that level of nesting (where 0 is the root span).

	Options can be set in a config file, or on the command line; to specify them in the
	config file, specify it on the command line with "--config=FILENAME". The config file
	format is YAML.

	Note: If a config file is used, it MUST be used for all options, except for the ones
	marked in the help text with (*) -- these fields CANNOT be set in the config file.
	`

	// read the command line and envvars into cmdargs
	args, err := parser.Parse()
	if err != nil {
		switch flagsErr := err.(type) {
		case *flags.Error:
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		NewLogger(0).Fatal("error reading command line: %v\n", err)
	}

	opts := newOptions()
	if cmdopts.Global.Config != "" {
		if err := ReadConfig(opts, cmdopts.Global.Config); err != nil {
			NewLogger(0).Fatal("err %v -- unable to read config file %s\n", err, cmdopts.Global.Config)
		}
		opts.CopyStarredFieldsFrom(cmdopts)
	} else {
		opts = cmdopts // we don't have to read from a file
	}
	if opts.Fields == nil {
		opts.Fields = make(map[string]string)
	}

	log := NewLogger(opts.DebugLevel())
	if cmdopts.Global.Config != "" {
		log.Info("read config from %s\n", cmdopts.Global.Config)
	}

	// split the args into opts.Fields, potentially overwriting
	for _, arg := range args {
		s := strings.SplitN(arg, "=", 2)
		if len(s) < 2 {
			log.Fatal("field `%s` missing required '='\n", s)
		}
		opts.Fields[s[0]] = s[1]
	}

	if opts.Global.WriteCfg != "" {
		err := WriteConfig(opts, opts.Global.WriteCfg)
		if err != nil {
			log.Fatal("unable to write config: %s\n", err)
		}
		log.Info("wrote config to %s\n", opts.Global.WriteCfg)
		os.Exit(0)
	}

	if err := opts.Validate(); err != nil {
		log.Fatal("%v\n", err)
	}

	if opts.Global.DebugPort > 0 {
		go func() {
			http.ListenAndServe(fmt.Sprintf("localhost:%d", opts.Global.DebugPort), nil)
		}()
	}

	// if we're not given a trace count or a duration, generate only 1 trace
	if opts.Generation.Reingest == "" && opts.Generation.TraceCount == 0 && opts.Generation.Duration == 0 {
		opts.Generation.TraceCount = 1
	}

	opts.apihost = parseHost(log, opts.Telemetry.Host, opts.Telemetry.Insecure)
	switch opts.Output.Sender {
	case "otel", "honeycomb":
		log.Info("host: %s, dataset: %s, apikey: ...%4.4s\n", opts.apihost.String(), opts.Telemetry.Dataset, opts.Telemetry.APIKey)
	}

	cfg := opts.LoaderConfig()
	rng := NewRng(opts.Global.Seed)
	queue := NewDataQueue(opts.Output.TraceFile != "")
	stats := NewStatistics()
	heap := NewHeapMonitor(log, opts.Global.MaxHeap)

	// everything that can fail on bad input is loaded before any goroutine starts
	var generator Generator
	if opts.Generation.Reingest != "" {
		input, err := os.Open(opts.Generation.Reingest)
		if err != nil {
			log.Fatal("unable to open trace dump: %v\n", err)
		}
		defer input.Close()
		var inject *ErrorInjection
		if opts.Generation.ErrorTag != "" {
			kv := strings.SplitN(opts.Generation.ErrorTag, "=", 2)
			inject = &ErrorInjection{Tag: Tag{kv[0], kv[1]}, Rate: opts.Generation.ErrorRate}
		}
		generator = NewReingestGenerator(input, queue, stats, heap, cfg, inject, rng, log)
	} else {
		fielder, err := NewFielder(rng, opts.Fields, opts.Generation.Extra)
		if err != nil {
			log.Fatal("unable to create fields as specified: %s\n", err)
		}
		builder, err := newBuilder(log, opts, cfg, rng, fielder)
		if err != nil {
			log.Fatal("%v\n", err)
		}
		if err := builder.Init(); err != nil {
			log.Fatal("unable to prepare %s generation: %v\n", strings.ToLower(builder.Mode()), err)
		}
		generator = NewTraceGenerator(builder, queue, stats, heap, cfg, rng, log)
	}

	var traces *TraceWriter
	if opts.Output.TraceFile != "" {
		f, err := os.Create(opts.Output.TraceFile)
		if err != nil {
			log.Fatal("unable to create trace file: %v\n", err)
		}
		traces = NewTraceWriter(f)
	}
	sender := NewSender(queue, newClient(log, opts), traces, cfg.Rate, cfg.RealTime, log)

	// create a stop channel so we can shut down gracefully
	stop := make(chan struct{})
	// and a waitgroup so we can wait for everything to finish
	wg := &sync.WaitGroup{}

	// catch ctrl-c and close the stop channel
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	// we don't want a wait group for this one, or we'll never exit
	go func() {
		select {
		case <-sigch:
			log.Warn("shutting down from operating system signal\n")
			close(stop)
		case <-done:
		}
	}()

	wg.Add(2)
	go generator.Generate(wg, stop)
	go sender.Run(wg, stop)

	// wait for things to finish
	wg.Wait()
	close(done)
	writeStatistics(log, stats, opts.Output.StatFile)
}
