package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
)

const (
	defaultExportBatchSize = 512
	defaultExportTimeout   = 30 * time.Second
	resourceCacheSize      = 4096
)

// make sure it implements WireClient
var _ WireClient = (*ClientOTel)(nil)

// ClientOTel replays pre-built spans through an OTel span exporter. The
// tracer API would mint its own ids and timestamps, so spans are assembled
// as read-only snapshots and exported in batches.
type ClientOTel struct {
	exporter  sdktrace.SpanExporter
	service   string
	batchSize int
	timeout   time.Duration
	batch     []sdktrace.ReadOnlySpan
	resources *lru.Cache
	exported  int64
	dropped   int64
	log       Logger
}

func NewClientOTel(log Logger, exporter sdktrace.SpanExporter, service string, batchSize int, timeout time.Duration) *ClientOTel {
	if batchSize <= 0 {
		batchSize = defaultExportBatchSize
	}
	if timeout <= 0 {
		timeout = defaultExportTimeout
	}
	return &ClientOTel{
		exporter:  exporter,
		service:   service,
		batchSize: batchSize,
		timeout:   timeout,
		resources: newResourceCache(),
		log:       log,
	}
}

// NewOTLPExporter builds the exporter for the configured protocol; "stdout"
// pretty-prints spans instead of sending them.
func NewOTLPExporter(log Logger, opts *Options) sdktrace.SpanExporter {
	if opts.Output.Sender == "stdout" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatal("failure configuring stdout trace exporter: %v\n", err)
		}
		return exporter
	}

	var client otlptrace.Client
	switch opts.Output.Protocol {
	case "grpc":
		client = setupOTELGRPCClient(opts)
	case "http":
		client = setupOTELHTTPClient(opts)
	default:
		log.Fatal("unknown protocol: %s\n", opts.Output.Protocol)
	}

	exporter, err := otlptrace.New(context.Background(), client)
	if err != nil {
		log.Fatal("failure configuring otel trace exporter: %v\n", err)
	}
	return exporter
}

func setupOTELHTTPClient(opts *Options) otlptrace.Client {
	options := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(opts.apihost.Host),
		otlptracehttp.WithHeaders(map[string]string{
			"x-honeycomb-team": opts.Telemetry.APIKey,
		}),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlptracehttp.WithInsecure())
	} else {
		options = append(options, otlptracehttp.WithTLSClientConfig(&tls.Config{}))
	}
	return otlptracehttp.NewClient(options...)
}

func setupOTELGRPCClient(opts *Options) otlptrace.Client {
	options := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.apihost.Host),
		otlptracegrpc.WithHeaders(map[string]string{
			"x-honeycomb-team": opts.Telemetry.APIKey,
		}),
		otlptracegrpc.WithCompressor(gzip.Name),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	} else {
		options = append(options, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlptracegrpc.NewClient(options...)
}

// spanContextOf maps uuid identifiers onto OTel ids: the trace id keeps all
// sixteen bytes and a span id is the low half of its uuid, as on the Kafka
// wire.
func spanContextOf(traceID, spanID uuid.UUID) trace.SpanContext {
	var sid trace.SpanID
	copy(sid[:], otlpSpanID(spanID))
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID(traceID),
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	})
}

func millis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func newResourceCache() *lru.Cache {
	cache, err := lru.New(resourceCacheSize)
	if err != nil {
		panic(err)
	}
	return cache
}

// resourceFor returns the shared resource of a source host. Re-ingested
// dumps may name any number of hosts, so only the most recent are kept.
func (c *ClientOTel) resourceFor(source string) *resource.Resource {
	if r, ok := c.resources.Get(source); ok {
		return r.(*resource.Resource)
	}
	r := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(c.service),
		semconv.HostNameKey.String(source),
	)
	c.resources.Add(source, r)
	return r
}

func (c *ClientOTel) SendSpan(name string, startMs, durationMs int64, source string, traceID, spanID uuid.UUID,
	parents, followsFrom []uuid.UUID, tags []Tag, logs []SpanLog) error {
	stub := tracetest.SpanStub{
		Name:        name,
		SpanContext: spanContextOf(traceID, spanID),
		SpanKind:    trace.SpanKindInternal,
		StartTime:   millis(startMs),
		EndTime:     millis(startMs + durationMs),
		Resource:    c.resourceFor(source),
		InstrumentationLibrary: instrumentation.Library{
			Name:    ResourceLibrary,
			Version: ResourceVersion,
		},
	}
	if len(parents) > 0 {
		stub.Parent = spanContextOf(traceID, parents[0])
	} else {
		stub.SpanKind = trace.SpanKindServer
	}
	for _, f := range followsFrom {
		stub.Links = append(stub.Links, sdktrace.Link{SpanContext: spanContextOf(traceID, f)})
	}
	for _, t := range tags {
		if t.Key == ErrorTag && t.Value == trueValue {
			stub.Status = sdktrace.Status{Code: codes.Error}
		}
		stub.Attributes = append(stub.Attributes, attribute.String(t.Key, t.Value))
	}
	for _, l := range logs {
		ev := sdktrace.Event{Name: "log", Time: millis(l.TimestampMs)}
		for _, f := range l.Fields {
			ev.Attributes = append(ev.Attributes, attribute.String(f.Key, f.Value))
		}
		stub.Events = append(stub.Events, ev)
	}

	c.batch = append(c.batch, stub.Snapshot())
	if len(c.batch) >= c.batchSize {
		// the failure belongs to the whole batch, not to this span
		if err := c.Flush(); err != nil {
			c.log.Error("%v\n", err)
		}
	}
	return nil
}

// Flush exports the pending batch. A failed batch is dropped and counted;
// the exporter has already retried it.
func (c *ClientOTel) Flush() error {
	if len(c.batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	batch := c.batch
	c.batch = nil
	if err := c.exporter.ExportSpans(ctx, batch); err != nil {
		c.dropped += int64(len(batch))
		return fmt.Errorf("unable to export a batch of %d spans: %w", len(batch), err)
	}
	c.exported += int64(len(batch))
	return nil
}

func (c *ClientOTel) Close() error {
	err := c.Flush()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if serr := c.exporter.Shutdown(ctx); err == nil {
		err = serr
	}
	c.log.Info("exported %d spans, dropped %d\n", c.exported, c.dropped)
	return err
}
