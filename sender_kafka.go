package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	otlpcollectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	otlpcommon "go.opentelemetry.io/proto/otlp/common/v1"
	otlpresource "go.opentelemetry.io/proto/otlp/resource/v1"
	otlptrace "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
)

// messageWriter is the part of kafka.Writer the client uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// make sure it implements WireClient
var _ WireClient = (*ClientKafka)(nil)

// ClientKafka publishes batches of spans to a Kafka topic, one OTLP
// ExportTraceServiceRequest per message, with spans grouped by source.
type ClientKafka struct {
	writer    messageWriter
	service   string
	batchSize int
	timeout   time.Duration
	pending   int
	bySource  map[string]*otlptrace.ResourceSpans
	order     []string
	messages  int64
	log       Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}
}

func NewClientKafka(log Logger, writer messageWriter, service string, batchSize int, timeout time.Duration) *ClientKafka {
	if batchSize <= 0 {
		batchSize = defaultExportBatchSize
	}
	if timeout <= 0 {
		timeout = defaultExportTimeout
	}
	return &ClientKafka{
		writer:    writer,
		service:   service,
		batchSize: batchSize,
		timeout:   timeout,
		bySource:  make(map[string]*otlptrace.ResourceSpans),
		log:       log,
	}
}

func stringAttr(key, value string) *otlpcommon.KeyValue {
	return &otlpcommon.KeyValue{
		Key:   key,
		Value: &otlpcommon.AnyValue{Value: &otlpcommon.AnyValue_StringValue{StringValue: value}},
	}
}

func otlpSpanID(id uuid.UUID) []byte {
	b := make([]byte, 8)
	copy(b, id[8:])
	return b
}

// OTLPSpan converts one span to its OTLP protobuf form, with the same id
// mapping as the OTel client.
func OTLPSpan(name string, startMs, durationMs int64, traceID, spanID uuid.UUID,
	parents, followsFrom []uuid.UUID, tags []Tag, logs []SpanLog) *otlptrace.Span {
	span := &otlptrace.Span{
		TraceId:           traceID[:],
		SpanId:            otlpSpanID(spanID),
		Name:              name,
		Kind:              otlptrace.Span_SPAN_KIND_INTERNAL,
		StartTimeUnixNano: uint64(millis(startMs).UnixNano()),
		EndTimeUnixNano:   uint64(millis(startMs + durationMs).UnixNano()),
		Status:            &otlptrace.Status{},
	}
	if len(parents) > 0 {
		span.ParentSpanId = otlpSpanID(parents[0])
	} else {
		span.Kind = otlptrace.Span_SPAN_KIND_SERVER
	}
	for _, f := range followsFrom {
		span.Links = append(span.Links, &otlptrace.Span_Link{TraceId: traceID[:], SpanId: otlpSpanID(f)})
	}
	for _, t := range tags {
		if t.Key == ErrorTag && t.Value == trueValue {
			span.Status.Code = otlptrace.Status_STATUS_CODE_ERROR
		}
		span.Attributes = append(span.Attributes, stringAttr(t.Key, t.Value))
	}
	for _, l := range logs {
		ev := &otlptrace.Span_Event{Name: "log", TimeUnixNano: uint64(millis(l.TimestampMs).UnixNano())}
		for _, f := range l.Fields {
			ev.Attributes = append(ev.Attributes, stringAttr(f.Key, f.Value))
		}
		span.Events = append(span.Events, ev)
	}
	return span
}

func (c *ClientKafka) SendSpan(name string, startMs, durationMs int64, source string, traceID, spanID uuid.UUID,
	parents, followsFrom []uuid.UUID, tags []Tag, logs []SpanLog) error {
	rs, ok := c.bySource[source]
	if !ok {
		rs = &otlptrace.ResourceSpans{
			Resource: &otlpresource.Resource{Attributes: []*otlpcommon.KeyValue{
				stringAttr("service.name", c.service),
				stringAttr("host.name", source),
			}},
			ScopeSpans: []*otlptrace.ScopeSpans{{
				Scope: &otlpcommon.InstrumentationScope{Name: ResourceLibrary, Version: ResourceVersion},
			}},
		}
		c.bySource[source] = rs
		c.order = append(c.order, source)
	}
	rs.ScopeSpans[0].Spans = append(rs.ScopeSpans[0].Spans,
		OTLPSpan(name, startMs, durationMs, traceID, spanID, parents, followsFrom, tags, logs))
	c.pending++
	if c.pending >= c.batchSize {
		return c.Flush()
	}
	return nil
}

// Flush publishes the pending spans as one message.
func (c *ClientKafka) Flush() error {
	if c.pending == 0 {
		return nil
	}
	req := &otlpcollectortrace.ExportTraceServiceRequest{}
	for _, source := range c.order {
		req.ResourceSpans = append(req.ResourceSpans, c.bySource[source])
	}
	c.bySource = make(map[string]*otlptrace.ResourceSpans)
	c.order = nil
	c.pending = 0

	value, err := proto.Marshal(req)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.writer.WriteMessages(ctx, kafka.Message{Value: value}); err != nil {
		return err
	}
	c.messages++
	return nil
}

func (c *ClientKafka) Close() error {
	err := c.Flush()
	if cerr := c.writer.Close(); err == nil {
		err = cerr
	}
	c.log.Info("published %d kafka messages\n", c.messages)
	return err
}
