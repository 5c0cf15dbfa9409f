package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otlpcollectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	otlptrace "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
)

type fakeWriter struct {
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func decodeMessage(t *testing.T, m kafka.Message) *otlpcollectortrace.ExportTraceServiceRequest {
	t.Helper()
	req := &otlpcollectortrace.ExportTraceServiceRequest{}
	require.NoError(t, proto.Unmarshal(m.Value, req))
	return req
}

func TestClientKafka(t *testing.T) {
	w := &fakeWriter{}
	c := NewClientKafka(NewNopLogger(), w, "shop", 2, 0)

	require.NoError(t, c.SendSpan("root", 1000, 50, "web-1", testTraceID, testSpanID, nil, nil, nil, nil))
	require.NoError(t, c.SendSpan("child", 1010, 20, "web-2", testTraceID, testParent,
		[]uuid.UUID{testSpanID}, []uuid.UUID{testLink}, []Tag{{ErrorTag, trueValue}}, nil))
	require.Len(t, w.messages, 1)
	require.NoError(t, c.SendSpan("late", 2000, 1, "web-1", testTraceID, testLink, nil, nil, nil, nil))
	require.NoError(t, c.Close())
	require.Len(t, w.messages, 2)
	assert.True(t, w.closed)

	first := decodeMessage(t, w.messages[0])
	// one resource per source, in order of first appearance
	require.Len(t, first.ResourceSpans, 2)
	attrs := first.ResourceSpans[1].Resource.Attributes
	assert.Equal(t, "host.name", attrs[1].Key)
	assert.Equal(t, "web-2", attrs[1].Value.GetStringValue())
	assert.Equal(t, "shop", attrs[0].Value.GetStringValue())

	root := first.ResourceSpans[0].ScopeSpans[0].Spans[0]
	child := first.ResourceSpans[1].ScopeSpans[0].Spans[0]
	assert.Equal(t, otlptrace.Span_SPAN_KIND_SERVER, root.Kind)
	assert.Equal(t, testTraceID[:], child.TraceId)
	assert.Equal(t, root.SpanId, child.ParentSpanId)
	assert.Equal(t, otlptrace.Status_STATUS_CODE_ERROR, child.Status.Code)
	require.Len(t, child.Links, 1)
	assert.Equal(t, testLink[8:], child.Links[0].SpanId)
	assert.Equal(t, uint64(1030)*1_000_000, child.EndTimeUnixNano)

	second := decodeMessage(t, w.messages[1])
	require.Len(t, second.ResourceSpans, 1)
	assert.Equal(t, "late", second.ResourceSpans[0].ScopeSpans[0].Spans[0].Name)
}

func TestClientKafkaEmptyFlush(t *testing.T) {
	w := &fakeWriter{}
	c := NewClientKafka(NewNopLogger(), w, "shop", 0, 0)
	assert.Equal(t, defaultExportBatchSize, c.batchSize)
	require.NoError(t, c.Close())
	assert.Empty(t, w.messages)
}
