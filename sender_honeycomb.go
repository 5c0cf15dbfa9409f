package main

import (
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/honeycombio/libhoney-go"
	"github.com/honeycombio/libhoney-go/transmission"
)

// make sure it implements WireClient
var _ WireClient = (*ClientHoneycomb)(nil)

// ClientHoneycomb sends every span as one Honeycomb event carrying the
// trace.* fields the Honeycomb trace view expects.
type ClientHoneycomb struct {
	client  *libhoney.Client
	builder *libhoney.Builder
	done    chan struct{}
	wg      sync.WaitGroup
	log     Logger
}

// NewClientHoneycomb uses tx as the transmission when it is not nil, which
// lets tests substitute a mock.
func NewClientHoneycomb(log Logger, opts *Options, tx transmission.Sender) (*ClientHoneycomb, error) {
	client, err := libhoney.NewClient(libhoney.ClientConfig{
		APIKey:       opts.Telemetry.APIKey,
		Dataset:      opts.Telemetry.Dataset,
		APIHost:      opts.apihost.String(),
		Transmission: tx,
	})
	if err != nil {
		return nil, err
	}
	builder := client.NewBuilder()
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
		log.Warn("unable to determine hostname: %s, using 'unknown'\n", err)
	}
	builder.AddField("meta.local_hostname", host)

	c := &ClientHoneycomb{
		client:  client,
		builder: builder,
		done:    make(chan struct{}),
		log:     log,
	}
	// log errors as the responses come back
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		responses := client.TxResponses()
		for {
			select {
			case resp, ok := <-responses:
				if !ok {
					return
				}
				if resp.Err != nil {
					log.Error("error sending event -- err: %s  resp: %s\n", resp.Err, resp.Body)
				}
			case <-c.done:
				return
			}
		}
	}()
	return c, nil
}

func (c *ClientHoneycomb) SendSpan(name string, startMs, durationMs int64, source string, traceID, spanID uuid.UUID,
	parents, followsFrom []uuid.UUID, tags []Tag, logs []SpanLog) error {
	ev := c.builder.NewEvent()
	ev.Timestamp = millis(startMs)
	ev.AddField("name", name)
	ev.AddField("service.name", source)
	ev.AddField("trace.trace_id", traceID.String())
	ev.AddField("trace.span_id", spanID.String())
	if len(parents) > 0 {
		ev.AddField("trace.parent_id", parents[0].String())
	}
	if len(followsFrom) > 0 {
		ids := make([]string, len(followsFrom))
		for i, f := range followsFrom {
			ids[i] = f.String()
		}
		ev.AddField("trace.link.span_ids", strings.Join(ids, ","))
	}
	ev.AddField("duration_ms", durationMs)
	for _, t := range tags {
		if t.Key == ErrorTag && t.Value == trueValue {
			ev.AddField(ErrorTag, true)
			continue
		}
		ev.AddField(t.Key, t.Value)
	}
	if err := ev.Send(); err != nil {
		return err
	}

	// span logs go out as span events
	for _, l := range logs {
		le := c.builder.NewEvent()
		le.Timestamp = millis(l.TimestampMs)
		le.AddField("meta.annotation_type", "span_event")
		le.AddField("trace.trace_id", traceID.String())
		le.AddField("trace.parent_id", spanID.String())
		le.AddField("name", name)
		for _, f := range l.Fields {
			le.AddField(f.Key, f.Value)
		}
		if err := le.Send(); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClientHoneycomb) Flush() error {
	c.client.Flush()
	return nil
}

func (c *ClientHoneycomb) Close() error {
	c.client.Close()
	close(c.done)
	c.wg.Wait()
	return nil
}
