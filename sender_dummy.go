package main

import (
	"github.com/google/uuid"
)

// make sure it implements WireClient
var _ WireClient = (*ClientDummy)(nil)

// ClientDummy counts what it is given and sends nothing.
type ClientDummy struct {
	spans     int64
	rootspans int64
	errors    int64
	log       Logger
}

func NewClientDummy(log Logger) *ClientDummy {
	return &ClientDummy{log: log}
}

func (c *ClientDummy) SendSpan(name string, startMs, durationMs int64, source string, traceID, spanID uuid.UUID,
	parents, followsFrom []uuid.UUID, tags []Tag, logs []SpanLog) error {
	c.spans++
	if len(parents) == 0 && len(followsFrom) == 0 {
		c.rootspans++
	}
	for _, t := range tags {
		if t.Key == ErrorTag && t.Value == trueValue {
			c.errors++
			break
		}
	}
	return nil
}

func (c *ClientDummy) Flush() error {
	return nil
}

func (c *ClientDummy) Close() error {
	c.log.Info("dummy client got %d spans with %d root spans, %d flagged as errors\n", c.spans, c.rootspans, c.errors)
	return nil
}
