package main

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// make sure it implements WireClient
var _ WireClient = (*ClientPrint)(nil)

// ClientPrint writes each span as one line of span line protocol:
//
//	"name" source="host" traceId=<uuid> spanId=<uuid> parent=<uuid> "key"="value" <startMs> <durationMs>
type ClientPrint struct {
	w      *bufio.Writer
	closer io.Closer
	spans  int64
	log    Logger
}

// NewClientPrint writes to w, closing it on Close when it is an io.Closer.
func NewClientPrint(log Logger, w io.Writer) *ClientPrint {
	c := &ClientPrint{w: bufio.NewWriter(w), log: log}
	if cl, ok := w.(io.Closer); ok {
		c.closer = cl
	}
	return c
}

var lineEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func quote(s string) string {
	return `"` + lineEscaper.Replace(s) + `"`
}

// SpanLine renders one span in line protocol, without the trailing newline.
func SpanLine(name string, startMs, durationMs int64, source string, traceID, spanID uuid.UUID,
	parents, followsFrom []uuid.UUID, tags []Tag) string {
	var b strings.Builder
	b.WriteString(quote(name))
	b.WriteString(" source=")
	b.WriteString(quote(source))
	b.WriteString(" traceId=")
	b.WriteString(traceID.String())
	b.WriteString(" spanId=")
	b.WriteString(spanID.String())
	for _, p := range parents {
		b.WriteString(" parent=")
		b.WriteString(p.String())
	}
	for _, f := range followsFrom {
		b.WriteString(" followsFrom=")
		b.WriteString(f.String())
	}
	for _, t := range tags {
		b.WriteByte(' ')
		b.WriteString(quote(t.Key))
		b.WriteByte('=')
		b.WriteString(quote(t.Value))
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(startMs, 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(durationMs, 10))
	return b.String()
}

func (c *ClientPrint) SendSpan(name string, startMs, durationMs int64, source string, traceID, spanID uuid.UUID,
	parents, followsFrom []uuid.UUID, tags []Tag, logs []SpanLog) error {
	line := SpanLine(name, startMs, durationMs, source, traceID, spanID, parents, followsFrom, tags)
	if _, err := c.w.WriteString(line + "\n"); err != nil {
		return err
	}
	c.spans++
	return nil
}

func (c *ClientPrint) Flush() error {
	return c.w.Flush()
}

func (c *ClientPrint) Close() error {
	err := c.w.Flush()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	c.log.Info("wrote %d spans\n", c.spans)
	return err
}
