package main

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WireClient delivers individual spans to a tracing backend. Clients own
// their batching and retries; Flush pushes out anything buffered.
type WireClient interface {
	SendSpan(name string, startMs, durationMs int64, source string, traceID, spanID uuid.UUID,
		parents, followsFrom []uuid.UUID, tags []Tag, logs []SpanLog) error
	Flush() error
	Close() error
}

const senderPace = 50 * time.Millisecond

// Sender drains the DataQueue into a WireClient and, when configured, writes
// the queued traces to a trace dump. Paced senders release at most rate
// spans per elapsed second, and hold every span until its start time has
// arrived. Unpaced senders write everything as soon as it is queued.
type Sender struct {
	queue  *DataQueue
	client WireClient
	traces *TraceWriter
	rate   float64
	paced  bool
	log    Logger

	now  func() time.Time
	pace time.Duration

	backlog []*Span
	sent    int64
	failed  int64
}

func NewSender(queue *DataQueue, client WireClient, traces *TraceWriter, rate float64, paced bool, log Logger) *Sender {
	return &Sender{
		queue:  queue,
		client: client,
		traces: traces,
		rate:   rate,
		paced:  paced,
		log:    log,
		now:    time.Now,
		pace:   senderPace,
	}
}

// Run drains until the queue is finished and nothing is left to send, or
// until stop is closed. It closes the sinks before returning.
func (s *Sender) Run(wg *sync.WaitGroup, stop chan struct{}) {
	defer wg.Done()
	defer s.close()

	start := s.now()
	ticker := time.NewTicker(s.pace)
	defer ticker.Stop()
	for {
		// read the flag first so that nothing queued before Finish is missed
		finished := s.queue.Finished()
		drained := s.queue.Drain()
		s.backlog = append(s.backlog, drained...)
		s.writeTraces()
		if s.paced {
			s.sendDue(start)
		} else {
			s.sendAll()
		}
		if finished && len(s.backlog) == 0 {
			return
		}

		if !s.paced && len(drained) > 0 {
			if stopped(stop) {
				s.logStopped()
				return
			}
			continue
		}
		select {
		case <-stop:
			s.logStopped()
			return
		case <-ticker.C:
		}
	}
}

func (s *Sender) logStopped() {
	s.log.Warn("sender stopped with %d spans unsent\n", s.queue.Pending())
}

// sendDue sends the spans whose start time has passed, within the rate
// budget. The rest stay in the backlog in their original order.
func (s *Sender) sendDue(start time.Time) {
	now := s.now()
	nowMs := now.UnixMilli()
	budget := int64(math.MaxInt64)
	if s.rate > 0 {
		budget = int64(s.rate*now.Sub(start).Seconds()) - s.sent - s.failed
	}
	kept := s.backlog[:0]
	for _, span := range s.backlog {
		if budget <= 0 || span.StartMs > nowMs {
			kept = append(kept, span)
			continue
		}
		s.send(span)
		budget--
	}
	for i := len(kept); i < len(s.backlog); i++ {
		s.backlog[i] = nil
	}
	s.backlog = kept
}

func (s *Sender) sendAll() {
	for i, span := range s.backlog {
		s.send(span)
		s.backlog[i] = nil
	}
	s.backlog = s.backlog[:0]
}

func (s *Sender) send(span *Span) {
	defer s.queue.Done(1)
	if s.client == nil {
		s.sent++
		return
	}
	err := s.client.SendSpan(span.Name, span.StartMs, span.DurationMs, span.Source,
		span.TraceID, span.SpanID, span.Parents, span.FollowsFrom, span.Tags, span.Logs)
	if err != nil {
		s.failed++
		s.log.Error("unable to send span %s of trace %s: %v\n", span.Name, span.TraceID, err)
		return
	}
	s.sent++
}

func (s *Sender) writeTraces() {
	if s.traces == nil {
		return
	}
	for _, t := range s.queue.DrainTraces() {
		if err := s.traces.Write(t); err != nil {
			s.log.Error("unable to write trace %s: %v\n", t.TraceID(), err)
		}
	}
}

func (s *Sender) close() {
	if s.client != nil {
		if err := s.client.Flush(); err != nil {
			s.log.Error("unable to flush spans: %v\n", err)
		}
		if err := s.client.Close(); err != nil {
			s.log.Error("unable to close the span sink: %v\n", err)
		}
	}
	if s.traces != nil {
		if err := s.traces.Close(); err != nil {
			s.log.Error("unable to close the trace file: %v\n", err)
		}
	}
	s.log.Info("sending complete: %d spans sent, %d failed\n", s.sent, s.failed)
}

// Sent and Failed count the spans handed to the client.
func (s *Sender) Sent() int64 {
	return s.sent
}

func (s *Sender) Failed() int64 {
	return s.failed
}
