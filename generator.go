package main

import (
	"errors"
	"sync"
	"time"
)

// ErrExhausted is returned by a TraceBuilder whose exact-mode quota is used
// up. It ends the run; it is not a failure.
var ErrExhausted = errors.New("trace quota exhausted")

// A TraceBuilder turns a definition into traces. GenerateOne returns a nil
// trace with a nil error when only that one trace had to be dropped.
type TraceBuilder interface {
	Init() error
	GenerateOne(startMs int64) (*Trace, error)
	Mode() string
}

// A Generator produces traces into a DataQueue until it runs out of work or
// stop is closed. It must call Finish on the queue before returning, and
// should be run in a goroutine.
type Generator interface {
	Generate(wg *sync.WaitGroup, stop chan struct{})
}

// LoaderConfig is the run configuration shared by the producers and the
// sender.
type LoaderConfig struct {
	// Rate is the target in spans per second.
	Rate float64
	// Duration bounds the run at Rate*Duration spans when TraceCount is 0.
	Duration time.Duration
	// TraceCount, when positive, is an exact number of traces to produce.
	TraceCount int
	Source     string
	// RealTime paces against the wall clock; otherwise a virtual clock
	// advances one tick per loop without waiting.
	RealTime bool
}

// SpanTarget is the number of spans a duration-bounded run produces.
func (c LoaderConfig) SpanTarget() int64 {
	return int64(c.Rate * c.Duration.Seconds())
}

const (
	realTimePace      = 5 * time.Millisecond
	batchTick         = time.Second
	backpressurePoll  = 10 * time.Millisecond
	heapHighWaterMark = 0.9
	queueLowWaterMark = 0.2
)

// TraceGenerator paces a TraceBuilder: on every tick it works out how many
// spans should exist by now and builds whole traces until it has caught up.
type TraceGenerator struct {
	builder TraceBuilder
	queue   *DataQueue
	stats   *Statistics
	heap    HeapMonitor
	cfg     LoaderConfig
	rng     Rng
	log     Logger

	now  func() time.Time
	pace time.Duration
	poll time.Duration

	traces int64
	spans  int64
}

// make sure it implements Generator
var _ Generator = (*TraceGenerator)(nil)

func NewTraceGenerator(builder TraceBuilder, queue *DataQueue, stats *Statistics, heap HeapMonitor, cfg LoaderConfig, rng Rng, log Logger) *TraceGenerator {
	return &TraceGenerator{
		builder: builder,
		queue:   queue,
		stats:   stats,
		heap:    heap,
		cfg:     cfg,
		rng:     rng,
		log:     log,
		now:     time.Now,
		pace:    realTimePace,
		poll:    backpressurePoll,
	}
}

func (g *TraceGenerator) done() bool {
	if g.cfg.TraceCount > 0 {
		return g.traces >= int64(g.cfg.TraceCount)
	}
	if g.cfg.Duration > 0 {
		return g.spans >= g.cfg.SpanTarget()
	}
	return false
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (g *TraceGenerator) Generate(wg *sync.WaitGroup, stop chan struct{}) {
	defer wg.Done()
	defer g.queue.Finish()

	if g.cfg.TraceCount > 0 {
		g.log.Info("should be generated %d traces\n", g.cfg.TraceCount)
	} else if g.cfg.Duration > 0 {
		g.log.Info("should be generated %d spans\n", g.cfg.SpanTarget())
	}

	start := g.now()
	current := start
	previous := start
	var ticker *time.Ticker
	if g.cfg.RealTime {
		ticker = time.NewTicker(g.pace)
		defer ticker.Stop()
	}

	for {
		if g.cfg.RealTime {
			select {
			case <-stop:
				g.logStopped()
				return
			case <-ticker.C:
			}
			current = g.now()
		} else {
			if stopped(stop) {
				g.logStopped()
				return
			}
			current = current.Add(batchTick)
		}

		// traces of this tick start somewhere inside the elapsed window
		mustExist := int64(g.cfg.Rate * current.Sub(start).Seconds())
		window := current.Sub(previous).Milliseconds()
		exhausted := false
		for g.spans < mustExist && !g.done() {
			startMs := previous.UnixMilli()
			if window > 0 {
				startMs += g.rng.Int63n(window)
			}
			trace, err := g.builder.GenerateOne(startMs)
			if errors.Is(err, ErrExhausted) {
				g.log.Debug("%s builder has no more traces to generate\n", g.builder.Mode())
				exhausted = true
				break
			}
			if err != nil {
				g.log.Error("unable to generate trace: %v\n", err)
				g.logStopped()
				return
			}
			if trace == nil {
				continue
			}
			g.stats.Offer(trace)
			g.queue.AddTrace(trace)
			g.traces++
			g.spans += int64(trace.SpanCount())
			if !g.backpressure(stop) {
				g.logStopped()
				return
			}
		}
		previous = current

		if exhausted || g.done() {
			g.finishRun(current)
			return
		}
	}
}

func (g *TraceGenerator) logStopped() {
	g.log.Warn("generation stopped after %d traces and %d spans\n", g.traces, g.spans)
}

func (g *TraceGenerator) finishRun(at time.Time) {
	g.queue.AddUncounted(g.stats.StatTrace(g.builder.Mode(), at.UnixMilli(), g.cfg.Source, g.rng))
	g.log.Info("generation complete: %d traces, %d spans\n", g.traces, g.spans)
}

// backpressure pauses once the heap passes the high-water mark, until the
// spans pending delivery have drained to a fifth of their number at that
// moment. It reports false if stop was closed while waiting.
func (g *TraceGenerator) backpressure(stop chan struct{}) bool {
	return waitForHeap(g.heap, g.queue, g.poll, g.log, stop)
}

func waitForHeap(heap HeapMonitor, queue *DataQueue, poll time.Duration, log Logger, stop chan struct{}) bool {
	if heap == nil {
		return true
	}
	ceiling := heap.Max()
	if ceiling == 0 || float64(heap.Used()) < heapHighWaterMark*float64(ceiling) {
		return true
	}
	mark := queue.Pending()
	if mark == 0 {
		return true
	}
	low := int(float64(mark) * queueLowWaterMark)
	log.Warn("heap usage above %.0f%% of %d bytes, pausing until pending spans drain from %d to %d\n", heapHighWaterMark*100, ceiling, mark, low)
	for queue.Pending() > low {
		select {
		case <-stop:
			return false
		case <-time.After(poll):
		}
	}
	log.Info("pending spans drained to %d, resuming\n", queue.Pending())
	return true
}
