package sink

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SpanRateTracker tracks spans received per second
type SpanRateTracker struct {
	mu             sync.Mutex
	spanCounts     map[int64]int // Map of timestamp (seconds) to span count
	startTime      time.Time
	totalSpans     int
	lastReportTime time.Time
	reportInterval time.Duration
	now            func() time.Time
	log            *zap.SugaredLogger
}

func NewSpanRateTracker(log *zap.SugaredLogger, reportInterval time.Duration) *SpanRateTracker {
	return newSpanRateTracker(log, reportInterval, time.Now)
}

func newSpanRateTracker(log *zap.SugaredLogger, reportInterval time.Duration, now func() time.Time) *SpanRateTracker {
	start := now()
	return &SpanRateTracker{
		spanCounts:     make(map[int64]int),
		startTime:      start,
		lastReportTime: start,
		reportInterval: reportInterval,
		now:            now,
		log:            log,
	}
}

// TrackSpans adds span count to the current second
func (t *SpanRateTracker) TrackSpans(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.spanCounts[now.Unix()] += count
	t.totalSpans += count

	if now.Sub(t.lastReportTime) >= t.reportInterval {
		t.reportStats(now)
		t.lastReportTime = now
	}
}

// Rate returns the average spans/second over the last n seconds
func (t *SpanRateTracker) Rate(seconds int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate(t.now(), seconds)
}

func (t *SpanRateTracker) rate(now time.Time, seconds int) float64 {
	cutoff := now.Add(-time.Duration(seconds) * time.Second).Unix()

	var total int
	for ts, count := range t.spanCounts {
		if ts > cutoff {
			total += count
		} else if ts < now.Unix()-60 {
			// nothing reads further back than a minute
			delete(t.spanCounts, ts)
		}
	}

	// If we have less than n seconds of data, use what we have
	actualSeconds := int64(seconds)
	elapsedSeconds := now.Unix() - t.startTime.Unix()
	if elapsedSeconds < int64(seconds) {
		actualSeconds = elapsedSeconds
		if actualSeconds == 0 {
			actualSeconds = 1
		}
	}
	return float64(total) / float64(actualSeconds)
}

func (t *SpanRateTracker) reportStats(now time.Time) {
	t.log.Infof("spans per second: %.2f (1s) | %.2f (10s) | %.2f (60s) | total: %d",
		t.rate(now, 1), t.rate(now, 10), t.rate(now, 60), t.totalSpans)
}

// Total is the number of spans tracked so far.
func (t *SpanRateTracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSpans
}
