package health

import (
	"sync"
	"time"
)

// trackerWindow is the rolling window service metrics are computed over.
const trackerWindow = 60 * time.Second

type requestSample struct {
	at       time.Time
	duration time.Duration
	failed   bool
}

// Tracker keeps a rolling window of request outcomes for throughput, error
// rate, and latency reporting. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	samples []requestSample
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Record adds one request outcome.
func (t *Tracker) Record(duration time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, requestSample{at: t.now(), duration: duration, failed: failed})
	t.dropExpiredLocked()
}

// ServiceMetrics summarizes the current rolling window.
type ServiceMetrics struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	ErrorRate         float64 `json:"error_rate"`
	AvgResponseMS     float64 `json:"avg_response_ms"`
	WindowRequests    int     `json:"window_requests"`
}

// Metrics computes throughput, error rate, and average latency over the
// window. An empty window reports zeroes.
func (t *Tracker) Metrics() ServiceMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropExpiredLocked()

	m := ServiceMetrics{WindowRequests: len(t.samples)}
	if len(t.samples) == 0 {
		return m
	}

	var failed int
	var total time.Duration
	for _, s := range t.samples {
		if s.failed {
			failed++
		}
		total += s.duration
	}
	m.RequestsPerSecond = float64(len(t.samples)) / trackerWindow.Seconds()
	m.ErrorRate = float64(failed) / float64(len(t.samples))
	m.AvgResponseMS = float64(total.Milliseconds()) / float64(len(t.samples))
	return m
}

func (t *Tracker) dropExpiredLocked() {
	cutoff := t.now().Add(-trackerWindow)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = append(t.samples[:0], t.samples[i:]...)
	}
}
