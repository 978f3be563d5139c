package master

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latencies are recorded in microseconds between 1µs and 1h.
const (
	minLatency = int64(1)
	maxLatency = int64(time.Hour / time.Microsecond)
)

// Stats collects master counters and order latencies.
type Stats struct {
	ordersSubmitted     atomic.Int64
	ordersCompleted     atomic.Int64
	ordersFailed        atomic.Int64
	ordersRejected      atomic.Int64
	fragmentsReceived   atomic.Int64
	fragmentsDropped    atomic.Int64
	workersRegistered   atomic.Int64
	workersDeregistered atomic.Int64

	mu      sync.Mutex
	latency *hdrhistogram.Histogram
}

// LatencySummary reports order latency percentiles in milliseconds.
type LatencySummary struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	OrdersSubmitted     int64          `json:"orders_submitted"`
	OrdersCompleted     int64          `json:"orders_completed"`
	OrdersFailed        int64          `json:"orders_failed"`
	OrdersRejected      int64          `json:"orders_rejected"`
	FragmentsReceived   int64          `json:"fragments_received"`
	FragmentsDropped    int64          `json:"fragments_dropped"`
	WorkersRegistered   int64          `json:"workers_registered"`
	WorkersDeregistered int64          `json:"workers_deregistered"`
	Latency             LatencySummary `json:"latency"`
}

// NewStats creates an empty collector.
func NewStats() *Stats {
	return &Stats{
		latency: hdrhistogram.New(minLatency, maxLatency, 3),
	}
}

// OrderSubmitted counts an incoming distribute request.
func (s *Stats) OrderSubmitted() { s.ordersSubmitted.Add(1) }

// OrderRejected counts a distribute answered with no_workers_error.
func (s *Stats) OrderRejected() { s.ordersRejected.Add(1) }

// OrderFailed counts an order that ended with an error.
func (s *Stats) OrderFailed() { s.ordersFailed.Add(1) }

// FragmentReceived counts an accepted fragment.
func (s *Stats) FragmentReceived() { s.fragmentsReceived.Add(1) }

// FragmentDropped counts a fragment that could not be recorded.
func (s *Stats) FragmentDropped() { s.fragmentsDropped.Add(1) }

// WorkerRegistered counts a successful join.
func (s *Stats) WorkerRegistered() { s.workersRegistered.Add(1) }

// WorkerDeregistered counts a departure.
func (s *Stats) WorkerDeregistered() { s.workersDeregistered.Add(1) }

// OrderCompleted counts a successful order and records its latency.
func (s *Stats) OrderCompleted(d time.Duration) {
	s.ordersCompleted.Add(1)

	v := int64(d / time.Microsecond)
	if v < minLatency {
		v = minLatency
	}
	if v > maxLatency {
		v = maxLatency
	}

	s.mu.Lock()
	_ = s.latency.RecordValue(v)
	s.mu.Unlock()
}

// Snapshot returns the current values.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		OrdersSubmitted:     s.ordersSubmitted.Load(),
		OrdersCompleted:     s.ordersCompleted.Load(),
		OrdersFailed:        s.ordersFailed.Load(),
		OrdersRejected:      s.ordersRejected.Load(),
		FragmentsReceived:   s.fragmentsReceived.Load(),
		FragmentsDropped:    s.fragmentsDropped.Load(),
		WorkersRegistered:   s.workersRegistered.Load(),
		WorkersDeregistered: s.workersDeregistered.Load(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latency.TotalCount() > 0 {
		snap.Latency = LatencySummary{
			Count: s.latency.TotalCount(),
			Mean:  s.latency.Mean() / 1000,
			P50:   usToMs(s.latency.ValueAtQuantile(50)),
			P95:   usToMs(s.latency.ValueAtQuantile(95)),
			P99:   usToMs(s.latency.ValueAtQuantile(99)),
			Max:   usToMs(s.latency.Max()),
		}
	}
	return snap
}

func usToMs(v int64) float64 {
	return float64(v) / 1000
}
