package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats_Counters(t *testing.T) {
	stats := NewStats()

	stats.OrderSubmitted()
	stats.OrderSubmitted()
	stats.OrderRejected()
	stats.OrderFailed()
	stats.FragmentReceived()
	stats.FragmentDropped()
	stats.WorkerRegistered()
	stats.WorkerDeregistered()

	snap := stats.Snapshot()
	assert.Equal(t, int64(2), snap.OrdersSubmitted)
	assert.Equal(t, int64(1), snap.OrdersRejected)
	assert.Equal(t, int64(1), snap.OrdersFailed)
	assert.Equal(t, int64(1), snap.FragmentsReceived)
	assert.Equal(t, int64(1), snap.FragmentsDropped)
	assert.Equal(t, int64(1), snap.WorkersRegistered)
	assert.Equal(t, int64(1), snap.WorkersDeregistered)
	assert.Equal(t, int64(0), snap.Latency.Count)
}

func TestStats_Latency(t *testing.T) {
	stats := NewStats()

	for i := 1; i <= 100; i++ {
		stats.OrderCompleted(time.Duration(i) * time.Millisecond)
	}

	snap := stats.Snapshot()
	assert.Equal(t, int64(100), snap.OrdersCompleted)
	assert.Equal(t, int64(100), snap.Latency.Count)
	assert.InDelta(t, 50.5, snap.Latency.Mean, 0.5)
	assert.InDelta(t, 50, snap.Latency.P50, 1)
	assert.InDelta(t, 95, snap.Latency.P95, 1)
	assert.InDelta(t, 100, snap.Latency.Max, 1)
	assert.LessOrEqual(t, snap.Latency.P50, snap.Latency.P99)
}

func TestStats_LatencyClamped(t *testing.T) {
	stats := NewStats()

	stats.OrderCompleted(0)
	stats.OrderCompleted(2 * time.Hour)

	snap := stats.Snapshot()
	assert.Equal(t, int64(2), snap.Latency.Count)
	assert.InDelta(t, float64(time.Hour/time.Millisecond), snap.Latency.Max, float64(time.Hour/time.Millisecond)*0.01)
}
