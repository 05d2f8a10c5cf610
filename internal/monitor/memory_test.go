package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSnapshot(t *testing.T) {
	s := Snapshot()

	assert.Positive(t, s.AllocMB)
	assert.Positive(t, s.SysMB)
	assert.Positive(t, s.GoroutineCount)
	assert.False(t, s.LastUpdated.IsZero())
	assert.InDelta(t, 0.5, s.Pressure(), 0.5)
	assert.Contains(t, s.String(), "Memory Statistics:")
}

func TestPressure(t *testing.T) {
	assert.Zero(t, MemoryStats{AllocMB: 10}.Pressure())
	assert.InDelta(t, 0.25, MemoryStats{AllocMB: 10, SysMB: 40}.Pressure(), 1e-9)
	assert.Equal(t, 1.0, MemoryStats{AllocMB: 50, SysMB: 40}.Pressure())
}

func TestMonitorSamples(t *testing.T) {
	m := NewMemoryMonitor()
	first := m.GetStats()

	m.Start(context.Background(), 5*time.Millisecond)
	m.Start(context.Background(), 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return m.GetStats().LastUpdated.After(first.LastUpdated)
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestMonitorStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	m := NewMemoryMonitor()
	m.Start(ctx, time.Hour)
	cancel()

	m.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	m := NewMemoryMonitor()
	m.Stop()

	// a stopped monitor never starts
	m.Start(context.Background(), time.Millisecond)
	assert.NotZero(t, m.Refresh().AllocMB)
}
