// Package monitor samples runtime memory statistics. The corpus embedding
// matrix and fragment caches dominate the heap, so serve logs these while
// debugging large corpora.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/kyleking/text2sql-router/internal/logging"
)

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	AllocMB        float64   `json:"alloc_mb"`
	TotalAllocMB   float64   `json:"total_alloc_mb"`
	SysMB          float64   `json:"sys_mb"`
	HeapObjects    uint64    `json:"heap_objects"`
	StackInUseMB   float64   `json:"stack_in_use_mb"`
	NumGC          uint32    `json:"num_gc"`
	GCCPUFraction  float64   `json:"gc_cpu_fraction"`
	GoroutineCount int       `json:"goroutine_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Pressure is allocated over system memory, capped at 1
func (s MemoryStats) Pressure() float64 {
	if s.SysMB == 0 {
		return 0
	}

	return min(s.AllocMB/s.SysMB, 1)
}

// String returns human-readable memory statistics
func (s MemoryStats) String() string {
	return fmt.Sprintf(`Memory Statistics:
  Allocated: %.2f MB
  Total Allocated: %.2f MB
  System: %.2f MB
  Heap Objects: %d
  Stack In Use: %.2f MB
  Goroutines: %d
  GC Runs: %d
  Memory Pressure: %.2f`,
		s.AllocMB, s.TotalAllocMB, s.SysMB, s.HeapObjects, s.StackInUseMB,
		s.GoroutineCount, s.NumGC, s.Pressure(),
	)
}

// Snapshot reads the current runtime statistics
func Snapshot() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		AllocMB:        toMB(m.Alloc),
		TotalAllocMB:   toMB(m.TotalAlloc),
		SysMB:          toMB(m.Sys),
		HeapObjects:    m.HeapObjects,
		StackInUseMB:   toMB(m.StackInuse),
		NumGC:          m.NumGC,
		GCCPUFraction:  m.GCCPUFraction,
		GoroutineCount: runtime.NumGoroutine(),
		LastUpdated:    time.Now(),
	}
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}

// MemoryMonitor keeps the latest snapshot and logs one per interval
type MemoryMonitor struct {
	mu        sync.RWMutex
	stats     MemoryStats
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewMemoryMonitor creates a monitor holding an initial snapshot
func NewMemoryMonitor() *MemoryMonitor {
	return &MemoryMonitor{
		stats: Snapshot(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start samples every interval until ctx is done or Stop is called. Only the
// first call has an effect, and none after Stop.
func (m *MemoryMonitor) Start(ctx context.Context, interval time.Duration) {
	m.startOnce.Do(func() {
		go m.loop(ctx, interval)
	})
}

// Stop ends sampling and waits for the loop to exit
func (m *MemoryMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	// never started: nothing will close done
	m.startOnce.Do(func() { close(m.done) })

	<-m.done
}

// GetStats returns the latest snapshot
func (m *MemoryMonitor) GetStats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stats
}

// Refresh takes a new snapshot immediately
func (m *MemoryMonitor) Refresh() MemoryStats {
	s := Snapshot()

	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()

	return s
}

func (m *MemoryMonitor) loop(ctx context.Context, interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := m.Refresh()

			logging.WithFields(map[string]any{
				"alloc_mb":   fmt.Sprintf("%.1f", s.AllocMB),
				"sys_mb":     fmt.Sprintf("%.1f", s.SysMB),
				"goroutines": s.GoroutineCount,
				"num_gc":     s.NumGC,
			}).Debug("Memory usage")
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
