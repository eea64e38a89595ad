package master

import (
	"sync"
	"time"
)

// CycleStats is a snapshot of the cycle timing of one master. Stats may be
// slightly stale; they are for monitoring, not control.
type CycleStats struct {
	Cycles       uint64        `json:"cycles"`
	DeviceFaults uint64        `json:"device_faults"`
	MeanPeriod   time.Duration `json:"mean_period"`
	MaxPeriod    time.Duration `json:"max_period"`
	LastCycle    time.Time     `json:"last_cycle"`
}

type cycleTracker struct {
	mu        sync.Mutex
	cycles    uint64
	faults    uint64
	periodSum time.Duration
	periodMax time.Duration
	lastCycle time.Time
}

func (t *cycleTracker) record(now time.Time, faults int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastCycle.IsZero() {
		period := now.Sub(t.lastCycle)
		t.periodSum += period
		if period > t.periodMax {
			t.periodMax = period
		}
	}
	t.lastCycle = now
	t.cycles++
	t.faults += uint64(faults)
}

func (t *cycleTracker) snapshot() CycleStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := CycleStats{
		Cycles:       t.cycles,
		DeviceFaults: t.faults,
		MaxPeriod:    t.periodMax,
		LastCycle:    t.lastCycle,
	}
	if t.cycles > 1 {
		stats.MeanPeriod = t.periodSum / time.Duration(t.cycles-1)
	}
	return stats
}
