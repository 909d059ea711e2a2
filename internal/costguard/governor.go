package costguard

import (
	"math"
	"sync"
	"time"
)

// Governor tracks spending in a rolling window shared by every request in the
// process. Amounts are kept in micro-dollars so the ceiling comparison is exact.
type Governor struct {
	mu          sync.Mutex
	ceiling     int64
	window      time.Duration
	windowStart time.Time
	accumulated int64
	now         func() time.Time
}

type Snapshot struct {
	WindowStart time.Time `json:"window_start"`
	Accumulated float64   `json:"accumulated"`
	Ceiling     float64   `json:"ceiling"`
}

func NewGovernor(ceiling float64, window time.Duration) *Governor {
	return NewGovernorWithClock(ceiling, window, time.Now)
}

func NewGovernorWithClock(ceiling float64, window time.Duration, now func() time.Time) *Governor {
	return &Governor{
		ceiling:     toMicros(ceiling),
		window:      window,
		windowStart: now(),
		now:         now,
	}
}

// CanProceed admits the request if the estimate still fits under the ceiling.
// The boundary is inclusive.
func (g *Governor) CanProceed(estimate float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	return g.accumulated+toMicros(estimate) <= g.ceiling
}

func (g *Governor) AddCost(actual float64) {
	if actual <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	g.accumulated += toMicros(actual)
}

func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	return Snapshot{
		WindowStart: g.windowStart,
		Accumulated: fromMicros(g.accumulated),
		Ceiling:     fromMicros(g.ceiling),
	}
}

func (g *Governor) rollover() {
	now := g.now()
	if now.Sub(g.windowStart) > g.window {
		g.windowStart = now
		g.accumulated = 0
	}
}

func toMicros(v float64) int64 {
	return int64(math.Round(v * 1e6))
}

func fromMicros(v int64) float64 {
	return float64(v) / 1e6
}
