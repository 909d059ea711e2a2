package costguard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGovernor() (*Governor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewGovernorWithClock(50, time.Hour, clock.Now), clock
}

func TestCanProceed_CeilingInclusive(t *testing.T) {
	g, _ := newTestGovernor()

	g.AddCost(49.99)
	assert.True(t, g.CanProceed(0.01))

	g.AddCost(0.01)
	assert.False(t, g.CanProceed(0.01))
}

func TestAddCost_SumWithinWindow(t *testing.T) {
	g, clock := newTestGovernor()

	costs := []float64{0.000123, 1.5, 0.25, 3.000001}
	for _, c := range costs {
		g.AddCost(c)
		clock.Advance(5 * time.Minute)
	}

	assert.InDelta(t, 4.750124, g.Snapshot().Accumulated, 1e-9)
}

func TestAddCost_ResetsAfterWindow(t *testing.T) {
	g, clock := newTestGovernor()

	g.AddCost(50)
	assert.False(t, g.CanProceed(0.01))

	clock.Advance(time.Hour + time.Second)
	g.AddCost(2)
	assert.InDelta(t, 2.0, g.Snapshot().Accumulated, 1e-9)
	assert.True(t, g.CanProceed(0.01))
}

func TestRolloverIsLazy(t *testing.T) {
	g, clock := newTestGovernor()
	g.AddCost(10)

	clock.Advance(time.Hour)
	assert.InDelta(t, 10.0, g.Snapshot().Accumulated, 1e-9)

	clock.Advance(time.Nanosecond)
	assert.Zero(t, g.Snapshot().Accumulated)
}

func TestAddCost_IgnoresNonPositive(t *testing.T) {
	g, _ := newTestGovernor()
	g.AddCost(0)
	g.AddCost(-1)
	assert.Zero(t, g.Snapshot().Accumulated)
}

func TestAddCost_Concurrent(t *testing.T) {
	g, _ := newTestGovernor()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.AddCost(0.01)
		}()
	}
	wg.Wait()

	assert.InDelta(t, 1.0, g.Snapshot().Accumulated, 1e-9)
}
