package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ewmaTickInterval is how often the moving average decays.
const ewmaTickInterval = 5 * time.Second

// ewma implements an exponentially weighted moving average with a
// one-minute horizon. It is safe for concurrent use.
type ewma struct {
	alpha     float64
	uncounted atomic.Int64

	mu   sync.Mutex
	rate float64
	init bool
}

func newEWMA() *ewma {
	return &ewma{alpha: 1 - math.Exp(-ewmaTickInterval.Seconds()/60.0)}
}

// update adds n samples to the uncounted total.
func (e *ewma) update(n int64) {
	e.uncounted.Add(n)
}

// tick decays the rate and incorporates uncounted samples.
func (e *ewma) tick() {
	count := e.uncounted.Swap(0)
	instantRate := float64(count) / ewmaTickInterval.Seconds()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.init {
		e.rate += e.alpha * (instantRate - e.rate)
	} else {
		e.rate = instantRate
		e.init = true
	}
}

func (e *ewma) currentRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// Meter tracks the rate of events over time, typically bytes moved during
// a transfer. Rate returns a one-minute exponentially weighted moving
// average; RateMean covers the whole lifetime of the meter, which for a
// single CLI run is usually the number that ends up in the summary.
type Meter struct {
	name      string
	count     atomic.Int64
	avg       *ewma
	startTime time.Time

	mu       sync.Mutex
	lastTick time.Time
}

// NewMeter creates a new Meter and initializes its start time.
func NewMeter(name string) *Meter {
	now := time.Now()
	return &Meter{
		name:      name,
		avg:       newEWMA(),
		startTime: now,
		lastTick:  now,
	}
}

// Mark records n events.
func (m *Meter) Mark(n int64) {
	m.count.Add(n)
	m.avg.update(n)
	m.tickIfNeeded()
}

// tickIfNeeded ticks the moving average if the tick interval has elapsed.
func (m *Meter) tickIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(m.lastTick)
	for elapsed >= ewmaTickInterval {
		m.avg.tick()
		m.lastTick = m.lastTick.Add(ewmaTickInterval)
		elapsed = now.Sub(m.lastTick)
	}
}

// Count returns the total number of events recorded.
func (m *Meter) Count() int64 {
	return m.count.Load()
}

// Rate returns the one-minute moving average rate per second.
func (m *Meter) Rate() float64 {
	m.tickIfNeeded()
	return m.avg.currentRate()
}

// RateMean returns the mean rate per second since the meter was created.
func (m *Meter) RateMean() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.count.Load()) / elapsed
}

// Name returns the metric name.
func (m *Meter) Name() string { return m.name }
