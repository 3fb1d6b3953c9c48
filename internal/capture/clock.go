package capture

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const DefaultTickInterval = 250 * time.Millisecond

// DurationClock accumulates active recording time across pause/resume cycles
// and fires OnLimit once the accumulated time reaches the cap.
type DurationClock struct {
	clock        clock.Clock
	max          time.Duration
	tickInterval time.Duration
	onTick       func(elapsed time.Duration)
	onLimit      func()

	mu          sync.Mutex
	started     bool
	running     bool
	accumulated time.Duration
	resumedAt   time.Time
	generation  int
	limitFired  bool
	limitTimer  *clock.Timer
	ticker      *clock.Ticker
	stopTicks   chan struct{}
}

// ClockOptions configures a DurationClock.
type ClockOptions struct {
	Max          time.Duration
	TickInterval time.Duration
	OnTick       func(elapsed time.Duration)
	OnLimit      func()
}

func NewDurationClock(clk clock.Clock, opts ClockOptions) *DurationClock {
	if clk == nil {
		clk = clock.New()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	return &DurationClock{
		clock:        clk,
		max:          opts.Max,
		tickInterval: opts.TickInterval,
		onTick:       opts.OnTick,
		onLimit:      opts.OnLimit,
	}
}

// Start begins a fresh measurement.
func (c *DurationClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disarmLocked()
	c.started = true
	c.running = true
	c.accumulated = 0
	c.limitFired = false
	c.resumedAt = c.clock.Now()
	c.armLocked()
}

// Pause folds the current active interval into the total and stops ticking.
func (c *DurationClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.accumulated += c.clock.Since(c.resumedAt)
	c.running = false
	c.disarmLocked()
}

func (c *DurationClock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.running {
		return
	}
	c.running = true
	c.resumedAt = c.clock.Now()
	c.armLocked()
}

func (c *DurationClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disarmLocked()
	c.started = false
	c.running = false
	c.accumulated = 0
	c.limitFired = false
}

// Elapsed is the sum of active intervals, not wall time since Start.
func (c *DurationClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

func (c *DurationClock) ElapsedSeconds() float64 {
	return c.Elapsed().Seconds()
}

func (c *DurationClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *DurationClock) elapsedLocked() time.Duration {
	elapsed := c.accumulated
	if c.running {
		elapsed += c.clock.Since(c.resumedAt)
	}
	return elapsed
}

func (c *DurationClock) armLocked() {
	c.generation++
	generation := c.generation

	if c.max > 0 && c.onLimit != nil {
		remaining := c.max - c.accumulated
		if remaining <= 0 {
			go c.fireLimit(generation)
		} else {
			c.limitTimer = c.clock.AfterFunc(remaining, func() { c.fireLimit(generation) })
		}
	}

	if c.onTick != nil {
		c.ticker = c.clock.Ticker(c.tickInterval)
		c.stopTicks = make(chan struct{})
		go c.tickLoop(c.ticker, c.stopTicks)
	}
}

func (c *DurationClock) disarmLocked() {
	c.generation++
	if c.limitTimer != nil {
		c.limitTimer.Stop()
		c.limitTimer = nil
	}
	if c.ticker != nil {
		c.ticker.Stop()
		close(c.stopTicks)
		c.ticker = nil
		c.stopTicks = nil
	}
}

func (c *DurationClock) fireLimit(generation int) {
	c.mu.Lock()
	if generation != c.generation || c.limitFired || !c.running {
		c.mu.Unlock()
		return
	}
	c.limitFired = true
	c.mu.Unlock()

	c.onLimit()
}

func (c *DurationClock) tickLoop(ticker *clock.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.running {
				c.mu.Unlock()
				continue
			}
			elapsed := c.elapsedLocked()
			c.mu.Unlock()
			c.onTick(elapsed)
		}
	}
}
