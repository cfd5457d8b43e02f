package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTickPeriod is the turn clock resolution: one second is debited per tick
const DefaultTickPeriod = time.Second

// Clock drives the countdown of one session. It holds at most one live ticker
// registration at any time; the countdown itself lives in the session so that
// ticks and moves share the session lock.
type Clock struct {
	clock  clockwork.Clock
	period time.Duration

	mutex   sync.Mutex
	ticker  clockwork.Ticker
	stop    chan struct{}
	running bool
}

// NewClock creates a stopped turn clock
func NewClock(clock clockwork.Clock, period time.Duration) *Clock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if period <= 0 {
		period = DefaultTickPeriod
	}

	return &Clock{
		clock:  clock,
		period: period,
	}
}

// Start registers the ticker and calls onTick once per period until Stop.
// It reports false when the clock is already running.
func (c *Clock) Start(onTick func()) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.running {
		return false
	}

	c.ticker = c.clock.NewTicker(c.period)
	c.stop = make(chan struct{})
	c.running = true

	go c.tickRoutine(c.ticker, c.stop, onTick)

	return true
}

// Stop cancels the ticker registration. It never waits for the tick routine,
// so it may be called from inside onTick.
func (c *Clock) Stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.running {
		return
	}

	c.ticker.Stop()
	close(c.stop)
	c.running = false
}

// Running reports whether a ticker registration is live
func (c *Clock) Running() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.running
}

func (c *Clock) tickRoutine(ticker clockwork.Ticker, stop <-chan struct{}, onTick func()) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			// Stop may have raced with the tick delivery
			select {
			case <-stop:
				return
			default:
			}

			onTick()
		}
	}
}

// FormatClockTime formats a number of seconds to a user-friendly string (e.g., "1:30")
func FormatClockTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}

	return fmt.Sprintf("%d:%02d", minutes, secs)
}
