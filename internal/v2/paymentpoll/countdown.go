package paymentpoll

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"k8s.io/utils/clock"
)

// Countdown is the post-success redirect timer. It ticks once per second and
// invokes navigate exactly once when it reaches zero, unless stopped first.
type Countdown struct {
	token    *CancellationToken
	onTick   func(remaining int)
	navigate func()

	mu        sync.Mutex
	remaining int
	navigated bool

	done chan struct{}
}

// StartCountdown starts a countdown of seconds (5 when not positive).
// onTick receives every remaining value down to and including zero.
func StartCountdown(clk clock.WithTicker, seconds int, onTick func(remaining int), navigate func()) *Countdown {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if seconds <= 0 {
		seconds = 5
	}

	c := &Countdown{
		token:     NewCancellationToken(),
		onTick:    onTick,
		navigate:  navigate,
		remaining: seconds,
		done:      make(chan struct{}),
	}

	ticker := clk.NewTicker(time.Second)
	go c.run(ticker)
	return c
}

func (c *Countdown) run(ticker clock.Ticker) {
	defer close(c.done)
	defer ticker.Stop()

	for {
		select {
		case <-c.token.Done():
			return
		case <-ticker.C():
		}

		// Stop holds mu while cancelling, so no decrement follows a returned Stop
		c.mu.Lock()
		if c.token.Cancelled() {
			c.mu.Unlock()
			return
		}
		c.remaining--
		remaining := c.remaining
		c.mu.Unlock()

		if c.onTick != nil && !c.token.Cancelled() {
			c.onTick(remaining)
		}
		if remaining > 0 {
			continue
		}

		if !c.token.Cancel() {
			glog.V(4).Info("countdown stopped before navigation")
			return
		}
		c.mu.Lock()
		c.navigated = true
		c.mu.Unlock()
		if c.navigate != nil {
			c.navigate()
		}
		return
	}
}

// Stop cancels the countdown; a navigation that has not fired yet never will.
// It reports whether this call stopped a running countdown. The remaining value
// is frozen once Stop returns, though an onTick already in flight may finish;
// callers that must not observe it guard the callback with their own lock.
func (c *Countdown) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.Cancel()
}

func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) Navigated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigated
}

// Active reports whether the countdown can still navigate
func (c *Countdown) Active() bool {
	return !c.token.Cancelled()
}

// Done is closed when the countdown goroutine exits
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
