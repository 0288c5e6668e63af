package paymentpoll

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"k8s.io/utils/clock"
)

// TickFunc is invoked once per scheduler tick. It runs on the scheduler goroutine,
// so the next tick cannot fire before it returns.
type TickFunc func(ctx context.Context)

// Scheduler fires a tick on a fixed wall-clock grid (start + n*interval) and never
// overlaps two ticks. Grid slots that elapse while a tick is still running are skipped.
type Scheduler struct {
	clock clock.WithTicker

	mu      sync.Mutex
	started bool
	stopped bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

func NewScheduler(clk clock.WithTicker) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{
		clock:  clk,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start arms the ticker synchronously and runs tick on every grid slot until Stop.
func (s *Scheduler) Start(interval time.Duration, tick TickFunc) error {
	if interval <= 0 {
		return invalidArgument("scheduler interval must be positive, got %s", interval)
	}
	if tick == nil {
		return invalidArgument("scheduler tick function is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ticker := s.clock.NewTicker(interval)
	go s.run(ticker, tick)
	return nil
}

func (s *Scheduler) run(ticker clock.Ticker, tick TickFunc) {
	defer s.doneOnce.Do(func() { close(s.doneCh) })
	defer ticker.Stop()

	var lastDone time.Time
	for {
		var fired time.Time
		select {
		case <-s.stopCh:
			return
		case fired = <-ticker.C():
		}

		// stop wins over a tick that became ready at the same time
		select {
		case <-s.stopCh:
			return
		default:
		}

		if fired.Before(lastDone) {
			glog.V(4).Infof("skip poll slot %s, previous tick finished at %s", fired.Format(time.RFC3339Nano), lastDone.Format(time.RFC3339Nano))
			continue
		}

		tick(context.Background())
		lastDone = s.clock.Now()
	}
}

// Stop prevents any further tick. It is idempotent and does not wait for a running tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.stopOnce.Do(func() { close(s.stopCh) })
	if !s.started {
		s.doneOnce.Do(func() { close(s.doneCh) })
	}
}

// Done is closed once the scheduler goroutine has exited
func (s *Scheduler) Done() <-chan struct{} {
	return s.doneCh
}
