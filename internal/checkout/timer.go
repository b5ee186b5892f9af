package checkout

import (
	"sync"
	"time"
)

// DeadlineTimer is the countdown bound to one reservation attempt. It fires
// expire exactly once after the window elapses unless canceled first, and
// ticks once per resolution interval with the number of intervals left.
//
// A signal already in flight when Cancel is called may still be delivered
// once; the coordinator discards it with its attempt tag. After Cancel
// returns, no new signal is produced.
type DeadlineTimer struct {
	mu     sync.Mutex
	tick   time.Duration
	active bool
	stop   chan struct{}

	onTick   func(remaining int)
	onExpire func()
}

// NewDeadlineTimer builds a timer with the given resolution. Production use
// is one second; tests shrink it.
func NewDeadlineTimer(tick time.Duration, onTick func(remaining int), onExpire func()) *DeadlineTimer {
	if tick <= 0 {
		tick = time.Second
	}
	return &DeadlineTimer{tick: tick, onTick: onTick, onExpire: onExpire}
}

// Start begins a countdown over the window. Starting while a countdown is
// already running is a programmer error and returns ErrTimerActive; callers
// must Cancel first.
func (t *DeadlineTimer) Start(window time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return ErrTimerActive
	}
	total := int(window / t.tick)
	if total < 1 {
		total = 1
	}
	stop := make(chan struct{})
	t.stop = stop
	t.active = true
	go t.run(stop, total)
	return nil
}

// Cancel stops the countdown. Safe to call when no countdown is running.
func (t *DeadlineTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.active = false
	close(t.stop)
}

// Active reports whether a countdown is currently running.
func (t *DeadlineTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *DeadlineTimer) run(stop chan struct{}, total int) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	remaining := total
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			remaining--
			if remaining <= 0 {
				t.mu.Lock()
				if !t.active || t.stop != stop {
					// canceled between the tick and here
					t.mu.Unlock()
					return
				}
				t.active = false
				t.mu.Unlock()
				t.onExpire()
				return
			}
			t.onTick(remaining)
		}
	}
}
