package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWindow is the payment window: how long the customer has to pay
// once payment instructions are issued. The clock starts when the reserve
// call returns, not at click time.
const DefaultWindow = 180 * time.Second

// Config tunes one coordinator.
type Config struct {
	// Window is the payment window. Zero means DefaultWindow.
	Window time.Duration
	// Tick is the timer resolution, one second unless overridden by tests.
	Tick time.Duration
}

func (c Config) window() time.Duration {
	if c.Window <= 0 {
		return DefaultWindow
	}
	return c.Window
}

func (c Config) tick() time.Duration {
	if c.Tick <= 0 {
		return time.Second
	}
	return c.Tick
}

// TransitionHook observes phase changes. It is called from the coordinator
// goroutine exactly once per transition edge, so once-only side effects can
// key off it directly. It must not call back into the coordinator.
type TransitionHook func(from, to Phase, snap Snapshot)

type signalKind int

const (
	sigCheckout signalKind = iota
	sigRetry
	sigReserveResult
	sigStatusEvent
	sigTick
	sigExpired
	sigSnapshot
)

// signal is the one envelope every timer firing, channel event and user
// command travels in. All of them funnel through a single channel so the
// loop applies them in one deterministic order.
type signal struct {
	kind    signalKind
	attempt uint64

	req       Request
	instr     *Instructions
	err       error
	event     StatusEvent
	remaining int

	replyErr  chan error
	replySnap chan Snapshot
}

// Coordinator drives one checkout session: it issues the reserve call,
// owns the deadline timer and the status channel for the active attempt,
// and is the only writer of the session's phase.
type Coordinator struct {
	cfg     Config
	booker  Booker
	channel StatusChannel
	hook    TransitionHook

	timer   *DeadlineTimer
	attempt atomic.Uint64

	signals chan signal
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once

	// loop-owned; never touched outside run()
	phase        Phase
	req          Request
	instr        *Instructions
	remaining    int
	lastEventKey string
	connected    bool
}

// New builds a coordinator and starts its event loop. Close releases it.
func New(cfg Config, booker Booker, channel StatusChannel, hook TransitionHook) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		booker:  booker,
		channel: channel,
		hook:    hook,
		signals: make(chan signal, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		phase:   PhaseIdle,
	}
	c.timer = NewDeadlineTimer(cfg.tick(),
		func(remaining int) {
			c.push(signal{kind: sigTick, attempt: c.attempt.Load(), remaining: remaining})
		},
		func() {
			c.push(signal{kind: sigExpired, attempt: c.attempt.Load()})
		},
	)
	go c.run()
	return c
}

// Checkout reserves tickets and, on success, opens the payment window and
// the status channel. It blocks until the reserve call resolves and returns
// ErrInventoryUnavailable when the show is sold out (the session lands in
// PhaseFailed), a transient error when the backend misbehaved (the session
// returns to PhaseIdle), or nil once the session is awaiting payment.
func (c *Coordinator) Checkout(ctx context.Context, req Request) error {
	return c.submit(ctx, signal{kind: sigCheckout, req: req, replyErr: make(chan error, 1)})
}

// Retry starts a fresh attempt with the same line items. Legal only from
// PhaseFailed or PhaseExpired; anywhere else it returns ErrInvalidTransition
// without touching the in-flight attempt.
func (c *Coordinator) Retry(ctx context.Context) error {
	return c.submit(ctx, signal{kind: sigRetry, replyErr: make(chan error, 1)})
}

// Snapshot returns a copy of the current session state.
func (c *Coordinator) Snapshot() Snapshot {
	s := signal{kind: sigSnapshot, replySnap: make(chan Snapshot, 1)}
	select {
	case c.signals <- s:
	case <-c.done:
		return Snapshot{Phase: c.phase, Attempt: c.attempt.Load()}
	}
	select {
	case snap := <-s.replySnap:
		return snap
	case <-c.done:
		return Snapshot{Phase: c.phase, Attempt: c.attempt.Load()}
	}
}

// Close tears the session down: cancels the timer, disconnects the channel
// and stops the loop. Idempotent.
func (c *Coordinator) Close() {
	c.once.Do(func() { close(c.quit) })
	<-c.done
}

func (c *Coordinator) submit(ctx context.Context, s signal) error {
	select {
	case c.signals <- s:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-s.replyErr:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// push delivers an asynchronous signal into the funnel, dropping it if the
// session is already torn down.
func (c *Coordinator) push(s signal) {
	select {
	case c.signals <- s:
	case <-c.quit:
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			c.teardown()
			return
		case s := <-c.signals:
			c.apply(s)
		}
	}
}

// apply is the single ordered processing point. Whatever reaches it first
// wins any race; everything it rejects is rejected by phase or attempt, not
// by scheduling luck.
func (c *Coordinator) apply(s signal) {
	switch s.kind {
	case sigCheckout:
		if c.phase != PhaseIdle {
			s.replyErr <- fmt.Errorf("%w: checkout in phase %s", ErrInvalidTransition, c.phase)
			return
		}
		c.beginAttempt(s.req, s.replyErr)

	case sigRetry:
		if !c.phase.Terminal() {
			s.replyErr <- fmt.Errorf("%w: retry in phase %s", ErrInvalidTransition, c.phase)
			return
		}
		// previous timer and channel are already torn down at terminal
		// entry; calling again costs nothing and keeps the invariant
		// obvious here.
		c.timer.Cancel()
		c.channel.Disconnect()
		c.instr = nil
		c.lastEventKey = ""
		c.remaining = 0
		c.beginAttempt(c.req, s.replyErr)

	case sigReserveResult:
		c.applyReserveResult(s)

	case sigStatusEvent:
		c.applyStatusEvent(s)

	case sigTick:
		if s.attempt == c.attempt.Load() && c.phase.active() {
			c.remaining = s.remaining
		}

	case sigExpired:
		if s.attempt != c.attempt.Load() || !c.phase.active() {
			return
		}
		c.enterTerminal(PhaseExpired)

	case sigSnapshot:
		s.replySnap <- c.snapshot()
	}
}

func (c *Coordinator) beginAttempt(req Request, reply chan error) {
	attempt := c.attempt.Add(1)
	c.req = req
	c.transition(PhaseReserving)

	// the only blocking call outside the loop; the result comes back
	// through the funnel like everything else
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		instr, err := c.booker.Reserve(ctx, req)
		c.push(signal{kind: sigReserveResult, attempt: attempt, instr: instr, err: err, replyErr: reply})
	}()
}

func (c *Coordinator) applyReserveResult(s signal) {
	if s.attempt != c.attempt.Load() || c.phase != PhaseReserving {
		slog.Warn("dropping stale reserve result", "attempt", s.attempt)
		return
	}

	switch {
	case s.err == nil:
		c.instr = s.instr
		c.remaining = int(c.cfg.window() / c.cfg.tick())
		if err := c.timer.Start(c.cfg.window()); err != nil {
			// cannot happen while the loop owns the timer; surface loudly
			slog.Error("deadline timer start", "error", err)
		}
		attempt := s.attempt
		err := c.channel.Connect(context.Background(), s.instr.ReservationID, func(ev StatusEvent) {
			c.push(signal{kind: sigStatusEvent, attempt: attempt, event: ev})
		})
		if err != nil {
			// non-fatal: the timer is the backstop if no event ever arrives
			slog.Error("status channel connect", "reservationID", s.instr.ReservationID, "error", err)
		} else {
			c.connected = true
		}
		c.transition(PhaseAwaitingPayment)
		s.replyErr <- nil

	case errors.Is(s.err, ErrInventoryUnavailable):
		// terminal before any timer or channel exists
		c.transition(PhaseFailed)
		s.replyErr <- s.err

	default:
		// transient: no state-machine entry survives
		c.transition(PhaseIdle)
		s.replyErr <- s.err
	}
}

func (c *Coordinator) applyStatusEvent(s signal) {
	if s.attempt != c.attempt.Load() {
		return
	}
	if !c.phase.active() {
		// signal was in flight when the phase left; discard
		return
	}
	ev := s.event
	if ev.Type != EventTypePaymentStatus {
		return
	}
	c.lastEventKey = ev.Key()

	switch ev.Status {
	case StatusWaitingPayment:
		// initial status, already awaiting
	case StatusPaymentReceived:
		if c.phase == PhaseAwaitingPayment {
			c.transition(PhasePaymentReceived)
		}
	case StatusProcessing:
		if c.phase == PhasePaymentReceived {
			c.transition(PhaseProcessing)
		}
	case StatusCompleted:
		if c.phase == PhaseProcessing {
			c.enterTerminal(PhaseCompleted)
		}
	case StatusFailed:
		c.enterTerminal(PhaseFailed)
	default:
		// forward compatibility: unknown statuses never error
		slog.Info("ignoring unknown payment status", "status", ev.Status)
	}
}

// enterTerminal applies the once-per-edge teardown for an absorbing phase.
func (c *Coordinator) enterTerminal(to Phase) {
	c.timer.Cancel()
	c.channel.Disconnect()
	c.connected = false
	c.remaining = 0

	if (to == PhaseFailed || to == PhaseExpired) && c.instr != nil {
		showID, reservationID := c.req.ShowID, c.instr.ReservationID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.booker.Release(ctx, showID, reservationID); err != nil {
				slog.Error("release hold", "reservationID", reservationID, "error", err)
			}
		}()
	}
	c.transition(to)
}

func (c *Coordinator) transition(to Phase) {
	from := c.phase
	if from == to {
		return
	}
	c.phase = to
	slog.Info("checkout transition", "from", from, "to", to)
	if c.hook != nil {
		c.hook(from, to, c.snapshot())
	}
}

func (c *Coordinator) snapshot() Snapshot {
	return Snapshot{
		Phase:            c.phase,
		Instructions:     c.instr,
		Remaining:        c.remaining,
		LastEventKey:     c.lastEventKey,
		ChannelConnected: c.connected,
		Attempt:          c.attempt.Load(),
	}
}

func (c *Coordinator) teardown() {
	c.timer.Cancel()
	c.channel.Disconnect()
	c.connected = false
}
