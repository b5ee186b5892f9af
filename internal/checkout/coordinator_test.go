package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeBooker struct {
	mu       sync.Mutex
	err      error
	seq      int
	released []string
}

func (f *fakeBooker) Reserve(ctx context.Context, req Request) (*Instructions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	return &Instructions{
		ReservationID: fmt.Sprintf("res-%d", f.seq),
		BankAccount:   "010-12-00-00123456-001",
		BankName:      "BCEL",
		Amount:        150000,
		Reference:     fmt.Sprintf("TK-%d", f.seq),
		Status:        StatusWaitingPayment,
	}, nil
}

func (f *fakeBooker) Release(ctx context.Context, showID, reservationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, reservationID)
	return nil
}

func (f *fakeBooker) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type fakeChannel struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	sink        func(StatusEvent)
	lastID      string
}

func (f *fakeChannel) Connect(ctx context.Context, reservationID string, sink func(StatusEvent)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.lastID = reservationID
	f.sink = sink
	return nil
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sink != nil {
		f.disconnects++
		f.sink = nil
	}
}

// emit pushes a status event through the adapter sink, as the channel would.
func (f *fakeChannel) emit(status string) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink != nil {
		sink(StatusEvent{Type: EventTypePaymentStatus, Status: status, Timestamp: time.Now().UTC()})
	}
}

func (f *fakeChannel) counts() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

type transitionLog struct {
	mu    sync.Mutex
	edges []string
}

func (l *transitionLog) hook(from, to Phase, snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edges = append(l.edges, fmt.Sprintf("%s->%s", from, to))
}

func (l *transitionLog) count(edge string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.edges {
		if e == edge {
			n++
		}
	}
	return n
}

const (
	testWindow = 400 * time.Millisecond
	testTick   = 20 * time.Millisecond
)

func testRequest() Request {
	return Request{ShowID: "show-1", Items: []LineItem{{TicketTypeID: "vip", Quantity: 2}}}
}

func newTestCoordinator(t *testing.T, booker *fakeBooker, ch *fakeChannel, hook TransitionHook) *Coordinator {
	t.Helper()
	c := New(Config{Window: testWindow, Tick: testTick}, booker, ch, hook)
	t.Cleanup(c.Close)
	return c
}

func waitPhase(t *testing.T, c *Coordinator, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().Phase == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("phase %s not reached, still %s", want, c.Snapshot().Phase)
}

func TestInventoryExhaustedIsTerminalWithoutTimerOrChannel(t *testing.T) {
	booker := &fakeBooker{err: fmt.Errorf("%w: sold out", ErrInventoryUnavailable)}
	ch := &fakeChannel{}
	c := newTestCoordinator(t, booker, ch, nil)

	err := c.Checkout(context.Background(), testRequest())
	if !errors.Is(err, ErrInventoryUnavailable) {
		t.Fatalf("expected ErrInventoryUnavailable, got %v", err)
	}

	snap := c.Snapshot()
	if snap.Phase != PhaseFailed {
		t.Fatalf("expected failed, got %s", snap.Phase)
	}
	if connects, _ := ch.counts(); connects != 0 {
		t.Fatalf("channel connected %d times, want 0", connects)
	}
	if c.timer.Active() {
		t.Fatal("timer started for a failed reservation")
	}
}

func TestTransientReserveFailureLeavesNoStateEntry(t *testing.T) {
	booker := &fakeBooker{err: errors.New("connection refused")}
	ch := &fakeChannel{}
	c := newTestCoordinator(t, booker, ch, nil)

	err := c.Checkout(context.Background(), testRequest())
	if err == nil || errors.Is(err, ErrInventoryUnavailable) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := c.Snapshot().Phase; got != PhaseIdle {
		t.Fatalf("expected idle after transient failure, got %s", got)
	}

	// the user action can be repeated from scratch
	booker.mu.Lock()
	booker.err = nil
	booker.mu.Unlock()
	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if got := c.Snapshot().Phase; got != PhaseAwaitingPayment {
		t.Fatalf("expected awaiting_payment, got %s", got)
	}
}

func TestHappyPathCompletes(t *testing.T) {
	booker := &fakeBooker{}
	ch := &fakeChannel{}
	edges := &transitionLog{}
	c := newTestCoordinator(t, booker, ch, edges.hook)

	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	snap := c.Snapshot()
	if snap.Phase != PhaseAwaitingPayment {
		t.Fatalf("expected awaiting_payment, got %s", snap.Phase)
	}
	if !snap.ChannelConnected {
		t.Fatal("channel not connected while awaiting payment")
	}
	if !c.timer.Active() {
		t.Fatal("timer not running while awaiting payment")
	}
	if snap.Instructions == nil || snap.Instructions.ReservationID == "" {
		t.Fatal("no payment instructions after successful reserve")
	}

	ch.emit(StatusPaymentReceived)
	if got := c.Snapshot().Phase; got != PhasePaymentReceived {
		t.Fatalf("expected payment_received, got %s", got)
	}
	ch.emit(StatusProcessing)
	if got := c.Snapshot().Phase; got != PhaseProcessing {
		t.Fatalf("expected processing, got %s", got)
	}
	ch.emit(StatusCompleted)
	if got := c.Snapshot().Phase; got != PhaseCompleted {
		t.Fatalf("expected completed, got %s", got)
	}

	// timer and channel torn down together, channel exactly once
	if c.timer.Active() {
		t.Fatal("timer still active after completion")
	}
	if _, disconnects := ch.counts(); disconnects != 1 {
		t.Fatalf("disconnected %d times, want 1", disconnects)
	}
	if n := edges.count("processing->completed"); n != 1 {
		t.Fatalf("completed edge fired %d times, want 1", n)
	}
	if released := booker.releasedIDs(); len(released) != 0 {
		t.Fatalf("completed reservation was released: %v", released)
	}
}

func TestSilentChannelExpires(t *testing.T) {
	booker := &fakeBooker{}
	ch := &fakeChannel{}
	c := newTestCoordinator(t, booker, ch, nil)

	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	waitPhase(t, c, PhaseExpired)

	if _, disconnects := ch.counts(); disconnects != 1 {
		t.Fatalf("channel left dangling: %d disconnects, want 1", disconnects)
	}
	if c.timer.Active() {
		t.Fatal("timer still active after expiry")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(booker.releasedIDs()) == 1 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expired hold not released: %v", booker.releasedIDs())
}

func TestFailedEventEndsAttemptEarly(t *testing.T) {
	booker := &fakeBooker{}
	ch := &fakeChannel{}
	c := newTestCoordinator(t, booker, ch, nil)

	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	ch.emit(StatusFailed)
	if got := c.Snapshot().Phase; got != PhaseFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if c.timer.Active() {
		t.Fatal("timer still active after failure")
	}
	if _, disconnects := ch.counts(); disconnects != 1 {
		t.Fatalf("disconnected %d times, want 1", disconnects)
	}
}

func TestTerminalPhasesAbsorbLateSignals(t *testing.T) {
	booker := &fakeBooker{}
	ch := &fakeChannel{}
	c := newTestCoordinator(t, booker, ch, nil)

	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	ch.emit(StatusPaymentReceived)
	ch.emit(StatusProcessing)
	ch.emit(StatusCompleted)
	waitPhase(t, c, PhaseCompleted)

	// signals that were in flight at teardown still arrive once; they
	// must be discarded by the phase check
	attempt := c.attempt.Load()
	c.push(signal{kind: sigStatusEvent, attempt: attempt, event: StatusEvent{
		Type: EventTypePaymentStatus, Status: StatusFailed, Timestamp: time.Now().UTC(),
	}})
	c.push(signal{kind: sigExpired, attempt: attempt})

	if got := c.Snapshot().Phase; got != PhaseCompleted {
		t.Fatalf("terminal phase mutated to %s", got)
	}
}

func TestExpiryCompletionRaceIsArrivalOrdered(t *testing.T) {
	run := func(t *testing.T, first, second signalKind, want Phase) {
		booker := &fakeBooker{}
		ch := &fakeChannel{}
		c := newTestCoordinator(t, booker, ch, nil)

		if err := c.Checkout(context.Background(), testRequest()); err != nil {
			t.Fatalf("checkout: %v", err)
		}
		ch.emit(StatusPaymentReceived)
		ch.emit(StatusProcessing)

		attempt := c.attempt.Load()
		completed := signal{kind: sigStatusEvent, attempt: attempt, event: StatusEvent{
			Type: EventTypePaymentStatus, Status: StatusCompleted, Timestamp: time.Now().UTC(),
		}}
		expired := signal{kind: sigExpired, attempt: attempt}

		for _, kind := range []signalKind{first, second} {
			if kind == sigExpired {
				c.push(expired)
			} else {
				c.push(completed)
			}
		}

		if got := c.Snapshot().Phase; got != want {
			t.Fatalf("want %s, got %s", want, got)
		}
	}

	// whichever signal reaches the funnel first wins, every run
	for i := 0; i < 20; i++ {
		run(t, sigStatusEvent, sigExpired, PhaseCompleted)
		run(t, sigExpired, sigStatusEvent, PhaseExpired)
	}
}

func TestRetryResetsWindowAndStartsFreshReservation(t *testing.T) {
	booker := &fakeBooker{}
	ch := &fakeChannel{}
	c := newTestCoordinator(t, booker, ch, nil)

	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	firstID := c.Snapshot().Instructions.ReservationID

	ch.emit(StatusFailed)
	waitPhase(t, c, PhaseFailed)

	if err := c.Retry(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}

	snap := c.Snapshot()
	if snap.Phase != PhaseAwaitingPayment {
		t.Fatalf("expected awaiting_payment after retry, got %s", snap.Phase)
	}
	if snap.Instructions.ReservationID == firstID {
		t.Fatalf("retry reused reservation id %s", firstID)
	}
	if want := int(testWindow / testTick); snap.Remaining != want {
		t.Fatalf("remaining after retry = %d, want full window %d", snap.Remaining, want)
	}
	if snap.LastEventKey != "" {
		t.Fatalf("stale event key survived retry: %s", snap.LastEventKey)
	}
	if connects, _ := ch.counts(); connects != 2 {
		t.Fatalf("connected %d times, want 2", connects)
	}
}

func TestRetryRejectedWhileNonTerminal(t *testing.T) {
	booker := &fakeBooker{}
	ch := &fakeChannel{}
	c := newTestCoordinator(t, booker, ch, nil)

	if err := c.Retry(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("retry from idle: want ErrInvalidTransition, got %v", err)
	}

	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := c.Retry(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("retry while awaiting payment: want ErrInvalidTransition, got %v", err)
	}
	if got := c.Snapshot().Phase; got != PhaseAwaitingPayment {
		t.Fatalf("in-flight attempt abandoned, phase %s", got)
	}
}

func TestDoubleCheckoutRejected(t *testing.T) {
	booker := &fakeBooker{}
	ch := &fakeChannel{}
	c := newTestCoordinator(t, booker, ch, nil)

	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := c.Checkout(context.Background(), testRequest()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
	if connects, _ := ch.counts(); connects != 1 {
		t.Fatalf("double submission opened %d connections", connects)
	}
}

func TestUnknownStatusIgnored(t *testing.T) {
	booker := &fakeBooker{}
	ch := &fakeChannel{}
	c := newTestCoordinator(t, booker, ch, nil)

	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	ch.emit("refund_pending")
	if got := c.Snapshot().Phase; got != PhaseAwaitingPayment {
		t.Fatalf("unknown status changed phase to %s", got)
	}

	// out-of-order statuses are ignored the same way
	ch.emit(StatusCompleted)
	if got := c.Snapshot().Phase; got != PhaseAwaitingPayment {
		t.Fatalf("out-of-order completed applied from awaiting_payment: %s", got)
	}
}

func TestTicksCountTheWindowDown(t *testing.T) {
	booker := &fakeBooker{}
	ch := &fakeChannel{}
	c := newTestCoordinator(t, booker, ch, nil)

	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	full := int(testWindow / testTick)
	if got := c.Snapshot().Remaining; got != full {
		t.Fatalf("initial remaining = %d, want %d", got, full)
	}

	time.Sleep(5 * testTick)
	if got := c.Snapshot().Remaining; got >= full || got <= 0 {
		t.Fatalf("remaining = %d after ticks, want within (0, %d)", got, full)
	}
}

func TestCloseTearsDownTimerAndChannel(t *testing.T) {
	booker := &fakeBooker{}
	ch := &fakeChannel{}
	c := New(Config{Window: testWindow, Tick: testTick}, booker, ch, nil)

	if err := c.Checkout(context.Background(), testRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	c.Close()

	if c.timer.Active() {
		t.Fatal("timer survived close")
	}
	if _, disconnects := ch.counts(); disconnects != 1 {
		t.Fatalf("disconnected %d times, want 1", disconnects)
	}
	if err := c.Checkout(context.Background(), testRequest()); !errors.Is(err, ErrClosed) {
		t.Fatalf("checkout after close: want ErrClosed, got %v", err)
	}
}
