package checkout

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFiresExactlyOnce(t *testing.T) {
	var ticks, expiries atomic.Int32
	timer := NewDeadlineTimer(10*time.Millisecond,
		func(int) { ticks.Add(1) },
		func() { expiries.Add(1) },
	)

	if err := timer.Start(50 * time.Millisecond); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if got := expiries.Load(); got != 1 {
		t.Fatalf("expired %d times, want 1", got)
	}
	if got := ticks.Load(); got != 4 {
		t.Fatalf("ticked %d times, want 4", got)
	}
	if timer.Active() {
		t.Fatal("timer active after expiry")
	}
}

func TestTimerCancelSuppressesExpiry(t *testing.T) {
	var expiries atomic.Int32
	timer := NewDeadlineTimer(5*time.Millisecond, func(int) {}, func() { expiries.Add(1) })

	if err := timer.Start(30 * time.Millisecond); err != nil {
		t.Fatalf("start: %v", err)
	}
	timer.Cancel()

	time.Sleep(80 * time.Millisecond)
	if got := expiries.Load(); got != 0 {
		t.Fatalf("canceled timer expired %d times", got)
	}
	if timer.Active() {
		t.Fatal("timer active after cancel")
	}
}

func TestTimerDoubleStartIsAnError(t *testing.T) {
	timer := NewDeadlineTimer(10*time.Millisecond, func(int) {}, func() {})
	defer timer.Cancel()

	if err := timer.Start(time.Second); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := timer.Start(time.Second); !errors.Is(err, ErrTimerActive) {
		t.Fatalf("second start: want ErrTimerActive, got %v", err)
	}

	// cancel-then-start is how a restart is spelled
	timer.Cancel()
	if err := timer.Start(time.Second); err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
}

func TestTimerCancelIsIdempotent(t *testing.T) {
	timer := NewDeadlineTimer(10*time.Millisecond, func(int) {}, func() {})

	timer.Cancel() // never started
	if err := timer.Start(time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	timer.Cancel()
	timer.Cancel()
	if timer.Active() {
		t.Fatal("timer active after double cancel")
	}
}

func TestTimerTicksCarryRemaining(t *testing.T) {
	remaining := make(chan int, 16)
	timer := NewDeadlineTimer(10*time.Millisecond,
		func(r int) { remaining <- r },
		func() { close(remaining) },
	)

	if err := timer.Start(40 * time.Millisecond); err != nil {
		t.Fatalf("start: %v", err)
	}

	var got []int
	for r := range remaining {
		got = append(got, r)
	}
	want := []int{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("remaining sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("remaining sequence %v, want %v", got, want)
		}
	}
}
