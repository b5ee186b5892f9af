package channel

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"ticket-checkout/internal/checkout"
)

var (
	_ Transport = (*Simulator)(nil)
	_ Publisher = (*Simulator)(nil)
)

// Simulator stands in for the payment gateway when no live backend is
// reachable: each opened stream plays a plausible status progression with
// configurable delays. It also accepts PublishStatus, so the webhook keeps
// working against it.
type Simulator struct {
	// StepDelay is the base delay between synthesized statuses.
	StepDelay time.Duration
	// Jitter, when positive, adds up to this much randomness per step.
	Jitter time.Duration
	// Progress disables the synthesized progression when false, leaving
	// the stream silent until PublishStatus injects events.
	Progress bool

	mu      sync.Mutex
	streams map[string]func(checkout.StatusEvent)
}

func NewSimulator(stepDelay, jitter time.Duration, progress bool) *Simulator {
	return &Simulator{
		StepDelay: stepDelay,
		Jitter:    jitter,
		Progress:  progress,
		streams:   make(map[string]func(checkout.StatusEvent)),
	}
}

func (s *Simulator) Open(ctx context.Context, reservationID string, deliver func(checkout.StatusEvent)) (func(), error) {
	done := make(chan struct{})
	var once sync.Once

	s.mu.Lock()
	s.streams[reservationID] = deliver
	s.mu.Unlock()

	if s.Progress {
		go s.play(done, deliver)
	}

	closeStream := func() {
		once.Do(func() {
			close(done)
			s.mu.Lock()
			delete(s.streams, reservationID)
			s.mu.Unlock()
		})
	}
	return closeStream, nil
}

// PublishStatus injects an event into the reservation's open stream.
func (s *Simulator) PublishStatus(ctx context.Context, reservationID string, ev checkout.StatusEvent) error {
	s.mu.Lock()
	deliver, ok := s.streams[reservationID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no open status stream for %s", reservationID)
	}
	deliver(ev)
	return nil
}

func (s *Simulator) play(done <-chan struct{}, deliver func(checkout.StatusEvent)) {
	progression := []string{
		checkout.StatusWaitingPayment,
		checkout.StatusPaymentReceived,
		checkout.StatusProcessing,
		checkout.StatusCompleted,
	}
	for _, status := range progression {
		delay := s.StepDelay
		if s.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(s.Jitter)))
		}
		select {
		case <-done:
			return
		case <-time.After(delay):
		}
		deliver(checkout.StatusEvent{
			Type:      checkout.EventTypePaymentStatus,
			Status:    status,
			Timestamp: time.Now().UTC(),
		})
	}
}
