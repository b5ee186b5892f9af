// Package channel owns the push connection that carries payment status
// events for an active reservation, and the transports behind it.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-checkout/internal/checkout"
)

// Transport opens the underlying stream for one reservation and delivers
// raw status events until the returned close func is called. Open must not
// block on the stream itself.
type Transport interface {
	Open(ctx context.Context, reservationID string, deliver func(checkout.StatusEvent)) (func(), error)
}

// Publisher is the gateway-facing side: it pushes a status event onto a
// reservation's stream. Implemented by both the PubNub transport and the
// simulator, so the webhook works in either environment.
type Publisher interface {
	PublishStatus(ctx context.Context, reservationID string, ev checkout.StatusEvent) error
}

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var _ checkout.StatusChannel = (*Adapter)(nil)

// Adapter is the per-reservation connection owner. It enforces the single
// connection guard, deduplicates inbound events, and hands the survivors to
// the coordinator in arrival order.
type Adapter struct {
	transport Transport
	now       func() time.Time

	mu            sync.Mutex
	state         connState
	reservationID string
	dedup         *dedupCache
	closeStream   func()
}

func NewAdapter(transport Transport) *Adapter {
	now := time.Now
	return &Adapter{
		transport: transport,
		now:       now,
		dedup:     newDedupCache(dedupRetention, now()),
	}
}

// Connect opens the stream for the reservation. While a connection attempt
// is in progress or established for any reservation, further calls are
// logged and ignored rather than opening a duplicate. The dedup set is
// cleared on every accepted connect.
func (a *Adapter) Connect(ctx context.Context, reservationID string, sink func(checkout.StatusEvent)) error {
	a.mu.Lock()
	if a.state != stateDisconnected {
		state := a.state
		a.mu.Unlock()
		slog.Warn("status channel connect ignored", "state", state.String(), "reservationID", reservationID)
		return nil
	}
	a.state = stateConnecting
	a.reservationID = reservationID
	a.dedup.Reset(a.now())
	a.mu.Unlock()

	closeStream, err := a.transport.Open(ctx, reservationID, func(ev checkout.StatusEvent) {
		a.deliver(ev, sink)
	})

	a.mu.Lock()
	if err != nil {
		a.state = stateDisconnected
		a.reservationID = ""
		a.mu.Unlock()
		return fmt.Errorf("open status stream %s: %w", reservationID, err)
	}
	if a.state != stateConnecting {
		// disconnected while the stream was opening
		a.mu.Unlock()
		closeStream()
		return nil
	}
	a.state = stateConnected
	a.closeStream = closeStream
	a.mu.Unlock()
	return nil
}

// Disconnect closes the stream if one is open. Safe to call any number of
// times, connected or not.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	closeStream := a.closeStream
	a.closeStream = nil
	a.state = stateDisconnected
	a.reservationID = ""
	a.mu.Unlock()
	if closeStream != nil {
		closeStream()
	}
}

func (a *Adapter) deliver(ev checkout.StatusEvent, sink func(checkout.StatusEvent)) {
	if ev.Type != checkout.EventTypePaymentStatus {
		slog.Info("ignoring message of unknown type", "type", ev.Type)
		return
	}
	a.mu.Lock()
	if a.state == stateDisconnected {
		a.mu.Unlock()
		return
	}
	dup := a.dedup.Seen(ev.Key(), a.now())
	a.mu.Unlock()
	if dup {
		slog.Info("dropping duplicate status event", "key", ev.Key())
		return
	}
	sink(ev)
}
