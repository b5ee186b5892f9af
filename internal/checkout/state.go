package checkout

import (
	"context"
	"fmt"
	"time"
)

// Phase is the lifecycle stage of one checkout session.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseReserving       Phase = "reserving"
	PhaseAwaitingPayment Phase = "awaiting_payment"
	PhasePaymentReceived Phase = "payment_received"
	PhaseProcessing      Phase = "processing"
	PhaseCompleted       Phase = "completed"
	PhaseFailed          Phase = "failed"
	PhaseExpired         Phase = "expired"
)

// Terminal reports whether no further automatic transition can occur.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseExpired
}

func (p Phase) active() bool {
	return p == PhaseAwaitingPayment || p == PhasePaymentReceived || p == PhaseProcessing
}

// Payment lifecycle statuses reported by the gateway over the status channel.
const (
	StatusWaitingPayment  = "waiting_payment"
	StatusPaymentReceived = "payment_received"
	StatusProcessing      = "processing"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
)

// EventTypePaymentStatus is the only message type the coordinator acts on.
// Messages with any other type are ignored.
const EventTypePaymentStatus = "payment_status"

// LineItem is one requested ticket type and quantity.
type LineItem struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
}

// Request describes one reservation attempt. Immutable once submitted;
// a retry reuses the same line items under a new reservation id.
type Request struct {
	ShowID    string     `json:"show_id"`
	Items     []LineItem `json:"items"`
	Recipient string     `json:"recipient,omitempty"`
}

// Instructions is what the customer needs to pay by bank transfer.
// Created once per successful reservation and never mutated. Amount is in
// whole currency units.
type Instructions struct {
	ReservationID string `json:"reservation_id"`
	BankAccount   string `json:"bank_account"`
	BankName      string `json:"bank_name"`
	Amount        int64  `json:"amount"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
}

// StatusEvent is one payment lifecycle update delivered over the status
// channel.
type StatusEvent struct {
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Key derives the dedup identity of the event. Two deliveries with the same
// type, status and timestamp are the same event.
func (e StatusEvent) Key() string {
	return fmt.Sprintf("%s|%s|%d", e.Type, e.Status, e.Timestamp.UnixNano())
}

// Snapshot is a point-in-time copy of a session's state, safe to hand to
// callers outside the coordinator goroutine.
type Snapshot struct {
	Phase            Phase         `json:"phase"`
	Instructions     *Instructions `json:"instructions,omitempty"`
	Remaining        int           `json:"remaining_seconds"`
	LastEventKey     string        `json:"-"`
	ChannelConnected bool          `json:"channel_connected"`
	Attempt          uint64        `json:"attempt"`
}

// Booker reserves inventory and returns payment instructions. A sold-out
// show surfaces as ErrInventoryUnavailable; anything else is transient.
type Booker interface {
	Reserve(ctx context.Context, req Request) (*Instructions, error)
	Release(ctx context.Context, showID, reservationID string) error
}

// StatusChannel owns the push connection for one reservation at a time and
// delivers deduplicated status events to the sink. Connect while already
// connecting or connected is a logged no-op; Disconnect is always safe.
type StatusChannel interface {
	Connect(ctx context.Context, reservationID string, sink func(StatusEvent)) error
	Disconnect()
}
