package channel

import (
	"testing"
	"time"

	"ticket-checkout/internal/checkout"
)

func TestDecodeStatusMessageFromString(t *testing.T) {
	raw := `{"type":"payment_status","status":"payment_received","timestamp":"2025-05-28T13:30:05+07:00"}`

	ev, err := decodeStatusMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != checkout.EventTypePaymentStatus || ev.Status != checkout.StatusPaymentReceived {
		t.Fatalf("decoded %+v", ev)
	}
	want := time.Date(2025, 5, 28, 13, 30, 5, 0, time.FixedZone("", 7*3600))
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp %v, want %v", ev.Timestamp, want)
	}
}

func TestDecodeStatusMessageFromMap(t *testing.T) {
	raw := map[string]any{
		"type":      "payment_status",
		"status":    "completed",
		"timestamp": "2025-05-28T06:30:05Z",
	}

	ev, err := decodeStatusMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Status != checkout.StatusCompleted {
		t.Fatalf("status %s, want completed", ev.Status)
	}
}

func TestDecodeStatusMessageMalformed(t *testing.T) {
	if _, err := decodeStatusMessage("not json"); err == nil {
		t.Fatal("expected error for invalid json")
	}
	if _, err := decodeStatusMessage(`{"type":"payment_status","status":"completed","timestamp":"yesterday"}`); err == nil {
		t.Fatal("expected error for bad timestamp")
	}
}

func TestStatusEventKeyStableForDuplicates(t *testing.T) {
	ts := time.Now().UTC()
	a := checkout.StatusEvent{Type: checkout.EventTypePaymentStatus, Status: checkout.StatusCompleted, Timestamp: ts}
	b := checkout.StatusEvent{Type: checkout.EventTypePaymentStatus, Status: checkout.StatusCompleted, Timestamp: ts}
	if a.Key() != b.Key() {
		t.Fatalf("identical events have different keys: %s vs %s", a.Key(), b.Key())
	}

	c := checkout.StatusEvent{Type: checkout.EventTypePaymentStatus, Status: checkout.StatusFailed, Timestamp: ts}
	if a.Key() == c.Key() {
		t.Fatal("distinct events share a key")
	}
}
