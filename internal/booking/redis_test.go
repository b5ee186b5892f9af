package booking

import (
	"strings"
	"testing"
)

func TestPaymentReferenceFormat(t *testing.T) {
	ref := paymentReference("a1b2c3d4-e5f6-7890-abcd-ef1234567890")
	if !strings.HasPrefix(ref, "TK-") {
		t.Fatalf("reference %q missing TK- prefix", ref)
	}
	if len(ref) != 13 {
		t.Fatalf("reference %q length %d, want 13", ref, len(ref))
	}
	if ref != strings.ToUpper(ref) {
		t.Fatalf("reference %q not upper case", ref)
	}
	if strings.Contains(ref[3:], "-") {
		t.Fatalf("reference %q carries uuid dashes", ref)
	}
}

func TestPaymentReferenceDistinctPerReservation(t *testing.T) {
	a := paymentReference("a1b2c3d4-e5f6-7890-abcd-ef1234567890")
	b := paymentReference("b2c3d4e5-f6a1-7890-abcd-ef1234567890")
	if a == b {
		t.Fatalf("references collide: %s", a)
	}
}

func TestKeyLayout(t *testing.T) {
	if got := stockKey("show-1", "vip"); got != "stock:show-1:vip" {
		t.Fatalf("stock key %q", got)
	}
	if got := holdKey("show-1", "res-9"); got != "hold:show-1:res-9" {
		t.Fatalf("hold key %q", got)
	}
	if got := holdSetKey("show-1"); got != "hold_set:show-1" {
		t.Fatalf("hold set key %q", got)
	}
}
