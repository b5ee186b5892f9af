package httpapi

import (
	"fmt"
	"net/url"

	"ticket-checkout/internal/checkout"
)

// QR is the payload a banking app scans to prefill the transfer: the deep
// link plus the raw fields for display.
type QR struct {
	Link        string `json:"link"`
	BankAccount string `json:"bank_account"`
	BankName    string `json:"bank_name"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
}

// QRPayload formats payment instructions as a banking deep link. Pure data
// formatting; the state machine never sees it.
func QRPayload(instr *checkout.Instructions) QR {
	q := url.Values{}
	q.Set("account", instr.BankAccount)
	q.Set("bank", instr.BankName)
	q.Set("amount", fmt.Sprintf("%d", instr.Amount))
	q.Set("ref", instr.Reference)

	return QR{
		Link:        "banking://transfer?" + q.Encode(),
		BankAccount: instr.BankAccount,
		BankName:    instr.BankName,
		Amount:      instr.Amount,
		Reference:   instr.Reference,
	}
}
