package contracts

import "time"

// Receipt is the proof artifact emitted when a decision reaches AUTHORIZED.
// ReceiptHash is the content hash of the authorized decision and serves as a
// Merkle leaf for the sovereign hash; PrevReceiptHash links receipts into a
// singly-linked chain in authorization order.
type Receipt struct {
	ReceiptID       string    `json:"receipt_id"`
	DecisionID      string    `json:"decision_id"`
	Sequence        uint64    `json:"sequence"`
	ReceiptHash     string    `json:"receipt_hash"`
	PrevReceiptHash string    `json:"prev_receipt_hash,omitempty"`
	AuthorizedAt    time.Time `json:"authorized_at"`
}
