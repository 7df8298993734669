package domain

import "time"

// CreditEntryKind classifies a credit ledger movement.
type CreditEntryKind string

const (
	CreditEntryDebit  CreditEntryKind = "debit"
	CreditEntryRefund CreditEntryKind = "refund"
)

// CreditEntry is one immutable ledger row. The balance on the user row is the
// running total; entries exist for audit and reconciliation.
type CreditEntry struct {
	ID        string
	UserID    string
	JobID     string
	Kind      CreditEntryKind
	Amount    int
	CreatedAt time.Time
}

// CancelResult reports the outcome of a cancellation request. The refund
// amount is decided by the backend policy, never computed client-side.
type CancelResult struct {
	Success        bool   `json:"success"`
	RefundedAmount int    `json:"refunded_amount"`
	ErrorMessage   string `json:"error_message,omitempty"`
}
