package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action enumerates the auditable actions.
type Action string

const (
	// ActionApplied records a discount application against an amount.
	ActionApplied Action = "applied"
	// ActionAssigned records the grant of an entitlement to a user.
	ActionAssigned Action = "assigned"
	// ActionRevoked records the revocation of an entitlement.
	ActionRevoked Action = "revoked"
)

// AuditRecord is one append-only entry in the audit ledger. Records are
// created exactly once per orchestrated action and never mutated or deleted.
//
// Invariant: OriginalAmount = DiscountAmount + FinalAmount within rounding
// precision, and DiscountAmount equals the sum of the Applied breakdown.
type AuditRecord struct {
	ID     string
	UserID string
	// DefinitionID is set for assign/revoke actions and empty for apply
	// actions, where several definitions may contribute; the per-definition
	// split lives in Applied.
	DefinitionID   string
	Action         Action
	OriginalAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	Applied        []Contribution
	// TransactionID is an optional caller-supplied correlation id, e.g. an
	// external payment transaction.
	TransactionID string
	Metadata      map[string]any
	CreatedAt     time.Time
}
