package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors surfaced by the stores and the service.
var (
	// ErrNotFound is returned when no active entitlement matches a lookup.
	ErrNotFound = errors.New("entitlement not found")
	// ErrDefinitionNotFound is returned when a discount definition lookup
	// misses.
	ErrDefinitionNotFound = errors.New("discount definition not found")
	// ErrDuplicateAssignment is returned when the user already holds an
	// active entitlement for the definition being assigned.
	ErrDuplicateAssignment = errors.New("user already holds an active entitlement for this discount")
	// ErrNegativeAmount rejects apply calls with a negative amount.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrEmptyUser rejects calls without a user reference.
	ErrEmptyUser = errors.New("user id required")
	// ErrConflict signals that another writer modified state between this
	// attempt's read and write. The atomic runner retries the whole attempt.
	ErrConflict = errors.New("concurrent modification detected")
	// ErrConflictExhausted is returned once the bounded retry budget runs
	// out without a clean commit. The call may be retried by the caller.
	ErrConflictExhausted = errors.New("conflict retry budget exhausted")
)

// EntitlementStore persists entitlements. Implementations embed the full
// Definition in every Entitlement they return.
type EntitlementStore interface {
	// ListByUser returns all of a user's entitlements, revoked ones
	// included, in assignment order. An unknown user yields an empty slice.
	ListByUser(ctx context.Context, userID string) ([]Entitlement, error)
	// FindActive returns the single non-revoked entitlement for the
	// (user, definition) pair, or ErrNotFound.
	FindActive(ctx context.Context, userID, definitionID string) (*Entitlement, error)
	// Create persists a new entitlement. Returns ErrDuplicateAssignment when
	// an active entitlement for the same (user, definition) pair exists.
	Create(ctx context.Context, ent *Entitlement) error
	// IncrementUsage adds one use to the entitlement, conditioned on the
	// counter still holding expectedUses and the per-user cap not being
	// exceeded. Returns ErrConflict when the condition no longer holds.
	IncrementUsage(ctx context.Context, entitlementID string, expectedUses int) error
	// MarkRevoked sets the revocation timestamp on an active entitlement.
	// Returns ErrNotFound when the entitlement is missing or already revoked.
	MarkRevoked(ctx context.Context, entitlementID string, at time.Time) error
}

// DefinitionStore reads discount definitions.
type DefinitionStore interface {
	// Get returns the definition by id, or ErrDefinitionNotFound.
	Get(ctx context.Context, id string) (*Definition, error)
	// FindByCode returns the definition by its unique code, or
	// ErrDefinitionNotFound.
	FindByCode(ctx context.Context, code string) (*Definition, error)
}

// AuditStore appends to and reads the append-only audit ledger.
type AuditStore interface {
	// Append persists the record, assigning its ID and CreatedAt.
	Append(ctx context.Context, rec *AuditRecord) error
	// ListByUser returns a user's audit records, newest first.
	ListByUser(ctx context.Context, userID string) ([]AuditRecord, error)
}

// Stores bundles the collaborator stores visible inside one atomic attempt.
type Stores struct {
	Entitlements EntitlementStore
	Definitions  DefinitionStore
	Audits       AuditStore
}

// Atomic runs a read-compute-write body as one all-or-nothing unit.
//
// Implementations must guarantee that the body's writes commit together or
// not at all, and that conflicting concurrent writers are detectable. When
// the body fails with ErrConflict (or the implementation detects a
// serialization failure on commit), the whole body is re-executed from a
// fresh read, up to a bounded number of attempts; once the budget is spent,
// Run returns ErrConflictExhausted.
type Atomic interface {
	Run(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// Notifier receives fire-and-forget notifications after a successful commit.
// Implementations must never block the caller for long and must swallow
// their own failures; a notification failure never fails the core operation.
type Notifier interface {
	EntitlementAssigned(ctx context.Context, ent *Entitlement)
	EntitlementRevoked(ctx context.Context, ent *Entitlement)
	DiscountApplied(ctx context.Context, rec *AuditRecord)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) EntitlementAssigned(context.Context, *Entitlement) {}
func (NopNotifier) EntitlementRevoked(context.Context, *Entitlement)  {}
func (NopNotifier) DiscountApplied(context.Context, *AuditRecord)     {}
