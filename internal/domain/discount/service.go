package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ApplicationResult is the outcome of one successful Apply call.
type ApplicationResult struct {
	OriginalAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	Applied        []Contribution
	Audit          *AuditRecord
}

// SavingsPercentage returns the discount as a percentage of the original
// amount, or zero when the original amount is not positive.
func (r *ApplicationResult) SavingsPercentage() decimal.Decimal {
	if !r.OriginalAmount.IsPositive() {
		return zero
	}
	return r.DiscountAmount.Div(r.OriginalAmount).Mul(hundred)
}

// Service orchestrates discount application, assignment and revocation.
//
// Apply, Assign and Revoke each run as a single atomic unit through the
// Atomic runner; eligibility is always recomputed from a fresh read inside
// the attempt, so retries never act on stale state. Reads (Eligible,
// History) go through the plain stores outside any transaction.
type Service struct {
	stores   Stores
	atomic   Atomic
	policy   Policy
	notifier Notifier
	now      func() time.Time
}

// NewService creates a Service. A nil notifier disables notifications; an
// empty policy order falls back to DefaultPolicy's order.
func NewService(stores Stores, atomic Atomic, policy Policy, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if len(policy.Order) == 0 {
		policy.Order = DefaultPolicy().Order
	}
	return &Service{
		stores:   stores,
		atomic:   atomic,
		policy:   policy,
		notifier: notifier,
		now:      time.Now,
	}
}

// Eligible returns the user's currently usable entitlements in assignment
// order. An unknown user yields an empty slice, not an error.
func (s *Service) Eligible(ctx context.Context, userID string) ([]Entitlement, error) {
	if userID == "" {
		return nil, ErrEmptyUser
	}

	entitlements, err := s.stores.Entitlements.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list entitlements")
	}
	return Eligible(entitlements, s.now()), nil
}

// Apply computes and records the discount for the given purchase amount.
//
// The whole body — eligibility read, stacking, conditional usage increments
// and the audit append — executes inside one atomic attempt. A usage counter
// that moved since the read aborts the attempt with ErrConflict, and the
// runner restarts it from scratch; after the retry budget is spent the call
// fails with ErrConflictExhausted and no partial state is visible.
func (s *Service) Apply(ctx context.Context, userID string, amount decimal.Decimal, transactionID string) (*ApplicationResult, error) {
	if userID == "" {
		return nil, ErrEmptyUser
	}
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}

	var result *ApplicationResult
	err := s.atomic.Run(ctx, func(ctx context.Context, st Stores) error {
		entitlements, err := st.Entitlements.ListByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "list entitlements")
		}

		eligible := Eligible(entitlements, s.now())
		applied, discountTotal := Stack(amount, eligible, s.policy)

		usesByID := make(map[string]int, len(eligible))
		for _, e := range eligible {
			usesByID[e.ID] = e.TimesUsed
		}

		for _, c := range applied {
			if err := st.Entitlements.IncrementUsage(ctx, c.EntitlementID, usesByID[c.EntitlementID]); err != nil {
				return errors.Wrapf(err, "increment usage for entitlement %s", c.EntitlementID)
			}
		}

		final := amount.Sub(discountTotal)
		if final.IsNegative() {
			final = zero
		}

		audit := &AuditRecord{
			UserID:         userID,
			Action:         ActionApplied,
			OriginalAmount: amount,
			DiscountAmount: discountTotal,
			FinalAmount:    final,
			Applied:        applied,
			TransactionID:  transactionID,
		}
		if err := st.Audits.Append(ctx, audit); err != nil {
			return errors.Wrap(err, "append audit record")
		}

		result = &ApplicationResult{
			OriginalAmount: amount,
			DiscountAmount: discountTotal,
			FinalAmount:    final,
			Applied:        applied,
			Audit:          audit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.DiscountApplied(ctx, result.Audit)
	return result, nil
}

// Assign grants the definition to the user. It fails with
// ErrDefinitionNotFound for unknown definitions and with
// ErrDuplicateAssignment when the user already holds an active entitlement
// for it — revoked entitlements do not count.
func (s *Service) Assign(ctx context.Context, userID, definitionID string) (*Entitlement, error) {
	if userID == "" {
		return nil, ErrEmptyUser
	}

	var assigned *Entitlement
	err := s.atomic.Run(ctx, func(ctx context.Context, st Stores) error {
		def, err := st.Definitions.Get(ctx, definitionID)
		if err != nil {
			return err
		}

		if _, err := st.Entitlements.FindActive(ctx, userID, def.ID); err == nil {
			return ErrDuplicateAssignment
		} else if !errors.Is(err, ErrNotFound) {
			return errors.Wrap(err, "find active entitlement")
		}

		ent := &Entitlement{
			ID:           uuid.New().String(),
			UserID:       userID,
			DefinitionID: def.ID,
			Definition:   *def,
			AssignedAt:   s.now(),
		}
		if err := st.Entitlements.Create(ctx, ent); err != nil {
			return errors.Wrap(err, "create entitlement")
		}

		audit := &AuditRecord{
			UserID:         userID,
			DefinitionID:   def.ID,
			Action:         ActionAssigned,
			OriginalAmount: zero,
			DiscountAmount: zero,
			FinalAmount:    zero,
		}
		if err := st.Audits.Append(ctx, audit); err != nil {
			return errors.Wrap(err, "append audit record")
		}

		assigned = ent
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.EntitlementAssigned(ctx, assigned)
	return assigned, nil
}

// Revoke terminally revokes the user's active entitlement for the
// definition. It fails with ErrNotFound when no active entitlement exists —
// including when called a second time.
func (s *Service) Revoke(ctx context.Context, userID, definitionID string) error {
	if userID == "" {
		return ErrEmptyUser
	}

	var revoked *Entitlement
	err := s.atomic.Run(ctx, func(ctx context.Context, st Stores) error {
		ent, err := st.Entitlements.FindActive(ctx, userID, definitionID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := st.Entitlements.MarkRevoked(ctx, ent.ID, now); err != nil {
			return errors.Wrap(err, "mark revoked")
		}
		ent.RevokedAt = &now

		audit := &AuditRecord{
			UserID:         userID,
			DefinitionID:   ent.DefinitionID,
			Action:         ActionRevoked,
			OriginalAmount: zero,
			DiscountAmount: zero,
			FinalAmount:    zero,
		}
		if err := st.Audits.Append(ctx, audit); err != nil {
			return errors.Wrap(err, "append audit record")
		}

		revoked = ent
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.EntitlementRevoked(ctx, revoked)
	return nil
}

// DefinitionByCode looks a definition up by its unique code.
func (s *Service) DefinitionByCode(ctx context.Context, code string) (*Definition, error) {
	if code == "" {
		return nil, ErrDefinitionNotFound
	}
	return s.stores.Definitions.FindByCode(ctx, code)
}

// History returns the user's audit records, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]AuditRecord, error) {
	if userID == "" {
		return nil, ErrEmptyUser
	}

	records, err := s.stores.Audits.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list audit records")
	}
	return records, nil
}
