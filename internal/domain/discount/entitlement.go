package discount

import "time"

// Entitlement binds one Definition to one user and tracks that user's usage
// and revocation state. The usage counter only ever grows, and revocation is
// terminal: a revoked entitlement is never reactivated or deleted.
type Entitlement struct {
	ID           string
	UserID       string
	DefinitionID string
	Definition   Definition
	TimesUsed    int
	AssignedAt   time.Time
	RevokedAt    *time.Time
}

// Revoked reports whether the entitlement has been revoked.
func (e *Entitlement) Revoked() bool {
	return e.RevokedAt != nil
}

// UsableAt reports whether this entitlement can contribute a discount at the
// given time: not revoked, definition active and within its window, and the
// per-user usage cap (if any) not reached.
func (e *Entitlement) UsableAt(now time.Time) bool {
	if e.Revoked() {
		return false
	}
	if !e.Definition.ActiveAt(now) {
		return false
	}
	if cap := e.Definition.MaxUsesPerUser; cap > 0 && e.TimesUsed >= cap {
		return false
	}
	return true
}

// Eligible filters entitlements down to those usable at the given time,
// preserving the input order. Reordering for application is the stacking
// engine's job.
func Eligible(entitlements []Entitlement, now time.Time) []Entitlement {
	usable := make([]Entitlement, 0, len(entitlements))
	for _, e := range entitlements {
		if e.UsableAt(now) {
			usable = append(usable, e)
		}
	}
	return usable
}
