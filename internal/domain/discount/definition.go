package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes a percentage of the amount it is applied to.
	KindPercentage Kind = "percentage"
	// KindFixed takes a fixed monetary amount, capped at the amount it is
	// applied to.
	KindFixed Kind = "fixed"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Definition describes a promotional rule independent of any user.
// Definitions are created and edited by administrative tooling; the engine
// only reads them.
type Definition struct {
	ID   string
	Name string
	// Code uniquely identifies the definition for tooling (seeding, bulk
	// assignment). The engine itself operates on already-assigned
	// entitlements and never looks codes up during apply.
	Code  string
	Kind  Kind
	Value decimal.Decimal
	// MaxUses bounds total uses across all users. Zero means unlimited.
	MaxUses int
	// MaxUsesPerUser bounds uses per entitlement. Zero means unlimited.
	MaxUsesPerUser int
	StartsAt       *time.Time
	EndsAt         *time.Time
	Active         bool
	Metadata       map[string]any
}

// ActiveAt reports whether the definition is usable in principle at the
// given time: flagged active and inside its validity window.
func (d *Definition) ActiveAt(now time.Time) bool {
	if !d.Active {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return false
	}
	return true
}

// CalculateOn returns the raw (unrounded) discount this definition takes
// from the given base amount. Unknown kinds contribute nothing.
func (d *Definition) CalculateOn(base decimal.Decimal) decimal.Decimal {
	switch d.Kind {
	case KindPercentage:
		return base.Mul(d.Value).Div(hundred)
	case KindFixed:
		return decimal.Min(d.Value, base)
	default:
		return zero
	}
}
