package discount

import "github.com/shopspring/decimal"

// Policy controls how multiple entitlements stack against one amount.
// It is built once from configuration and passed in explicitly; the engine
// never reads ambient state.
type Policy struct {
	// Order lists discount kinds in application precedence. Kinds absent
	// from the list are never applied.
	Order []Kind
	// MaxPercentageCap bounds the total percentage-kind discount, expressed
	// as a percentage of the original amount. Zero disables the cap.
	MaxPercentageCap decimal.Decimal
	// Rounding is the number of decimal places each contribution is rounded
	// to before it is recorded and subtracted.
	Rounding int32
}

// DefaultPolicy applies percentage discounts before fixed ones, caps total
// percentage discount at 80% of the original amount, and rounds to cents.
func DefaultPolicy() Policy {
	return Policy{
		Order:            []Kind{KindPercentage, KindFixed},
		MaxPercentageCap: decimal.NewFromInt(80),
		Rounding:         2,
	}
}

// Contribution records the amount one entitlement subtracted during a single
// stacking pass. The JSON field names match the audit ledger's breakdown
// payload.
type Contribution struct {
	EntitlementID string          `json:"user_discount_id"`
	DefinitionID  string          `json:"discount_id"`
	Name          string          `json:"discount_name"`
	Kind          Kind            `json:"discount_type"`
	Value         decimal.Decimal `json:"discount_value"`
	Amount        decimal.Decimal `json:"discount_amount"`
}

// Stack applies the eligible entitlements against amount in policy order and
// returns the recorded contributions plus their sum.
//
// Entitlements are partitioned by kind following policy.Order; within a kind
// the input order is preserved, so the outcome is deterministic for a fixed
// policy regardless of how entitlements are interleaved on input. Each
// percentage contribution is computed on the remaining amount, accumulated
// against the cap ceiling (cap% of the original amount), clamped so the
// accumulated total never exceeds the ceiling, rounded, and subtracted.
// Contributions that round to zero are dropped, never recorded.
//
// Stack is pure computation: it performs no I/O and rejects nothing. The
// caller validates the amount before invoking it.
func Stack(amount decimal.Decimal, eligible []Entitlement, policy Policy) ([]Contribution, decimal.Decimal) {
	var (
		remaining    = amount
		total        = zero
		percentAccum = zero
		capCeiling   decimal.Decimal
	)

	capped := policy.MaxPercentageCap.IsPositive()
	if capped {
		capCeiling = amount.Mul(policy.MaxPercentageCap).Div(hundred)
	}

	var applied []Contribution
	for _, kind := range policy.Order {
		for i := range eligible {
			ent := &eligible[i]
			if ent.Definition.Kind != kind {
				continue
			}

			raw := ent.Definition.CalculateOn(remaining)

			if kind == KindPercentage {
				percentAccum = percentAccum.Add(raw)
				if capped && percentAccum.GreaterThan(capCeiling) {
					// Clamp so the accumulated percentage discount lands
					// exactly on the ceiling. Earlier contributions may have
					// consumed the whole budget already, hence the floor.
					raw = capCeiling.Sub(percentAccum.Sub(raw))
					if raw.IsNegative() {
						raw = zero
					}
				}
			}

			contribution := raw.Round(policy.Rounding)
			if !contribution.IsPositive() {
				continue
			}

			applied = append(applied, Contribution{
				EntitlementID: ent.ID,
				DefinitionID:  ent.Definition.ID,
				Name:          ent.Definition.Name,
				Kind:          kind,
				Value:         ent.Definition.Value,
				Amount:        contribution,
			})

			remaining = remaining.Sub(contribution)
			if remaining.IsNegative() {
				remaining = zero
			}
			total = total.Add(contribution)
		}
	}

	return applied, total
}
