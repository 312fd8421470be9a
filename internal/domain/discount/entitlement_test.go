package discount

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDefinitionActiveAt(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name string
		def  Definition
		want bool
	}{
		{
			name: "active without window",
			def:  Definition{Active: true},
			want: true,
		},
		{
			name: "inactive flag wins",
			def:  Definition{Active: false},
			want: false,
		},
		{
			name: "inside window",
			def:  Definition{Active: true, StartsAt: &past, EndsAt: &future},
			want: true,
		},
		{
			name: "not started yet",
			def:  Definition{Active: true, StartsAt: &future},
			want: false,
		},
		{
			name: "already ended",
			def:  Definition{Active: true, EndsAt: &past},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.def.ActiveAt(now))
		})
	}
}

func TestEntitlementUsableAt(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	active := Definition{ID: "d1", Kind: KindPercentage, Value: decimal.NewFromInt(10), Active: true}

	tests := []struct {
		name string
		ent  Entitlement
		want bool
	}{
		{
			name: "usable",
			ent:  Entitlement{Definition: active},
			want: true,
		},
		{
			name: "revoked",
			ent:  Entitlement{Definition: active, RevokedAt: &past},
			want: false,
		},
		{
			name: "definition inactive",
			ent:  Entitlement{Definition: Definition{Active: false}},
			want: false,
		},
		{
			name: "per-user cap reached",
			ent: Entitlement{
				Definition: Definition{Active: true, MaxUsesPerUser: 2},
				TimesUsed:  2,
			},
			want: false,
		},
		{
			name: "under per-user cap",
			ent: Entitlement{
				Definition: Definition{Active: true, MaxUsesPerUser: 2},
				TimesUsed:  1,
			},
			want: true,
		},
		{
			name: "no cap means unlimited",
			ent: Entitlement{
				Definition: active,
				TimesUsed:  9999,
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ent.UsableAt(now))
		})
	}
}

func TestEligible_PreservesOrderAndIsStable(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	entitlements := []Entitlement{
		{ID: "e1", Definition: Definition{Active: true}},
		{ID: "e2", Definition: Definition{Active: true}, RevokedAt: &past},
		{ID: "e3", Definition: Definition{Active: true}},
		{ID: "e4", Definition: Definition{Active: true, EndsAt: &past}},
	}

	first := Eligible(entitlements, now)
	second := Eligible(entitlements, now)

	ids := func(es []Entitlement) []string {
		out := make([]string, len(es))
		for i, e := range es {
			out[i] = e.ID
		}
		return out
	}

	assert.Equal(t, []string{"e1", "e3"}, ids(first))
	// Without intervening mutation the read is idempotent.
	assert.Equal(t, ids(first), ids(second))
}

func TestCalculateOn(t *testing.T) {
	base := decimal.NewFromInt(90)

	pct := Definition{Kind: KindPercentage, Value: decimal.NewFromInt(10)}
	assert.True(t, decimal.NewFromInt(9).Equal(pct.CalculateOn(base)))

	fixed := Definition{Kind: KindFixed, Value: decimal.NewFromInt(120)}
	assert.True(t, base.Equal(fixed.CalculateOn(base)), "fixed discount is capped at the base")

	unknown := Definition{Kind: Kind("mystery"), Value: decimal.NewFromInt(5)}
	assert.True(t, decimal.Zero.Equal(unknown.CalculateOn(base)))
}
