package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/user-discounts/internal/domain/discount"
)

const (
	entitlementColumns = `ud.id::text, ud.user_id, ud.discount_id::text, ud.times_used, ud.assigned_at, ud.revoked_at,
		d.name, d.code, d.kind, d.value, COALESCE(d.max_uses, 0), COALESCE(d.max_uses_per_user, 0),
		d.starts_at, d.ends_at, d.active, d.metadata`

	listEntitlementsByUserSQL = `SELECT ` + entitlementColumns + `
		FROM user_discounts ud
		JOIN discounts d ON d.id = ud.discount_id
		WHERE ud.user_id = $1
		ORDER BY ud.assigned_at, ud.id`

	findActiveEntitlementSQL = `SELECT ` + entitlementColumns + `
		FROM user_discounts ud
		JOIN discounts d ON d.id = ud.discount_id
		WHERE ud.user_id = $1 AND ud.discount_id::text = $2 AND ud.revoked_at IS NULL`

	createEntitlementSQL = `INSERT INTO user_discounts (id, user_id, discount_id, times_used, assigned_at)
		VALUES ($1, $2, $3, $4, $5)`

	incrementUsageSQL = `UPDATE user_discounts ud SET times_used = ud.times_used + 1
		FROM discounts d
		WHERE ud.id::text = $1
		  AND ud.times_used = $2
		  AND ud.revoked_at IS NULL
		  AND d.id = ud.discount_id
		  AND (COALESCE(d.max_uses_per_user, 0) = 0 OR ud.times_used < d.max_uses_per_user)`

	markRevokedSQL = `UPDATE user_discounts SET revoked_at = $2
		WHERE id::text = $1 AND revoked_at IS NULL`
)

var _ discount.EntitlementStore = (*EntitlementRepository)(nil)

// EntitlementRepository implements discount.EntitlementStore backed by
// PostgreSQL.
type EntitlementRepository struct {
	q Querier
}

// NewEntitlementRepository returns an EntitlementRepository over the querier.
func NewEntitlementRepository(q Querier) *EntitlementRepository {
	return &EntitlementRepository{q: q}
}

// ListByUser returns all of the user's entitlements in assignment order,
// revoked ones included, each with its definition embedded.
func (r *EntitlementRepository) ListByUser(ctx context.Context, userID string) ([]discount.Entitlement, error) {
	rows, err := r.q.Query(ctx, listEntitlementsByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing entitlements for user %q: %w", userID, err)
	}

	entitlements, err := pgx.CollectRows(rows, scanEntitlement)
	if err != nil {
		return nil, fmt.Errorf("listing entitlements for user %q: %w", userID, err)
	}
	return entitlements, nil
}

// FindActive returns the single non-revoked entitlement for the pair, or
// discount.ErrNotFound.
func (r *EntitlementRepository) FindActive(ctx context.Context, userID, definitionID string) (*discount.Entitlement, error) {
	rows, err := r.q.Query(ctx, findActiveEntitlementSQL, userID, definitionID)
	if err != nil {
		return nil, fmt.Errorf("finding active entitlement for user %q: %w", userID, err)
	}

	ent, err := pgx.CollectExactlyOneRow(rows, scanEntitlement)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding active entitlement for user %q: %w", userID, err)
	}
	return &ent, nil
}

// Create persists a new entitlement. The partial unique index on active
// (user, discount) pairs turns a racing duplicate into
// discount.ErrDuplicateAssignment.
func (r *EntitlementRepository) Create(ctx context.Context, ent *discount.Entitlement) error {
	_, err := r.q.Exec(ctx, createEntitlementSQL,
		ent.ID, ent.UserID, ent.DefinitionID, ent.TimesUsed, ent.AssignedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return discount.ErrDuplicateAssignment
		}
		return fmt.Errorf("creating entitlement %q: %w", ent.ID, err)
	}
	return nil
}

// IncrementUsage adds one use, conditioned on the counter still holding
// expectedUses and the per-user cap not being exceeded. Zero affected rows
// means another writer got there first: discount.ErrConflict.
func (r *EntitlementRepository) IncrementUsage(ctx context.Context, entitlementID string, expectedUses int) error {
	tag, err := r.q.Exec(ctx, incrementUsageSQL, entitlementID, expectedUses)
	if err != nil {
		return fmt.Errorf("incrementing usage for entitlement %q: %w", entitlementID, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrConflict
	}
	return nil
}

// MarkRevoked stamps the revocation time on an active entitlement. Zero
// affected rows means it is missing or already revoked.
func (r *EntitlementRepository) MarkRevoked(ctx context.Context, entitlementID string, at time.Time) error {
	tag, err := r.q.Exec(ctx, markRevokedSQL, entitlementID, at)
	if err != nil {
		return fmt.Errorf("revoking entitlement %q: %w", entitlementID, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func scanEntitlement(row pgx.CollectableRow) (discount.Entitlement, error) {
	var (
		ent            discount.Entitlement
		timesUsed      int32
		kind           string
		maxUses        int32
		maxUsesPerUser int32
		metadata       []byte
	)
	err := row.Scan(
		&ent.ID, &ent.UserID, &ent.DefinitionID, &timesUsed, &ent.AssignedAt, &ent.RevokedAt,
		&ent.Definition.Name, &ent.Definition.Code, &kind, &ent.Definition.Value,
		&maxUses, &maxUsesPerUser,
		&ent.Definition.StartsAt, &ent.Definition.EndsAt, &ent.Definition.Active, &metadata,
	)
	if err != nil {
		return ent, err
	}

	ent.TimesUsed = int(timesUsed)
	ent.Definition.ID = ent.DefinitionID
	ent.Definition.Kind = discount.Kind(kind)
	ent.Definition.MaxUses = int(maxUses)
	ent.Definition.MaxUsesPerUser = int(maxUsesPerUser)
	if err := unmarshalMetadata(metadata, &ent.Definition.Metadata); err != nil {
		return ent, err
	}
	return ent, nil
}
