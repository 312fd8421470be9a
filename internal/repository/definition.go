package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/user-discounts/internal/domain/discount"
)

const (
	definitionColumns = `id::text, name, code, kind, value,
		COALESCE(max_uses, 0), COALESCE(max_uses_per_user, 0),
		starts_at, ends_at, active, metadata`

	getDefinitionSQL = `SELECT ` + definitionColumns + `
		FROM discounts WHERE id::text = $1`

	findDefinitionByCodeSQL = `SELECT ` + definitionColumns + `
		FROM discounts WHERE UPPER(code) = UPPER($1)`

	upsertDefinitionSQL = `INSERT INTO discounts
		(id, name, code, kind, value, max_uses, max_uses_per_user, starts_at, ends_at, active, metadata)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), NULLIF($7, 0), $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			max_uses = EXCLUDED.max_uses,
			max_uses_per_user = EXCLUDED.max_uses_per_user,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			active = EXCLUDED.active,
			metadata = EXCLUDED.metadata,
			updated_at = now()`
)

var _ discount.DefinitionStore = (*DefinitionRepository)(nil)

// DefinitionRepository implements discount.DefinitionStore backed by
// PostgreSQL.
type DefinitionRepository struct {
	q Querier
}

// NewDefinitionRepository returns a DefinitionRepository over the querier.
func NewDefinitionRepository(q Querier) *DefinitionRepository {
	return &DefinitionRepository{q: q}
}

// Get returns the definition by id, or discount.ErrDefinitionNotFound.
func (r *DefinitionRepository) Get(ctx context.Context, id string) (*discount.Definition, error) {
	return r.findOne(ctx, getDefinitionSQL, id)
}

// FindByCode looks the definition up by its unique code (case-insensitive).
func (r *DefinitionRepository) FindByCode(ctx context.Context, code string) (*discount.Definition, error) {
	return r.findOne(ctx, findDefinitionByCodeSQL, code)
}

// Upsert inserts the definition or, when its code already exists, updates
// the rule in place. Used by seeding and ingest tooling; the engine itself
// never writes definitions.
func (r *DefinitionRepository) Upsert(ctx context.Context, def *discount.Definition) error {
	var metadataJSON []byte
	if len(def.Metadata) > 0 {
		var err error
		if metadataJSON, err = json.Marshal(def.Metadata); err != nil {
			return fmt.Errorf("marshaling definition metadata: %w", err)
		}
	}

	_, err := r.q.Exec(ctx, upsertDefinitionSQL,
		def.ID, def.Name, def.Code, string(def.Kind), def.Value,
		def.MaxUses, def.MaxUsesPerUser, def.StartsAt, def.EndsAt, def.Active, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("upserting discount definition %q: %w", def.Code, err)
	}
	return nil
}

func (r *DefinitionRepository) findOne(ctx context.Context, sql, arg string) (*discount.Definition, error) {
	rows, err := r.q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding discount definition %q: %w", arg, err)
	}

	def, err := pgx.CollectExactlyOneRow(rows, scanDefinition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("finding discount definition %q: %w", arg, err)
	}
	return &def, nil
}

func scanDefinition(row pgx.CollectableRow) (discount.Definition, error) {
	var (
		def            discount.Definition
		kind           string
		maxUses        int32
		maxUsesPerUser int32
		metadata       []byte
	)
	err := row.Scan(
		&def.ID, &def.Name, &def.Code, &kind, &def.Value,
		&maxUses, &maxUsesPerUser,
		&def.StartsAt, &def.EndsAt, &def.Active, &metadata,
	)
	if err != nil {
		return def, err
	}

	def.Kind = discount.Kind(kind)
	def.MaxUses = int(maxUses)
	def.MaxUsesPerUser = int(maxUsesPerUser)
	if err := unmarshalMetadata(metadata, &def.Metadata); err != nil {
		return def, err
	}
	return def, nil
}

func unmarshalMetadata(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return nil
}
