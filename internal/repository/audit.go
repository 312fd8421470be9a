package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/user-discounts/internal/domain/discount"
)

const (
	insertAuditSQL = `INSERT INTO discount_audits
		(id, user_id, discount_id, action, original_amount, discount_amount, final_amount,
		 applied_discounts, transaction_id, metadata, created_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`

	listAuditsByUserSQL = `SELECT id::text, user_id, COALESCE(discount_id::text, ''), action,
		original_amount, discount_amount, final_amount,
		applied_discounts, COALESCE(transaction_id, ''), metadata, created_at
		FROM discount_audits
		WHERE user_id = $1
		ORDER BY created_at DESC, id`
)

var _ discount.AuditStore = (*AuditRepository)(nil)

// AuditRepository implements discount.AuditStore backed by PostgreSQL. The
// ledger is insert-only; nothing here updates or deletes.
type AuditRepository struct {
	q Querier
}

// NewAuditRepository returns an AuditRepository over the querier.
func NewAuditRepository(q Querier) *AuditRepository {
	return &AuditRepository{q: q}
}

// Append persists the record, assigning its ID and CreatedAt.
func (r *AuditRepository) Append(ctx context.Context, rec *discount.AuditRecord) error {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	var appliedJSON []byte
	if len(rec.Applied) > 0 {
		var err error
		if appliedJSON, err = json.Marshal(rec.Applied); err != nil {
			return fmt.Errorf("marshaling applied discounts: %w", err)
		}
	}

	var metadataJSON []byte
	if len(rec.Metadata) > 0 {
		var err error
		if metadataJSON, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("marshaling audit metadata: %w", err)
		}
	}

	_, err := r.q.Exec(ctx, insertAuditSQL,
		rec.ID, rec.UserID, rec.DefinitionID, string(rec.Action),
		rec.OriginalAmount, rec.DiscountAmount, rec.FinalAmount,
		appliedJSON, rec.TransactionID, metadataJSON, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending audit record %q: %w", rec.ID, err)
	}
	return nil
}

// ListByUser returns the user's audit records, newest first.
func (r *AuditRepository) ListByUser(ctx context.Context, userID string) ([]discount.AuditRecord, error) {
	rows, err := r.q.Query(ctx, listAuditsByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing audit records for user %q: %w", userID, err)
	}

	records, err := pgx.CollectRows(rows, scanAuditRecord)
	if err != nil {
		return nil, fmt.Errorf("listing audit records for user %q: %w", userID, err)
	}
	return records, nil
}

func scanAuditRecord(row pgx.CollectableRow) (discount.AuditRecord, error) {
	var (
		rec      discount.AuditRecord
		action   string
		applied  []byte
		metadata []byte
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.DefinitionID, &action,
		&rec.OriginalAmount, &rec.DiscountAmount, &rec.FinalAmount,
		&applied, &rec.TransactionID, &metadata, &rec.CreatedAt,
	)
	if err != nil {
		return rec, err
	}

	rec.Action = discount.Action(action)
	if len(applied) > 0 {
		if err := json.Unmarshal(applied, &rec.Applied); err != nil {
			return rec, fmt.Errorf("unmarshaling applied discounts: %w", err)
		}
	}
	if err := unmarshalMetadata(metadata, &rec.Metadata); err != nil {
		return rec, err
	}
	return rec, nil
}
