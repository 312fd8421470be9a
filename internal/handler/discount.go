package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/user-discounts/internal/domain/discount"
)

type applyRequest struct {
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

type applyResponse struct {
	OriginalAmount    decimal.Decimal         `json:"original_amount"`
	DiscountAmount    decimal.Decimal         `json:"discount_amount"`
	FinalAmount       decimal.Decimal         `json:"final_amount"`
	SavingsPercentage decimal.Decimal         `json:"savings_percentage"`
	Applied           []discount.Contribution `json:"applied_discounts"`
	AuditID           string                  `json:"audit_id"`
	TransactionID     string                  `json:"transaction_id,omitempty"`
}

type assignRequest struct {
	UserID     string `json:"user_id"`
	DiscountID string `json:"discount_id"`
}

type revokeRequest struct {
	UserID     string `json:"user_id"`
	DiscountID string `json:"discount_id"`
}

type entitlementResponse struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	DiscountID   string          `json:"discount_id"`
	DiscountName string          `json:"discount_name"`
	DiscountCode string          `json:"discount_code"`
	Kind         discount.Kind   `json:"discount_type"`
	Value        decimal.Decimal `json:"discount_value"`
	TimesUsed    int             `json:"times_used"`
	AssignedAt   time.Time       `json:"assigned_at"`
}

type auditResponse struct {
	ID             string                  `json:"id"`
	UserID         string                  `json:"user_id"`
	DiscountID     string                  `json:"discount_id,omitempty"`
	Action         discount.Action         `json:"action"`
	OriginalAmount decimal.Decimal         `json:"original_amount"`
	DiscountAmount decimal.Decimal         `json:"discount_amount"`
	FinalAmount    decimal.Decimal         `json:"final_amount"`
	Applied        []discount.Contribution `json:"applied_discounts,omitempty"`
	TransactionID  string                  `json:"transaction_id,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

type definitionResponse struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Code           string          `json:"code"`
	Kind           discount.Kind   `json:"kind"`
	Value          decimal.Decimal `json:"value"`
	MaxUses        int             `json:"max_uses,omitempty"`
	MaxUsesPerUser int             `json:"max_uses_per_user,omitempty"`
	StartsAt       *time.Time      `json:"starts_at,omitempty"`
	EndsAt         *time.Time      `json:"ends_at,omitempty"`
	Active         bool            `json:"active"`
}

// GetByCode handles GET /api/v1/discounts/code/{code}.
func (h *Handler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	def, err := h.service.DefinitionByCode(r.Context(), code)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, definitionResponse{
		ID:             def.ID,
		Name:           def.Name,
		Code:           def.Code,
		Kind:           def.Kind,
		Value:          def.Value,
		MaxUses:        def.MaxUses,
		MaxUsesPerUser: def.MaxUsesPerUser,
		StartsAt:       def.StartsAt,
		EndsAt:         def.EndsAt,
		Active:         def.Active,
	})
}

// Apply handles POST /api/v1/discounts/apply.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Apply(r.Context(), req.UserID, req.Amount, req.TransactionID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, applyResponse{
		OriginalAmount:    result.OriginalAmount,
		DiscountAmount:    result.DiscountAmount,
		FinalAmount:       result.FinalAmount,
		SavingsPercentage: result.SavingsPercentage().Round(2),
		Applied:           result.Applied,
		AuditID:           result.Audit.ID,
		TransactionID:     result.Audit.TransactionID,
	})
}

// Assign handles POST /api/v1/discounts/assign.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DiscountID == "" {
		writeError(w, http.StatusBadRequest, "discount_id required")
		return
	}

	ent, err := h.service.Assign(r.Context(), req.UserID, req.DiscountID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntitlementResponse(ent))
}

// Revoke handles POST /api/v1/discounts/revoke.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DiscountID == "" {
		writeError(w, http.StatusBadRequest, "discount_id required")
		return
	}

	if err := h.service.Revoke(r.Context(), req.UserID, req.DiscountID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListEligible handles GET /api/v1/users/{userID}/discounts.
func (h *Handler) ListEligible(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	entitlements, err := h.service.Eligible(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]entitlementResponse, len(entitlements))
	for i := range entitlements {
		out[i] = toEntitlementResponse(&entitlements[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// ListAudits handles GET /api/v1/users/{userID}/audits.
func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	records, err := h.service.History(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]auditResponse, len(records))
	for i, rec := range records {
		out[i] = auditResponse{
			ID:             rec.ID,
			UserID:         rec.UserID,
			DiscountID:     rec.DefinitionID,
			Action:         rec.Action,
			OriginalAmount: rec.OriginalAmount,
			DiscountAmount: rec.DiscountAmount,
			FinalAmount:    rec.FinalAmount,
			Applied:        rec.Applied,
			TransactionID:  rec.TransactionID,
			CreatedAt:      rec.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func toEntitlementResponse(ent *discount.Entitlement) entitlementResponse {
	return entitlementResponse{
		ID:           ent.ID,
		UserID:       ent.UserID,
		DiscountID:   ent.DefinitionID,
		DiscountName: ent.Definition.Name,
		DiscountCode: ent.Definition.Code,
		Kind:         ent.Definition.Kind,
		Value:        ent.Definition.Value,
		TimesUsed:    ent.TimesUsed,
		AssignedAt:   ent.AssignedAt,
	}
}
