package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/user-discounts/internal/domain/discount"
)

// Handler exposes the discount service over JSON HTTP.
type Handler struct {
	service *discount.Service
}

// New constructs a Handler around the service.
func New(service *discount.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router with all discount endpoints registered.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/discounts/apply", h.Apply)
		r.Post("/discounts/assign", h.Assign)
		r.Post("/discounts/revoke", h.Revoke)
		r.Get("/discounts/code/{code}", h.GetByCode)

		r.Get("/users/{userID}/discounts", h.ListEligible)
		r.Get("/users/{userID}/audits", h.ListAudits)
	})

	return r
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeDomainError maps domain sentinel errors onto HTTP statuses. Anything
// unrecognized is logged and reported as a 500 without leaking internals.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, discount.ErrEmptyUser),
		errors.Is(err, discount.ErrNegativeAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, discount.ErrNotFound),
		errors.Is(err, discount.ErrDefinitionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, discount.ErrDuplicateAssignment):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, discount.ErrConflictExhausted):
		writeError(w, http.StatusConflict, "too much contention, retry the request")
	default:
		zctx.From(r.Context()).Error("Handling request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
