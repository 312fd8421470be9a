package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/user-discounts/internal/domain/discount"
)

// stubStores is a minimal in-memory backend for handler tests. It implements
// all three store interfaces through one struct plus adapters and runs atomic
// bodies directly, without retries.
type stubStores struct {
	definitions  map[string]discount.Definition
	entitlements []*discount.Entitlement
	audits       []discount.AuditRecord
}

func newStubStores() *stubStores {
	return &stubStores{definitions: make(map[string]discount.Definition)}
}

type stubEntitlements struct{ s *stubStores }

func (a stubEntitlements) ListByUser(_ context.Context, userID string) ([]discount.Entitlement, error) {
	var out []discount.Entitlement
	for _, ent := range a.s.entitlements {
		if ent.UserID == userID {
			copied := *ent
			copied.Definition = a.s.definitions[ent.DefinitionID]
			out = append(out, copied)
		}
	}
	return out, nil
}

func (a stubEntitlements) FindActive(_ context.Context, userID, definitionID string) (*discount.Entitlement, error) {
	for _, ent := range a.s.entitlements {
		if ent.UserID == userID && ent.DefinitionID == definitionID && ent.RevokedAt == nil {
			copied := *ent
			copied.Definition = a.s.definitions[ent.DefinitionID]
			return &copied, nil
		}
	}
	return nil, discount.ErrNotFound
}

func (a stubEntitlements) Create(_ context.Context, ent *discount.Entitlement) error {
	copied := *ent
	a.s.entitlements = append(a.s.entitlements, &copied)
	return nil
}

func (a stubEntitlements) IncrementUsage(_ context.Context, entitlementID string, expectedUses int) error {
	for _, ent := range a.s.entitlements {
		if ent.ID == entitlementID && ent.TimesUsed == expectedUses {
			ent.TimesUsed++
			return nil
		}
	}
	return discount.ErrConflict
}

func (a stubEntitlements) MarkRevoked(_ context.Context, entitlementID string, at time.Time) error {
	for _, ent := range a.s.entitlements {
		if ent.ID == entitlementID && ent.RevokedAt == nil {
			ent.RevokedAt = &at
			return nil
		}
	}
	return discount.ErrNotFound
}

type stubDefinitions struct{ s *stubStores }

func (a stubDefinitions) Get(_ context.Context, id string) (*discount.Definition, error) {
	def, ok := a.s.definitions[id]
	if !ok {
		return nil, discount.ErrDefinitionNotFound
	}
	return &def, nil
}

func (a stubDefinitions) FindByCode(_ context.Context, code string) (*discount.Definition, error) {
	for _, def := range a.s.definitions {
		if def.Code == code {
			return &def, nil
		}
	}
	return nil, discount.ErrDefinitionNotFound
}

type stubAudits struct{ s *stubStores }

func (a stubAudits) Append(_ context.Context, rec *discount.AuditRecord) error {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now()
	a.s.audits = append(a.s.audits, *rec)
	return nil
}

func (a stubAudits) ListByUser(_ context.Context, userID string) ([]discount.AuditRecord, error) {
	var out []discount.AuditRecord
	for i := len(a.s.audits) - 1; i >= 0; i-- {
		if a.s.audits[i].UserID == userID {
			out = append(out, a.s.audits[i])
		}
	}
	return out, nil
}

type passthroughAtomic struct{ stores discount.Stores }

func (a passthroughAtomic) Run(ctx context.Context, fn func(ctx context.Context, s discount.Stores) error) error {
	return fn(ctx, a.stores)
}

func newTestServer(t *testing.T) (*httptest.Server, *stubStores) {
	t.Helper()

	backend := newStubStores()
	stores := discount.Stores{
		Entitlements: stubEntitlements{backend},
		Definitions:  stubDefinitions{backend},
		Audits:       stubAudits{backend},
	}
	svc := discount.NewService(stores, passthroughAtomic{stores}, discount.DefaultPolicy(), nil)

	srv := httptest.NewServer(New(svc).Routes())
	t.Cleanup(srv.Close)
	return srv, backend
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func seedDefinition(s *stubStores, id string, kind discount.Kind, value int64) {
	s.definitions[id] = discount.Definition{
		ID:     id,
		Name:   "test discount",
		Code:   "CODE-" + id,
		Kind:   kind,
		Value:  decimal.NewFromInt(value),
		Active: true,
	}
}

func TestAssignApplyFlow(t *testing.T) {
	srv, backend := newTestServer(t)
	seedDefinition(backend, "d1", discount.KindPercentage, 10)

	resp := postJSON(t, srv.URL+"/api/v1/discounts/assign", `{"user_id":"u1","discount_id":"d1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ent entitlementResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ent))
	assert.NotEmpty(t, ent.ID)
	assert.Equal(t, "d1", ent.DiscountID)

	resp = postJSON(t, srv.URL+"/api/v1/discounts/apply", `{"user_id":"u1","amount":"100","transaction_id":"txn-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result applyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, decimal.NewFromInt(10).Equal(result.DiscountAmount))
	assert.True(t, decimal.NewFromInt(90).Equal(result.FinalAmount))
	assert.Equal(t, "txn-1", result.TransactionID)
	require.Len(t, result.Applied, 1)
	assert.Equal(t, ent.ID, result.Applied[0].EntitlementID)
}

func TestApply_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/discounts/apply", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/discounts/apply", `{"user_id":"","amount":"100"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/discounts/apply", `{"user_id":"u1","amount":"-5"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAssign_Errors(t *testing.T) {
	srv, backend := newTestServer(t)
	seedDefinition(backend, "d1", discount.KindFixed, 5)

	resp := postJSON(t, srv.URL+"/api/v1/discounts/assign", `{"user_id":"u1","discount_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/discounts/assign", `{"user_id":"u1","discount_id":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/discounts/assign", `{"user_id":"u1","discount_id":"d1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/discounts/assign", `{"user_id":"u1","discount_id":"d1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRevoke(t *testing.T) {
	srv, backend := newTestServer(t)
	seedDefinition(backend, "d1", discount.KindPercentage, 10)

	resp := postJSON(t, srv.URL+"/api/v1/discounts/assign", `{"user_id":"u1","discount_id":"d1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/discounts/revoke", `{"user_id":"u1","discount_id":"d1"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/discounts/revoke", `{"user_id":"u1","discount_id":"d1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetByCode(t *testing.T) {
	srv, backend := newTestServer(t)
	seedDefinition(backend, "d1", discount.KindPercentage, 10)

	resp := getJSON(t, srv.URL+"/api/v1/discounts/code/CODE-d1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var def definitionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&def))
	assert.Equal(t, "d1", def.ID)
	assert.Equal(t, discount.KindPercentage, def.Kind)

	resp = getJSON(t, srv.URL+"/api/v1/discounts/code/NOPE")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEligibleAndAudits(t *testing.T) {
	srv, backend := newTestServer(t)
	seedDefinition(backend, "d1", discount.KindPercentage, 10)

	resp := postJSON(t, srv.URL+"/api/v1/discounts/assign", `{"user_id":"u1","discount_id":"d1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/api/v1/users/u1/discounts")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entitlements []entitlementResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entitlements))
	require.Len(t, entitlements, 1)
	assert.Equal(t, "d1", entitlements[0].DiscountID)

	resp = getJSON(t, srv.URL+"/api/v1/users/u1/audits")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var audits []auditResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&audits))
	require.Len(t, audits, 1)
	assert.Equal(t, discount.ActionAssigned, audits[0].Action)

	// Unknown users simply have nothing, not an error.
	resp = getJSON(t, srv.URL+"/api/v1/users/ghost/discounts")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
