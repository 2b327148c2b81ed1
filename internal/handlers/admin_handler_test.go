package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/buzzcutai/backend/internal/ledger"
	"github.com/buzzcutai/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockAdminLedger struct {
	bulk       ledger.BulkResult
	report     *ledger.Report
	fix        ledger.Result
	force      ledger.Result
	err        error
	gotCredits int
	gotReason  string
}

func (m *mockAdminLedger) GrantMonthlyToAll(context.Context) (ledger.BulkResult, error) {
	return m.bulk, m.err
}
func (m *mockAdminLedger) Inspect(_ context.Context, userID string) (*ledger.Report, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.report == nil || m.report.Customer.UserID != userID {
		return nil, ledger.ErrCustomerNotFound
	}
	return m.report, nil
}
func (m *mockAdminLedger) FixDuplicateMonthly(context.Context, string) (ledger.Result, error) {
	return m.fix, m.err
}
func (m *mockAdminLedger) ForceBalance(_ context.Context, _ string, credits int, reason string) (ledger.Result, error) {
	m.gotCredits, m.gotReason = credits, reason
	return m.force, m.err
}

func adminRouter(h *AdminHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/admin/credits/monthly-grant", h.BulkMonthlyGrant)
	r.Get("/api/v1/admin/customers/{userID}", h.InspectCustomer)
	r.Post("/api/v1/admin/customers/{userID}/fix-monthly", h.FixMonthly)
	r.Post("/api/v1/admin/customers/{userID}/balance", h.SetBalance)
	return r
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestBulkMonthlyGrant(t *testing.T) {
	m := &mockAdminLedger{bulk: ledger.BulkResult{Processed: 3, Granted: 2, Errors: 1}}
	rec := serve(adminRouter(&AdminHandler{Ledger: m}), http.MethodPost, "/api/v1/admin/credits/monthly-grant", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got ledger.BulkResult
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != m.bulk {
		t.Errorf("got %+v, want %+v", got, m.bulk)
	}
}

func TestInspectCustomer(t *testing.T) {
	m := &mockAdminLedger{report: &ledger.Report{Customer: &models.Customer{UserID: "u1", Credits: 42}}}
	h := adminRouter(&AdminHandler{Ledger: m})

	if rec := serve(h, http.MethodGet, "/api/v1/admin/customers/u1", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	} else if !strings.Contains(rec.Body.String(), `"credits":42`) {
		t.Errorf("report missing balance: %s", rec.Body.String())
	}
	if rec := serve(h, http.MethodGet, "/api/v1/admin/customers/nobody", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestFixMonthly(t *testing.T) {
	cases := []struct {
		name string
		res  ledger.Result
		err  error
		want int
	}{
		{"adjusted", ledger.Result{Outcome: ledger.OutcomeAdjusted, Credits: 310, Amount: 300}, nil, http.StatusOK},
		{"unchanged", ledger.Result{Outcome: ledger.OutcomeUnchanged, Credits: 310}, nil, http.StatusOK},
		{"missing", ledger.Result{Outcome: ledger.OutcomeCustomerNotFound}, nil, http.StatusNotFound},
		{"store failure", ledger.Result{}, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &mockAdminLedger{fix: tc.res, err: tc.err}
			rec := serve(adminRouter(&AdminHandler{Ledger: m}), http.MethodPost, "/api/v1/admin/customers/u1/fix-monthly", "")
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestSetBalance(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"credits":100,"reason":"support ticket"}`, http.StatusOK},
		{"zero allowed", `{"credits":0,"reason":"abuse"}`, http.StatusOK},
		{"missing credits", `{"reason":"x"}`, http.StatusBadRequest},
		{"negative", `{"credits":-1,"reason":"x"}`, http.StatusBadRequest},
		{"missing reason", `{"credits":5}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &mockAdminLedger{force: ledger.Result{Outcome: ledger.OutcomeAdjusted}}
			rec := serve(adminRouter(&AdminHandler{Ledger: m}), http.MethodPost, "/api/v1/admin/customers/u1/balance", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	m := &mockAdminLedger{force: ledger.Result{Outcome: ledger.OutcomeAdjusted}}
	serve(adminRouter(&AdminHandler{Ledger: m}), http.MethodPost, "/api/v1/admin/customers/u1/balance", `{"credits":77,"reason":"refund"}`)
	if m.gotCredits != 77 || m.gotReason != "refund" {
		t.Errorf("ForceBalance got (%d, %q)", m.gotCredits, m.gotReason)
	}
}
