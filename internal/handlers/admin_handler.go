package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/buzzcutai/backend/internal/ledger"
)

// AdminLedger is the subset of the ledger exposed to operators.
type AdminLedger interface {
	GrantMonthlyToAll(ctx context.Context) (ledger.BulkResult, error)
	Inspect(ctx context.Context, userID string) (*ledger.Report, error)
	FixDuplicateMonthly(ctx context.Context, userID string) (ledger.Result, error)
	ForceBalance(ctx context.Context, userID string, credits int, reason string) (ledger.Result, error)
}

// AdminHandler serves /api/v1/admin endpoints. Routes are expected behind AdminAuth.
type AdminHandler struct {
	Ledger AdminLedger
	Logger *slog.Logger
}

func (h *AdminHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- POST /api/v1/admin/credits/monthly-grant ---

// BulkMonthlyGrant runs the monthly grant for every subscribed customer.
// Per-customer failures are counted in the response, not returned as errors.
func (h *AdminHandler) BulkMonthlyGrant(w http.ResponseWriter, r *http.Request) {
	res, err := h.Ledger.GrantMonthlyToAll(r.Context())
	if err != nil {
		h.logger().Error("bulk monthly grant", "error", err)
		http.Error(w, `{"error":"bulk monthly grant failed"}`, http.StatusInternalServerError)
		return
	}
	h.logger().Info("bulk monthly grant", "processed", res.Processed, "granted", res.Granted, "errors", res.Errors)
	writeJSON(w, http.StatusOK, res)
}

// --- GET /api/v1/admin/customers/{userID} ---

func (h *AdminHandler) InspectCustomer(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	report, err := h.Ledger.Inspect(r.Context(), userID)
	if errors.Is(err, ledger.ErrCustomerNotFound) {
		http.Error(w, `{"error":"customer not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger().Error("inspect customer", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- POST /api/v1/admin/customers/{userID}/fix-monthly ---

func (h *AdminHandler) FixMonthly(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	res, err := h.Ledger.FixDuplicateMonthly(r.Context(), userID)
	h.writeResult(w, userID, "fix monthly", res, err)
}

// --- POST /api/v1/admin/customers/{userID}/balance ---

type setBalanceRequest struct {
	Credits *int   `json:"credits"`
	Reason  string `json:"reason"`
}

func (h *AdminHandler) SetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req setBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Credits == nil || *req.Credits < 0 {
		http.Error(w, `{"error":"credits must be a non-negative integer"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		http.Error(w, `{"error":"reason is required"}`, http.StatusBadRequest)
		return
	}
	res, err := h.Ledger.ForceBalance(r.Context(), userID, *req.Credits, req.Reason)
	h.writeResult(w, userID, "set balance", res, err)
}

func (h *AdminHandler) writeResult(w http.ResponseWriter, userID, op string, res ledger.Result, err error) {
	if errors.Is(err, ledger.ErrInvalidAmount) {
		http.Error(w, `{"error":"invalid amount"}`, http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger().Error(op, "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if res.Outcome == ledger.OutcomeCustomerNotFound {
		http.Error(w, `{"error":"customer not found"}`, http.StatusNotFound)
		return
	}
	h.logger().Info(op, "user_id", userID, "reason", res.Outcome, "credits", res.Credits, "amount", res.Amount)
	writeJSON(w, http.StatusOK, res)
}
