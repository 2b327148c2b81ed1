package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/buzzcutai/backend/internal/auth"
	"github.com/buzzcutai/backend/internal/ledger"
	"github.com/buzzcutai/backend/internal/models"
)

// Ledger is the part of the credits ledger the dashboard reads and triggers.
type Ledger interface {
	EnsureCustomer(ctx context.Context, userID, email, name string) (*models.Customer, error)
	CanGenerate(ctx context.Context, userID string) (ledger.Eligibility, error)
	ListHistory(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error)
	GrantDaily(ctx context.Context, userID, email, name string) (ledger.Result, error)
	GrantMonthly(ctx context.Context, userID, email string) (ledger.Result, error)
}

type CreditsResponse struct {
	Credits      int  `json:"credits"`
	IsSubscribed bool `json:"is_subscribed"`
	CanGenerate  bool `json:"can_generate"`
}

type GrantResponse struct {
	Granted bool           `json:"granted"`
	Reason  ledger.Outcome `json:"reason"`
	Credits int            `json:"credits"`
	Amount  int            `json:"amount,omitempty"`
}

type Handler struct {
	ledger Ledger
	log    *slog.Logger
}

func NewHandler(l Ledger, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: l, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func grantResponse(res ledger.Result) GrantResponse {
	return GrantResponse{Granted: res.OK(), Reason: res.Outcome, Credits: res.Credits, Amount: res.Amount}
}

// GET /api/v1/credits
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if _, err := h.ledger.EnsureCustomer(r.Context(), u.ID, u.Email, u.Name); err != nil {
		h.log.Error("ensure customer", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"failed to load credits"}`, http.StatusInternalServerError)
		return
	}
	e, err := h.ledger.CanGenerate(r.Context(), u.ID)
	if err != nil {
		h.log.Error("load credits", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"failed to load credits"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, CreditsResponse{Credits: e.Credits, IsSubscribed: e.IsSubscribed, CanGenerate: e.CanGenerate})
}

// GET /api/v1/credits/history?limit=N
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.ledger.ListHistory(r.Context(), u.ID, limit)
	if errors.Is(err, ledger.ErrCustomerNotFound) {
		http.Error(w, `{"error":"customer not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("list credit history", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /api/v1/credits/daily-grant
func (h *Handler) DailyGrant(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	res, err := h.ledger.GrantDaily(r.Context(), u.ID, u.Email, u.Name)
	if err != nil {
		h.log.Error("daily grant", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"daily grant failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse(res))
}

// POST /api/v1/credits/monthly-grant
func (h *Handler) MonthlyGrant(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	res, err := h.ledger.GrantMonthly(r.Context(), u.ID, u.Email)
	if err != nil {
		h.log.Error("monthly grant", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"monthly grant failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse(res))
}
