package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/buzzcutai/backend/internal/ledger"
)

// DailyGranter is the slice of the ledger a sign-in needs.
type DailyGranter interface {
	GrantDaily(ctx context.Context, userID, email, name string) (ledger.Result, error)
}

type SessionResponse struct {
	UserID     string        `json:"user_id"`
	Email      string        `json:"email"`
	Credits    int           `json:"credits"`
	DailyGrant ledger.Result `json:"daily_grant"`
}

type Handler struct {
	ledger DailyGranter
	log    *slog.Logger
}

func NewHandler(l DailyGranter, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: l, log: log}
}

// Session is called by the frontend right after sign-in. It provisions the
// customer and applies the daily free grant when eligible.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	u := UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	res, err := h.ledger.GrantDaily(r.Context(), u.ID, u.Email, u.Name)
	if err != nil {
		h.log.Error("session daily grant failed", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"failed to start session"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(SessionResponse{
		UserID:     u.ID,
		Email:      u.Email,
		Credits:    res.Credits,
		DailyGrant: res,
	})
}
