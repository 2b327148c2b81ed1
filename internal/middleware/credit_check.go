package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/buzzcutai/backend/internal/auth"
	"github.com/buzzcutai/backend/internal/ledger"
	"github.com/buzzcutai/backend/internal/models"
)

type contextKey string

const ctxEligibilityKey contextKey = "eligibility"

// EligibilityChecker answers whether a user may start a generation.
type EligibilityChecker interface {
	EnsureCustomer(ctx context.Context, userID, email, name string) (*models.Customer, error)
	CanGenerate(ctx context.Context, userID string) (ledger.Eligibility, error)
}

// EligibilityFromCtx returns the result computed by CreditCheck, or nil.
func EligibilityFromCtx(ctx context.Context) *ledger.Eligibility {
	e, _ := ctx.Value(ctxEligibilityKey).(*ledger.Eligibility)
	return e
}

// WithEligibility returns a context carrying e.
func WithEligibility(ctx context.Context, e *ledger.Eligibility) context.Context {
	return context.WithValue(ctx, ctxEligibilityKey, e)
}

// CreditCheck rejects generation requests from users who cannot afford one
// with 402 before any work is queued. A first-time user is provisioned with
// the welcome bonus before the check. Must run after UserAuth.
func CreditCheck(checker EligibilityChecker, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := auth.UserFromCtx(r.Context())
			if u == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			if _, err := checker.EnsureCustomer(r.Context(), u.ID, u.Email, u.Name); err != nil {
				log.Error("provision customer failed", "user_id", u.ID, "error", err)
				http.Error(w, `{"error":"failed to check credits"}`, http.StatusInternalServerError)
				return
			}

			e, err := checker.CanGenerate(r.Context(), u.ID)
			if errors.Is(err, ledger.ErrCustomerNotFound) {
				http.Error(w, `{"error":"insufficient credits","credits":0}`, http.StatusPaymentRequired)
				return
			}
			if err != nil {
				log.Error("credit check failed", "user_id", u.ID, "error", err)
				http.Error(w, `{"error":"failed to check credits"}`, http.StatusInternalServerError)
				return
			}
			if !e.CanGenerate {
				http.Error(w, fmt.Sprintf(`{"error":"insufficient credits","credits":%d}`, e.Credits), http.StatusPaymentRequired)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithEligibility(r.Context(), &e)))
		})
	}
}
