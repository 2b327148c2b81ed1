package ledger

import "github.com/buzzcutai/backend/internal/models"

// Outcome names why a grant or debit did or did not change state.
type Outcome string

const (
	OutcomeGranted               Outcome = "granted"
	OutcomeDebited               Outcome = "debited"
	OutcomeAdjusted              Outcome = "adjusted"
	OutcomeAlreadyGranted        Outcome = "already_granted"
	OutcomeNoActiveSubscription  Outcome = "no_active_subscription"
	OutcomeHasActiveSubscription Outcome = "has_active_subscription"
	OutcomeUnknownTier           Outcome = "unknown_tier"
	OutcomeCustomerNotFound      Outcome = "customer_not_found"
	OutcomeInsufficientCredits   Outcome = "insufficient_credits"
	OutcomeUnchanged             Outcome = "unchanged"
)

// Result is returned by every ledger mutation. Store failures are reported
// through the accompanying error instead.
type Result struct {
	Outcome Outcome `json:"reason"`
	// Credits is the balance after the call.
	Credits int `json:"credits"`
	// Amount is the number of credits moved, zero when nothing changed.
	Amount int `json:"amount"`
}

// OK reports whether the call changed the balance or history.
func (r Result) OK() bool {
	switch r.Outcome {
	case OutcomeGranted, OutcomeDebited, OutcomeAdjusted:
		return true
	}
	return false
}

// Eligibility is the read-only answer to "may this user start a generation".
type Eligibility struct {
	CanGenerate  bool `json:"can_generate"`
	Credits      int  `json:"credits"`
	IsSubscribed bool `json:"is_subscribed"`
}

func eligibility(credits int, subscribed bool) Eligibility {
	return Eligibility{
		CanGenerate:  subscribed || credits >= models.GenerationCost,
		Credits:      credits,
		IsSubscribed: subscribed,
	}
}

// BulkResult summarizes a monthly sweep over all subscribers.
type BulkResult struct {
	Processed int `json:"processed"`
	Granted   int `json:"granted"`
	Errors    int `json:"errors"`
}
