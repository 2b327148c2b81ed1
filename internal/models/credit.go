package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction types stored in credits_history.type.
const (
	CreditTypeAdd      = "add"
	CreditTypeSubtract = "subtract"
)

// Descriptions used by the ledger. The reconciliation tooling matches on
// DescriptionMonthlyCredits, so keep it stable.
const (
	DescriptionWelcomeBonus   = "Welcome bonus"
	DescriptionDailyCredits   = "Daily free credits"
	DescriptionMonthlyCredits = "Monthly credits"
	DescriptionCreditPurchase = "Credit purchase"
	DescriptionGeneration     = "Buzz cut generation"
	DescriptionRefund         = "Refund for failed generation"
	DescriptionDuplicateFix   = "Removed duplicate monthly credits"
	DescriptionAdjustment     = "Manual balance adjustment"
)

// CreditTransaction is one append-only row of credits_history.
type CreditTransaction struct {
	ID           uuid.UUID      `json:"id"`
	CustomerID   uuid.UUID      `json:"customer_id"`
	Amount       int            `json:"amount"`
	Type         string         `json:"type"`
	Description  string         `json:"description"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreemOrderID *string        `json:"creem_order_id,omitempty"`
	GrantKey     *string        `json:"grant_key,omitempty"`
	BalanceAfter *int           `json:"balance_after,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Signed returns the balance delta this entry represents.
func (t *CreditTransaction) Signed() int {
	if t.Type == CreditTypeSubtract {
		return -t.Amount
	}
	return t.Amount
}
