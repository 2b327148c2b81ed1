package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit amounts applied by the ledger.
const (
	WelcomeBonusCredits   = 10
	DailyAllowanceCredits = 10
	GenerationCost        = 5
)

// FreeBillingIDPrefix marks creem_customer_id values that were synthesized for
// users who never went through checkout.
const FreeBillingIDPrefix = "free"

type Customer struct {
	ID                         uuid.UUID  `json:"id"`
	UserID                     string     `json:"user_id"`
	Email                      string     `json:"email"`
	Name                       string     `json:"name"`
	Credits                    int        `json:"credits"`
	CreemCustomerID            string     `json:"creem_customer_id"`
	LastCreditGrantDate        *time.Time `json:"last_credit_grant_date,omitempty"`
	LastMonthlyCreditGrantDate *time.Time `json:"last_monthly_credit_grant_date,omitempty"`
	MonthlyCreditsGranted      int        `json:"monthly_credits_granted"`
	CreatedAt                  time.Time  `json:"created_at"`
	UpdatedAt                  time.Time  `json:"updated_at"`
}
