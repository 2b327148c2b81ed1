package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Subscription status values reported by the payment provider. The set is
// open: unknown strings are stored as-is.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
	SubscriptionStatusPaid     = "paid"
)

type Subscription struct {
	ID                  uuid.UUID       `json:"id"`
	CustomerID          uuid.UUID       `json:"customer_id"`
	CreemSubscriptionID string          `json:"creem_subscription_id"`
	CreemProductID      string          `json:"creem_product_id"`
	Status              string          `json:"status"`
	CurrentPeriodStart  *time.Time      `json:"current_period_start,omitempty"`
	CurrentPeriodEnd    *time.Time      `json:"current_period_end,omitempty"`
	CanceledAt          *time.Time      `json:"canceled_at,omitempty"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsActiveStatus reports whether status entitles the customer to subscriber
// treatment.
func IsActiveStatus(status string) bool {
	return status == SubscriptionStatusActive || status == SubscriptionStatusTrialing
}
