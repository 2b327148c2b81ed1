package webhook

import (
	"bytes"
	"encoding/json"
	"time"
)

// Event types the handler acts on. Anything else is acknowledged and ignored.
const (
	EventCheckoutCompleted     = "checkout.completed"
	EventSubscriptionActive    = "subscription.active"
	EventSubscriptionPaid      = "subscription.paid"
	EventSubscriptionTrialing  = "subscription.trialing"
	EventSubscriptionUpdate    = "subscription.update"
	EventSubscriptionCanceled  = "subscription.canceled"
	EventSubscriptionExpired   = "subscription.expired"
	EventSubscriptionScheduled = "subscription.scheduled_cancel"
)

// Event is the envelope of every Creem delivery.
type Event struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Object    json.RawMessage `json:"object"`
}

// Ref is a product or customer reference. Creem sends either a bare id or an
// expanded object.
type Ref struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	type plain Ref
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = Ref(p)
	return nil
}

type SubscriptionObject struct {
	ID                 string         `json:"id"`
	Status             string         `json:"status"`
	Product            Ref            `json:"product"`
	Customer           Ref            `json:"customer"`
	CurrentPeriodStart *time.Time     `json:"current_period_start_date"`
	CurrentPeriodEnd   *time.Time     `json:"current_period_end_date"`
	CanceledAt         *time.Time     `json:"canceled_at"`
	Metadata           map[string]any `json:"metadata"`
}

type Order struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Product Ref    `json:"product"`
}

type CheckoutObject struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	Order        *Order              `json:"order"`
	Product      Ref                 `json:"product"`
	Customer     Ref                 `json:"customer"`
	Subscription *SubscriptionObject `json:"subscription"`
	Metadata     map[string]any      `json:"metadata"`
}

// metadataUserID returns the user id placed in checkout metadata by the frontend.
func metadataUserID(md map[string]any) string {
	if md == nil {
		return ""
	}
	for _, k := range []string{"user_id", "userId"} {
		if v, ok := md[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
