package models

import (
	"time"

	"github.com/google/uuid"
)

// Generation status enums.
const (
	GenerationStatusPending    = "pending"
	GenerationStatusProcessing = "processing"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
)

type Generation struct {
	ID             uuid.UUID `json:"id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	InputImageURL  string    `json:"input_image_url"`
	Style          string    `json:"style"`
	OutputImageURL *string   `json:"output_image_url,omitempty"`
	CreditsCharged int       `json:"credits_charged"`
	Error          *string   `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
