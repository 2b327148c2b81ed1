// Package webhook receives Creem payment events and turns them into
// subscription updates and ledger grants.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/buzzcutai/backend/internal/billing"
	"github.com/buzzcutai/backend/internal/ledger"
	"github.com/buzzcutai/backend/internal/metrics"
	"github.com/buzzcutai/backend/internal/models"
	"github.com/buzzcutai/backend/internal/services"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "creem-signature"

const maxBodyBytes = 1 << 20

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	errUnresolvedUser   = errors.New("cannot resolve user for event")
)

// Ledger is the set of ledger operations webhooks may trigger.
type Ledger interface {
	EnsureCustomer(ctx context.Context, userID, email, name string) (*models.Customer, error)
	GrantMonthly(ctx context.Context, userID, email string) (ledger.Result, error)
	PurchaseCredits(ctx context.Context, userID, email string, pack *billing.CreditPack, orderID string) (ledger.Result, error)
}

type CustomerStore interface {
	GetByCreemCustomerID(ctx context.Context, creemCustomerID string) (*models.Customer, error)
	UpdateCreemCustomerID(ctx context.Context, id uuid.UUID, creemCustomerID string) error
}

type SubscriptionStore interface {
	Upsert(ctx context.Context, s *models.Subscription) error
}

type EventValidator interface {
	Validate(name string, data []byte) error
}

type Handler struct {
	secret        []byte
	ledger        Ledger
	customers     CustomerStore
	subscriptions SubscriptionStore
	validator     EventValidator
	log           *slog.Logger
}

func NewHandler(secret string, l Ledger, customers CustomerStore, subs SubscriptionStore, v EventValidator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		secret:        []byte(secret),
		ledger:        l,
		customers:     customers,
		subscriptions: subs,
		validator:     v,
		log:           log,
	}
}

// VerifySignature checks signature against the HMAC-SHA256 of body.
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// ServeHTTP handles POST /api/v1/webhooks/creem. Store failures return 500 so
// Creem redelivers; grants are keyed, so redelivery is safe.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if err := VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)); err != nil {
		h.log.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}
	if err := h.validator.Validate(services.SchemaCreemEvent, body); err != nil {
		h.log.Warn("webhook payload rejected", "error", err)
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid").Inc()
		http.Error(w, `{"error":"invalid event"}`, http.StatusBadRequest)
		return
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	result, err := h.dispatch(r.Context(), ev)
	if err != nil {
		h.log.Error("webhook processing failed", "event_id", ev.ID, "event_type", ev.EventType, "error", err)
		metrics.WebhookEvents.WithLabelValues(ev.EventType, "error").Inc()
		http.Error(w, `{"error":"processing failed"}`, http.StatusInternalServerError)
		return
	}
	metrics.WebhookEvents.WithLabelValues(ev.EventType, result).Inc()
	h.log.Info("webhook processed", "event_id", ev.ID, "event_type", ev.EventType, "result", result)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"received": true, "result": result})
}

// dispatch returns a short result label for logs and metrics.
func (h *Handler) dispatch(ctx context.Context, ev Event) (string, error) {
	switch ev.EventType {
	case EventSubscriptionActive:
		return h.handleSubscription(ctx, ev, true)
	case EventSubscriptionPaid, EventSubscriptionTrialing, EventSubscriptionUpdate,
		EventSubscriptionCanceled, EventSubscriptionExpired, EventSubscriptionScheduled:
		// Renewals are granted by the periodic sweep, never inline.
		return h.handleSubscription(ctx, ev, false)
	case EventCheckoutCompleted:
		return h.handleCheckout(ctx, ev)
	default:
		return "ignored", nil
	}
}

func (h *Handler) handleSubscription(ctx context.Context, ev Event, grant bool) (string, error) {
	var sub SubscriptionObject
	if err := json.Unmarshal(ev.Object, &sub); err != nil {
		return "", fmt.Errorf("decode subscription: %w", err)
	}
	if sub.ID == "" {
		return "ignored", nil
	}
	c, err := h.resolveCustomer(ctx, sub.Metadata, sub.Customer)
	if errors.Is(err, errUnresolvedUser) {
		h.log.Warn("webhook user unresolved", "event_id", ev.ID, "subscription_id", sub.ID)
		return "unresolved", nil
	}
	if err != nil {
		return "", err
	}
	status := sub.Status
	if status == "" {
		status = statusForEvent(ev.EventType)
	}
	if err := h.upsertSubscription(ctx, c.ID, &sub, status); err != nil {
		return "", err
	}
	if !grant {
		return "updated", nil
	}
	res, err := h.ledger.GrantMonthly(ctx, c.UserID, c.Email)
	if err != nil {
		return "", fmt.Errorf("monthly grant: %w", err)
	}
	return string(res.Outcome), nil
}

func (h *Handler) handleCheckout(ctx context.Context, ev Event) (string, error) {
	var co CheckoutObject
	if err := json.Unmarshal(ev.Object, &co); err != nil {
		return "", fmt.Errorf("decode checkout: %w", err)
	}
	c, err := h.resolveCustomer(ctx, co.Metadata, co.Customer)
	if errors.Is(err, errUnresolvedUser) {
		h.log.Warn("webhook user unresolved", "event_id", ev.ID, "checkout_id", co.ID)
		return "unresolved", nil
	}
	if err != nil {
		return "", err
	}

	// The activation event grants subscription credits; checkout only records state.
	if co.Subscription != nil && co.Subscription.ID != "" {
		if co.Subscription.Product.ID == "" {
			co.Subscription.Product = co.Product
		}
		status := co.Subscription.Status
		if status == "" {
			status = models.SubscriptionStatusActive
		}
		if err := h.upsertSubscription(ctx, c.ID, co.Subscription, status); err != nil {
			return "", err
		}
		return "updated", nil
	}

	productID := co.Product.ID
	orderID := co.ID
	if co.Order != nil {
		if co.Order.Product.ID != "" {
			productID = co.Order.Product.ID
		}
		if co.Order.ID != "" {
			orderID = co.Order.ID
		}
	}
	pack := billing.GetPackByProductID(productID)
	if pack == nil {
		return "ignored", nil
	}
	res, err := h.ledger.PurchaseCredits(ctx, c.UserID, c.Email, pack, orderID)
	if err != nil {
		return "", fmt.Errorf("purchase credits: %w", err)
	}
	return string(res.Outcome), nil
}

// resolveCustomer finds or provisions the customer an event belongs to:
// metadata user_id first, then the stored Creem customer id.
func (h *Handler) resolveCustomer(ctx context.Context, md map[string]any, ref Ref) (*models.Customer, error) {
	userID := metadataUserID(md)
	email := ref.Email
	if userID == "" {
		if ref.ID == "" {
			return nil, errUnresolvedUser
		}
		existing, err := h.customers.GetByCreemCustomerID(ctx, ref.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errUnresolvedUser
		}
		if err != nil {
			return nil, fmt.Errorf("lookup by creem customer: %w", err)
		}
		userID = existing.UserID
		if email == "" {
			email = existing.Email
		}
	}

	c, err := h.ledger.EnsureCustomer(ctx, userID, email, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("ensure customer: %w", err)
	}
	if ref.ID != "" && c.CreemCustomerID != ref.ID {
		if err := h.customers.UpdateCreemCustomerID(ctx, c.ID, ref.ID); err != nil {
			return nil, fmt.Errorf("link creem customer: %w", err)
		}
		c.CreemCustomerID = ref.ID
	}
	return c, nil
}

func (h *Handler) upsertSubscription(ctx context.Context, customerID uuid.UUID, sub *SubscriptionObject, status string) error {
	var md json.RawMessage
	if len(sub.Metadata) > 0 {
		b, err := json.Marshal(sub.Metadata)
		if err != nil {
			return fmt.Errorf("encode subscription metadata: %w", err)
		}
		md = b
	}
	s := &models.Subscription{
		CustomerID:          customerID,
		CreemSubscriptionID: sub.ID,
		CreemProductID:      sub.Product.ID,
		Status:              status,
		CurrentPeriodStart:  sub.CurrentPeriodStart,
		CurrentPeriodEnd:    sub.CurrentPeriodEnd,
		CanceledAt:          sub.CanceledAt,
		Metadata:            md,
	}
	if err := h.subscriptions.Upsert(ctx, s); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// statusForEvent is used when a delivery omits object.status.
func statusForEvent(eventType string) string {
	switch eventType {
	case EventSubscriptionActive, EventSubscriptionPaid, EventSubscriptionUpdate, EventSubscriptionScheduled:
		return models.SubscriptionStatusActive
	case EventSubscriptionTrialing:
		return models.SubscriptionStatusTrialing
	case EventSubscriptionCanceled:
		return models.SubscriptionStatusCanceled
	case EventSubscriptionExpired:
		return models.SubscriptionStatusExpired
	}
	return strings.TrimPrefix(eventType, "subscription.")
}
