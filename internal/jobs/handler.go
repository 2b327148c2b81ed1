package jobs

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/buzzcutai/backend/internal/auth"
	"github.com/buzzcutai/backend/internal/ledger"
	"github.com/buzzcutai/backend/internal/middleware"
	"github.com/buzzcutai/backend/internal/models"
	"github.com/buzzcutai/backend/internal/services"
)

// Request/response structs use snake_case JSON.

type CreateGenerationRequest struct {
	InputImageURL string `json:"input_image_url"`
	Style         string `json:"style"`
}

type GenerationResponse struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	InputImageURL  string  `json:"input_image_url"`
	Style          string  `json:"style"`
	OutputImageURL *string `json:"output_image_url,omitempty"`
	CreditsCharged int     `json:"credits_charged"`
	Error          *string `json:"error,omitempty"`
}

// RequestValidator checks request bodies against embedded schemas.
type RequestValidator interface {
	Validate(name string, data []byte) error
}

type Handler struct {
	svc       Service
	validator RequestValidator
	log       *slog.Logger
}

func NewHandler(svc Service, v RequestValidator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: v, log: log}
}

// CreateGeneration expects UserAuth and CreditCheck upstream.
func (h *Handler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if err := h.validator.Validate(services.SchemaGenerationRequest, body); err != nil {
		http.Error(w, `{"error":"invalid generation request"}`, http.StatusBadRequest)
		return
	}
	var req CreateGenerationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	subscribed := false
	if e := middleware.EligibilityFromCtx(r.Context()); e != nil {
		subscribed = e.IsSubscribed
	}
	g, err := h.svc.CreateGeneration(r.Context(), u.ID, subscribed, req.InputImageURL, req.Style)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) || errors.Is(err, ledger.ErrCustomerNotFound) {
			http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
			return
		}
		h.log.Error("create generation failed", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"create generation failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, generationToResponse(g))
}

func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"invalid generation id"}`, http.StatusBadRequest)
		return
	}
	g, err := h.svc.GetGeneration(r.Context(), u.ID, id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, `{"error":"generation not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get generation failed", "error", err)
		http.Error(w, `{"error":"get generation failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, generationToResponse(g))
}

func (h *Handler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListGenerations(r.Context(), u.ID)
	if err != nil {
		h.log.Error("list generations failed", "error", err)
		http.Error(w, `{"error":"list generations failed"}`, http.StatusInternalServerError)
		return
	}
	resp := make([]GenerationResponse, 0, len(list))
	for _, g := range list {
		resp = append(resp, generationToResponse(g))
	}
	writeJSON(w, http.StatusOK, resp)
}

func generationToResponse(g *models.Generation) GenerationResponse {
	return GenerationResponse{
		ID:             g.ID.String(),
		Status:         g.Status,
		InputImageURL:  g.InputImageURL,
		Style:          g.Style,
		OutputImageURL: g.OutputImageURL,
		CreditsCharged: g.CreditsCharged,
		Error:          g.Error,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
