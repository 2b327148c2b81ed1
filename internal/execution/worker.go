package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/buzzcutai/backend/internal/metrics"
)

type GenerateImageArgs struct {
	GenerationID  uuid.UUID `json:"generation_id"`
	InputImageURL string    `json:"input_image_url"`
	Style         string    `json:"style"`
}

func (GenerateImageArgs) Kind() string { return "generate_image" }

// GenerationService defines the contract the worker needs to report success/failure.
type GenerationService interface {
	MarkProcessing(ctx context.Context, generationID uuid.UUID) error
	MarkCompleted(ctx context.Context, generationID uuid.UUID, outputURL string) error
	MarkFailed(ctx context.Context, generationID uuid.UUID, reason string) error
}

// ResultValidator checks the provider response body against its schema.
type ResultValidator interface {
	Validate(name string, data []byte) error
}

// ProviderConfig points the worker at the image-generation API.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
}

type GenerateImageWorker struct {
	river.WorkerDefaults[GenerateImageArgs]
	genService GenerationService
	validator  ResultValidator
	provider   ProviderConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewGenerateImageWorker(gs GenerationService, v ResultValidator, provider ProviderConfig, log *slog.Logger) *GenerateImageWorker {
	if log == nil {
		log = slog.Default()
	}
	return &GenerateImageWorker{
		genService: gs,
		validator:  v,
		provider:   provider,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

type providerRequest struct {
	Image string `json:"image"`
	Style string `json:"style"`
}

type providerResult struct {
	OutputURL string `json:"output_url"`
}

func (w *GenerateImageWorker) Work(ctx context.Context, job *river.Job[GenerateImageArgs]) error {
	args := job.Args

	if err := w.genService.MarkProcessing(ctx, args.GenerationID); err != nil {
		return fmt.Errorf("failed to mark generation processing: %w", err)
	}

	body, err := json.Marshal(providerRequest{Image: args.InputImageURL, Style: args.Style})
	if err != nil {
		return w.failGeneration(ctx, args.GenerationID, fmt.Sprintf("failed to encode request: %v", err))
	}
	url := strings.TrimRight(w.provider.BaseURL, "/") + "/v1/buzzcut"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return w.failGeneration(ctx, args.GenerationID, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if w.provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.provider.APIKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return w.retryOrFail(ctx, job, fmt.Errorf("network error calling image provider: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return w.retryOrFail(ctx, job, fmt.Errorf("image provider returned status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return w.failGeneration(ctx, args.GenerationID, fmt.Sprintf("image provider rejected request: %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return w.retryOrFail(ctx, job, fmt.Errorf("read provider response: %w", err))
	}
	if w.validator != nil {
		if err := w.validator.Validate("generation_result", raw); err != nil {
			return w.failGeneration(ctx, args.GenerationID, "image provider returned an unexpected response")
		}
	}
	var result providerResult
	if err := json.Unmarshal(raw, &result); err != nil || result.OutputURL == "" {
		return w.failGeneration(ctx, args.GenerationID, "image provider returned invalid JSON")
	}

	if err := w.genService.MarkCompleted(ctx, args.GenerationID, result.OutputURL); err != nil {
		return fmt.Errorf("failed to mark generation completed: %w", err)
	}
	metrics.Generations.WithLabelValues("completed").Inc()
	return nil
}

// retryOrFail hands transient errors back to River for another attempt. On
// the last attempt the generation is failed and refunded instead.
func (w *GenerateImageWorker) retryOrFail(ctx context.Context, job *river.Job[GenerateImageArgs], err error) error {
	if job.JobRow != nil && job.Attempt < job.MaxAttempts {
		w.log.Warn("generation attempt failed, will retry", "generation_id", job.Args.GenerationID, "attempt", job.Attempt, "error", err)
		return err
	}
	return w.failGeneration(ctx, job.Args.GenerationID, err.Error())
}

func (w *GenerateImageWorker) failGeneration(ctx context.Context, generationID uuid.UUID, reason string) error {
	metrics.Generations.WithLabelValues("failed").Inc()
	markErr := w.genService.MarkFailed(ctx, generationID, reason)
	if markErr != nil {
		return fmt.Errorf("generation failed (%s) AND failed to mark it as failed: %w", reason, markErr)
	}
	return nil
}
