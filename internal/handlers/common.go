// Package handlers exposes the generation pipeline over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pixelforge-studio/pixelforge/internal/batch"
	"github.com/pixelforge-studio/pixelforge/internal/design"
	"github.com/pixelforge-studio/pixelforge/internal/ledger"
)

// BatchRunner runs one generation batch. Satisfied by batch.Orchestrator.
type BatchRunner interface {
	GenerateBatch(ctx context.Context, req design.GenerationRequest, prompt string, n int, background *design.ImageAsset) (*design.GenerationBatch, error)
}

// BackgroundGenerator produces a standalone background image as a data
// URL. Satisfied by the gemini client.
type BackgroundGenerator interface {
	GenerateBackground(ctx context.Context, prompt, sizeHint string) (string, error)
}

// AssetFetcher downloads a remote image for inlining. Satisfied by
// images.Fetcher.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) (*design.ImageAsset, error)
}

// CreditStore is the slice of the ledger the handlers need.
type CreditStore interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64, description string) (ledger.Transaction, error)
	ChargeBatch(ctx context.Context, userID string, perVariantCost int64, succeeded int, description string) ([]ledger.Transaction, error)
}

// Options wires the handler's collaborators.
type Options struct {
	Runner     BatchRunner
	Background BackgroundGenerator
	Fetcher    AssetFetcher
	Credits    CreditStore
	Catalog    *design.Catalog

	PerVariantCost int64
	BackgroundCost int64
}

// Handler serves the design generation API.
type Handler struct {
	runner     BatchRunner
	background BackgroundGenerator
	fetcher    AssetFetcher
	credits    CreditStore
	catalog    *design.Catalog

	perVariantCost int64
	backgroundCost int64
}

// New creates a Handler.
func New(opts Options) *Handler {
	return &Handler{
		runner:         opts.Runner,
		background:     opts.Background,
		fetcher:        opts.Fetcher,
		credits:        opts.Credits,
		catalog:        opts.Catalog,
		perVariantCost: opts.PerVariantCost,
		backgroundCost: opts.BackgroundCost,
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	QuotaExceeded bool   `json:"quotaExceeded,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message, "status", code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		slog.Error("Unable to encode error response", "err", err)
	}
}

// writeQuotaError carries the machine-readable flag distinguishing quota
// exhaustion from generic failure.
func (h *Handler) writeQuotaError(w http.ResponseWriter, message string) {
	slog.Error(message, "status", http.StatusTooManyRequests, "quota", true)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message, QuotaExceeded: true}); err != nil {
		slog.Error("Unable to encode error response", "err", err)
	}
}

// userID resolves the authenticated user attached by the upstream
// identity collaborator.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		h.writeError(w, "Missing authenticated user", http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

// HandleTemplates lists the built-in template catalog.
func (h *Handler) HandleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type templateInfo struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		DefaultAspect string `json:"default_aspect"`
	}
	out := []templateInfo{}
	for _, t := range h.catalog.All() {
		out = append(out, templateInfo{ID: t.ID, Name: t.Name, DefaultAspect: string(t.DefaultAspect)})
	}
	h.writeJSON(w, map[string]any{"templates": out})
}

// quotaBatch reports quota exhaustion for a completed-but-failed batch.
func quotaBatch(b *design.GenerationBatch) bool {
	return batch.QuotaExhausted(b)
}
