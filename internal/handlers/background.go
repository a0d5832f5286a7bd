package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pixelforge-studio/pixelforge/internal/design"
)

// HandleBackgroundImage serves standalone background generation. It is
// billed a flat fee up front; a failed generation is not refunded (the
// charge is for the attempt, matching the batch pre-step).
func (h *Handler) HandleBackgroundImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req struct {
		Prompt    string `json:"prompt"`
		ImageSize string `json:"imageSize"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.writeError(w, "prompt is required", http.StatusBadRequest)
		return
	}
	if req.ImageSize == "" {
		req.ImageSize = "1080x1080"
	}

	if h.background == nil {
		h.writeError(w, "Background generation is not enabled", http.StatusServiceUnavailable)
		return
	}

	if _, err := h.credits.Debit(r.Context(), userID, h.backgroundCost, "standalone background"); err != nil {
		if errors.Is(err, design.ErrInsufficientCredits) {
			h.writeError(w, "Insufficient credits", http.StatusForbidden)
			return
		}
		h.writeError(w, "Billing failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	imageURL, err := h.background.GenerateBackground(r.Context(), req.Prompt, req.ImageSize)
	if err != nil {
		if errors.Is(err, design.ErrQuotaExceeded) {
			h.writeQuotaError(w, "Provider quota exceeded")
			return
		}
		h.writeError(w, "Background generation failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]string{"imageUrl": imageURL})
}
