package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/pixelforge-studio/pixelforge/internal/batch"
	"github.com/pixelforge-studio/pixelforge/internal/design"
)

const maxUploadBytes = 10 * 1024 * 1024

type designResponse struct {
	ID    string `json:"id"`
	Image string `json:"image"`
	Style string `json:"style"`
	HTML  string `json:"html,omitempty"`
	CSS   string `json:"css,omitempty"`
	// Preview marks the variant the client shows immediately while the
	// rest of the suggestion set loads.
	Preview bool `json:"preview,omitempty"`
}

// HandleGenerate runs the full pipeline for one multipart generation
// request: parse and validate, pre-flight the ledger, optionally
// generate an AI background, fan out the batch, settle credits for the
// successes, and return the suggestion set.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	req, err := h.parseGenerateRequest(r, userID)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var tmpl *design.Template
	if req.TemplateID != "" {
		t, ok := h.catalog.Get(req.TemplateID)
		if !ok {
			h.writeError(w, "Unknown template: "+req.TemplateID, http.StatusBadRequest)
			return
		}
		tmpl = &t
	}

	// A template's default aspect applies when the form leaves the
	// ratio unset; a bare request falls back to square.
	if req.AspectRatio == "" {
		req.AspectRatio = design.AspectSquare
		if tmpl != nil && tmpl.DefaultAspect != "" {
			req.AspectRatio = tmpl.DefaultAspect
		}
	}

	// Validation happens before any provider or ledger work.
	prompt, n, err := design.Compose(req, tmpl)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Pre-flight: the balance must cover at least one variant before any
	// provider is invoked.
	balance, err := h.credits.Balance(r.Context(), userID)
	if err != nil {
		h.writeError(w, "Failed to check credit balance: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if balance < h.perVariantCost {
		h.writeError(w, "Insufficient credits", http.StatusForbidden)
		return
	}

	background := req.Background
	if background == nil && req.BackgroundURL != "" {
		if h.fetcher == nil {
			h.writeError(w, "Remote background images are not enabled", http.StatusBadRequest)
			return
		}
		background, err = h.fetcher.Fetch(r.Context(), req.BackgroundURL)
		if err != nil {
			h.writeError(w, "Failed to fetch background image: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if background == nil && req.GenerateBackground {
		background = h.generateBackground(r, userID, req)
	}

	b, err := h.runner.GenerateBatch(r.Context(), req, prompt, n, background)
	if err != nil {
		switch {
		case batch.IsTimeout(err):
			h.writeError(w, "Generation timed out", http.StatusGatewayTimeout)
		case errors.Is(err, design.ErrAllVariantsFailed) && quotaBatch(b):
			h.writeQuotaError(w, "Provider quota exceeded")
		case errors.Is(err, design.ErrAllVariantsFailed) && batch.BrowserDown(b):
			// The rendering engine could not start; an environment
			// fault rather than a bad request or flaky provider.
			slog.Error("Rendering engine unavailable", "user_id", userID)
			h.writeError(w, "Rendering engine unavailable", http.StatusInternalServerError)
		case errors.Is(err, design.ErrAllVariantsFailed):
			h.writeError(w, "All design variants failed", http.StatusInternalServerError)
		default:
			h.writeError(w, "Generation failed: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	succeeded := b.Succeeded()
	if _, err := h.credits.ChargeBatch(r.Context(), userID, h.perVariantCost, len(succeeded), "design generation"); err != nil {
		// The designs were produced; settlement failure is logged, not
		// surfaced.
		slog.Error("Failed to settle batch", "user_id", userID, "err", err)
	}

	preview, _ := b.Preview()
	designs := make([]designResponse, 0, len(succeeded))
	for _, v := range succeeded {
		designs = append(designs, designResponse{
			ID:      v.ID,
			Image:   base64.StdEncoding.EncodeToString(v.Image),
			Style:   v.StyleLabel,
			HTML:    v.HTML,
			CSS:     v.CSS,
			Preview: v.ID == preview.ID,
		})
	}

	// Partial success is still HTTP 200; the caller sees fewer designs
	// than requested.
	h.writeJSON(w, map[string]any{"designs": designs})
}

// generateBackground bills and runs the optional AI background pre-step.
// Both the billing and the generation degrade gracefully: the batch
// proceeds without a background on any failure, and the independent
// charge is not refunded.
func (h *Handler) generateBackground(r *http.Request, userID string, req design.GenerationRequest) *design.ImageAsset {
	if h.background == nil {
		slog.Warn("Skipping AI background, no image provider configured", "user_id", userID)
		return nil
	}
	if _, err := h.credits.Debit(r.Context(), userID, h.backgroundCost, "ai background"); err != nil {
		slog.Warn("Skipping AI background, billing failed", "user_id", userID, "err", err)
		return nil
	}

	vp := req.AspectRatio.Viewport()
	sizeHint := fmt.Sprintf("%dx%d", vp.Width, vp.Height)
	dataURL, err := h.background.GenerateBackground(r.Context(), req.Brief, sizeHint)
	if err != nil {
		slog.Warn("AI background generation failed, proceeding without", "user_id", userID, "err", err)
		return nil
	}

	asset, err := assetFromDataURL(dataURL)
	if err != nil {
		slog.Warn("AI background unusable, proceeding without", "err", err)
		return nil
	}
	return asset
}

// parseGenerateRequest decodes the multipart form into a
// GenerationRequest.
func (h *Handler) parseGenerateRequest(r *http.Request, userID string) (design.GenerationRequest, error) {
	var req design.GenerationRequest
	var err error
	req.UserID = userID

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return req, fmt.Errorf("invalid multipart form: %w", err)
	}

	req.Brief = strings.TrimSpace(r.FormValue("prompt"))
	req.TemplateID = strings.TrimSpace(r.FormValue("template_id"))

	// An omitted ratio stays empty here so the handler can apply the
	// selected template's default before falling back to square.
	if raw := strings.TrimSpace(r.FormValue("aspectRatio")); raw != "" {
		ar, err := design.ParseAspectRatio(raw)
		if err != nil {
			return req, err
		}
		req.AspectRatio = ar
	}

	req.Tier = design.QualityTier(strings.TrimSpace(r.FormValue("quality_tier")))
	if req.Tier == "" {
		req.Tier = design.TierBasic
	}

	if raw := strings.TrimSpace(r.FormValue("design_count")); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return req, fmt.Errorf("design_count is not a number: %q", raw)
		}
		req.Count = count
	}

	if raw := strings.TrimSpace(r.FormValue("generate_ai_background")); raw != "" {
		req.GenerateBackground, err = strconv.ParseBool(raw)
		if err != nil {
			return req, fmt.Errorf("generate_ai_background is not a boolean: %q", raw)
		}
	}

	if brand, err := parseBrand(r); err != nil {
		return req, err
	} else if brand != nil {
		req.Brand = brand
	}

	if req.Background, err = formImage(r, "background_image"); err != nil {
		return req, err
	}
	req.BackgroundURL = strings.TrimSpace(r.FormValue("background_image_url"))
	if req.Logo, err = formImage(r, "logo"); err != nil {
		return req, err
	}

	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["carousel_images"] {
			asset, err := readImagePart(header)
			if err != nil {
				return req, err
			}
			req.Carousel = append(req.Carousel, *asset)
		}
	}

	return req, nil
}

// parseBrand merges the inline colors/fonts JSON fields into a BrandKit.
func parseBrand(r *http.Request) (*design.BrandKit, error) {
	var kit design.BrandKit
	found := false

	if raw := r.FormValue("colors"); raw != "" {
		var colors struct {
			Primary   string `json:"primary"`
			Secondary string `json:"secondary"`
			Accent    string `json:"accent"`
		}
		if err := json.Unmarshal([]byte(raw), &colors); err != nil {
			return nil, fmt.Errorf("invalid colors JSON: %w", err)
		}
		kit.PrimaryColor = colors.Primary
		kit.SecondaryColor = colors.Secondary
		kit.AccentColor = colors.Accent
		found = true
	}

	if raw := r.FormValue("fonts"); raw != "" {
		var fonts struct {
			Heading string `json:"heading"`
			Body    string `json:"body"`
		}
		if err := json.Unmarshal([]byte(raw), &fonts); err != nil {
			return nil, fmt.Errorf("invalid fonts JSON: %w", err)
		}
		kit.HeadingFont = fonts.Heading
		kit.BodyFont = fonts.Body
		found = true
	}

	if voice := strings.TrimSpace(r.FormValue("brand_voice")); voice != "" {
		kit.Voice = voice
		found = true
	}

	if !found {
		return nil, nil
	}
	return &kit, nil
}

func formImage(r *http.Request, field string) (*design.ImageAsset, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", field, err)
	}
	file.Close()
	return readImagePart(header)
}

func readImagePart(header *multipart.FileHeader) (*design.ImageAsset, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", header.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", header.Filename, err)
	}
	if len(data) >= maxUploadBytes {
		return nil, fmt.Errorf("%s exceeds the %dMB upload limit", header.Filename, maxUploadBytes/(1024*1024))
	}

	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return &design.ImageAsset{Data: data, MimeType: mime}, nil
}

// assetFromDataURL decodes a data:<mime>;base64,<payload> URL.
func assetFromDataURL(dataURL string) (*design.ImageAsset, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	mime, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding data URL payload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("data URL payload is empty")
	}
	return &design.ImageAsset{Data: data, MimeType: mime}, nil
}
