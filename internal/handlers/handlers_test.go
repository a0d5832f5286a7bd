package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pixelforge-studio/pixelforge/internal/design"
	"github.com/pixelforge-studio/pixelforge/internal/ledger"
)

type stubRunner struct {
	batch      *design.GenerationBatch
	err        error
	calls      int
	background *design.ImageAsset
	gotN       int
	gotReq     design.GenerationRequest
}

func (s *stubRunner) GenerateBatch(ctx context.Context, req design.GenerationRequest, prompt string, n int, background *design.ImageAsset) (*design.GenerationBatch, error) {
	s.calls++
	s.gotN = n
	s.gotReq = req
	s.background = background
	return s.batch, s.err
}

type stubBackground struct {
	url   string
	err   error
	calls int
}

func (s *stubBackground) GenerateBackground(ctx context.Context, prompt, sizeHint string) (string, error) {
	s.calls++
	return s.url, s.err
}

type stubFetcher struct {
	asset  *design.ImageAsset
	err    error
	gotURL string
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (*design.ImageAsset, error) {
	s.gotURL = url
	return s.asset, s.err
}

type fakeCredits struct {
	balance   int64
	debits    []int64
	charged   int
	chargeErr error
}

func (f *fakeCredits) Balance(ctx context.Context, userID string) (int64, error) {
	return f.balance, nil
}

func (f *fakeCredits) Debit(ctx context.Context, userID string, amount int64, description string) (ledger.Transaction, error) {
	if f.balance < amount {
		return ledger.Transaction{}, design.ErrInsufficientCredits
	}
	f.balance -= amount
	f.debits = append(f.debits, amount)
	return ledger.Transaction{Amount: -amount}, nil
}

func (f *fakeCredits) ChargeBatch(ctx context.Context, userID string, perVariantCost int64, succeeded int, description string) ([]ledger.Transaction, error) {
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	f.charged = succeeded
	f.balance -= perVariantCost * int64(succeeded)
	return make([]ledger.Transaction, succeeded), nil
}

func successBatch(succeeded, failed int) *design.GenerationBatch {
	b := &design.GenerationBatch{}
	for i := 0; i < succeeded; i++ {
		b.Variants = append(b.Variants, design.DesignVariant{
			ID:         fmt.Sprintf("v%d", i),
			StyleLabel: design.StyleLabel(i),
			Image:      []byte("png-bytes"),
			State:      design.StateSucceeded,
		})
	}
	for i := 0; i < failed; i++ {
		b.Variants = append(b.Variants, design.DesignVariant{
			State:   design.StateFailed,
			Failure: design.FailureRenderTimeout,
		})
	}
	return b
}

func newTestHandler(t *testing.T, runner *stubRunner, bg *stubBackground, credits *fakeCredits) *Handler {
	t.Helper()
	catalog, err := design.LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	return New(Options{
		Runner:         runner,
		Background:     bg,
		Fetcher:        &stubFetcher{},
		Credits:        credits,
		Catalog:        catalog,
		PerVariantCost: 1,
		BackgroundCost: 1,
	})
}

func multipartRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/designs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "u1")
	return req
}

func TestGenerateValidationBeforeProviderCalls(t *testing.T) {
	runner := &stubRunner{}
	h := newTestHandler(t, runner, &stubBackground{}, &fakeCredits{balance: 10})

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{"prompt": "   "}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if runner.calls != 0 {
		t.Errorf("Validation failure must not reach the provider, got %d calls", runner.calls)
	}
}

func TestGenerateInsufficientCreditsPreflight(t *testing.T) {
	runner := &stubRunner{batch: successBatch(1, 0)}
	h := newTestHandler(t, runner, &stubBackground{}, &fakeCredits{balance: 0})

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{"prompt": "flyer"}))

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	if runner.calls != 0 {
		t.Errorf("Credit rejection must precede provider calls, got %d calls", runner.calls)
	}
}

func TestGeneratePartialSuccess(t *testing.T) {
	runner := &stubRunner{batch: successBatch(3, 1)}
	credits := &fakeCredits{balance: 10}
	h := newTestHandler(t, runner, &stubBackground{}, credits)

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{
		"prompt":       "Modern coffee shop flyer",
		"design_count": "4",
		"aspectRatio":  "square",
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if runner.gotN != 4 {
		t.Errorf("Expected 4 slots requested, got %d", runner.gotN)
	}

	var resp struct {
		Designs []designResponse `json:"designs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if len(resp.Designs) != 3 {
		t.Errorf("Expected 3 designs, got %d", len(resp.Designs))
	}
	for _, d := range resp.Designs {
		img, err := base64.StdEncoding.DecodeString(d.Image)
		if err != nil || len(img) == 0 {
			t.Errorf("Design %s image does not decode to non-empty bytes", d.ID)
		}
		if d.Style == "" {
			t.Errorf("Design %s has no style label", d.ID)
		}
	}

	if credits.charged != 3 {
		t.Errorf("Expected settlement for 3 successes, got %d", credits.charged)
	}

	// Exactly one design carries the preview marker, and it is the
	// first success in slot order.
	previews := 0
	for i, d := range resp.Designs {
		if d.Preview {
			previews++
			if i != 0 {
				t.Errorf("Preview marker on design %d, expected the first success", i)
			}
		}
	}
	if previews != 1 {
		t.Errorf("Expected exactly one preview design, got %d", previews)
	}
}

func TestGenerateQuotaExhaustion(t *testing.T) {
	b := &design.GenerationBatch{Variants: []design.DesignVariant{
		{State: design.StateFailed, Failure: design.FailureQuotaExceeded},
		{State: design.StateFailed, Failure: design.FailureQuotaExceeded},
	}}
	runner := &stubRunner{batch: b, err: design.ErrAllVariantsFailed}
	credits := &fakeCredits{balance: 10}
	h := newTestHandler(t, runner, &stubBackground{}, credits)

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{"prompt": "flyer"}))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if !resp.QuotaExceeded {
		t.Error("Expected quotaExceeded flag in response")
	}
	if credits.balance != 10 {
		t.Errorf("Total failure must not be charged, balance moved to %d", credits.balance)
	}
}

func TestGenerateBrowserDown(t *testing.T) {
	b := &design.GenerationBatch{Variants: []design.DesignVariant{
		{State: design.StateFailed, Failure: design.FailureBrowserLaunch},
		{State: design.StateFailed, Failure: design.FailureBrowserLaunch},
	}}
	runner := &stubRunner{batch: b, err: design.ErrAllVariantsFailed}
	h := newTestHandler(t, runner, &stubBackground{}, &fakeCredits{balance: 10})

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{"prompt": "flyer"}))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if !strings.Contains(resp.Error, "Rendering engine unavailable") {
		t.Errorf("Environment fault not surfaced distinctly, got %q", resp.Error)
	}
	if resp.QuotaExceeded {
		t.Error("Browser failure must not report as quota exhaustion")
	}
}

func TestGenerateTemplateDefaultAspect(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		expected design.AspectRatio
	}{
		{
			name:     "template default applies when ratio omitted",
			fields:   map[string]string{"template_id": "flyer-event"},
			expected: design.AspectPortrait,
		},
		{
			name:     "explicit ratio beats template default",
			fields:   map[string]string{"template_id": "flyer-event", "aspectRatio": "square"},
			expected: design.AspectSquare,
		},
		{
			name:     "bare request falls back to square",
			fields:   map[string]string{"prompt": "flyer"},
			expected: design.AspectSquare,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{batch: successBatch(1, 0)}
			h := newTestHandler(t, runner, &stubBackground{}, &fakeCredits{balance: 10})

			w := httptest.NewRecorder()
			h.HandleGenerate(w, multipartRequest(t, tt.fields))

			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
			}
			if runner.gotReq.AspectRatio != tt.expected {
				t.Errorf("Batch ran at %q, expected %q", runner.gotReq.AspectRatio, tt.expected)
			}
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	runner := &stubRunner{err: design.ErrRequestTimeout}
	h := newTestHandler(t, runner, &stubBackground{}, &fakeCredits{balance: 10})

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{"prompt": "flyer"}))

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected 504, got %d", w.Code)
	}
}

func TestGenerateAllFailedGeneric(t *testing.T) {
	b := &design.GenerationBatch{Variants: []design.DesignVariant{
		{State: design.StateFailed, Failure: design.FailureMalformedResponse},
	}}
	runner := &stubRunner{batch: b, err: design.ErrAllVariantsFailed}
	h := newTestHandler(t, runner, &stubBackground{}, &fakeCredits{balance: 10})

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{"prompt": "flyer"}))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestGenerateBackgroundFallback(t *testing.T) {
	runner := &stubRunner{batch: successBatch(1, 0)}
	bg := &stubBackground{err: fmt.Errorf("provider down")}
	credits := &fakeCredits{balance: 10}
	h := newTestHandler(t, runner, bg, credits)

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{
		"prompt":                 "flyer",
		"generate_ai_background": "true",
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("Background failure must not fail the batch, got %d", w.Code)
	}
	if bg.calls != 1 {
		t.Errorf("Expected one background attempt, got %d", bg.calls)
	}
	if runner.background != nil {
		t.Error("Batch should proceed without a background after the fallback")
	}
	// The background fee was billed for the attempt and is not refunded.
	if len(credits.debits) != 1 || credits.debits[0] != 1 {
		t.Errorf("Expected one background debit of 1, got %v", credits.debits)
	}
}

func TestGenerateWithAIBackground(t *testing.T) {
	runner := &stubRunner{batch: successBatch(1, 0)}
	payload := base64.StdEncoding.EncodeToString([]byte("bg-bytes"))
	bg := &stubBackground{url: "data:image/png;base64," + payload}
	h := newTestHandler(t, runner, bg, &fakeCredits{balance: 10})

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{
		"prompt":                 "flyer",
		"generate_ai_background": "true",
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if runner.background == nil || string(runner.background.Data) != "bg-bytes" {
		t.Error("Generated background was not passed to the batch")
	}
}

func TestGenerateRemoteBackgroundURL(t *testing.T) {
	runner := &stubRunner{batch: successBatch(1, 0)}
	fetcher := &stubFetcher{asset: &design.ImageAsset{Data: []byte("remote-bytes"), MimeType: "image/jpeg"}}
	catalog, err := design.LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	h := New(Options{
		Runner:         runner,
		Background:     &stubBackground{},
		Fetcher:        fetcher,
		Credits:        &fakeCredits{balance: 10},
		Catalog:        catalog,
		PerVariantCost: 1,
		BackgroundCost: 1,
	})

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{
		"prompt":               "flyer",
		"background_image_url": "https://cdn.example.com/bg.jpg",
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if fetcher.gotURL != "https://cdn.example.com/bg.jpg" {
		t.Errorf("Fetcher received %q", fetcher.gotURL)
	}
	if runner.background == nil || string(runner.background.Data) != "remote-bytes" {
		t.Error("Fetched background was not passed to the batch")
	}
}

func TestGenerateRemoteBackgroundFetchFailure(t *testing.T) {
	runner := &stubRunner{batch: successBatch(1, 0)}
	catalog, err := design.LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	h := New(Options{
		Runner:         runner,
		Background:     &stubBackground{},
		Fetcher:        &stubFetcher{err: fmt.Errorf("404")},
		Credits:        &fakeCredits{balance: 10},
		Catalog:        catalog,
		PerVariantCost: 1,
		BackgroundCost: 1,
	})

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{
		"prompt":               "flyer",
		"background_image_url": "https://cdn.example.com/missing.jpg",
	}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unfetchable background, got %d", w.Code)
	}
	if runner.calls != 0 {
		t.Error("Fetch failure must not reach the provider")
	}
}

func TestGenerateUnknownTemplate(t *testing.T) {
	runner := &stubRunner{}
	h := newTestHandler(t, runner, &stubBackground{}, &fakeCredits{balance: 10})

	w := httptest.NewRecorder()
	h.HandleGenerate(w, multipartRequest(t, map[string]string{"template_id": "nope"}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if runner.calls != 0 {
		t.Error("Unknown template must not reach the provider")
	}
}

func TestGenerateMissingUser(t *testing.T) {
	h := newTestHandler(t, &stubRunner{}, &stubBackground{}, &fakeCredits{balance: 10})

	req := multipartRequest(t, map[string]string{"prompt": "flyer"})
	req.Header.Del("X-User-ID")
	w := httptest.NewRecorder()
	h.HandleGenerate(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestBackgroundImageEndpoint(t *testing.T) {
	bg := &stubBackground{url: "data:image/png;base64,aGk="}
	credits := &fakeCredits{balance: 5}
	h := newTestHandler(t, &stubRunner{}, bg, credits)

	body := strings.NewReader(`{"prompt":"sunset over mountains","imageSize":"1080x1080"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/background-image", body)
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	h.HandleBackgroundImage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if resp["imageUrl"] == "" {
		t.Error("Expected imageUrl in response")
	}
	if len(credits.debits) != 1 {
		t.Errorf("Expected the flat background fee, got %v", credits.debits)
	}
}

func TestBackgroundImageInsufficientCredits(t *testing.T) {
	h := newTestHandler(t, &stubRunner{}, &stubBackground{url: "x"}, &fakeCredits{balance: 0})

	req := httptest.NewRequest(http.MethodPost, "/api/background-image", strings.NewReader(`{"prompt":"x"}`))
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	h.HandleBackgroundImage(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}

func TestTemplatesEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubRunner{}, &stubBackground{}, &fakeCredits{})

	w := httptest.NewRecorder()
	h.HandleTemplates(w, httptest.NewRequest(http.MethodGet, "/api/templates", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Templates []struct {
			ID string `json:"id"`
		} `json:"templates"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if len(resp.Templates) == 0 {
		t.Error("Expected templates in catalog")
	}
}
