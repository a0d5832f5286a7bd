package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pixelforge-studio/pixelforge/internal/design"
)

func TestGenerate(t *testing.T) {
	var gotImages int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Model  string   `json:"model"`
			Stream bool     `json:"stream"`
			Images []string `json:"images"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body.Stream {
			t.Error("expected stream=false")
		}
		gotImages = len(body.Images)
		json.NewEncoder(w).Encode(map[string]string{
			"response": `{"htmlContent":"<div>local</div>","cssStyles":".b{}"}`,
		})
	}))
	defer server.Close()

	o := New(Options{URL: server.URL})
	markup, err := o.Generate(context.Background(), "make a flyer", []design.ImageAsset{
		{Data: []byte("png-bytes"), MimeType: "image/png"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if markup.HTML != "<div>local</div>" {
		t.Errorf("unexpected HTML: %q", markup.HTML)
	}
	if gotImages != 1 {
		t.Errorf("expected 1 inlined image, got %d", gotImages)
	}
}

func TestGenerateQuota(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer server.Close()

	o := New(Options{URL: server.URL})
	_, err := o.Generate(context.Background(), "make a flyer", nil)
	if !errors.Is(err, design.ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestNewDefaults(t *testing.T) {
	o := New(Options{})
	if o.url != "http://localhost:11434" {
		t.Errorf("unexpected default url %q", o.url)
	}
	if o.model == "" {
		t.Error("expected a default model")
	}
}
