// Package ollama is a local-model content generator, useful for
// development without a cloud API key.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pixelforge-studio/pixelforge/internal/design"
)

// Options configures the Ollama generator.
type Options struct {
	// URL is the Ollama host, defaulting to http://localhost:11434.
	URL         string
	Model       string
	Temperature float64
}

// Ollama generates design markup through a local Ollama instance.
type Ollama struct {
	url         string
	model       string
	temperature float64
	client      *http.Client
}

// New returns a new Ollama generator.
func New(opts Options) *Ollama {
	url := opts.URL
	if url == "" {
		url = "http://localhost:11434"
	}
	model := opts.Model
	if model == "" {
		model = "llama3.2-vision"
	}
	return &Ollama{
		url:         url,
		model:       model,
		temperature: opts.Temperature,
		client:      &http.Client{Timeout: 120 * time.Second},
	}
}

// Generate produces design markup for the prompt, inlining any reference
// images as base64.
func (o *Ollama) Generate(ctx context.Context, prompt string, images []design.ImageAsset) (design.Markup, error) {
	encoded := make([]string, 0, len(images))
	for _, img := range images {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(img.Data))
	}

	requestBody, err := json.Marshal(map[string]interface{}{
		"model":  o.model,
		"prompt": prompt,
		"images": encoded,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": o.temperature,
		},
	})
	if err != nil {
		return design.Markup{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/api/generate", bytes.NewBuffer(requestBody))
	if err != nil {
		return design.Markup{}, fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return design.Markup{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return design.Markup{}, fmt.Errorf("%w: ollama returned 429", design.ErrQuotaExceeded)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return design.Markup{}, fmt.Errorf("received non-200 status code: %d - %s", resp.StatusCode, string(body))
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return design.Markup{}, fmt.Errorf("failed to decode response body: %w", err)
	}

	return design.ParseMarkup(response.Response)
}
