// Package openai is an OpenAI-backed content generator, selectable as an
// alternative to Gemini.
package openai

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

// Options configures the OpenAI generator.
type Options struct {
	APIKey      string
	Model       string
	Temperature float64
}

// OpenAI generates design markup through the chat completions API.
type OpenAI struct {
	apiKey      string
	model       string
	temperature float64
	endpoint    string
	client      *http.Client
}

// New returns a new OpenAI generator.
func New(opts Options) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai API key not set")
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{
		apiKey:      opts.APIKey,
		model:       model,
		temperature: opts.Temperature,
		endpoint:    "https://api.openai.com/v1/chat/completions",
		client:      &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Generate produces design markup for the prompt with any reference
// images inlined as data URLs. Quota responses are classified here, at
// the client boundary.
func (o *OpenAI) Generate(ctx context.Context, prompt string, images []design.ImageAsset) (design.Markup, error) {
	content := []map[string]interface{}{
		{"type": "text", "text": prompt},
	}
	for _, img := range images {
		mime := img.MimeType
		if mime == "" {
			mime = "image/png"
		}
		content = append(content, map[string]interface{}{
			"type": "image_url",
			"image_url": map[string]string{
				"url": fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data)),
			},
		})
	}

	requestBody, err := json.Marshal(map[string]interface{}{
		"model": o.model,
		"messages": []map[string]interface{}{
			{"role": "user", "content": content},
		},
		"temperature": o.temperature,
	})
	if err != nil {
		return design.Markup{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return design.Markup{}, fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return design.Markup{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return design.Markup{}, fmt.Errorf("%w: %s", design.ErrQuotaExceeded, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return design.Markup{}, fmt.Errorf("received non-200 status code: %d - %s", resp.StatusCode, string(body))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return design.Markup{}, fmt.Errorf("failed to decode response body: %w", err)
	}

	if len(response.Choices) == 0 {
		return design.Markup{}, fmt.Errorf("%w: no choices returned", design.ErrMalformedResponse)
	}

	return design.ParseMarkup(response.Choices[0].Message.Content)
}
