// Package gemini wraps the Google Gemini API for markup and background
// image generation. All provider errors are classified here, once, into
// the typed failure set in the design package.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pixelforge-studio/pixelforge/internal/design"
)

// Options configures the Gemini client.
type Options struct {
	APIKey string
	// TextModel generates design markup. ImageModel generates background
	// images.
	TextModel   string
	ImageModel  string
	Temperature float32
}

const (
	defaultTextModel  = "gemini-2.0-flash"
	defaultImageModel = "gemini-2.0-flash-exp-image-generation"
)

// Client is a Gemini-backed content generator.
type Client struct {
	genai       *genai.Client
	textModel   string
	imageModel  string
	temperature float32
}

// New creates a Gemini client.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not set")
	}

	gc, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	textModel := opts.TextModel
	if textModel == "" {
		textModel = defaultTextModel
	}
	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = defaultImageModel
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	return &Client{
		genai:       gc,
		textModel:   textModel,
		imageModel:  imageModel,
		temperature: temperature,
	}, nil
}

// Close releases the underlying API client.
func (c *Client) Close() error {
	return c.genai.Close()
}

// Generate asks the model for design markup, inlining any reference
// images into the request. The response is parsed through the ordered
// strategy list in the design package.
func (c *Client) Generate(ctx context.Context, prompt string, images []design.ImageAsset) (design.Markup, error) {
	model := c.genai.GenerativeModel(c.textModel)
	model.SetTemperature(c.temperature)

	parts := make([]genai.Part, 0, len(images)+1)
	parts = append(parts, genai.Text(prompt))
	for _, img := range images {
		parts = append(parts, genai.ImageData(imageFormat(img.MimeType), img.Data))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return design.Markup{}, classify(err)
	}

	raw, err := candidateText(resp)
	if err != nil {
		return design.Markup{}, err
	}

	return design.ParseMarkup(raw)
}

// candidateText concatenates the text parts of the first candidate.
func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", design.ErrMalformedResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidate content", design.ErrMalformedResponse)
	}

	var out string
	for _, p := range candidate.Content.Parts {
		if txt, ok := p.(genai.Text); ok {
			out += string(txt)
		}
	}
	if out == "" {
		return "", fmt.Errorf("%w: candidate contains no text parts", design.ErrMalformedResponse)
	}
	return out, nil
}

// classify maps a raw provider error into the typed failure set. This is
// the single place quota detection happens; callers branch on the wrapped
// sentinel and never inspect error strings. The SDK reaches the API over
// gRPC, where quota exhaustion is a RESOURCE_EXHAUSTED status; the REST
// transport reports the same condition as HTTP 429.
func classify(err error) error {
	var gae *googleapi.Error
	if errors.As(err, &gae) && gae.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", design.ErrQuotaExceeded, gae.Message)
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		return fmt.Errorf("%w: %s", design.ErrQuotaExceeded, s.Message())
	}
	return fmt.Errorf("gemini generate content: %w", err)
}

// imageFormat converts a MIME type to the bare format genai.ImageData
// expects ("image/png" -> "png").
func imageFormat(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return "jpeg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
