package gemini

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/generative-ai-go/genai"
)

// GenerateBackground produces a standalone background image for the given
// prompt and returns it as a data URL. Billed independently of the main
// batch; callers are expected to degrade gracefully when it fails.
func (c *Client) GenerateBackground(ctx context.Context, prompt, sizeHint string) (string, error) {
	model := c.genai.GenerativeModel(c.imageModel)

	full := fmt.Sprintf(
		"Generate a high quality photographic background image for a graphic design. No text, no logos, soft focal areas suitable for overlaid content. Size: %s.\n\n%s",
		sizeHint, prompt)

	resp, err := model.GenerateContent(ctx, genai.Text(full))
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("background generation returned no candidates")
	}

	for _, p := range resp.Candidates[0].Content.Parts {
		if blob, ok := p.(genai.Blob); ok && len(blob.Data) > 0 {
			return fmt.Sprintf("data:%s;base64,%s", blob.MIMEType, base64.StdEncoding.EncodeToString(blob.Data)), nil
		}
	}

	return "", fmt.Errorf("background generation returned no image parts")
}
