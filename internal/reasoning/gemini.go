package reasoning

import (
	"context"

	"github.com/cockroachdb/errors"
	"google.golang.org/genai"

	"querygate/internal/config"
	"querygate/internal/logging"
)

// =============================================================================
// GOOGLE GENAI PROVIDER
// =============================================================================

// GeminiClient completes requests with a Gemini model in JSON mode.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiClient creates a Gemini provider.
func NewGeminiClient(ctx context.Context, cfg config.ReasoningConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Gemini API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GenAI client")
	}

	logging.Reasoning("gemini provider ready: model=%s", model)
	return &GeminiClient{client: client, model: model, temperature: cfg.Temperature}, nil
}

// Complete sends one system plus user turn and returns the response text.
func (g *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	temperature := g.temperature
	contents := []*genai.Content{
		genai.NewContentFromText(req.User, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
	})
	if err != nil {
		return "", errors.Wrapf(err, "gemini %s", req.Task)
	}

	text := resp.Text()
	if text == "" {
		return "", malformed(req.Task, errors.New("gemini returned no text"))
	}
	return text, nil
}
