package reasoning

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/sashabaranov/go-openai"

	"querygate/internal/config"
	"querygate/internal/logging"
)

// OpenAIClient completes requests with a chat model in JSON object mode.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIClient creates an OpenAI provider. BaseURL allows compatible
// gateways.
func NewOpenAIClient(cfg config.ReasoningConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	logging.Reasoning("openai provider ready: model=%s", model)
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends one system plus user turn and returns the first choice.
func (o *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: o.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "openai %s", req.Task)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", malformed(req.Task, errors.New("openai returned no choices"))
	}
	logging.ReasoningDebug("openai %s finish_reason=%s", req.Task, resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
