package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIModel calls any OpenAI-compatible vision model.
type OpenAIModel struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIModel creates a model backed by the chat completions API.
// Retries are disabled in the SDK; Retry owns backoff.
func NewOpenAIModel(cfg OpenAIConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewOpenAIModel: API key must be provided")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("NewOpenAIModel: model name must be provided")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &OpenAIModel{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: timeout,
	}, nil
}

// Call sends one chat completion request.
func (m *OpenAIModel) Call(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, toOpenAIMessage(msg))
	}

	params := openai.ChatCompletionNewParams{
		Model:       m.model,
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned from model")
	}

	choice := completion.Choices[0]
	return &Response{
		Text:             choice.Message.Content,
		FinishReason:     normaliseOpenAIFinish(choice.FinishReason),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		PromptTokens:     int(completion.Usage.PromptTokens),
	}, nil
}

func toOpenAIMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	if msg.Role == RoleSystem {
		return openai.SystemMessage(msg.Text)
	}
	if len(msg.Image) == 0 {
		return openai.UserMessage(msg.Text)
	}
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(msg.Text),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    DataURL(msg.Image),
			Detail: "high",
		}),
	}
	return openai.UserMessage(parts)
}

func normaliseOpenAIFinish(reason string) string {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	default:
		return FinishOther
	}
}
