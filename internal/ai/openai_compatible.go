package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	// ErrProviderUnavailable marks an embedding or chat call that failed
	// after its retries were exhausted.
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrEmptyInput          = errors.New("provider input is empty")
	errEmptyResponse       = errors.New("provider returned an empty response")
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatCompleter produces a reply for an ordered message sequence, either in
// one piece or as append-only deltas handed to onChunk.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
	StreamComplete(ctx context.Context, messages []ChatMessage, onChunk func(chunk string) error) (string, error)
}

type ClientConfig struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
}

// OpenAICompatibleClient talks to any endpoint implementing the OpenAI chat
// and embeddings API. Retries are left to the resilient wrappers.
type OpenAICompatibleClient struct {
	client         openai.Client
	chatModel      string
	embeddingModel string
}

func NewOpenAICompatibleClient(cfg ClientConfig) *OpenAICompatibleClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	return &OpenAICompatibleClient{
		client:         openai.NewClient(opts...),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
	}
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.chatParams(messages))
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices: %w", errEmptyResponse)
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *OpenAICompatibleClient) StreamComplete(
	ctx context.Context,
	messages []ChatMessage,
	onChunk func(chunk string) error,
) (string, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.chatParams(messages))
	defer stream.Close()

	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}

		full.WriteString(text)
		if err := onChunk(text); err != nil {
			return full.String(), err
		}
	}
	if err := stream.Err(); err != nil {
		return full.String(), fmt.Errorf("llm stream failed: %w", err)
	}
	return full.String(), nil
}

func (c *OpenAICompatibleClient) chatParams(messages []ChatMessage) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    c.chatModel,
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	return params
}
