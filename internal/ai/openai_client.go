package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"
)

// OpenAIOptions параметры запроса chat completions.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// OpenAIClient ходит в chat completions с response_format=json_object.
// Повторы SDK выключены: повторами при 429 управляет throttle.
type OpenAIClient struct {
	client      *openai.Client
	model       openai.ChatModel
	maxTokens   int64
	temperature float64
	logger      *zap.SugaredLogger
}

func NewOpenAIClient(o OpenAIOptions, logger *zap.SugaredLogger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithMaxRetries(0),
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	if o.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(o.HTTPClient))
	}
	client := openai.NewClient(opts...)
	return &OpenAIClient{
		client:      &client,
		model:       openai.ChatModel(o.Model),
		maxTokens:   int64(o.MaxTokens),
		temperature: o.Temperature,
		logger:      logger,
	}
}

func (c *OpenAIClient) params(msgs []Message) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    toOpenAIMessages(msgs),
		Temperature: openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if c.maxTokens > 0 {
		p.MaxTokens = openai.Int(c.maxTokens)
	}
	return p
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Stream открывает потоковый ответ и сразу читает первый чанк, чтобы ошибка
// ответа сервера вернулась отсюда.
func (c *OpenAIClient) Stream(ctx context.Context, msgs []Message) (FragmentStream, error) {
	c.logger.Debugw("openai: opening stream", "model", c.model, "messages", len(msgs))
	s := &openAIStream{raw: c.client.Chat.Completions.NewStreaming(ctx, c.params(msgs))}
	if !s.raw.Next() {
		err := s.raw.Err()
		_ = s.raw.Close()
		if err == nil {
			return nil, errors.New("openai: stream ended before the first chunk")
		}
		return nil, fmt.Errorf("openai: open stream: %w", err)
	}
	s.peeked = true
	return s, nil
}

// Complete запрос без стрима, содержимое первого варианта ответа.
func (c *OpenAIClient) Complete(ctx context.Context, msgs []Message) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(msgs))
	if err != nil {
		return "", fmt.Errorf("openai: complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type openAIStream struct {
	raw      *ssestream.Stream[openai.ChatCompletionChunk]
	peeked   bool
	fragment string
}

// Next пропускает чанки без текста (роль, finish_reason).
func (s *openAIStream) Next() bool {
	for {
		if s.peeked {
			s.peeked = false
		} else if !s.raw.Next() {
			s.fragment = ""
			return false
		}
		chunk := s.raw.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		s.fragment = chunk.Choices[0].Delta.Content
		return true
	}
}

func (s *openAIStream) Fragment() string { return s.fragment }
func (s *openAIStream) Err() error       { return s.raw.Err() }
func (s *openAIStream) Close() error     { return s.raw.Close() }
