package requester

import (
	"YazekaChat/internal/ai"
	"YazekaChat/internal/config"
	"YazekaChat/internal/service/image"
	"YazekaChat/internal/service/stream"
	"YazekaChat/internal/service/throttle"
	"strings"

	"go.uber.org/zap"
)

// NewFromConfig собирает Requester из конфигурации.
// Без ключа OpenAI используется заглушка: цикл запрос/стрим/ход работает без сети.
func NewFromConfig(cfg *config.Config, logger *zap.SugaredLogger) *Requester {
	var client ai.Client
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		logger.Warnw("OPENAI_API_KEY is empty, using stub client")
		client = ai.NewStubClient()
	} else {
		client = ai.NewOpenAIClient(ai.OpenAIOptions{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		}, logger)
	}

	ctrl := throttle.New(
		throttle.NewLimiter(cfg.MinRequestInterval),
		throttle.WithMaxAttempts(cfg.MaxAttempts),
		throttle.WithLogger(logger),
	)
	fetcher := image.NewFetcher(cfg.Images.BaseURL, cfg.Images.Timeout, logger)
	finalizer := stream.NewFinalizer(cfg.Images.DefaultNumImages, cfg.Images.MaxImages, logger)

	prompt := cfg.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = ai.SystemPrompt
	}
	return New(client, ctrl, fetcher, finalizer, Options{
		SystemPrompt:    prompt,
		Stream:          cfg.OpenAI.Stream,
		StreamTimeout:   cfg.StreamTimeout,
		MinDisplayChars: cfg.MinDisplayChars,
	}, logger)
}
