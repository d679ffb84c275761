package config

import (
	"YazekaChat/internal/service/image"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	DebugMode    bool   `env:"DEBUG_MODE"`    //Режим дебага
	SystemPrompt string `env:"SYSTEM_PROMPT"` // Системный промпт, если пусто, встроенный промпт Yazeka

	OpenAI OpenAIConfig // Параметры обращения к модели

	// Троттлинг и повторы
	MinRequestInterval time.Duration `env:"MIN_REQUEST_INTERVAL"` // Минимальный интервал между запросами к модели (на весь процесс)
	MaxAttempts        int           `env:"MAX_ATTEMPTS"`         // Максимум попыток при rate limit

	// Стриминг
	MinDisplayChars int           `env:"MIN_DISPLAY_CHARS"` // Пока буфер короче, текст не показываем
	StreamTimeout   time.Duration `env:"STREAM_TIMEOUT"`    // Общий таймаут стрима модели

	Images ImagesConfig // Получение картинок

	MaxHistoryRecords int `env:"MAX_HISTORY_RECORDS"` // Сколько последних сообщений отдавать модели как историю

	Server ServerConfig // HTTP сервер (relay, картинки, websocket)
}

// OpenAIConfig параметры клиента OpenAI-совместимого API.
type OpenAIConfig struct {
	APIKey      string  `env:"OPENAI_API_KEY"`     // Ключ, если пусто, используется заглушка
	BaseURL     string  `env:"OPENAI_BASE_URL"`    // Можно направить на relay, напр. http://localhost:8080/api/v1
	Model       string  `env:"OPENAI_MODEL"`       // gpt-3.5-turbo, мягче лимиты
	MaxTokens   int     `env:"OPENAI_MAX_TOKENS"`  // Лимит токенов ответа
	Temperature float64 `env:"OPENAI_TEMPERATURE"` // Температура
	Stream      bool    `env:"OPENAI_STREAM"`      // false = запрос без стрима (fallback)
}

// ImagesConfig параметры координатора картинок.
type ImagesConfig struct {
	BaseURL          string        `env:"IMAGES_BASE_URL"`    // Где живёт /api/images
	Timeout          time.Duration `env:"IMAGES_TIMEOUT"`     // Таймаут запроса картинок
	DefaultNumImages int           `env:"DEFAULT_NUM_IMAGES"` // Если imagePrompt есть, а numImages нет
	MaxImages        int           `env:"MAX_IMAGES"`         // Верхняя граница numImages
}

// ServerConfig конфигурация HTTP сервера.
type ServerConfig struct {
	BindAddr      string `env:"SERVER_BIND_ADDR"`      // Адрес слушателя, напр. 127.0.0.1:8080
	RelayTarget   string `env:"RELAY_TARGET"`          // Куда пересылать chat completions
	SearchAPIKey  string `env:"YANDEX_SEARCH_API_KEY"` // Ключ поиска картинок, пусто или XXXX = заглушки
	SearchFolder  string `env:"YANDEX_FOLDER_ID"`      // Каталог облака для поиска
	WSChatEnabled bool   `env:"WS_CHAT_ENABLED"`       // Включить /ws/chat

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","` // Origin'ы, которым разрешён CORS
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode: false,
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo",
			MaxTokens:   500,
			Temperature: 0.7,
			Stream:      true,
		},
		MinRequestInterval: 2 * time.Second,
		MaxAttempts:        3,
		MinDisplayChars:    50,
		StreamTimeout:      2 * time.Minute,
		Images: ImagesConfig{
			BaseURL:          "http://localhost:8080",
			Timeout:          15 * time.Second,
			DefaultNumImages: 5,
			MaxImages:        10,
		},
		MaxHistoryRecords: 20,
		Server: ServerConfig{
			BindAddr:      "127.0.0.1:8080",
			RelayTarget:   "https://api.openai.com/v1/chat/completions",
			WSChatEnabled: true,
			AllowedOrigins: []string{
				"http://localhost:3000",
				"https://localhost:3000",
			},
		},
	}
}

// NewConfig загружает конфигурацию приложения.
// Ошибки валидации фатальны.
func NewConfig() *Config {
	_ = godotenv.Load()

	cfg, err := Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load стартует с дефолтов, затем перекрывает окружением и флагами из args.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	fs.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага")
	fs.StringVar(&cfg.SystemPrompt, "system-prompt", cfg.SystemPrompt, "системный промпт (пусто = встроенный)")
	// OpenAI
	fs.StringVar(&cfg.OpenAI.BaseURL, "openai-base-url", cfg.OpenAI.BaseURL, "базовый URL OpenAI-совместимого API")
	fs.StringVar(&cfg.OpenAI.Model, "openai-model", cfg.OpenAI.Model, "модель")
	fs.IntVar(&cfg.OpenAI.MaxTokens, "openai-max-tokens", cfg.OpenAI.MaxTokens, "лимит токенов ответа")
	fs.Float64Var(&cfg.OpenAI.Temperature, "openai-temperature", cfg.OpenAI.Temperature, "температура")
	fs.BoolVar(&cfg.OpenAI.Stream, "openai-stream", cfg.OpenAI.Stream, "стриминг ответа модели")
	// Троттлинг/стрим
	fs.DurationVar(&cfg.MinRequestInterval, "min-request-interval", cfg.MinRequestInterval, "минимальный интервал между запросами к модели, напр. 2s")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "максимум попыток при rate limit")
	fs.IntVar(&cfg.MinDisplayChars, "min-display-chars", cfg.MinDisplayChars, "минимальная длина буфера для показа текста")
	fs.DurationVar(&cfg.StreamTimeout, "stream-timeout", cfg.StreamTimeout, "общий таймаут стрима модели")
	// Картинки
	fs.StringVar(&cfg.Images.BaseURL, "images-base-url", cfg.Images.BaseURL, "адрес сервера с /api/images")
	fs.DurationVar(&cfg.Images.Timeout, "images-timeout", cfg.Images.Timeout, "таймаут запроса картинок")
	fs.IntVar(&cfg.Images.DefaultNumImages, "default-num-images", cfg.Images.DefaultNumImages, "число картинок, если модель его не указала")
	fs.IntVar(&cfg.MaxHistoryRecords, "max-history-records", cfg.MaxHistoryRecords, "сколько последних сообщений отдавать модели")
	// Сервер
	fs.StringVar(&cfg.Server.BindAddr, "server-bind-addr", cfg.Server.BindAddr, "адрес HTTP сервера")
	fs.StringVar(&cfg.Server.RelayTarget, "relay-target", cfg.Server.RelayTarget, "URL chat completions для relay")
	fs.BoolVar(&cfg.Server.WSChatEnabled, "ws-chat-enabled", cfg.Server.WSChatEnabled, "включить websocket чат /ws/chat")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	cfg.OpenAI.BaseURL = strings.TrimSpace(cfg.OpenAI.BaseURL)
	cfg.Images.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Images.BaseURL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения, с которыми работать невозможно.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be >= 1, got %d", c.MaxAttempts))
	}
	if c.MinRequestInterval < 0 {
		errs = append(errs, fmt.Errorf("min request interval must be >= 0, got %s", c.MinRequestInterval))
	}
	if c.MinDisplayChars < 0 {
		errs = append(errs, fmt.Errorf("min display chars must be >= 0, got %d", c.MinDisplayChars))
	}
	// выше image.MaxImages не отдают ни сервер картинок, ни разбор стрима
	if c.Images.MaxImages < 1 || c.Images.MaxImages > image.MaxImages {
		errs = append(errs, fmt.Errorf("max images must be in 1..%d, got %d", image.MaxImages, c.Images.MaxImages))
	}
	if c.Images.DefaultNumImages < 0 || c.Images.DefaultNumImages > c.Images.MaxImages {
		errs = append(errs, fmt.Errorf("default num images must be in 0..%d, got %d", c.Images.MaxImages, c.Images.DefaultNumImages))
	}
	if c.OpenAI.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("openai max tokens must be > 0, got %d", c.OpenAI.MaxTokens))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SearchConfigured сообщает, задан ли настоящий ключ поиска картинок.
// Ключ-шаблон из примера .env (с XXXX) считается ненастроенным.
func (s ServerConfig) SearchConfigured() bool {
	key := strings.TrimSpace(s.SearchAPIKey)
	return key != "" && !strings.Contains(key, "XXXX")
}
