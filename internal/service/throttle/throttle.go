package throttle

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxJitter   = time.Second
)

// NewLimiter создаёт ограничитель, который пропускает не более одного запроса за interval.
// Экземпляр один на процесс и передаётся всем контроллерам по ссылке.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Controller сериализует исходящие запросы к модели через общий limiter
// и повторяет запросы, упавшие по rate limit, с экспоненциальной задержкой и джиттером.
type Controller struct {
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	jitter      func() time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *zap.SugaredLogger
}

type Option func(*Controller)

// WithMaxAttempts задаёт максимум попыток (включая первую).
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBaseDelay задаёт базу экспоненты: задержка = base * 2^attempt + jitter.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Controller) { c.baseDelay = d }
}

func WithJitter(f func() time.Duration) Option {
	return func(c *Controller) { c.jitter = f }
}

// WithSleep подменяет ожидание между попытками (для тестов).
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = f }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Controller) { c.logger = l }
}

func New(limiter *rate.Limiter, opts ...Option) *Controller {
	c := &Controller{
		limiter:     limiter,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		jitter:      func() time.Duration { return rand.N(defaultMaxJitter) },
		sleep:       sleepCtx,
		logger:      zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.limiter == nil {
		c.limiter = NewLimiter(0)
	}
	return c
}

// Execute выполняет fn под контролем c. Счётчик попыток начинается с 1.
// Ошибка rate limit повторяется, пока попытки не кончатся; любая другая ошибка возвращается сразу.
func Execute[T any](ctx context.Context, c *Controller, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		// Ждём свободного окна: limiter атомарно резервирует время следующего запроса.
		if err := c.limiter.Wait(ctx); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return zero, cause
			}
			return zero, err
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		c.logger.Debugw("Request attempt failed", "attempt", attempt, "error", err)

		if !IsRateLimited(err) {
			return zero, err
		}
		if attempt >= c.maxAttempts {
			c.logger.Warnw("Rate limited, max attempts reached", "attempts", attempt)
			return zero, err
		}

		delay := c.baseDelay*time.Duration(1<<attempt) + c.jitter()
		c.logger.Infow("Rate limited, retrying", "attempt", attempt, "next", attempt+1, "max", c.maxAttempts, "delay", delay.String())
		if serr := c.sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
}

// statusCoder ошибки транспорта, знающие HTTP статус.
type statusCoder interface {
	StatusCode() int
}

// IsRateLimited сообщает, что ошибка означает превышение лимита запросов:
// HTTP 429 от OpenAI SDK, любая ошибка со статусом 429, либо маркер в тексте.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return true
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}
