package requester

import (
	"YazekaChat/internal/ai"
	"YazekaChat/internal/service/image"
	"YazekaChat/internal/service/stream"
	"YazekaChat/internal/service/throttle"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const DefaultStreamTimeout = 2 * time.Minute

// ErrStreamTimeout причина отмены стрима, который не уложился в StreamTimeout.
var ErrStreamTimeout = errors.New("requester: stream timed out")

// Conversation ходы диалога, которыми управляет Requester.
type Conversation interface {
	StartTurn(userText string) error
	OnFragment(u stream.Update) error
	FinalizeTurn(resp stream.StructuredResponse, images image.Result) error
	FailTurn(message string) error
	AbandonTurn() error
	History() []ai.Message
}

// ImageFetcher ищет картинки по подсказке модели.
type ImageFetcher interface {
	FetchImages(ctx context.Context, prompt string, count int) image.Result
}

type Options struct {
	SystemPrompt    string
	Stream          bool
	StreamTimeout   time.Duration
	MinDisplayChars int
}

// Requester проводит один ход: запрос к модели, разбор стрима, картинки, завершение хода.
type Requester struct {
	client    ai.Client
	throttle  *throttle.Controller
	images    ImageFetcher
	finalizer *stream.Finalizer
	opts      Options
	logger    *zap.SugaredLogger
}

func New(client ai.Client, ctrl *throttle.Controller, images ImageFetcher, finalizer *stream.Finalizer, opts Options, logger *zap.SugaredLogger) *Requester {
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = DefaultStreamTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Requester{
		client:    client,
		throttle:  ctrl,
		images:    images,
		finalizer: finalizer,
		opts:      opts,
		logger:    logger,
	}
}

// Run выполняет ход для userText.
// Ошибки запроса к модели пользователю не возвращаются: ход завершается извинением, Run отдаёт nil.
// Отмена ctx убирает заглушку хода и возвращает причину отмены.
func (r *Requester) Run(ctx context.Context, conv Conversation, userText string) (err error) {
	if err := conv.StartTurn(userText); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorw("requester: panic during turn", "panic", p)
			r.fail(conv, fmt.Errorf("panic: %v", p))
			err = nil
		}
	}()

	msgs := ai.WithSystem(r.opts.SystemPrompt, conv.History())
	r.logger.Infow("Отправка..", "text", userText, "messages", len(msgs), "stream", r.opts.Stream)

	var raw string
	if r.opts.Stream {
		raw, err = r.stream(ctx, conv, msgs)
	} else {
		raw, err = throttle.Execute(ctx, r.throttle, func(ctx context.Context) (string, error) {
			return r.client.Complete(ctx, msgs)
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return r.abandon(ctx, conv)
		}
		r.fail(conv, err)
		return nil
	}

	resp := r.finalizer.Finalize(raw)
	var images image.Result
	if resp.WantsImages() {
		images = r.images.FetchImages(ctx, resp.ImagePrompt, resp.NumImages).Truncate(resp.NumImages)
		if ctx.Err() != nil {
			return r.abandon(ctx, conv)
		}
	}
	if err := conv.FinalizeTurn(resp, images); err != nil {
		return fmt.Errorf("requester: finalize turn: %w", err)
	}
	r.logger.Infow("Ответ получен",
		"chars", len(resp.ChatResponse),
		"images", images.Len(),
		"video", resp.YoutubeVideo,
	)
	return nil
}

// stream читает ответ модели до конца или до StreamTimeout. По таймауту
// возвращается накопленный к этому моменту буфер.
func (r *Requester) stream(ctx context.Context, conv Conversation, msgs []ai.Message) (string, error) {
	sctx, cancel := context.WithTimeoutCause(ctx, r.opts.StreamTimeout, ErrStreamTimeout)
	defer cancel()

	s, err := throttle.Execute(sctx, r.throttle, func(ctx context.Context) (ai.FragmentStream, error) {
		return r.client.Stream(ctx, msgs)
	})
	if err != nil {
		return "", err
	}
	defer s.Close()

	acc := stream.NewAccumulator(r.opts.MinDisplayChars, r.logger)
	for s.Next() {
		if err := conv.OnFragment(acc.Append(s.Fragment())); err != nil {
			r.logger.Warnw("requester: fragment dropped", "error", err)
		}
	}
	raw := acc.Close()

	if err := s.Err(); err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(sctx), ErrStreamTimeout) {
			r.logger.Warnw("requester: stream timed out, finalizing partial response",
				"timeout", r.opts.StreamTimeout, "bufferLen", len(raw))
			return raw, nil
		}
		return "", fmt.Errorf("requester: read stream: %w", err)
	}
	return raw, nil
}

func (r *Requester) fail(conv Conversation, cause error) {
	r.logger.Errorw("requester: turn failed", "error", cause)
	if err := conv.FailTurn(""); err != nil {
		r.logger.Warnw("requester: fail turn", "error", err)
	}
}

func (r *Requester) abandon(ctx context.Context, conv Conversation) error {
	cause := context.Cause(ctx)
	r.logger.Infow("Ход отменён", "cause", cause)
	if err := conv.AbandonTurn(); err != nil {
		r.logger.Warnw("requester: abandon turn", "error", err)
	}
	return cause
}
