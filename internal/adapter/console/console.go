package console

import (
	"YazekaChat/internal/app/requester"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

const exitCommand = "/exit"

var ErrInterrupted = errors.New("console: turn interrupted")

// Runner проводит ход диалога.
type Runner interface {
	Run(ctx context.Context, conv requester.Conversation, userText string) error
}

// Console читает строки пользователя и прогоняет их через Runner по одной.
type Console struct {
	in     io.Reader
	out    io.Writer
	runner Runner
	logger *zap.SugaredLogger
}

func New(in io.Reader, out io.Writer, runner Runner, logger *zap.SugaredLogger) *Console {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Console{in: in, out: out, runner: runner, logger: logger}
}

// Run работает до /exit, конца ввода или отмены ctx.
// Сигнал из interrupts во время хода отменяет только этот ход; в простое завершает Run.
func (c *Console) Run(ctx context.Context, conv requester.Conversation, interrupts <-chan struct{}) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		fmt.Fprint(c.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(c.out)
			return nil
		case err := <-readErr:
			return err
		case line = <-lines:
		}

		text := strings.TrimSpace(line)
		switch text {
		case "":
			continue
		case exitCommand:
			return nil
		}
		if err := c.turn(ctx, conv, text, interrupts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, ErrInterrupted) {
				c.logger.Warnw("console: turn rejected", "error", err)
				fmt.Fprintln(c.out, "Не удалось отправить сообщение, попробуйте ещё раз.")
			}
		}
	}
}

func (c *Console) turn(ctx context.Context, conv requester.Conversation, text string, interrupts <-chan struct{}) error {
	tctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-interrupts:
			cancel(ErrInterrupted)
		case <-done:
		}
	}()
	return c.runner.Run(tctx, conv, text)
}
