package main

import (
	"YazekaChat/internal/adapter/console"
	"YazekaChat/internal/app/requester"
	"YazekaChat/internal/config"
	"YazekaChat/internal/service/conversation"
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Консольный чат с Yazeka. Ctrl+C во время ответа отменяет ход, в простое завершает программу.
func main() {
	cfg := config.NewConfig()
	// создаём предустановленный регистратор zap
	zcfg := zap.NewDevelopmentConfig()
	if !cfg.DebugMode {
		// логи идут в stderr и не должны перебивать ответ в терминале
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}

	sugar := logger.Sugar()
	//сброс буфера логгера
	defer func() {
		if err := logger.Sync(); err != nil {
			sugar.Errorw("Failed to sync logger", "error", err)
		}
	}()

	sugar.Infow(
		"Starting chat",
		"DebugMode", cfg.DebugMode,
		"Model", cfg.OpenAI.Model,
		"Stream", cfg.OpenAI.Stream,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	interrupts := make(chan struct{})
	go func() {
		for range sigCh {
			select {
			case interrupts <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	renderer := console.NewRenderer(os.Stdout)
	conv := conversation.New(cfg.MaxHistoryRecords, conversation.WithObserver(renderer.Observe))
	req := requester.NewFromConfig(cfg, sugar)

	if err := console.New(os.Stdin, os.Stdout, req, sugar).Run(ctx, conv, interrupts); err != nil {
		sugar.Errorw("Console stopped with error", "error", err)
	}
}
