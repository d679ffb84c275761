package main

import (
	"YazekaChat/internal/adapter/imagesearch"
	"YazekaChat/internal/adapter/relay"
	"YazekaChat/internal/adapter/wschat"
	"YazekaChat/internal/app/requester"
	"YazekaChat/internal/config"
	"YazekaChat/internal/server"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// HTTP сервер: relay к модели, поиск картинок и websocket чат.
func main() {
	cfg := config.NewConfig()
	// создаём предустановленный регистратор zap
	logger, err := zap.NewDevelopment()
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
		"Starting server",
		"DebugMode", cfg.DebugMode,
		"BindAddr", cfg.Server.BindAddr,
		"RelayTarget", cfg.Server.RelayTarget,
		"WSChatEnabled", cfg.Server.WSChatEnabled,
	)

	// Graceful shutdown on Ctrl+C / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.SearchConfigured() {
		sugar.Warnw("Image search key is set, but no search backend is bundled; serving placeholders",
			"folder", cfg.Server.SearchFolder)
	}

	routes := server.Routes{
		Relay: relay.New(relay.Options{
			Target:           cfg.Server.RelayTarget,
			DefaultModel:     cfg.OpenAI.Model,
			DefaultMaxTokens: cfg.OpenAI.MaxTokens,
		}, sugar),
		Images: imagesearch.New(nil, cfg.Server.SearchConfigured(), sugar),
	}
	if cfg.Server.WSChatEnabled {
		req := requester.NewFromConfig(cfg, sugar)
		routes.Chat = wschat.New(req, cfg.MaxHistoryRecords, cfg.Server.AllowedOrigins, sugar)
	}

	srv := server.New(cfg.Server.BindAddr, server.NewMux(routes, cfg.Server.AllowedOrigins, sugar), sugar)
	// останавливаем сами ниже, чтобы дождаться завершения Shutdown
	if err := srv.Start(context.Background()); err != nil {
		sugar.Errorw("Failed to start server", "error", err)
		return
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), 5*time.Second, errors.New("shutdown timeout"))
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		sugar.Errorw("Graceful shutdown error", "error", err)
	}
	sugar.Infow("Server stopped")
}
