package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultBindAddr = "127.0.0.1:8080"

var errShutdownTimeout = errors.New("http server shutdown timeout")

// Server HTTP сервер чата: relay, картинки, websocket, health.
type Server struct {
	srv     *http.Server
	logger  *zap.SugaredLogger
	running atomic.Bool
	addr    atomic.Value
}

// New создаёт сервер; handler обычно собирается через NewMux.
// WriteTimeout не задан, чтобы не обрывать стрим relay и websocket.
func New(bindAddr string, handler http.Handler, logger *zap.SugaredLogger) *Server {
	if bindAddr == "" {
		bindAddr = defaultBindAddr
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{logger: logger}
	s.addr.Store(bindAddr)
	s.srv = &http.Server{
		Addr:              bindAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start открывает порт синхронно (ошибка bind возвращается сразу), обслуживает запросы
// в отдельной горутине и останавливается при отмене ctx.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.addr.Store(ln.Addr().String())

	go func() {
		s.logger.Infow("HTTP server listening", "addr", s.Addr())
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) && err != nil {
			s.logger.Errorw("HTTP server stopped with error", "error", err)
		} else {
			s.logger.Infow("HTTP server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.WithoutCancel(ctx))
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeoutCause(ctx, 5*time.Second, errShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("graceful shutdown error", "error", err)
		return s.srv.Close()
	}
	return nil
}

// Addr адрес слушателя; после Start фактический (с учётом порта 0).
func (s *Server) Addr() string { return s.addr.Load().(string) }
