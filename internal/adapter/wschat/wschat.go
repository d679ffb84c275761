package wschat

import (
	"YazekaChat/internal/app/requester"
	"YazekaChat/internal/service/conversation"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

var errClientGone = errors.New("websocket client disconnected")

// Runner проводит ход диалога.
type Runner interface {
	Run(ctx context.Context, conv requester.Conversation, userText string) error
}

// Event сообщение сервера клиенту.
type Event struct {
	Type           string             `json:"type"` // ready, turn, error
	ConversationID string             `json:"conversationId,omitempty"`
	Turn           *conversation.Turn `json:"turn,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// Handler GET /ws/chat: один диалог на соединение, каждое изменение хода уходит клиенту.
// Клиент шлёт {"text": "..."} для нового хода и {"type": "cancel"} для отмены текущего.
type Handler struct {
	runner     Runner
	maxHistory int
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
}

func New(runner Runner, maxHistory int, allowedOrigins []string, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		runner:     runner,
		maxHistory: maxHistory,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      checkOrigin(allowedOrigins),
		},
		logger: logger,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту ошибкой
		h.logger.Warnw("wschat: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s := &session{conn: conn, runner: h.runner, logger: h.logger}
	s.conv = conversation.New(h.maxHistory, conversation.WithObserver(func(t conversation.Turn) {
		s.send(Event{Type: "turn", Turn: &t})
	}))
	s.run(context.WithoutCancel(r.Context()))
}

type session struct {
	conn   *websocket.Conn
	conv   *conversation.Conversation
	runner Runner
	logger *zap.SugaredLogger

	writeMu sync.Mutex
	turnMu  sync.Mutex
	cancel  context.CancelCauseFunc
	wg      sync.WaitGroup
}

func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	defer func() {
		cancel(errClientGone)
		s.wg.Wait()
		_ = s.conn.Close()
	}()

	s.logger.Infow("wschat: client connected", "conversation", s.conv.ID(), "remote", s.conn.RemoteAddr().String())
	s.send(Event{Type: "ready", ConversationID: s.conv.ID()})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugw("wschat: read failed", "error", err)
			}
			s.logger.Infow("wschat: client disconnected", "conversation", s.conv.ID())
			return
		}
		if msgType != websocket.TextMessage || !gjson.ValidBytes(data) {
			s.send(Event{Type: "error", Error: "Expected a JSON text message"})
			continue
		}
		if gjson.GetBytes(data, "type").String() == "cancel" {
			s.cancelTurn()
			continue
		}
		s.startTurn(ctx, gjson.GetBytes(data, "text").String())
	}
}

func (s *session) startTurn(ctx context.Context, text string) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.cancel != nil {
		s.send(Event{Type: "error", Error: userMessage(conversation.ErrTurnInProgress)})
		return
	}
	tctx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.runner.Run(tctx, s.conv, text)

		s.turnMu.Lock()
		s.cancel = nil
		s.turnMu.Unlock()
		cancel(nil)

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errClientGone) {
			s.logger.Warnw("wschat: turn rejected", "conversation", s.conv.ID(), "error", err)
			s.send(Event{Type: "error", Error: userMessage(err)})
		}
	}()
}

func (s *session) cancelTurn() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.cancel != nil {
		s.cancel(context.Canceled)
	}
}

func (s *session) send(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		s.logger.Errorw("wschat: marshal event", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.logger.Debugw("wschat: write failed", "error", err)
	}
}

// userMessage текст ошибки для клиента; внутренние подробности остаются в логах.
func userMessage(err error) string {
	switch {
	case errors.Is(err, conversation.ErrTurnInProgress):
		return "A response is already streaming"
	case errors.Is(err, conversation.ErrEmptyMessage):
		return "Message is empty"
	default:
		return "Something went wrong"
	}
}
