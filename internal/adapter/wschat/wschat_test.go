package wschat

import (
	"YazekaChat/internal/ai"
	"YazekaChat/internal/app/requester"
	"YazekaChat/internal/service/image"
	"YazekaChat/internal/service/stream"
	"YazekaChat/internal/service/throttle"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type runnerFunc func(ctx context.Context, conv requester.Conversation, text string) error

func (f runnerFunc) Run(ctx context.Context, conv requester.Conversation, text string) error {
	return f(ctx, conv, text)
}

type noImages struct{}

func (noImages) FetchImages(context.Context, string, int) image.Result { return image.Result{} }

func dial(t *testing.T, h http.Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHandler_StreamsTurns(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	client := &ai.StubClient{Document: `{"chatResponse": "Paris is the capital of France.", "imagePrompt": null, "numImages": 0}`, ChunkSize: 6}
	ctrl := throttle.New(throttle.NewLimiter(0), throttle.WithLogger(logger))
	r := requester.New(client, ctrl, noImages{}, stream.NewFinalizer(5, image.MaxImages, logger),
		requester.Options{Stream: true, MinDisplayChars: 0}, logger)
	conn := dial(t, New(r, 20, nil, logger))

	ready := readEvent(t, conn)
	assert.Equal(t, "ready", ready.Type)
	assert.NotEmpty(t, ready.ConversationID)

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "capital of France?"}))

	user := readEvent(t, conn)
	require.Equal(t, "turn", user.Type)
	assert.Equal(t, "capital of France?", user.Turn.Text)

	var last Event
	for {
		last = readEvent(t, conn)
		require.Equal(t, "turn", last.Type)
		if !last.Turn.IsStreaming {
			break
		}
	}
	assert.Equal(t, "Paris is the capital of France.", last.Turn.Text)
}

func TestHandler_RejectsSecondTurnAndCancels(t *testing.T) {
	started := make(chan struct{})
	done := make(chan error, 1)
	runner := runnerFunc(func(ctx context.Context, conv requester.Conversation, text string) error {
		if err := conv.StartTurn(text); err != nil {
			return err
		}
		close(started)
		<-ctx.Done()
		_ = conv.AbandonTurn()
		done <- context.Cause(ctx)
		return context.Cause(ctx)
	})
	conn := dial(t, New(runner, 0, nil, zaptest.NewLogger(t).Sugar()))
	readEvent(t, conn) // ready

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "first"}))
	<-started
	readEvent(t, conn) // user
	readEvent(t, conn) // placeholder

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "second"}))
	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev.Type)
	assert.Equal(t, "A response is already streaming", ev.Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "cancel"}))
	ev = readEvent(t, conn)
	require.Equal(t, "turn", ev.Type)
	assert.True(t, ev.Turn.Abandoned)
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestHandler_InvalidMessage(t *testing.T) {
	conn := dial(t, New(runnerFunc(func(context.Context, requester.Conversation, string) error { return nil }), 0, nil, nil))
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev.Type)
}

func TestHandler_EmptyTextIsReported(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, conv requester.Conversation, text string) error {
		return conv.StartTurn(text)
	})
	conn := dial(t, New(runner, 0, nil, nil))
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "   "}))

	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev.Type)
	assert.Equal(t, "Message is empty", ev.Error)
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"http://localhost:3000"})
	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8080/ws/chat", nil)

	assert.True(t, check(req), "без Origin")

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://127.0.0.1:8080")
	assert.True(t, check(req), "тот же хост")

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
