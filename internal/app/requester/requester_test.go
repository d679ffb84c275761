package requester

import (
	"YazekaChat/internal/ai"
	"YazekaChat/internal/service/conversation"
	"YazekaChat/internal/service/image"
	"YazekaChat/internal/service/stream"
	"YazekaChat/internal/service/throttle"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func chunks(s string, size int) []string {
	var out []string
	for i := 0; i < len(s); i += size {
		out = append(out, s[i:min(i+size, len(s))])
	}
	return out
}

func fragmentsOf(doc string, size int) func(ctx context.Context, _ []ai.Message) (ai.FragmentStream, error) {
	return func(ctx context.Context, _ []ai.Message) (ai.FragmentStream, error) {
		return &sliceStream{ctx: ctx, fragments: chunks(doc, size)}, nil
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestRequester(t *testing.T, client ai.Client, images ImageFetcher, opts Options) *Requester {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	ctrl := throttle.New(throttle.NewLimiter(0), throttle.WithSleep(noSleep), throttle.WithLogger(logger))
	return New(client, ctrl, images, stream.NewFinalizer(5, image.MaxImages, logger), opts, logger)
}

type turnLog struct {
	mu    sync.Mutex
	turns []conversation.Turn
}

func (l *turnLog) observe(t conversation.Turn) {
	l.mu.Lock()
	l.turns = append(l.turns, t)
	l.mu.Unlock()
}

func (l *turnLog) sawStreamingMedia() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.turns {
		if t.IsStreaming && t.ShowMedia {
			return true
		}
	}
	return false
}

func fiveCats() image.Result {
	cands := make([]image.Candidate, 0, 5)
	for i := 1; i <= 5; i++ {
		cands = append(cands, image.Candidate{URL: fmt.Sprintf("https://img.example/cat%d.jpg", i), Width: 640, Height: 480})
	}
	return image.ResultOf(cands)
}

func TestRun_CatsEndToEnd(t *testing.T) {
	doc := `{"chatResponse": "Here are some cute cats for you to enjoy today!", "imagePrompt": "cute cats", "numImages": 3, "youtubeVideo": null}`
	client := &mockClient{streamFunc: fragmentsOf(doc, 7)}
	images := &mockImages{fetchFunc: func(_ context.Context, prompt string, count int) image.Result {
		assert.Equal(t, "cute cats", prompt)
		assert.Equal(t, 3, count)
		return fiveCats()
	}}
	log := &turnLog{}
	conv := conversation.New(20, conversation.WithObserver(log.observe))
	r := newTestRequester(t, client, images, Options{Stream: true, MinDisplayChars: stream.DefaultMinDisplayChars})

	require.NoError(t, r.Run(context.Background(), conv, "show me some cats"))

	turns := conv.Turns()
	require.Len(t, turns, 2)
	bot := turns[1]
	assert.False(t, bot.IsStreaming)
	assert.Equal(t, "Here are some cute cats for you to enjoy today!", bot.Text)
	assert.True(t, bot.ShowMedia)
	assert.Equal(t, 3, bot.ExpectedImageCount)
	assert.Equal(t, []string{
		"https://img.example/cat1.jpg",
		"https://img.example/cat2.jpg",
		"https://img.example/cat3.jpg",
	}, bot.ImageURLs)
	assert.Len(t, bot.ImageDimensions, 3)
	assert.Nil(t, bot.Video)
	assert.True(t, log.sawStreamingMedia(), "заглушка медиа показывается ещё во время стрима")
	assert.EqualValues(t, 1, images.calls.Load())
}

func TestRun_LooselyTypedDocumentKeepsText(t *testing.T) {
	doc := `{"chatResponse": "cats are great, here are a few of them", "imagePrompt": "cute cat", "numImages": "3", "youtubeVideo": false}`
	images := &mockImages{fetchFunc: func(_ context.Context, _ string, count int) image.Result {
		assert.Equal(t, 3, count)
		return fiveCats()
	}}
	r := newTestRequester(t, &mockClient{streamFunc: fragmentsOf(doc, 5)}, images, Options{Stream: true})
	conv := conversation.New(0)

	require.NoError(t, r.Run(context.Background(), conv, "show cats"))

	bot := conv.Turns()[1]
	assert.Equal(t, "cats are great, here are a few of them", bot.Text)
	assert.False(t, bot.Failed)
	assert.Len(t, bot.ImageURLs, 3)
	assert.Nil(t, bot.Video)
}

func TestRun_UnparsedReplyIsLeftOutOfHistory(t *testing.T) {
	client := &mockClient{streamFunc: fragmentsOf(`{"chatResponse": "half of it`, 4)}
	r := newTestRequester(t, client, &mockImages{}, Options{Stream: true})
	conv := conversation.New(0)

	require.NoError(t, r.Run(context.Background(), conv, "hello"))

	bot := conv.Turns()[1]
	assert.Equal(t, stream.FallbackChatResponse, bot.Text)
	assert.True(t, bot.Failed)
	assert.Equal(t, []ai.Message{{Role: ai.RoleUser, Content: "hello"}}, conv.History())
}

func TestRun_TextOnlySkipsImages(t *testing.T) {
	doc := `{"chatResponse": "Paris is the capital of France.", "imagePrompt": null, "numImages": 0, "youtubeVideo": null}`
	images := &mockImages{}
	r := newTestRequester(t, &mockClient{streamFunc: fragmentsOf(doc, 4)}, images, Options{Stream: true})
	conv := conversation.New(0)

	require.NoError(t, r.Run(context.Background(), conv, "capital of France?"))

	bot := conv.Turns()[1]
	assert.Equal(t, "Paris is the capital of France.", bot.Text)
	assert.False(t, bot.ShowMedia)
	assert.Empty(t, bot.ImageURLs)
	assert.Zero(t, images.calls.Load())
}

func TestRun_SendsSystemPromptAndHistory(t *testing.T) {
	var got []ai.Message
	client := &mockClient{streamFunc: func(ctx context.Context, msgs []ai.Message) (ai.FragmentStream, error) {
		got = msgs
		return &sliceStream{ctx: ctx, fragments: []string{`{"chatResponse": "hi"}`}}, nil
	}}
	r := newTestRequester(t, client, &mockImages{}, Options{Stream: true, SystemPrompt: "sys"})

	require.NoError(t, r.Run(context.Background(), conversation.New(0), "hello"))

	assert.Equal(t, []ai.Message{
		{Role: ai.RoleSystem, Content: "sys"},
		{Role: ai.RoleUser, Content: "hello"},
	}, got)
}

func TestRun_RetriesRateLimit(t *testing.T) {
	doc := `{"chatResponse": "ok"}`
	client := &mockClient{}
	client.streamFunc = func(ctx context.Context, msgs []ai.Message) (ai.FragmentStream, error) {
		if client.streamCalls.Load() == 1 {
			return nil, errors.New("429 Too Many Requests: rate limit reached")
		}
		return fragmentsOf(doc, 3)(ctx, msgs)
	}
	r := newTestRequester(t, client, &mockImages{}, Options{Stream: true, MinDisplayChars: 0})
	conv := conversation.New(0)

	require.NoError(t, r.Run(context.Background(), conv, "hi"))

	assert.EqualValues(t, 2, client.streamCalls.Load())
	assert.Equal(t, "ok", conv.Turns()[1].Text)
}

func TestRun_FailureEndsWithApology(t *testing.T) {
	client := &mockClient{streamFunc: func(context.Context, []ai.Message) (ai.FragmentStream, error) {
		return nil, errors.New("connection reset by peer")
	}}
	r := newTestRequester(t, client, &mockImages{}, Options{Stream: true})
	conv := conversation.New(0)

	require.NoError(t, r.Run(context.Background(), conv, "hi"))

	bot := conv.Turns()[1]
	assert.Equal(t, conversation.Apology, bot.Text)
	assert.True(t, bot.Failed)
	assert.False(t, conv.Streaming())
	assert.EqualValues(t, 1, client.streamCalls.Load())
}

func TestRun_MidStreamErrorEndsWithApology(t *testing.T) {
	client := &mockClient{streamFunc: func(ctx context.Context, _ []ai.Message) (ai.FragmentStream, error) {
		return &failingStream{sliceStream: sliceStream{ctx: ctx, fragments: []string{`{"chatResponse": "Pa`}}}, nil
	}}
	r := newTestRequester(t, client, &mockImages{}, Options{Stream: true})
	conv := conversation.New(0)

	require.NoError(t, r.Run(context.Background(), conv, "hi"))
	assert.Equal(t, conversation.Apology, conv.Turns()[1].Text)
}

type failingStream struct{ sliceStream }

func (s *failingStream) Err() error {
	if s.pos >= len(s.fragments) {
		return errors.New("unexpected EOF")
	}
	return nil
}

func TestRun_PanicEndsWithApology(t *testing.T) {
	client := &mockClient{streamFunc: func(context.Context, []ai.Message) (ai.FragmentStream, error) {
		panic("nil map")
	}}
	r := newTestRequester(t, client, &mockImages{}, Options{Stream: true})
	conv := conversation.New(0)

	require.NoError(t, r.Run(context.Background(), conv, "hi"))
	assert.Equal(t, conversation.Apology, conv.Turns()[1].Text)
}

func TestRun_CancelAbandonsTurn(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	stop := errors.New("user pressed ctrl+c")

	doc := `{"chatResponse": "a long answer that keeps streaming for a while", "imagePrompt": null}`
	client := &mockClient{streamFunc: func(ctx context.Context, _ []ai.Message) (ai.FragmentStream, error) {
		return &sliceStream{ctx: ctx, fragments: chunks(doc, 2), delay: 5 * time.Millisecond}, nil
	}}
	images := &mockImages{}
	conv := conversation.New(0, conversation.WithObserver(func(t conversation.Turn) {
		if t.IsStreaming && t.Text != "" {
			cancel(stop)
		}
	}))
	r := newTestRequester(t, client, images, Options{Stream: true})

	err := r.Run(ctx, conv, "hi")

	assert.ErrorIs(t, err, stop)
	turns := conv.Turns()
	require.Len(t, turns, 1, "заглушка убрана")
	assert.Equal(t, conversation.RoleUser, turns[0].Role)
	assert.False(t, conv.Streaming())
	assert.Zero(t, images.calls.Load())
}

func TestRun_TimeoutFinalizesPartialBuffer(t *testing.T) {
	doc := `{"chatResponse": "this answer never finishes in time", "imagePrompt": null}`
	client := &mockClient{streamFunc: func(ctx context.Context, _ []ai.Message) (ai.FragmentStream, error) {
		return &sliceStream{ctx: ctx, fragments: chunks(doc, 1), delay: 20 * time.Millisecond}, nil
	}}
	r := newTestRequester(t, client, &mockImages{}, Options{Stream: true, StreamTimeout: 100 * time.Millisecond})
	conv := conversation.New(0)

	require.NoError(t, r.Run(context.Background(), conv, "hi"))

	bot := conv.Turns()[1]
	assert.False(t, bot.IsStreaming)
	assert.True(t, bot.Failed, "извинение финализатора помечается как сбой")
	assert.Equal(t, stream.FallbackChatResponse, bot.Text, "недописанный документ не разбирается")
}

func TestRun_NonStreamingMode(t *testing.T) {
	client := &mockClient{completeFunc: func(context.Context, []ai.Message) (string, error) {
		return `{"chatResponse": "Listen to this", "youtubeVideo": "lofi hip hop"}`, nil
	}}
	r := newTestRequester(t, client, &mockImages{}, Options{Stream: false})
	conv := conversation.New(0)

	require.NoError(t, r.Run(context.Background(), conv, "music please"))

	bot := conv.Turns()[1]
	assert.Equal(t, "Listen to this", bot.Text)
	require.NotNil(t, bot.Video)
	assert.Equal(t, "lofi hip hop", bot.Video.SearchTerm)
	assert.True(t, bot.ShowMedia)
	assert.Zero(t, client.streamCalls.Load())
}

func TestRun_StartTurnErrors(t *testing.T) {
	r := newTestRequester(t, &mockClient{}, &mockImages{}, Options{Stream: true})
	conv := conversation.New(0)

	assert.ErrorIs(t, r.Run(context.Background(), conv, "  "), conversation.ErrEmptyMessage)

	require.NoError(t, conv.StartTurn("busy"))
	assert.ErrorIs(t, r.Run(context.Background(), conv, "second"), conversation.ErrTurnInProgress)
}
