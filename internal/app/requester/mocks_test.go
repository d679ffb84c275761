package requester

import (
	"YazekaChat/internal/ai"
	"YazekaChat/internal/service/image"
	"context"
	"sync/atomic"
	"time"
)

// mockClient ai.Client с подменяемыми функциями.
type mockClient struct {
	streamFunc   func(ctx context.Context, msgs []ai.Message) (ai.FragmentStream, error)
	completeFunc func(ctx context.Context, msgs []ai.Message) (string, error)
	streamCalls  atomic.Int32
}

func (m *mockClient) Stream(ctx context.Context, msgs []ai.Message) (ai.FragmentStream, error) {
	m.streamCalls.Add(1)
	if m.streamFunc != nil {
		return m.streamFunc(ctx, msgs)
	}
	return &sliceStream{ctx: ctx}, nil
}

func (m *mockClient) Complete(ctx context.Context, msgs []ai.Message) (string, error) {
	if m.completeFunc != nil {
		return m.completeFunc(ctx, msgs)
	}
	return "", nil
}

// sliceStream отдаёт заранее заданные фрагменты.
type sliceStream struct {
	ctx       context.Context
	fragments []string
	pos       int
	cur       string
	err       error
	// delay пауза перед каждым фрагментом, прерывается ctx
	delay  time.Duration
	closed bool
}

func (s *sliceStream) Next() bool {
	if s.err != nil || s.pos >= len(s.fragments) {
		return false
	}
	if s.ctx.Err() != nil {
		s.err = context.Cause(s.ctx)
		return false
	}
	if s.delay > 0 {
		select {
		case <-s.ctx.Done():
			s.err = context.Cause(s.ctx)
			return false
		case <-time.After(s.delay):
		}
	}
	s.cur = s.fragments[s.pos]
	s.pos++
	return true
}

func (s *sliceStream) Fragment() string { return s.cur }
func (s *sliceStream) Err() error       { return s.err }
func (s *sliceStream) Close() error     { s.closed = true; return nil }

type mockImages struct {
	fetchFunc func(ctx context.Context, prompt string, count int) image.Result
	calls     atomic.Int32
}

func (m *mockImages) FetchImages(ctx context.Context, prompt string, count int) image.Result {
	m.calls.Add(1)
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, prompt, count)
	}
	return image.Result{}
}
