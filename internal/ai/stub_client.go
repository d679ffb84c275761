package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const defaultStubChunk = 8

// StubClient заглушка, которая не делает реальных запросов: отдаёт готовый JSON-ответ
// небольшими фрагментами, как это делала бы модель.
type StubClient struct {
	// Document ответ целиком; если пустой, эхо последнего сообщения пользователя.
	Document string
	// ChunkSize размер фрагмента в байтах.
	ChunkSize int
	// Delay пауза перед каждым фрагментом.
	Delay time.Duration
}

func NewStubClient() *StubClient { return &StubClient{ChunkSize: defaultStubChunk} }

func (c *StubClient) Stream(ctx context.Context, msgs []Message) (FragmentStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	size := c.ChunkSize
	if size <= 0 {
		size = defaultStubChunk
	}
	return &stubStream{ctx: ctx, doc: c.document(msgs), size: size, delay: c.Delay}, nil
}

func (c *StubClient) Complete(ctx context.Context, msgs []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", context.Cause(ctx)
	}
	return c.document(msgs), nil
}

func (c *StubClient) document(msgs []Message) string {
	if c.Document != "" {
		return c.Document
	}
	var question string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			question = msgs[i].Content
			break
		}
	}
	doc := map[string]any{
		"chatResponse": "запрос получен: " + question,
		"imagePrompt":  nil,
		"numImages":    0,
		"youtubeVideo": nil,
	}
	if strings.Contains(strings.ToLower(question), "show") {
		doc["imagePrompt"] = question
		doc["numImages"] = 3
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

type stubStream struct {
	ctx      context.Context
	doc      string
	pos      int
	size     int
	delay    time.Duration
	fragment string
	err      error
}

func (s *stubStream) Next() bool {
	if s.err != nil || s.pos >= len(s.doc) {
		return false
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			s.err = context.Cause(s.ctx)
			return false
		case <-t.C:
		}
	} else if s.ctx.Err() != nil {
		s.err = context.Cause(s.ctx)
		return false
	}
	end := min(s.pos+s.size, len(s.doc))
	s.fragment = s.doc[s.pos:end]
	s.pos = end
	return true
}

func (s *stubStream) Fragment() string { return s.fragment }
func (s *stubStream) Err() error       { return s.err }
func (s *stubStream) Close() error     { return nil }
