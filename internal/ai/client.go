package ai

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message одна реплика, отправляемая модели.
type Message struct {
	Role    Role
	Content string
}

// FragmentStream последовательность текстовых фрагментов ответа модели.
// Next блокируется до следующего фрагмента; после false причина доступна в Err.
type FragmentStream interface {
	Next() bool
	Fragment() string
	Err() error
	Close() error
}

// StreamClient открывает потоковый ответ модели. Ошибки HTTP (в том числе 429)
// возвращаются из Stream, а не из первого Next.
type StreamClient interface {
	Stream(ctx context.Context, msgs []Message) (FragmentStream, error)
}

// Completer получает ответ модели целиком, без стрима.
type Completer interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// Client умеет и то и другое. Все реализации должны быть взаимозаменяемыми.
type Client interface {
	StreamClient
	Completer
}

// WithSystem ставит системный промпт первой репликой.
func WithSystem(prompt string, msgs []Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	if prompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: prompt})
	}
	return append(out, msgs...)
}
