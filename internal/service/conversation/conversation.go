package conversation

import (
	"YazekaChat/internal/ai"
	"YazekaChat/internal/service/image"
	"YazekaChat/internal/service/stream"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Apology текст хода, если запрос к модели не удался.
const Apology = "Sorry, something went wrong with the response."

var (
	ErrTurnInProgress  = errors.New("conversation: turn already in progress")
	ErrNoStreamingTurn = errors.New("conversation: no streaming turn")
	ErrEmptyMessage    = errors.New("conversation: empty message")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Video поисковый запрос для видеоплеера.
type Video struct {
	SearchTerm string `json:"searchTerm"`
}

// Turn одно сообщение диалога в том виде, в каком его рисует UI.
type Turn struct {
	ID                 string             `json:"id"`
	Role               Role               `json:"role"`
	Text               string             `json:"text"`
	IsStreaming        bool               `json:"isStreaming"`
	ShowMedia          bool               `json:"showMedia"`
	ImageURLs          []string           `json:"imageUrls"`
	ImageDimensions    []image.Dimensions `json:"imageDimensions"`
	ExpectedImageCount int                `json:"expectedImageCount"`
	Video              *Video             `json:"video,omitempty"`
	Failed             bool               `json:"failed,omitempty"`
	// Abandoned выставляется только в уведомлении об удалённой заглушке.
	Abandoned bool `json:"abandoned,omitempty"`
}

func (t Turn) clone() Turn {
	t.ImageURLs = slices.Clone(t.ImageURLs)
	t.ImageDimensions = slices.Clone(t.ImageDimensions)
	if t.Video != nil {
		v := *t.Video
		t.Video = &v
	}
	return t
}

type Option func(*Conversation)

// WithObserver вызывается с копией хода после каждого его изменения.
func WithObserver(fn func(Turn)) Option {
	return func(c *Conversation) { c.observer = fn }
}

// Conversation упорядоченный список ходов. Одновременно стримится не больше одного хода,
// и только он меняется, пока идёт стрим.
type Conversation struct {
	mu         sync.Mutex
	id         string
	turns      []Turn
	streaming  int
	maxHistory int
	observer   func(Turn)
}

// New создаёт диалог; maxHistory <= 0 означает «вся история».
func New(maxHistory int, opts ...Option) *Conversation {
	c := &Conversation{
		id:         uuid.NewString(),
		streaming:  -1,
		maxHistory: max(0, maxHistory),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Conversation) ID() string { return c.id }

// StartTurn добавляет сообщение пользователя и пустую заглушку ассистента.
func (c *Conversation) StartTurn(userText string) error {
	text := strings.TrimSpace(userText)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.streaming >= 0 {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	user := Turn{ID: uuid.NewString(), Role: RoleUser, Text: text}
	placeholder := Turn{ID: uuid.NewString(), Role: RoleAssistant, IsStreaming: true}
	c.turns = append(c.turns, user, placeholder)
	c.streaming = len(c.turns) - 1
	c.mu.Unlock()

	c.notify(user, placeholder)
	return nil
}

// OnFragment переносит промежуточный разбор стрима в текущий ход.
func (c *Conversation) OnFragment(u stream.Update) error {
	return c.mutate(func(t *Turn) {
		if u.Text != "" {
			t.Text = u.Text
		}
		t.ShowMedia = u.WantsMedia()
		t.ExpectedImageCount = u.ImageCount
	})
}

// FinalizeTurn единственное завершающее изменение хода.
func (c *Conversation) FinalizeTurn(resp stream.StructuredResponse, images image.Result) error {
	return c.finish(func(t *Turn) {
		if resp.ChatResponse != "" {
			t.Text = resp.ChatResponse
		}
		// извинение финализатора в историю модели не попадает, как и FailTurn
		t.Failed = resp.Fallback
		t.ShowMedia = resp.WantsImages() || resp.WantsVideo()
		t.ExpectedImageCount = 0
		if resp.WantsImages() {
			t.ExpectedImageCount = resp.NumImages
		}
		t.ImageURLs = slices.Clone(images.Images)
		t.ImageDimensions = images.Dimensions()
		t.Video = nil
		if resp.WantsVideo() {
			t.Video = &Video{SearchTerm: resp.YoutubeVideo}
		}
	})
}

// FailTurn завершает ход извинением; пустой message заменяется на Apology.
func (c *Conversation) FailTurn(message string) error {
	if strings.TrimSpace(message) == "" {
		message = Apology
	}
	return c.finish(func(t *Turn) {
		t.Text = message
		t.Failed = true
		t.ShowMedia = false
		t.ExpectedImageCount = 0
		t.ImageURLs = nil
		t.ImageDimensions = nil
		t.Video = nil
	})
}

// AbandonTurn убирает заглушку отменённого хода. Сообщение пользователя остаётся.
func (c *Conversation) AbandonTurn() error {
	c.mu.Lock()
	if c.streaming < 0 {
		c.mu.Unlock()
		return ErrNoStreamingTurn
	}
	t := c.turns[c.streaming].clone()
	c.turns = slices.Delete(c.turns, c.streaming, c.streaming+1)
	c.streaming = -1
	c.mu.Unlock()

	t.IsStreaming = false
	t.Abandoned = true
	c.notify(t)
	return nil
}

func (c *Conversation) finish(fn func(t *Turn)) error {
	return c.mutate(func(t *Turn) {
		fn(t)
		t.IsStreaming = false
	})
}

func (c *Conversation) mutate(fn func(t *Turn)) error {
	c.mu.Lock()
	if c.streaming < 0 {
		c.mu.Unlock()
		return ErrNoStreamingTurn
	}
	t := &c.turns[c.streaming]
	fn(t)
	snapshot := t.clone()
	if !t.IsStreaming {
		c.streaming = -1
	}
	c.mu.Unlock()

	c.notify(snapshot)
	return nil
}

func (c *Conversation) notify(turns ...Turn) {
	if c.observer == nil {
		return
	}
	for _, t := range turns {
		c.observer(t.clone())
	}
}

// Streaming true, пока ход ассистента не завершён.
func (c *Conversation) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming >= 0
}

// Turns возвращает копию всех ходов.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		out[i] = t.clone()
	}
	return out
}

// History сообщения для модели: завершённые ходы без извинений, не больше maxHistory последних.
func (c *Conversation) History() []ai.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]ai.Message, 0, len(c.turns))
	for _, t := range c.turns {
		if t.IsStreaming || t.Failed || t.Text == "" {
			continue
		}
		role := ai.RoleUser
		if t.Role == RoleAssistant {
			role = ai.RoleAssistant
		}
		msgs = append(msgs, ai.Message{Role: role, Content: t.Text})
	}
	if c.maxHistory > 0 && len(msgs) > c.maxHistory {
		// Оставляем последние maxHistory записей
		msgs = msgs[len(msgs)-c.maxHistory:]
	}
	return msgs
}
