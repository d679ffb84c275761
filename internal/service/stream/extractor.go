package stream

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// DefaultMinDisplayChars пока буфер короче, текст не показываем,
	// чтобы не мигать обрывками JSON.
	DefaultMinDisplayChars = 50
	// MaxImages верхняя граница numImages.
	MaxImages = 10
)

// Имена полей структурированного ответа модели.
const (
	fieldChatResponse = "chatResponse"
	fieldImagePrompt  = "imagePrompt"
	fieldNumImages    = "numImages"
	fieldYoutubeVideo = "youtubeVideo"
)

// Update текущая лучшая оценка полей ответа по накопленному буферу.
type Update struct {
	Text        string
	WantsImages bool
	WantsVideo  bool
	ImageCount  int
}

// WantsMedia true, если в ответе ожидаются картинки или видео (показываем заглушку).
func (u Update) WantsMedia() bool { return u.WantsImages || u.WantsVideo }

// Derive выводит Update из полного содержимого буфера.
// Функция чистая: одинаковые входы дают одинаковый результат.
// prevCount возвращается как ImageCount, если numImages в буфере ещё нет.
func Derive(buf string, prevCount, minDisplay int) Update {
	fields := scanTopLevel(buf)

	u := Update{
		WantsImages: hintPresent(fields[fieldImagePrompt]),
		WantsVideo:  hintPresent(fields[fieldYoutubeVideo]),
		ImageCount:  prevCount,
	}
	if n, ok := completeInt(fields[fieldNumImages]); ok {
		u.ImageCount = clamp(n, 0, MaxImages)
	}

	if len(buf) < minDisplay {
		return u
	}
	if doc, ok := parseDocument(buf); ok {
		u.Text = doc.ChatResponse
		return u
	}
	// Буфер ещё не валиден: показываем chatResponse, только если строка уже закрыта.
	if text, ok := fields[fieldChatResponse].decoded(); ok {
		u.Text = text
	}
	return u
}

// hintPresent непустое строковое значение, не равное "null"; допускается недописанная строка.
func hintPresent(f field) bool {
	if f.kind != kindString {
		return false
	}
	v := strings.TrimSpace(f.raw)
	return v != "" && v != "null"
}

// completeInt законченное число или числовая строка ("3").
func completeInt(f field) (int, bool) {
	if (f.kind != kindNumber && f.kind != kindString) || !f.complete {
		return 0, false
	}
	raw := strings.TrimSpace(f.raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n, true
	}
	fl, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return int(fl), true
}

func clamp(v, lo, hi int) int { return max(lo, min(hi, v)) }

// document поля JSON-документа, который модель обязана вернуть.
// Has* отличают отсутствующее поле от нулевого значения.
type document struct {
	ChatResponse string
	ImagePrompt  string
	YoutubeVideo string
	NumImages    int
	HasNumImages bool
}

// parseDocument разбирает buf целиком; документ обязан быть валидным JSON-объектом.
// Поля читаются мягко: число в numImages может быть дробным или строкой,
// подсказка не строкового типа считается отсутствующей.
func parseDocument(buf string) (document, bool) {
	trimmed := strings.TrimSpace(buf)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return document{}, false
	}
	root := gjson.Parse(trimmed)

	doc := document{
		ChatResponse: stringValue(root.Get(fieldChatResponse)),
		ImagePrompt:  stringValue(root.Get(fieldImagePrompt)),
		YoutubeVideo: stringValue(root.Get(fieldYoutubeVideo)),
	}
	doc.NumImages, doc.HasNumImages = intValue(root.Get(fieldNumImages))
	return doc, true
}

func stringValue(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}

// intValue число или числовая строка; null, пустое и нечисловое считаются отсутствующими.
func intValue(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(r.Num), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

// Accumulator состояние разбора одного ответа модели в полёте.
// Буфер только растёт; после Close накопитель больше не принимает фрагменты.
type Accumulator struct {
	mu         sync.Mutex
	buf        strings.Builder
	minDisplay int
	last       Update
	closed     bool
	logger     *zap.SugaredLogger
}

// NewAccumulator создаёт накопитель; minDisplay < 0 заменяется значением по умолчанию.
func NewAccumulator(minDisplay int, logger *zap.SugaredLogger) *Accumulator {
	if minDisplay < 0 {
		minDisplay = DefaultMinDisplayChars
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Accumulator{minDisplay: minDisplay, logger: logger}
}

// Append дописывает фрагмент и пересчитывает Update по всему буферу.
// Любой сбой разбора означает «нового ничего нет»: возвращается прошлый Update.
func (a *Accumulator) Append(fragment string) Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || fragment == "" {
		return a.last
	}
	a.buf.WriteString(fragment)

	u, err := a.derive()
	if err != nil {
		a.logger.Warnw("stream: failed to derive fields, keeping previous state", "error", err, "bufferLen", a.buf.Len())
		return a.last
	}
	a.last = u
	return u
}

func (a *Accumulator) derive() (u Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream: derive panic: %v", r)
		}
	}()
	return Derive(a.buf.String(), a.last.ImageCount, a.minDisplay), nil
}

// Raw возвращает накопленный буфер.
func (a *Accumulator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Last последний выданный Update.
func (a *Accumulator) Last() Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Close замораживает буфер и возвращает его содержимое.
func (a *Accumulator) Close() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return a.buf.String()
}
