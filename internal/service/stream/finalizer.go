package stream

import (
	"strings"

	"go.uber.org/zap"
)

// FallbackChatResponse показывается пользователю, если ответ модели не разобрался.
const FallbackChatResponse = "Sorry, something went wrong with the chat response."

// StructuredResponse окончательно разобранный ответ модели.
// Пустая строка означает отсутствие поля.
type StructuredResponse struct {
	ChatResponse string
	ImagePrompt  string
	NumImages    int
	YoutubeVideo string

	// Fallback ответ не разобрался, ChatResponse содержит FallbackChatResponse.
	Fallback bool
}

func fallback() StructuredResponse {
	return StructuredResponse{ChatResponse: FallbackChatResponse, Fallback: true}
}

func (r StructuredResponse) WantsImages() bool { return r.ImagePrompt != "" && r.NumImages > 0 }
func (r StructuredResponse) WantsVideo() bool  { return r.YoutubeVideo != "" }

// Finalizer разбирает буфер после окончания стрима.
type Finalizer struct {
	defaultNumImages int
	maxImages        int
	logger           *zap.SugaredLogger
}

func NewFinalizer(defaultNumImages, maxImages int, logger *zap.SugaredLogger) *Finalizer {
	if maxImages <= 0 {
		maxImages = MaxImages
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Finalizer{
		defaultNumImages: clamp(defaultNumImages, 0, maxImages),
		maxImages:        maxImages,
		logger:           logger,
	}
}

// Finalize разбирает raw как законченный документ. Ошибка разбора пользователю не отдаётся:
// она логируется, а вместо ответа возвращается фиксированное извинение.
func (f *Finalizer) Finalize(raw string) StructuredResponse {
	if strings.TrimSpace(raw) == "" {
		f.logger.Errorw("Empty response from model")
		return fallback()
	}
	doc, ok := parseDocument(raw)
	if !ok {
		f.logger.Errorw("Failed to parse final model response", "raw", raw)
		return fallback()
	}

	res := StructuredResponse{
		ChatResponse: doc.ChatResponse,
		ImagePrompt:  optional(doc.ImagePrompt),
		YoutubeVideo: optional(doc.YoutubeVideo),
	}
	if res.ImagePrompt != "" {
		// Явно указанное число уважаем (в том числе 0), отсутствующее берём по умолчанию.
		n := f.defaultNumImages
		if doc.HasNumImages {
			n = doc.NumImages
		}
		res.NumImages = clamp(n, 0, f.maxImages)
	}
	return res
}

// optional строка-подсказка: null, пустая и буквальная "null" считаются отсутствующими.
func optional(s string) string {
	v := strings.TrimSpace(s)
	if v == "null" {
		return ""
	}
	return v
}
