package imagesearch

import (
	"YazekaChat/internal/server"
	"YazekaChat/internal/service/image"
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const searchTimeout = 20 * time.Second

// Placeholders отдаются, пока ключ поиска не настроен.
var Placeholders = []string{
	"https://picsum.photos/400/300?random=1",
	"https://picsum.photos/400/300?random=2",
	"https://picsum.photos/400/300?random=3",
}

// Searcher внешний поиск картинок.
type Searcher interface {
	Search(ctx context.Context, prompt string) ([]image.Candidate, error)
}

// SearcherFunc адаптер функции к Searcher.
type SearcherFunc func(ctx context.Context, prompt string) ([]image.Candidate, error)

func (f SearcherFunc) Search(ctx context.Context, prompt string) ([]image.Candidate, error) {
	return f(ctx, prompt)
}

// Handler GET /api/images?prompt=...
type Handler struct {
	searcher   Searcher
	configured bool
	logger     *zap.SugaredLogger
}

// New отвечает заглушками, пока ключ поиска не настроен (см. config.ServerConfig.SearchConfigured)
// или searcher равен nil.
func New(searcher Searcher, keyConfigured bool, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{searcher: searcher, configured: keyConfigured, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		server.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", "use GET")
		return
	}
	prompt := strings.TrimSpace(r.URL.Query().Get("prompt"))
	if prompt == "" {
		server.WriteError(w, http.StatusBadRequest, "Prompt is required", "")
		return
	}

	if !h.configured || h.searcher == nil {
		h.logger.Infow("Image search is not configured, returning placeholders", "prompt", prompt)
		server.WriteJSON(w, http.StatusOK, map[string][]string{"images": Placeholders})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()
	cands, err := h.searcher.Search(ctx, prompt)
	if err != nil {
		h.logger.Errorw("image search failed", "prompt", prompt, "error", err)
		server.WriteError(w, http.StatusInternalServerError, "Failed to fetch images", err.Error())
		return
	}

	res := image.ResultOf(image.NormalizeCandidates(cands, image.MaxImages))
	h.logger.Infow("Returning images", "prompt", prompt, "found", len(cands), "returned", res.Len())
	server.WriteJSON(w, http.StatusOK, res)
}
