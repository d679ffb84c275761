package relay

import (
	"YazekaChat/internal/server"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

const maxRequestBytes = 1 << 20

// Options параметры пересылки chat completions.
type Options struct {
	Target           string // полный URL chat completions у провайдера
	DefaultModel     string // подставляется, если в теле нет model
	DefaultMaxTokens int    // подставляется, если в теле нет max_tokens
	HTTPClient       *http.Client
}

// Handler пересылает запросы браузера к провайдеру модели со своим ключом клиента.
// Стрим отдаётся обратно байт в байт, по мере поступления.
type Handler struct {
	opts   Options
	http   *http.Client
	logger *zap.SugaredLogger
}

func New(opts Options, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{opts: opts, http: client, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		server.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", "use POST")
		return
	}
	auth := r.Header.Get("Authorization")
	if strings.TrimSpace(auth) == "" {
		server.WriteError(w, http.StatusUnauthorized, "Missing authorization header", "")
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		server.WriteError(w, http.StatusBadRequest, "Failed to read body", err.Error())
		return
	}
	if !gjson.ValidBytes(body) {
		server.WriteError(w, http.StatusBadRequest, "Invalid JSON body", "")
		return
	}
	body, err = h.withDefaults(body)
	if err != nil {
		server.WriteError(w, http.StatusBadRequest, "Invalid JSON body", err.Error())
		return
	}
	stream := gjson.GetBytes(body, "stream").Bool()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.opts.Target, bytes.NewReader(body))
	if err != nil {
		server.WriteError(w, http.StatusInternalServerError, "Proxy server error", err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)

	h.logger.Infow("Relaying chat completion",
		"target", h.opts.Target,
		"model", gjson.GetBytes(body, "model").String(),
		"stream", stream,
		"bytes", len(body),
	)
	resp, err := h.http.Do(req)
	if err != nil {
		h.logger.Errorw("relay: upstream request failed", "error", err)
		server.WriteError(w, http.StatusInternalServerError, "Proxy server error", err.Error())
		return
	}
	defer resp.Body.Close()

	if stream {
		h.pipe(w, resp)
		return
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Warnw("relay: copy response", "error", err)
	}
}

// withDefaults дописывает model и max_tokens, если клиент их не прислал.
func (h *Handler) withDefaults(body []byte) ([]byte, error) {
	var err error
	if h.opts.DefaultModel != "" && !gjson.GetBytes(body, "model").Exists() {
		if body, err = sjson.SetBytes(body, "model", h.opts.DefaultModel); err != nil {
			return nil, err
		}
	}
	if h.opts.DefaultMaxTokens > 0 && !gjson.GetBytes(body, "max_tokens").Exists() {
		if body, err = sjson.SetBytes(body, "max_tokens", h.opts.DefaultMaxTokens); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// pipe отдаёт тело апстрима как есть, сбрасывая буфер после каждого чтения.
func (h *Handler) pipe(w http.ResponseWriter, resp *http.Response) {
	hdr := w.Header()
	hdr.Set("Content-Type", "text/plain")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(w)
	buf := make([]byte, 4096)
	total := 0
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				h.logger.Warnw("relay: client went away", "error", werr, "bytes", total)
				return
			}
			total += n
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				h.logger.Warnw("relay: flush", "error", ferr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Warnw("relay: upstream stream interrupted", "error", err, "bytes", total)
			}
			return
		}
	}
}
