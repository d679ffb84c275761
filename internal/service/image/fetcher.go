package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

var errFetchTimeout = errors.New("image fetch timed out")

// Fetcher достаёт картинки для хода у сервера поиска (/api/images).
// Любой сбой превращается в пустой Result: без картинок ход всё равно завершается.
type Fetcher struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *zap.SugaredLogger
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.http = c
		}
	}
}

func NewFetcher(baseURL string, timeout time.Duration, logger *zap.SugaredLogger, opts ...FetcherOption) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f := &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    http.DefaultClient,
		logger:  logger,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchImages запрашивает до count картинок по prompt. count приводится к 1..MaxImages.
func (f *Fetcher) FetchImages(ctx context.Context, prompt string, count int) Result {
	count = max(1, min(MaxImages, count))
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}
	}

	ctx, cancel := context.WithTimeoutCause(ctx, f.timeout, errFetchTimeout)
	defer cancel()

	endpoint := f.baseURL + "/api/images?prompt=" + url.QueryEscape(prompt)
	body, err := f.get(ctx, endpoint)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			f.logger.Errorw("images: server is not running, start it with cmd/server", "url", endpoint, "error", err)
		} else {
			f.logger.Errorw("images: request failed", "url", endpoint, "error", err, "cause", context.Cause(ctx))
		}
		return Result{}
	}

	cands, err := parseCandidates(body)
	if err != nil {
		f.logger.Errorw("images: unexpected response", "url", endpoint, "error", err)
		return Result{}
	}
	res := ResultOf(NormalizeCandidates(cands, count))
	f.logger.Debugw("images: fetched", "prompt", prompt, "requested", count, "available", len(cands), "returned", res.Len())
	return res
}

func (f *Fetcher) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status=%d, body=%s", resp.StatusCode, truncate(b, 256))
	}
	if isHTML(resp.Header.Get("Content-Type"), b) {
		return nil, errors.New("server returned HTML instead of JSON")
	}
	return b, nil
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(truncate(body, 512))))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// parseCandidates выравнивает images и imagesWithDimensions по индексу.
func parseCandidates(body []byte) ([]Candidate, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("malformed JSON")
	}
	doc := gjson.ParseBytes(body)
	images := doc.Get("images")
	if !images.IsArray() {
		return nil, errors.New("missing images array")
	}
	dims := doc.Get("imagesWithDimensions").Array()

	urls := images.Array()
	out := make([]Candidate, 0, len(urls))
	for i, u := range urls {
		if u.Type != gjson.String {
			continue
		}
		c := Candidate{URL: u.String()}
		if i < len(dims) {
			c.Width = int(dims[i].Get("width").Int())
			c.Height = int(dims[i].Get("height").Int())
		}
		out = append(out, c)
	}
	return out, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
