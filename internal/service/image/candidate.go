package image

import "strings"

// Размеры по умолчанию, если поиск их не сообщил.
const (
	DefaultWidth  = 300
	DefaultHeight = 200
	// MaxImages больше этого числа картинок за ход не показываем.
	MaxImages = 10
)

// Dimensions исходные размеры картинки, нужны UI для раскладки.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Candidate найденная картинка вместе с размерами.
type Candidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (c Candidate) Dimensions() Dimensions {
	return Dimensions{Width: c.Width, Height: c.Height}
}

// Result то, что получает ход: ссылки и размеры выровнены по индексу.
type Result struct {
	Images               []string    `json:"images"`
	ImagesWithDimensions []Candidate `json:"imagesWithDimensions"`
}

// Len число картинок в результате.
func (r Result) Len() int { return len(r.Images) }

// Dimensions размеры в порядке Images.
func (r Result) Dimensions() []Dimensions {
	out := make([]Dimensions, 0, len(r.ImagesWithDimensions))
	for _, c := range r.ImagesWithDimensions {
		out = append(out, c.Dimensions())
	}
	return out
}

var rejectedMarkers = []string{".webp", ".svg", ".img", "data:image"}

// IsAllowedURL отсекает форматы, которые UI не показывает, и инлайновые data-URL.
func IsAllowedURL(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	if u == "" {
		return false
	}
	for _, m := range rejectedMarkers {
		if strings.Contains(u, m) {
			return false
		}
	}
	return true
}

// NormalizeCandidates фильтрует кандидатов, проставляет размеры по умолчанию,
// убирает повторы и обрезает список до limit с сохранением порядка.
func NormalizeCandidates(cands []Candidate, limit int) []Candidate {
	if limit <= 0 {
		return nil
	}
	out := make([]Candidate, 0, min(limit, len(cands)))
	seen := make(map[string]struct{}, len(cands))
	for _, c := range cands {
		if len(out) >= limit {
			break
		}
		c.URL = strings.TrimSpace(c.URL)
		if !IsAllowedURL(c.URL) {
			continue
		}
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		if c.Width <= 0 {
			c.Width = DefaultWidth
		}
		if c.Height <= 0 {
			c.Height = DefaultHeight
		}
		out = append(out, c)
	}
	return out
}

// ResultOf собирает Result из уже нормализованных кандидатов.
func ResultOf(cands []Candidate) Result {
	res := Result{
		Images:               make([]string, 0, len(cands)),
		ImagesWithDimensions: make([]Candidate, 0, len(cands)),
	}
	for _, c := range cands {
		res.Images = append(res.Images, c.URL)
		res.ImagesWithDimensions = append(res.ImagesWithDimensions, c)
	}
	return res
}

// Truncate оставляет первые n картинок; результат никогда не дополняется.
func (r Result) Truncate(n int) Result {
	n = max(0, n)
	if len(r.Images) > n {
		r.Images = r.Images[:n]
	}
	if len(r.ImagesWithDimensions) > n {
		r.ImagesWithDimensions = r.ImagesWithDimensions[:n]
	}
	return r
}
