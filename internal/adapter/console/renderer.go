package console

import (
	"YazekaChat/internal/service/conversation"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// Renderer печатает ходы ассистента в терминал по мере стрима.
// Пока ход стримится, дописывается только выросший хвост текста;
// если текст разошёлся с напечатанным, он печатается заново с новой строки.
type Renderer struct {
	mu      sync.Mutex
	out     io.Writer
	turnID  string
	printed string
}

func NewRenderer(out io.Writer) *Renderer { return &Renderer{out: out} }

// Observe подходит для conversation.WithObserver.
func (r *Renderer) Observe(t conversation.Turn) {
	if t.Role != conversation.RoleAssistant {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID != r.turnID {
		r.turnID = t.ID
		r.printed = ""
		fmt.Fprint(r.out, "Yazeka: ")
	}
	if t.Abandoned {
		fmt.Fprintln(r.out, "\n[отменено]")
		r.turnID = ""
		return
	}

	switch {
	case strings.HasPrefix(t.Text, r.printed):
		fmt.Fprint(r.out, t.Text[len(r.printed):])
	default:
		fmt.Fprint(r.out, "\n"+t.Text)
	}
	r.printed = t.Text

	if t.IsStreaming {
		return
	}
	fmt.Fprintln(r.out)
	r.media(t)
	r.turnID = ""
}

func (r *Renderer) media(t conversation.Turn) {
	for i, u := range t.ImageURLs {
		if i < len(t.ImageDimensions) {
			d := t.ImageDimensions[i]
			fmt.Fprintf(r.out, "  [img %d] %s (%dx%d)\n", i+1, u, d.Width, d.Height)
			continue
		}
		fmt.Fprintf(r.out, "  [img %d] %s\n", i+1, u)
	}
	if t.ExpectedImageCount > 0 && len(t.ImageURLs) == 0 {
		fmt.Fprintln(r.out, "  (картинки не найдены)")
	}
	if t.Video != nil {
		fmt.Fprintf(r.out, "  [video] https://www.youtube.com/results?search_query=%s\n", url.QueryEscape(t.Video.SearchTerm))
	}
}
