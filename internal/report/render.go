package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/zeebo/xxh3"
)

// NameColour maps a scope name to a stable ANSI 256 colour so an entry
// keeps its colour between frames.
func NameColour(name string) lipgloss.Color {
	// Skip the 16 system colours and the greyscale ramp.
	return lipgloss.Color(strconv.FormatUint(16+xxh3.HashString(name)%216, 10))
}

type styles struct {
	header   lipgloss.Style
	selected lipgloss.Style
	graphed  lipgloss.Style
	warning  lipgloss.Style
	entry    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:   r.NewStyle().Bold(true),
		selected: r.NewStyle().Reverse(true),
		graphed:  r.NewStyle().Foreground(lipgloss.Color("11")),
		warning:  r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		entry:    r.NewStyle(),
	}
}

// Render writes lines to w, styled for w's terminal capabilities. Writers
// that are not terminals get plain text.
func Render(w io.Writer, lines []Line) error {
	st := newStyles(lipgloss.NewRenderer(w))
	for _, l := range lines {
		text := l.Text
		switch l.Kind {
		case KindHeader:
			text = st.header.Render(text)
		case KindSelected:
			text = st.selected.Render(text)
		case KindGraphed:
			text = st.graphed.Render(text)
		case KindWarning:
			text = st.warning.Render(text)
		case KindEntry:
			text = st.entry.Foreground(NameColour(l.Name)).Render(text)
		}
		if _, err := fmt.Fprintln(w, text); err != nil {
			return err
		}
	}
	return nil
}

// Plain joins lines without styling.
func Plain(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
