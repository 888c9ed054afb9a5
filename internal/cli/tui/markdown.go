package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// MarkdownRenderer renders assistant replies as styled terminal output
type MarkdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int
}

// NewMarkdownRenderer creates a renderer wrapping at width
func NewMarkdownRenderer(width int) (*MarkdownRenderer, error) {
	r, err := newTermRenderer(width)
	if err != nil {
		return nil, err
	}
	return &MarkdownRenderer{renderer: r, width: width}, nil
}

func newTermRenderer(width int) (*glamour.TermRenderer, error) {
	// A fixed style avoids terminal color detection escape sequences
	return glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(width),
	)
}

// Render renders content, returning it unchanged when rendering fails
func (m *MarkdownRenderer) Render(content string) string {
	if m == nil || m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}

// UpdateWidth rebuilds the renderer when the wrap width changes
func (m *MarkdownRenderer) UpdateWidth(width int) error {
	if m == nil || width == m.width || width <= 0 {
		return nil
	}
	r, err := newTermRenderer(width)
	if err != nil {
		return err
	}
	m.renderer = r
	m.width = width
	return nil
}
