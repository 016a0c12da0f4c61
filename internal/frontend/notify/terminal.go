package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorError   = lipgloss.Color("#E74C3C")

	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
)

// Terminal prints each toast as one styled line.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
	r  *lipgloss.Renderer
}

// NewTerminal writes to w. Colors follow w's terminal profile, so output
// to a pipe or file stays plain.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w, r: lipgloss.NewRenderer(w)}
}

func (t *Terminal) Success(msg string) {
	t.print(successStyle, "✓", msg)
}

func (t *Terminal) Error(msg string) {
	t.print(errorStyle, "✗", msg)
}

func (t *Terminal) print(style lipgloss.Style, icon, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, style.Renderer(t.r).Render(icon+" "+msg))
}
