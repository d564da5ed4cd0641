package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar draws download progress on one terminal line.
type ProgressBar struct {
	w     io.Writer
	title string
	width int

	mu      sync.Mutex
	current int64
	total   int64
}

// NewProgressBar creates a new progress bar.
func NewProgressBar(w io.Writer, title string) *ProgressBar {
	return &ProgressBar{w: w, title: title, width: 30}
}

// Update sets progress. A total of -1 or 0 draws a byte counter instead
// of a bar.
func (p *ProgressBar) Update(current, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	p.total = total
	p.render()
}

// Finish ends the line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.render()
	fmt.Fprintln(p.w)
}

func (p *ProgressBar) render() {
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%s %s", p.title, FormatBytes(p.current))
		return
	}
	percent := float64(p.current) / float64(p.total)
	if percent > 1 {
		percent = 1
	}
	filled := int(float64(p.width) * percent)
	fmt.Fprintf(p.w, "\r%s [%s%s] %3.0f%% (%s/%s)",
		p.title,
		strings.Repeat("#", filled),
		strings.Repeat(".", p.width-filled),
		percent*100,
		FormatBytes(p.current),
		FormatBytes(p.total),
	)
}

// FormatBytes formats bytes to human readable string.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
