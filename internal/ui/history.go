package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebovdev/somafm-tui/internal/metadata"
	"github.com/rivo/tview"
)

const historyPlaceholder = "[::d]Nothing played yet[::-]"

// formatHistory renders played tracks newest first, one per line, each
// prefixed with how long ago it was captured and cut to width cells.
func formatHistory(entries []metadata.HistoryEntry, width int, now time.Time) string {
	if len(entries) == 0 {
		return historyPlaceholder
	}

	var b strings.Builder
	for i, entry := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		age := formatAge(now.Sub(entry.CapturedAt))
		line := truncate(entry.Track.String(), width-len(age)-1)
		fmt.Fprintf(&b, "[::d]%s[::-] %s", age, tview.Escape(line))
	}
	return b.String()
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	default:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
}

// truncate shortens s to at most width runes, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(runes[:width-1]) + "…"
}
