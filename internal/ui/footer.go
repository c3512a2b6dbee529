package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/somafm-tui/internal/player"
	"github.com/glebovdev/somafm-tui/internal/session"
	"github.com/glebovdev/somafm-tui/internal/station"
	"github.com/rivo/tview"
)

// EngineStatus is the read-only diagnostics side of the playback engine.
type EngineStatus interface {
	GetState() player.PlayerState
	GetStreamInfo() player.StreamInfo
	GetBufferHealth() int
	GetSessionDuration() time.Duration
	GetLastError() string
}

type StatusRenderer struct {
	engine        EngineStatus
	state         session.State
	lastError     string
	quality       string
	isMuted       bool
	animFrame     int
	maxAnimFrame  int
	tickCount     int
	ticksPerFrame int

	bufferHealth         int
	bufferTickCount      int
	bufferTicksPerUpdate int

	primaryColor string
}

func NewStatusRenderer(engine EngineStatus) *StatusRenderer {
	return &StatusRenderer{
		engine:               engine,
		maxAnimFrame:         4,
		ticksPerFrame:        8,  // Slow down animation (8 ticks per frame)
		bufferTicksPerUpdate: 10, // Update buffer ~1 per second (10 * 100ms)
	}
}

func (s *StatusRenderer) SetMuted(muted bool) {
	s.isMuted = muted
}

func (s *StatusRenderer) SetPrimaryColor(color string) {
	s.primaryColor = color
}

// Update records the session state the status line describes.
func (s *StatusRenderer) Update(snap session.Snapshot) {
	s.state = snap.State
	s.lastError = snap.LastError
	s.quality = ""
	if snap.Channel != nil {
		s.quality = playlistQuality(snap.Channel)
	}
}

func (s *StatusRenderer) AdvanceAnimation() {
	s.tickCount++
	if s.tickCount >= s.ticksPerFrame {
		s.tickCount = 0
		s.animFrame = (s.animFrame + 1) % s.maxAnimFrame
	}

	s.bufferTickCount++
	if s.bufferTickCount >= s.bufferTicksPerUpdate {
		s.bufferTickCount = 0
		if s.engine != nil {
			s.bufferHealth = s.engine.GetBufferHealth()
		}
	}
}

func (s *StatusRenderer) Render() string {
	switch s.state {
	case session.Paused:
		return s.renderPaused()
	case session.Playing:
		if s.engine != nil && s.engine.GetState() == player.StateBuffering {
			return s.renderBuffering()
		}
		return s.renderPlaying()
	default:
		if s.lastError != "" {
			return s.renderError()
		}
		return s.renderIdle()
	}
}

func (s *StatusRenderer) renderIdle() string {
	if s.isMuted {
		return "○ IDLE │ [red]MUTED[-] │ Select a station"
	}
	return "○ IDLE │ Select a station"
}

func (s *StatusRenderer) renderBuffering() string {
	circles := []string{"◐", "◓", "◑", "◒"}
	return fmt.Sprintf("%s BUFFERING", circles[s.animFrame])
}

func (s *StatusRenderer) streamInfo() string {
	if s.engine == nil {
		return ""
	}
	info := s.engine.GetStreamInfo()
	if info.Format == "" {
		return ""
	}
	sampleRateKHz := float64(info.SampleRate) / 1000.0
	return fmt.Sprintf("%s %s %dk %.1fkHz",
		info.Format,
		qualityShort(s.quality),
		info.Bitrate,
		sampleRateKHz)
}

func (s *StatusRenderer) renderPlaying() string {
	dots := []string{"●", "◉", "○", "◉"}
	dot := dots[s.animFrame]

	if s.primaryColor != "" {
		dot = fmt.Sprintf("[%s]%s[-]", s.primaryColor, dot)
	}

	parts := []string{dot + " LIVE"}

	if s.isMuted {
		parts = append(parts, "[red]MUTED[-]")
	}

	if info := s.streamInfo(); info != "" {
		parts = append(parts, info)
	}

	parts = append(parts, s.formatBufferHealth(s.bufferHealth))

	if s.engine != nil {
		if d := s.engine.GetSessionDuration(); d > 0 {
			parts = append(parts, formatDuration(d))
		}
	}

	return joinParts(parts)
}

func (s *StatusRenderer) renderPaused() string {
	parts := []string{PauseIcon + " PAUSED"}

	if s.isMuted {
		parts = append(parts, "[red]MUTED[-]")
	}

	if info := s.streamInfo(); info != "" {
		parts = append(parts, info)
	}

	return joinParts(parts)
}

func (s *StatusRenderer) renderError() string {
	errMsg := s.lastError
	if errMsg == "" && s.engine != nil {
		errMsg = s.engine.GetLastError()
	}
	if errMsg == "" {
		errMsg = "ERROR"
	}
	if len(errMsg) > 60 {
		errMsg = errMsg[:57] + "..."
	}
	return fmt.Sprintf("✗ %s", tview.Escape(errMsg))
}

func (s *StatusRenderer) formatBufferHealth(percent int) string {
	signalBars := []string{"▁", "▂", "▃", "▅", "▇"}
	const numBars = 5

	filled := (percent * numBars) / 100
	if filled > numBars {
		filled = numBars
	}

	bar := ""
	for i := 0; i < numBars; i++ {
		if i < filled {
			bar += signalBars[i]
		} else {
			bar += "▁"
		}
	}

	return bar
}

// formatDuration renders listening time as m:ss, or h:mm:ss past an hour.
func formatDuration(d time.Duration) string {
	total := int(d / time.Second)
	hours, minutes, seconds := total/3600, (total%3600)/60, total%60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

func qualityShort(quality string) string {
	switch quality {
	case "highest", "high":
		return "HQ"
	case "medium":
		return "MQ"
	case "low":
		return "LQ"
	default:
		return ""
	}
}

// playlistQuality is the quality label of the playlist the channel plays from.
func playlistQuality(ch *station.Station) string {
	url, err := ch.ResolveStreamURL()
	if err != nil {
		return ""
	}
	for _, pl := range ch.Playlists {
		if pl.URL == url {
			return pl.Quality
		}
	}
	return ""
}

func joinParts(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	result := parts[0]
	for i := 1; i < len(parts); i++ {
		result += " │ " + parts[i]
	}
	return result
}

func (ui *UI) getPlaybackHint(keyColor string) string {
	switch ui.sessionState {
	case session.Paused:
		return fmt.Sprintf("[%s]Enter[-] play  [%s]Space[-] resume", keyColor, keyColor)
	case session.Playing:
		return fmt.Sprintf("[%s]Enter[-] play  [%s]Space[-] pause  [%s]s[-] stop", keyColor, keyColor, keyColor)
	default:
		return fmt.Sprintf("[%s]Space[-] play", keyColor)
	}
}

func (ui *UI) getHelpText() string {
	keyColor := ui.colors.helpHotkey.String()
	playbackHint := ui.getPlaybackHint(keyColor)

	muteText := "mute"
	if ui.isMuted {
		muteText = "unmute"
	}

	return fmt.Sprintf(" %s  [%s]+/-[-] vol  [%s]m[-] %s  [%s]?[-] help  [%s]a[-] about  [%s]q[-] quit ",
		playbackHint, keyColor, keyColor, muteText, keyColor, keyColor, keyColor)
}

func (ui *UI) handleFooterResize(width int) {
	isWide := width >= FooterBreakpoint
	wasWide := ui.lastFooterWidth >= FooterBreakpoint

	if ui.lastFooterWidth > 0 && isWide != wasWide && ui.contentLayout != nil {
		newHeight := FooterHeightWide
		if !isWide {
			newHeight = FooterHeightNarrow
		}
		ui.contentLayout.ResizeItem(ui.helpPanel, newHeight, 0)
	}
	ui.lastFooterWidth = width
}

func (ui *UI) drawWideFooter(screen tcell.Screen, x, y, width, height int, helpText, statusText string) {
	helpWidth := width / 2
	statusWidth := width - helpWidth

	for row := y; row < y+height; row++ {
		for col := x; col < x+helpWidth; col++ {
			screen.SetContent(col, row, ' ', nil, tcell.StyleDefault.Background(ui.colors.helpBackground))
		}
	}

	for row := y; row < y+height; row++ {
		for col := x + helpWidth; col < x+width; col++ {
			screen.SetContent(col, row, ' ', nil, tcell.StyleDefault.Background(ui.colors.background))
		}
	}

	centerY := y + height/2
	tview.Print(screen, helpText, x, centerY, helpWidth, tview.AlignCenter, ui.colors.helpForeground)
	tview.Print(screen, statusText, x+helpWidth, centerY, statusWidth-2, tview.AlignRight, ui.colors.foreground)
}

func (ui *UI) drawNarrowFooter(screen tcell.Screen, x, y, width, height int, helpText, statusText string) {
	helpHeight := height / 2
	if helpHeight < 1 {
		helpHeight = 1
	}
	statusHeight := height - helpHeight
	helpBoxEnd := y + helpHeight

	for row := y; row < helpBoxEnd; row++ {
		for col := x; col < x+width; col++ {
			screen.SetContent(col, row, ' ', nil, tcell.StyleDefault.Background(ui.colors.helpBackground))
		}
	}

	for row := helpBoxEnd; row < y+height; row++ {
		for col := x; col < x+width; col++ {
			screen.SetContent(col, row, ' ', nil, tcell.StyleDefault.Background(ui.colors.background))
		}
	}

	helpTextY := y + helpHeight/2
	tview.Print(screen, helpText, x, helpTextY, width, tview.AlignCenter, ui.colors.helpForeground)

	if statusHeight > 0 {
		statusTextY := helpBoxEnd + statusHeight/2
		tview.Print(screen, statusText, x, statusTextY, width-2, tview.AlignRight, ui.colors.foreground)
	}
}

func (ui *UI) createFooter() *tview.Box {
	box := tview.NewBox().SetBackgroundColor(ui.colors.background)

	box.SetDrawFunc(func(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
		ui.handleFooterResize(width)

		helpText := ui.getHelpText()
		statusText := " " + ui.statusRenderer.Render() + " "

		isWide := width >= FooterBreakpoint
		usedHeight := height
		if isWide && height > FooterHeightWide {
			usedHeight = FooterHeightWide
		}

		if isWide {
			ui.drawWideFooter(screen, x, y, width, usedHeight, helpText, statusText)
		} else {
			ui.drawNarrowFooter(screen, x, y, width, height, helpText, statusText)
		}

		return x, y, width, height
	})

	return box
}
