package ui

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/somafm-tui/internal/session"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

func (ui *UI) createStationListTable() *tview.Table {
	table := tview.NewTable().
		SetBorders(false).
		SetSeparator(' ').
		SetSelectable(true, false).
		SetFixed(1, 0)

	table.SetBorder(true).
		SetTitle(stationListTitle(ui.stationService.StationCount(), ui.lastSnapshot)).
		SetBorderColor(ui.colors.borders).
		SetTitleColor(ui.colors.foreground).
		SetBackgroundColor(ui.colors.background).
		SetBorderPadding(1, 0, 1, 1)

	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(ui.colors.background).
		Background(ui.colors.highlight))

	table.SetCell(0, 0, tview.NewTableCell(" ").
		SetTextColor(ui.colors.stationListHeaderForeground).
		SetBackgroundColor(ui.colors.stationListHeaderBackground).
		SetMaxWidth(2).
		SetSelectable(false))

	table.SetCell(0, 1, tview.NewTableCell(" ").
		SetTextColor(ui.colors.stationListHeaderForeground).
		SetBackgroundColor(ui.colors.stationListHeaderBackground).
		SetMaxWidth(2).
		SetSelectable(false))

	table.SetCell(0, 2, tview.NewTableCell("Name").
		SetTextColor(ui.colors.stationListHeaderForeground).
		SetBackgroundColor(ui.colors.stationListHeaderBackground).
		SetExpansion(1).
		SetSelectable(false))

	table.SetCell(0, 3, tview.NewTableCell("Genre").
		SetTextColor(ui.colors.stationListHeaderForeground).
		SetBackgroundColor(ui.colors.stationListHeaderBackground).
		SetExpansion(1).
		SetSelectable(false))

	table.SetCell(0, 4, tview.NewTableCell("Listeners").
		SetTextColor(ui.colors.stationListHeaderForeground).
		SetBackgroundColor(ui.colors.stationListHeaderBackground).
		SetAlign(tview.AlignRight).
		SetSelectable(false))

	stationCount := ui.stationService.StationCount()
	for i := 0; i < stationCount; i++ {
		ui.setStationRow(table, i+1, i)
	}

	// Track selected station ID for preserving selection after refresh
	table.SetSelectionChangedFunc(func(row, column int) {
		count := ui.stationService.StationCount()
		if row > 0 && row <= count {
			if s := ui.stationService.GetStation(row - 1); s != nil {
				ui.selectedStationID = s.ID
			}
		}
	})

	return table
}

// stationListTitle names the list and, while a channel is on air, the
// channel and its state.
func stationListTitle(count int, snap session.Snapshot) string {
	title := fmt.Sprintf("Stations (%d)", count)
	if snap.State == session.Stopped || snap.Channel == nil {
		return title
	}
	return fmt.Sprintf("%s %s %s ", title, playStateIcon(snap.State), tview.Escape(snap.Channel.Title))
}

func playStateIcon(state session.State) string {
	switch state {
	case session.Playing:
		return "➤"
	case session.Paused:
		return "⏸"
	default:
		return " "
	}
}

func (ui *UI) setStationRow(table *tview.Table, row int, stationIndex int) {
	s := ui.stationService.GetStation(stationIndex)
	if s == nil {
		return
	}

	favIcon := " "
	if ui.config.IsFavorite(s.ID) {
		favIcon = "★"
	}
	table.SetCell(row, 0, tview.NewTableCell(favIcon).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(2))

	playIcon := " "
	if stationIndex == ui.playingIndex {
		playIcon = playStateIcon(ui.sessionState)
	}
	table.SetCell(row, 1, tview.NewTableCell(playIcon).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(2))

	table.SetCell(row, 2, tview.NewTableCell(s.Title).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(35).
		SetExpansion(2))

	genreText := strings.ReplaceAll(s.Genre, "|", ", ")
	table.SetCell(row, 3, tview.NewTableCell(genreText).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(27).
		SetExpansion(1))

	table.SetCell(row, 4, tview.NewTableCell(s.Listeners).
		SetTextColor(ui.colors.foreground).
		SetAlign(tview.AlignRight))
}

// nextStation advances playback one channel. With nothing playing the
// session starts from the top of the list.
func (ui *UI) nextStation() {
	if ui.stationService.StationCount() == 0 {
		return
	}
	ui.command("next", ui.ctrl.Next)
}

func (ui *UI) prevStation() {
	if ui.stationService.StationCount() == 0 {
		return
	}
	ui.command("previous", ui.ctrl.Previous)
}

// pickRandom returns an index in [0, count) other than exclude when there is
// a choice. intn is rand.Intn outside tests.
func pickRandom(count, exclude int, intn func(int) int) int {
	if count <= 1 {
		return 0
	}
	if exclude < 0 || exclude >= count {
		return intn(count)
	}
	i := intn(count - 1)
	if i >= exclude {
		i++
	}
	return i
}

// randomStation plays a channel other than the one already on air.
func (ui *UI) randomStation() {
	stationCount := ui.stationService.StationCount()
	if stationCount == 0 {
		return
	}

	exclude := -1
	if ui.sessionState != session.Stopped {
		exclude = ui.playingIndex
	}
	randomIndex := pickRandom(stationCount, exclude, rand.Intn)
	ui.stationList.Select(randomIndex+1, 0)
	ui.onStationSelected(randomIndex)
}

func (ui *UI) selectAndShowStation(index int) {
	s := ui.stationService.GetStation(index)
	if s == nil {
		return
	}

	ui.stationList.Select(index+1, 0)
	ui.showStation(s)

	log.Debug().Msgf("Showing station info (without playing): %s", s.Title)
}

func (ui *UI) toggleFavorite() {
	row, _ := ui.stationList.GetSelection()
	stationCount := ui.stationService.StationCount()
	if row <= 0 || row > stationCount {
		return
	}

	stationIndex := row - 1
	selectedStation := ui.stationService.GetStation(stationIndex)
	if selectedStation == nil {
		return
	}

	ui.config.ToggleFavorite(selectedStation.ID)

	favCell := ui.stationList.GetCell(row, 0)
	if favCell != nil {
		if ui.config.IsFavorite(selectedStation.ID) {
			favCell.SetText("★")
		} else {
			favCell.SetText(" ")
		}
	}

	go func() {
		if err := ui.config.Save(); err != nil {
			log.Error().Err(err).Msg("Failed to save config")
		}
	}()

	log.Debug().Msgf("Toggled favorite for station: %s", selectedStation.Title)
}

func (ui *UI) refreshStationTable() {
	stationCount := ui.stationService.StationCount()

	// Stations may have been re-sorted, so update index by ID
	if ui.playingStationID != "" {
		newIndex := ui.stationService.FindIndexByID(ui.playingStationID)
		if newIndex >= 0 {
			ui.playingIndex = newIndex
		}
	}

	for i := 0; i < stationCount; i++ {
		ui.setStationRow(ui.stationList, i+1, i)
	}

	if ui.selectedStationID != "" {
		newIndex := ui.stationService.FindIndexByID(ui.selectedStationID)
		if newIndex >= 0 {
			ui.stationList.Select(newIndex+1, 0)
		}
	}

	ui.stationList.SetTitle(stationListTitle(stationCount, ui.lastSnapshot))

	log.Debug().Int("count", stationCount).Msg("Station table refreshed")
}

func (ui *UI) updateStationListPlayingIndicator() {
	stationCount := ui.stationService.StationCount()
	if ui.playingIndex < 0 || ui.playingIndex >= stationCount {
		return
	}

	if ui.sessionState == session.Stopped {
		return
	}

	row := ui.playingIndex + 1
	s := ui.stationService.GetStation(ui.playingIndex)
	if s == nil {
		return
	}

	if playCell := ui.stationList.GetCell(row, 1); playCell != nil {
		playCell.SetText(playStateIcon(ui.sessionState))
	}

	nameCell := ui.stationList.GetCell(row, 2)
	if nameCell == nil {
		return
	}

	name := s.Title
	indicator := ui.getPlayingIndicator()

	const maxNameWidth = 35
	maxLen := maxNameWidth - len(indicator) - 1
	if len(name) > maxLen {
		name = name[:maxLen-3] + "..."
	}

	nameText := name + " " + indicator
	nameCell.SetText(nameText)
}
