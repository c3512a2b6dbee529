package ui

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/somafm-tui/internal/config"
	"github.com/glebovdev/somafm-tui/internal/metadata"
	"github.com/glebovdev/somafm-tui/internal/mirror"
	"github.com/glebovdev/somafm-tui/internal/service"
	"github.com/glebovdev/somafm-tui/internal/session"
	"github.com/glebovdev/somafm-tui/internal/station"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

const (
	VolumeStep            = 5
	HeaderHeight          = 3
	FooterHeightWide      = 3 // Wide: 1 row with padding (top + text + bottom)
	FooterHeightNarrow    = 6 // Narrow: 2 rows × 3 lines each
	CoverWidth            = 26
	CoverHeight           = 12
	HistoryWidth          = 42
	PlayerPanelHeight     = 12
	FooterBreakpoint      = 130 // Width threshold for responsive footer
	MinLoadingDisplayTime = 1200 * time.Millisecond
	MinStatusDisplayTime  = 300 * time.Millisecond
	StationRefreshPeriod  = 30 * time.Second
)

// PauseIcon uses platform-specific character (Windows renders ⏸ as emoji)
var PauseIcon = func() string {
	if runtime.GOOS == "windows" {
		return "❚❚"
	}
	return "⏸"
}()

// TrackSeeder accepts an initial track for a channel from an out-of-band source.
type TrackSeeder interface {
	SeedTrack(channelID string, t metadata.Track) bool
}

type Options struct {
	Config      *config.Config
	Controller  mirror.Controller
	Seeder      TrackSeeder
	Engine      EngineStatus
	Stations    *service.StationService
	StartRandom bool
	// OnExit runs after the application loop stops.
	OnExit func()
}

// UI is the interactive control surface. It renders session snapshots it
// receives as a mirror.Observer and issues commands through the controller.
type UI struct {
	app               *tview.Application
	stationService    *service.StationService
	ctrl              mirror.Controller
	seeder            TrackSeeder
	currentStation    *station.Station
	stationList       *tview.Table
	helpPanel         *tview.Box
	contentLayout     *tview.Flex
	playerPanel       *tview.Flex
	currentTrackView  *tview.TextView
	historyView       *tview.TextView
	logoPanel         *tview.Image
	volumeView        *tview.Flex
	mainLayout        *tview.Flex
	loadingScreen     *tview.Flex
	loadingText       *tview.TextView
	progressBar       *tview.TextView
	pages             *tview.Pages
	done              chan struct{}
	refresh           chan struct{}
	loopOnce          sync.Once
	playingIndex      int
	playingStationID  string
	selectedStationID string
	lastQuery         string
	sessionState      session.State
	lastSnapshot      session.Snapshot
	pendingSnapshot   *session.Snapshot
	active            bool
	currentVolume     int
	isMuted           bool
	config            *config.Config
	startRandom       bool
	onExit            func()
	lastFooterWidth   int // Track width to detect layout changes
	mu                sync.Mutex
	animationFrame    int
	playingSpinner    *PlayingSpinner
	statusRenderer    *StatusRenderer
	colors            struct {
		background                  tcell.Color
		foreground                  tcell.Color
		borders                     tcell.Color
		highlight                   tcell.Color
		headerBackground            tcell.Color
		stationListHeaderBackground tcell.Color
		stationListHeaderForeground tcell.Color
		helpBackground              tcell.Color
		helpForeground              tcell.Color
		helpHotkey                  tcell.Color
		genreTagBackground          tcell.Color
		modalBackground             tcell.Color
	}
}

func NewUI(opts Options) *UI {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	ui := &UI{
		app:            tview.NewApplication(),
		ctrl:           opts.Controller,
		seeder:         opts.Seeder,
		stationService: opts.Stations,
		done:           make(chan struct{}),
		refresh:        make(chan struct{}, 1),
		playingIndex:   -1,
		currentVolume:  cfg.Volume,
		isMuted:        false,
		config:         cfg,
		startRandom:    opts.StartRandom,
		onExit:         opts.OnExit,
		lastSnapshot:   session.Snapshot{State: session.Stopped, Track: metadata.Sentinel(), Volume: cfg.Volume},
	}

	ui.colors.background = config.GetColor(cfg.Theme.Background)
	ui.colors.foreground = config.GetColor(cfg.Theme.Foreground)
	ui.colors.borders = config.GetColor(cfg.Theme.Borders)
	ui.colors.highlight = config.GetColor(cfg.Theme.Highlight)
	ui.colors.headerBackground = config.GetColor(cfg.Theme.HeaderBackground)
	ui.colors.stationListHeaderBackground = config.GetColor(cfg.Theme.StationListHeaderBackground)
	ui.colors.stationListHeaderForeground = config.GetColor(cfg.Theme.StationListHeaderForeground)
	ui.colors.helpBackground = config.GetColor(cfg.Theme.HelpBackground)
	ui.colors.helpForeground = config.GetColor(cfg.Theme.HelpForeground)
	ui.colors.helpHotkey = config.GetColor(cfg.Theme.HelpHotkey)
	ui.colors.genreTagBackground = config.GetColor(cfg.Theme.GenreTagBackground)
	ui.colors.modalBackground = config.GetColor(cfg.Theme.ModalBackground)

	ui.statusRenderer = NewStatusRenderer(opts.Engine)
	ui.statusRenderer.SetPrimaryColor(ui.colors.highlight.String())

	return ui
}

func (ui *UI) Name() string {
	return "tui"
}

// OnStateChanged stores the snapshot and wakes the render loop. It never
// blocks on the terminal.
func (ui *UI) OnStateChanged(snap session.Snapshot) error {
	ui.deliver(snap)
	return nil
}

func (ui *UI) OnMetadataChanged(snap session.Snapshot) error {
	ui.deliver(snap)
	return nil
}

func (ui *UI) deliver(snap session.Snapshot) {
	ui.mu.Lock()
	ui.pendingSnapshot = &snap
	ui.active = snap.State != session.Stopped
	ui.mu.Unlock()

	select {
	case ui.refresh <- struct{}{}:
	default:
	}
}

func (ui *UI) takeSnapshot() (session.Snapshot, bool) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	if ui.pendingSnapshot == nil {
		return session.Snapshot{}, false
	}
	snap := *ui.pendingSnapshot
	ui.pendingSnapshot = nil
	return snap, true
}

func (ui *UI) SaveConfig() {
	ui.mu.Lock()
	if !ui.isMuted {
		ui.config.Volume = ui.currentVolume
	}
	if ui.playingStationID != "" {
		ui.config.LastStation = ui.playingStationID
	} else if ui.currentStation != nil {
		ui.config.LastStation = ui.currentStation.ID
	}
	ui.mu.Unlock()

	if err := ui.config.Save(); err != nil {
		log.Error().Err(err).Msg("Failed to save config")
	}
}

func (ui *UI) closeDone() {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	select {
	case <-ui.done:
		// Already closed
	default:
		close(ui.done)
	}
}

func (ui *UI) stop() {
	if ui.stationService != nil {
		ui.stationService.StopPeriodicRefresh()
	}
	ui.closeDone()
	ui.app.Stop()
}

// Shutdown stops the UI gracefully from external callers (e.g., signal handlers).
func (ui *UI) Shutdown() {
	go ui.app.QueueUpdateDraw(func() {
		ui.stop()
	})
}

func (ui *UI) Run() error {
	ui.setupLoadingScreen()
	ui.app.SetRoot(ui.loadingScreen, true)
	ui.configureScreen()

	go ui.initAsync()

	err := ui.app.Run()
	ui.closeDone()
	if ui.onExit != nil {
		ui.onExit()
	}
	return err
}

func (ui *UI) configureScreen() {
	bgStyle := tcell.StyleDefault.Background(ui.colors.background)
	ui.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		screen.SetStyle(bgStyle)
		screen.Clear()
		return false
	})

	var titleSet sync.Once
	ui.app.SetAfterDrawFunc(func(screen tcell.Screen) {
		titleSet.Do(func() { screen.SetTitle(config.AppName) })
	})
}

func (ui *UI) initAsync() {
	if err := ui.fetchStationsAndInitUI(); err != nil {
		ui.app.QueueUpdateDraw(func() {
			ui.handleInitialError(err)
		})
	}
}

func (ui *UI) setupLoadingScreen() {
	ui.loadingText = tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetText("Connecting to SomaFM... (1/3)")
	ui.loadingText.SetTextColor(ui.colors.foreground).
		SetBackgroundColor(ui.colors.background)

	ui.progressBar = tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetText(renderProgressBar(0))
	ui.progressBar.SetTextColor(ui.colors.highlight).
		SetBackgroundColor(ui.colors.background)

	content := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.loadingText, 1, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.progressBar, 1, 0, false)
	content.SetBackgroundColor(ui.colors.background)

	ui.loadingScreen = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(content, 3, 0, false).
		AddItem(nil, 0, 1, false)

	ui.loadingScreen.SetBackgroundColor(ui.colors.background)
}

func renderProgressBar(percent int) string {
	const width = 30
	percent = min(max(percent, 0), 100)
	filled := (percent * width) / 100
	empty := width - filled
	return strings.Repeat("█", filled) + strings.Repeat("░", empty)
}

func (ui *UI) animateProgress(fromPercent, toPercent int, duration time.Duration) {
	steps := toPercent - fromPercent
	if steps <= 0 {
		return
	}
	stepDuration := duration / time.Duration(steps)
	lastBar := renderProgressBar(fromPercent)

	for p := fromPercent + 1; p <= toPercent; p++ {
		time.Sleep(stepDuration)
		if bar := renderProgressBar(p); bar != lastBar {
			ui.app.QueueUpdateDraw(func() {
				ui.progressBar.SetText(bar)
			})
			lastBar = bar
		}
	}
}

func (ui *UI) fetchStationsAndInitUI() error {
	const totalStages = 3
	stagePercent := func(stage int) int { return (stage * 100) / totalStages }

	startTime := time.Now()

	animDone := make(chan struct{})
	go func() {
		ui.animateProgress(stagePercent(0), stagePercent(1), MinStatusDisplayTime)
		close(animDone)
	}()

	ui.stationService.SetUsage(ui.config.ChannelUsage)
	_, err := ui.stationService.GetStations()
	if err != nil {
		return fmt.Errorf("failed to fetch stations: %w", err)
	}
	log.Debug().Msgf("Loaded %d stations in %v", ui.stationService.StationCount(), time.Since(startTime))

	<-animDone

	ui.app.QueueUpdateDraw(func() {
		ui.loadingText.SetText("Loading configuration... (2/3)")
	})

	validIDs := ui.stationService.GetValidStationIDs()
	ui.config.CleanupFavorites(validIDs)
	ui.config.CleanupUsage(validIDs)
	ui.SaveConfig()

	ui.animateProgress(stagePercent(1), stagePercent(2), MinStatusDisplayTime)

	ui.app.QueueUpdateDraw(func() {
		ui.loadingText.SetText("Building interface... (3/3)")
	})

	ui.setupUI()
	ui.stationService.StartPeriodicRefresh(StationRefreshPeriod, ui.onStationsRefreshed)

	ui.animateProgress(stagePercent(2), stagePercent(3), MinStatusDisplayTime)

	// Floor, not ceiling: wait only if real work finished early.
	if elapsed := time.Since(startTime); elapsed < MinLoadingDisplayTime {
		time.Sleep(MinLoadingDisplayTime - elapsed)
	}
	log.Debug().Msgf("Total loading time: %v", time.Since(startTime))

	ui.app.QueueUpdateDraw(func() {
		ui.app.SetRoot(ui.pages, true).EnableMouse(true)
		ui.app.SetFocus(ui.stationList)

		ui.applySnapshot(ui.ctrl.Snapshot())
		ui.loopOnce.Do(func() { go ui.renderLoop() })

		if ui.startRandom {
			ui.randomStation()
			return
		}

		if ui.config.LastStation == "" {
			ui.selectAndShowStation(0)
			return
		}

		index := ui.stationService.FindIndexByID(ui.config.LastStation)
		if index < 0 {
			log.Debug().Msgf("Last station '%s' not found, showing first station", ui.config.LastStation)
			ui.selectAndShowStation(0)
			return
		}

		if ui.config.Autostart {
			log.Debug().Msgf("Autostart enabled, playing last station: %s", ui.config.LastStation)
			ui.stationList.Select(index+1, 0)
			ui.onStationSelected(index)
		} else {
			ui.selectAndShowStation(index)
		}
	})

	return nil
}

// renderLoop applies delivered snapshots and drives the animations on the
// tview goroutine until the UI stops.
func (ui *UI) renderLoop() {
	if ui.playingSpinner == nil {
		ui.playingSpinner = NewPlayingSpinner()
	}
	animationTicker := time.NewTicker(ui.playingSpinner.FPS)
	defer animationTicker.Stop()

	for {
		select {
		case <-ui.done:
			return
		case <-ui.refresh:
			ui.app.QueueUpdateDraw(func() {
				if snap, ok := ui.takeSnapshot(); ok {
					ui.applySnapshot(snap)
				}
			})
		case <-animationTicker.C:
			ui.mu.Lock()
			active := ui.active
			ui.mu.Unlock()
			if !active {
				continue
			}
			ui.app.QueueUpdateDraw(func() {
				ui.animationFrame++
				ui.statusRenderer.AdvanceAnimation()
				ui.updateStationListPlayingIndicator()
			})
		}
	}
}

// applySnapshot renders snap. Runs on the tview goroutine.
func (ui *UI) applySnapshot(snap session.Snapshot) {
	previousID := ui.playingStationID
	previousIndex := ui.playingIndex

	ui.lastSnapshot = snap
	ui.sessionState = snap.State
	ui.statusRenderer.Update(snap)

	ui.playingStationID = ""
	if snap.Channel != nil && snap.State != session.Stopped {
		ui.playingStationID = snap.Channel.ID
	}
	ui.playingIndex = -1
	if ui.playingStationID != "" {
		ui.playingIndex = ui.stationService.FindIndexByID(ui.playingStationID)
	}

	if previousIndex >= 0 && previousIndex != ui.playingIndex && previousIndex < ui.stationService.StationCount() {
		ui.setStationRow(ui.stationList, previousIndex+1, previousIndex)
	}
	if ui.playingIndex >= 0 {
		ui.setStationRow(ui.stationList, ui.playingIndex+1, ui.playingIndex)
	}
	ui.stationList.SetTitle(stationListTitle(ui.stationService.StationCount(), snap))

	if ui.playingStationID != "" && ui.playingStationID != previousID {
		ui.config.RecordUsage(ui.playingStationID, time.Now())
		if ui.currentStation == nil || ui.currentStation.ID != ui.playingStationID {
			ui.showStation(snap.Channel)
			if ui.playingIndex >= 0 {
				ui.stationList.Select(ui.playingIndex+1, 0)
			}
		}
		ui.SaveConfig()
	}

	ui.applyVolume(snap.Volume)
	ui.updateTrackInfo()
	ui.updateStationListPlayingIndicator()
}

func (ui *UI) setupUI() {
	header := ui.createHeader()

	ui.playerPanel = tview.NewFlex().SetDirection(tview.FlexRow)
	ui.playerPanel.SetBackgroundColor(ui.colors.background)

	ui.stationList = ui.createStationListTable()

	ui.helpPanel = ui.createFooter()

	ui.contentLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, HeaderHeight, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.playerPanel, PlayerPanelHeight, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.stationList, 0, 1, true).
		AddItem(ui.helpPanel, FooterHeightWide, 0, false)
	ui.contentLayout.SetBackgroundColor(ui.colors.background)

	wrapper := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 3, 0, false).
		AddItem(ui.contentLayout, 0, 1, true).
		AddItem(nil, 3, 0, false)
	wrapper.SetBackgroundColor(ui.colors.background)

	ui.mainLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 1, 0, false).
		AddItem(wrapper, 0, 1, true).
		AddItem(nil, 1, 0, false)
	ui.mainLayout.SetBackgroundColor(ui.colors.background)

	ui.pages = tview.NewPages().
		AddPage("main", ui.mainLayout, true, true)
	ui.pages.SetBackgroundColor(ui.colors.background)

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if ui.pages.HasPage("modal") || ui.pages.HasPage("error-modal") || ui.pages.HasPage("search") {
			return event
		}
		return ui.globalInputHandler(event)
	})
}

func (ui *UI) createHeader() tview.Primitive {
	titleView := tview.NewTextView()
	titleView.SetText(" " + config.AppName)
	titleView.SetTextAlign(tview.AlignLeft)
	titleView.SetTextColor(ui.colors.foreground)
	titleView.SetBackgroundColor(ui.colors.headerBackground)

	versionView := tview.NewTextView()
	versionView.SetText("v" + config.AppVersion + " ")
	versionView.SetTextAlign(tview.AlignRight)
	versionView.SetTextColor(ui.colors.foreground)
	versionView.SetBackgroundColor(ui.colors.headerBackground)

	textFlex := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(titleView, 0, 1, false).
		AddItem(versionView, 10, 0, false)
	textFlex.SetBackgroundColor(ui.colors.headerBackground)

	padding := func() *tview.Box {
		return tview.NewBox().SetBackgroundColor(ui.colors.headerBackground)
	}

	textWithPadding := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(padding(), 1, 0, false).
		AddItem(textFlex, 0, 1, false).
		AddItem(padding(), 1, 0, false)
	textWithPadding.SetBackgroundColor(ui.colors.headerBackground)

	headerFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(padding(), 1, 0, false).
		AddItem(textWithPadding, 1, 0, false).
		AddItem(padding(), 1, 0, false)
	headerFlex.SetBackgroundColor(ui.colors.headerBackground)

	return headerFlex
}

func (ui *UI) updateLogoPanel(s *station.Station) {
	logo := ui.logoPanel
	go func() {
		img, err := ui.stationService.LoadImage(s.ArtworkURL())
		if err != nil {
			log.Debug().Err(err).Str("station", s.ID).Msg("Failed to load station logo")
			ui.app.QueueUpdateDraw(func() {
				logo.SetDrawFunc(func(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
					tview.Print(screen, "No image", x, y, width, tview.AlignCenter, tcell.ColorRed)
					return x, y, width, height
				})
			})
			return
		}

		ui.app.QueueUpdateDraw(func() {
			logo.SetImage(img)
		})
	}()
}

// showStation renders s in the player panel without touching playback.
func (ui *UI) showStation(s *station.Station) {
	if s == nil {
		return
	}
	ui.currentStation = s

	ui.playerPanel.Clear()
	ui.playerPanel.AddItem(ui.createContentPanel(), 0, 1, false)
	ui.updateLogoPanel(s)
	ui.updateTrackInfo()
}

func (ui *UI) onStationSelected(index int) {
	s := ui.stationService.GetStation(index)
	if s == nil {
		return
	}

	if s.ID == ui.playingStationID && ui.sessionState == session.Playing {
		return
	}

	if ui.currentStation == nil || ui.currentStation.ID != s.ID {
		ui.showStation(s)
	}
	ui.play(*s)
}

// play starts ch through the controller and seeds the track from the songs
// API once the channel is up.
func (ui *UI) play(ch station.Station) {
	go func() {
		log.Info().Msgf("Starting playback for station: %s", ch.Title)
		if err := ui.ctrl.PlayChannel(ch); err != nil {
			log.Error().Err(err).Str("station", ch.ID).Msg("Failed to play station")
			ui.app.QueueUpdateDraw(func() {
				ui.showError(err)
			})
			return
		}
		ui.seedTrack(ch.ID)
	}()
}

func (ui *UI) seedTrack(stationID string) {
	if ui.seeder == nil {
		return
	}

	song, err := ui.stationService.GetCurrentSong(stationID)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to fetch song history, waiting for stream title")
		return
	}
	if song == nil {
		return
	}
	if track, ok := song.Track(time.Now()); ok {
		ui.seeder.SeedTrack(stationID, track)
	}
}

// command runs a controller call off the tview goroutine and reports failures.
func (ui *UI) command(name string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			log.Warn().Err(err).Str("command", name).Msg("Command failed")
			if errors.Is(err, session.ErrEmptyCatalog) {
				return
			}
			ui.app.QueueUpdateDraw(func() {
				ui.showError(err)
			})
		}
	}()
}

func (ui *UI) createGenreTags(genre string) *tview.Flex {
	container := tview.NewFlex().SetDirection(tview.FlexColumn)
	container.SetBackgroundColor(ui.colors.background)

	container.AddItem(tview.NewBox().SetBackgroundColor(ui.colors.background), 1, 0, false)

	if genre == "" {
		noGenre := tview.NewTextView()
		noGenre.SetText("N/A")
		noGenre.SetTextColor(ui.colors.foreground)
		noGenre.SetBackgroundColor(ui.colors.background)
		container.AddItem(noGenre, 3, 0, false)
		return container
	}

	genres := strings.Split(genre, "|")
	for i, g := range genres {
		g = strings.TrimSpace(g)

		tag := tview.NewTextView()
		tag.SetText(" " + g + " ")
		tag.SetTextColor(ui.colors.foreground)
		tag.SetBackgroundColor(ui.colors.genreTagBackground)
		tag.SetTextAlign(tview.AlignCenter)

		tagWidth := len(g) + 2
		container.AddItem(tag, tagWidth, 0, false)

		if i < len(genres)-1 {
			spacer := tview.NewBox().SetBackgroundColor(ui.colors.background)
			container.AddItem(spacer, 1, 0, false)
		}
	}

	container.AddItem(tview.NewBox().SetBackgroundColor(ui.colors.background), 0, 1, false)

	return container
}

func (ui *UI) label(text string) *tview.TextView {
	tv := tview.NewTextView()
	tv.SetText(text)
	tv.SetTextColor(ui.colors.foreground)
	tv.SetBackgroundColor(ui.colors.background)
	tv.SetWrap(false)
	return tv
}

func (ui *UI) createContentPanel() *tview.Flex {
	ui.logoPanel = tview.NewImage()
	ui.logoPanel.SetBackgroundColor(ui.colors.background)
	ui.logoPanel.SetAlign(tview.AlignLeft, tview.AlignTop)

	stationNameView := tview.NewTextView()
	stationNameView.SetDynamicColors(true)
	stationName := fmt.Sprintf(" [%s]%s[-]",
		ui.colors.highlight.String(),
		tview.Escape(ui.currentStation.Title))
	if bitrate := ui.currentStation.BitrateLabel(); bitrate != "" {
		stationName += fmt.Sprintf(" [::d]%s[::-]", bitrate)
	}
	stationNameView.SetText(stationName)
	stationNameView.SetTextColor(ui.colors.highlight)
	stationNameView.SetBackgroundColor(ui.colors.background)
	stationNameView.SetWrap(false)
	stationNameView.SetTextStyle(tcell.StyleDefault.Background(ui.colors.background).Attributes(tcell.AttrBold))

	ui.currentTrackView = tview.NewTextView()
	ui.currentTrackView.SetDynamicColors(true)
	ui.currentTrackView.SetTextColor(ui.colors.highlight)
	ui.currentTrackView.SetBackgroundColor(ui.colors.background)
	ui.currentTrackView.SetWrap(true)
	ui.currentTrackView.SetTextStyle(tcell.StyleDefault.Background(ui.colors.background).Attributes(tcell.AttrBold))

	genreView := ui.createGenreTags(ui.currentStation.Genre)

	descriptionView := tview.NewTextView()
	descriptionView.SetDynamicColors(true)
	descriptionView.SetText(fmt.Sprintf(" [%s]%s[-]",
		ui.colors.foreground.String(),
		tview.Escape(ui.currentStation.Description)))
	descriptionView.SetTextColor(ui.colors.foreground)
	descriptionView.SetBackgroundColor(ui.colors.background)
	descriptionView.SetWrap(true)

	infoSpacer := tview.NewBox().SetBackgroundColor(ui.colors.background)

	infoContent := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.label(" Station:"), 1, 0, false).
		AddItem(stationNameView, 1, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.label(" Playing:"), 1, 0, false).
		AddItem(ui.currentTrackView, 1, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.label(" Genre:"), 1, 0, false).
		AddItem(genreView, 1, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.label(" Description:"), 1, 0, false).
		AddItem(descriptionView, 0, 1, false).
		AddItem(infoSpacer, 0, 1, false)
	infoContent.SetBackgroundColor(ui.colors.background)

	ui.historyView = tview.NewTextView()
	ui.historyView.SetDynamicColors(true)
	ui.historyView.SetWrap(false)
	ui.historyView.SetTextColor(ui.colors.foreground)
	ui.historyView.SetBackgroundColor(ui.colors.background)
	ui.historyView.SetBorder(true).
		SetTitle(" Recently played ").
		SetBorderColor(ui.colors.borders).
		SetTitleColor(ui.colors.foreground)

	ui.volumeView = ui.createGraphicalVolumeBar()

	// Wrap logo in vertical flex to constrain height
	logoWrapper := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.logoPanel, CoverHeight, 0, false).
		AddItem(nil, 0, 1, false)
	logoWrapper.SetBackgroundColor(ui.colors.background)

	contentFlex := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(logoWrapper, CoverWidth, 0, false).
		AddItem(infoContent, 0, 1, false).
		AddItem(ui.historyView, HistoryWidth, 0, false).
		AddItem(ui.volumeView, 7, 0, false)
	contentFlex.SetBackgroundColor(ui.colors.background)

	contentWithPadding := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 4, 0, false).
		AddItem(contentFlex, 0, 1, false).
		AddItem(nil, 4, 0, false)
	contentWithPadding.SetBackgroundColor(ui.colors.background)

	return contentWithPadding
}

type PlayingSpinner struct {
	Frames []string
	FPS    time.Duration
}

func NewPlayingSpinner() *PlayingSpinner {
	return &PlayingSpinner{
		Frames: []string{"⣾ ", "⣽ ", "⣻ ", "⢿ ", "⡿ ", "⣟ ", "⣯ ", "⣷ "},
		FPS:    time.Second / 10,
	}
}

func (ui *UI) getPlayingIndicator() string {
	if ui.playingSpinner == nil {
		ui.playingSpinner = NewPlayingSpinner()
	}

	frameIndex := ui.animationFrame % len(ui.playingSpinner.Frames)
	return ui.playingSpinner.Frames[frameIndex]
}

// updateTrackInfo shows the live track and history when the displayed
// station is the one playing, otherwise the catalog's last known track.
func (ui *UI) updateTrackInfo() {
	if ui.currentTrackView == nil || ui.currentStation == nil {
		return
	}

	highlight := ui.colors.highlight.String()
	snap := ui.lastSnapshot

	if snap.Channel != nil && snap.Channel.ID == ui.currentStation.ID && snap.State != session.Stopped {
		ui.currentTrackView.SetText(fmt.Sprintf(" [%s]%s[-]", highlight, tview.Escape(snap.Track.String())))
	} else {
		ui.currentTrackView.SetText(fmt.Sprintf(" [%s]%s[-]", highlight, tview.Escape(ui.currentStation.LastPlaying)))
	}

	if ui.historyView != nil {
		ui.historyView.SetText(formatHistory(snap.History, HistoryWidth-4, time.Now()))
	}
}

func (ui *UI) onStationsRefreshed(stations []station.Station) {
	ui.app.QueueUpdateDraw(func() {
		ui.refreshStationTable()
	})
}

func (ui *UI) globalInputHandler(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			ui.stop()
			return nil
		case ' ':
			if ui.sessionState != session.Stopped {
				ui.command("toggle-pause", ui.ctrl.TogglePause)
			} else {
				row, _ := ui.stationList.GetSelection()
				if row > 0 && row <= ui.stationService.StationCount() {
					ui.onStationSelected(row - 1)
				}
			}
			return nil
		case 's', 'S':
			ui.command("stop", func() error { ui.ctrl.Stop(); return nil })
			return nil
		case '>':
			ui.nextStation()
			return nil
		case '<':
			ui.prevStation()
			return nil
		case 'r', 'R':
			ui.randomStation()
			return nil
		case 'f', 'F':
			ui.toggleFavorite()
			return nil
		case '/':
			ui.showSearchModal()
			return nil
		case '+', '=':
			ui.adjustVolume(VolumeStep)
			return nil
		case '-', '_':
			ui.adjustVolume(-VolumeStep)
			return nil
		case 'm', 'M':
			ui.toggleMute()
			return nil
		case '?':
			ui.showHelpModal()
			return nil
		case 'a', 'A':
			ui.showAboutModal()
			return nil
		}
	case tcell.KeyEnter:
		row, _ := ui.stationList.GetSelection()
		if row > 0 && row <= ui.stationService.StationCount() {
			ui.onStationSelected(row - 1)
		}
		return nil
	case tcell.KeyEscape:
		ui.stop()
		return nil
	case tcell.KeyRight:
		// Right arrow - volume up (hidden shortcut)
		ui.adjustVolume(VolumeStep)
		return nil
	case tcell.KeyLeft:
		// Left arrow - volume down (hidden shortcut)
		ui.adjustVolume(-VolumeStep)
		return nil
	}
	return event
}
