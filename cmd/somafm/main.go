package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/glebovdev/somafm-tui/internal/api"
	"github.com/glebovdev/somafm-tui/internal/buffer"
	"github.com/glebovdev/somafm-tui/internal/cache"
	"github.com/glebovdev/somafm-tui/internal/config"
	"github.com/glebovdev/somafm-tui/internal/mirror"
	"github.com/glebovdev/somafm-tui/internal/mpris"
	"github.com/glebovdev/somafm-tui/internal/player"
	"github.com/glebovdev/somafm-tui/internal/service"
	"github.com/glebovdev/somafm-tui/internal/session"
	"github.com/glebovdev/somafm-tui/internal/ui"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	debug  bool
	random bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "somafm",
		Short:         config.AppDescription,
		Version:       config.AppVersion,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.SetVersionTemplate(fmt.Sprintf("%s v{{.Version}}\n%s\n", config.AppName, config.AppDescription))

	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.random, "random", false, "Start with a random station")

	cmd.SetUsageTemplate(cmd.UsageTemplate() + configFileHint())
	return cmd
}

func configFileHint() string {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return ""
	}
	if _, statErr := os.Stat(configPath); statErr == nil {
		return fmt.Sprintf("\nConfig file: %s\n", configPath)
	}
	return "\nConfig file will be created on first use.\n"
}

func setupLogging(debug bool, cacheDir string) {
	if !debug {
		// Avoid TUI corruption by only logging errors to /dev/null
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		logFile, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0644)
		if err == nil {
			log.Logger = log.Output(logFile)
		}
		return
	}

	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log dir: %v\n", err)
	}
	logPath := filepath.Join(cacheDir, "debug.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log file: %v\n", err)
		logFile = os.Stderr
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
	fmt.Printf("Debug log: %s\n", logPath)
	log.Info().Msgf("Starting %s v%s (debug mode)", config.AppName, config.AppVersion)
}

func run(opts *options) error {
	cacheDir, err := cache.GetCacheDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not get cache dir: %v\n", err)
		cacheDir = filepath.Join(os.TempDir(), "somafm")
	}
	setupLogging(opts.debug, cacheDir)

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
	}
	if configPath, err := config.GetConfigPath(); err == nil {
		log.Debug().Msgf("Config: %s", configPath)
	}
	log.Debug().Msgf("Cache: %s", cacheDir)

	if err := buffer.RemoveStale(cacheDir); err != nil {
		log.Warn().Err(err).Msg("Failed to remove stale stream cache")
	}

	m := mirror.New()
	stationService := service.NewStationService(api.NewSomaFMClient())
	somaPlayer := player.NewPlayer()

	sess, err := session.New(session.Deps{
		Engine: somaPlayer,
		NewBuffer: func() session.Buffer {
			return buffer.New(buffer.Options{StopTimeout: cfg.Buffer.StopTimeout})
		},
		Resolver:  api.NewPlaylistResolver(),
		Publisher: m,
		Catalog:   stationService,
	}, cfg.SessionOptions(cacheDir))
	if err != nil {
		return fmt.Errorf("failed to start playback session: %w", err)
	}
	defer sess.Close()
	m.Bind(sess)

	somaUi := ui.NewUI(ui.Options{
		Config:      cfg,
		Controller:  m,
		Seeder:      sess,
		Engine:      somaPlayer,
		Stations:    stationService,
		StartRandom: opts.random,
	})
	m.Subscribe(somaUi)

	if cfg.DBus.Enabled {
		if remote := startRemoteControl(cfg, cacheDir, m, somaUi); remote != nil {
			defer remote.Close()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		if _, ok := <-sigChan; ok {
			log.Info().Msg("Received shutdown signal, cleaning up...")
			somaUi.Shutdown()
		}
	}()

	log.Info().Msg("Starting UI...")
	uiErr := somaUi.Run()

	sess.Stop()
	somaUi.SaveConfig()

	if uiErr != nil {
		log.Error().Err(uiErr).Msg("Error running UI")
		return uiErr
	}
	log.Info().Msgf("%s stopped", config.AppName)
	return nil
}

// startRemoteControl exports the MPRIS surface. A missing session bus only
// disables remote control.
func startRemoteControl(cfg *config.Config, cacheDir string, m *mirror.Mirror, somaUi *ui.UI) *mpris.Service {
	mprisOpts := mpris.Options{
		SendMetadata: cfg.DBus.SendMetadata,
		SendArtwork:  cfg.DBus.SendArtwork,
		OnQuit:       somaUi.Shutdown,
	}
	if cfg.DBus.SendArtwork && cfg.DBus.CacheArtwork {
		artwork, err := cache.NewCacheAt(cacheDir).NewArtwork()
		if err != nil {
			log.Warn().Err(err).Msg("Artwork cache unavailable, sending remote artwork URLs")
		} else {
			mprisOpts.Artwork = artwork
		}
	}

	remote, err := mpris.Start(m, mprisOpts)
	if err != nil {
		log.Warn().Err(err).Msg("MPRIS remote control disabled")
		return nil
	}
	m.Subscribe(remote)
	return remote
}
