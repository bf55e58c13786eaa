package cmd

import (
	"os"
	"time"

	"wlproxy/pkg/catalog"
	"wlproxy/pkg/config"
	"wlproxy/pkg/errors"
	"wlproxy/pkg/logger"
	"wlproxy/pkg/proxy"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// runSession is the root command: set up the relay, launch the child,
// and drive the loop until the session ends.
func runSession(cmd *cobra.Command, args []string) error {
	if captureFlag && replayFlag {
		return errors.New(errors.ExitCodeUsage, errors.ErrMsgConflictingModes)
	}
	if len(args) == 0 {
		return errors.NewWithSuggestion(errors.ExitCodeUsage, errors.ErrMsgMissingCommand,
			"wlproxy [-c|-r] [--] <command> [args...]")
	}

	mode := proxy.ModeCapture
	if replayFlag {
		mode = proxy.ModeReplay
	}

	upstreamDisplay := os.Getenv("WAYLAND_DISPLAY")
	if upstreamDisplay == "" {
		return errors.New(errors.ExitCodeUsage, errors.ErrMsgMissingDisplay)
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return errors.New(errors.ExitCodeUsage, errors.ErrMsgMissingRuntime)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	events := cfg.Paths.Events
	if cmd.Flags().Changed("events") {
		events = eventsPath
	}

	relay, err := proxy.New(proxy.Options{
		Mode:              mode,
		RuntimeDir:        runtimeDir,
		UpstreamDisplay:   upstreamDisplay,
		DownstreamDisplay: cfg.Display.Downstream,
		EventsPath:        events,
	})
	if err != nil {
		return err
	}
	defer relay.Close()
	relay.InstallSignalHandler()

	child, err := proxy.StartChild(args, cfg.Display.Downstream, cfg.Paths.ChildStdout, cfg.Paths.ChildStderr)
	if err != nil {
		return errors.NewWithError(errors.ExitCodeSetup, errors.ErrMsgSpawnFailed, err)
	}

	sessionID := uuid.New().String()
	log := logger.GetLogger()
	log.Info().
		Str("session", sessionID).
		Str("mode", mode.String()).
		Int("pid", child.PID()).
		Str("socket", relay.SocketPath()).
		Msg("session started")

	cat := openCatalog(cfg)
	if cat != nil {
		defer cat.Close()
		if err := cat.Begin(catalog.Session{
			ID:         sessionID,
			Mode:       mode.String(),
			Command:    args,
			EventsPath: events,
			StartedAt:  time.Now(),
		}); err != nil {
			log.Warn().Err(err).Msg("failed to record session start")
		}
	}

	runErr := relay.Run()

	stats := relay.Stats()
	eventCount := stats.Captured
	if mode == proxy.ModeReplay {
		eventCount = stats.Injected
	}
	if cat != nil {
		if err := cat.Finish(sessionID, eventCount, runErr == nil); err != nil {
			log.Warn().Err(err).Msg("failed to record session end")
		}
	}

	log.Info().
		Str("session", sessionID).
		Int("captured", stats.Captured).
		Int("suppressed", stats.Suppressed).
		Int("injected", stats.Injected).
		Msg("session finished")

	return runErr
}

// openCatalog returns the session catalog, or nil when disabled or
// unavailable. Bookkeeping never fails a session.
func openCatalog(cfg *config.Config) *catalog.Manager {
	if noCatalogFlag || !cfg.CatalogEnabled() {
		return nil
	}
	path, err := cfg.CatalogPath()
	if err != nil {
		logger.Warn().Err(err).Msg("catalog path unavailable")
		return nil
	}
	cat, err := catalog.Open(path)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open session catalog")
		return nil
	}
	return cat
}
