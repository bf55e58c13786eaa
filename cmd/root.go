package cmd

import (
	"fmt"
	"os"

	"wlproxy/pkg/errors"
	"wlproxy/pkg/logger"

	"github.com/spf13/cobra"
)

const unknownValue = "unknown"

var (
	Version   string
	BuildTime string
	GitCommit string
)

var captureFlag bool
var replayFlag bool
var noCatalogFlag bool
var eventsPath string
var logLevel string

var rootCmd = &cobra.Command{
	Use:   "wlproxy [flags] [--] <command> [args...]",
	Short: "Wayland input record-and-replay proxy",
	Long: `Interposes between one Wayland client and the compositor. In capture
mode all traffic passes through while user input (pointer, keyboard,
touch) is recorded with timing relative to connection. In replay mode
live input from the compositor is suppressed and the recorded stream is
injected at the original timings, re-executing a prior interaction
hands-free.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Explicit flag takes precedence over env var.
		level := logLevel
		if !cmd.Flags().Changed("log-level") {
			if envLevel := os.Getenv("WLPROXY_LOG_LEVEL"); envLevel != "" {
				level = envLevel
			}
		}
		logger.SetLevel(level)
		return nil
	},
	RunE: runSession,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		ver := Version
		if ver == "" {
			ver = "dev"
		}
		bt := BuildTime
		if bt == "" {
			bt = unknownValue
		}
		gc := GitCommit
		if gc == "" {
			gc = unknownValue
		}

		fmt.Printf("wlproxy version %s\n", ver)
		fmt.Printf("Built: %s\n", bt)
		fmt.Printf("Git commit: %s\n", gc)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.HandleReturn(err) != errors.ExitCodeSuccess {
			os.Exit(1)
		}
	}
}

func init() {
	RegisterCommands(rootCmd)

	// Everything after the first non-flag argument belongs to the child
	// command line.
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.Flags().BoolVarP(&captureFlag, "capture", "c", false, "Record input events while forwarding (default)")
	rootCmd.Flags().BoolVarP(&replayFlag, "replay", "r", false, "Suppress live input and inject the recorded stream")
	rootCmd.Flags().StringVar(&eventsPath, "events", "", "Event log path (default from config, ./events.bin)")
	rootCmd.Flags().BoolVar(&noCatalogFlag, "no-catalog", false, "Skip the session catalog")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, fatal, panic)")
}
