package cmd

import (
	"fmt"
	"strings"

	"wlproxy/pkg/catalog"
	"wlproxy/pkg/config"
	"wlproxy/pkg/errors"

	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent proxy sessions from the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path, err := cfg.CatalogPath()
		if err != nil {
			return errors.NewWithError(errors.ExitCodeSetup, "catalog path unavailable", err)
		}
		cat, err := catalog.Open(path)
		if err != nil {
			return errors.NewWithError(errors.ExitCodeSetup, "failed to open session catalog", err)
		}
		defer cat.Close()

		sessions, err := cat.Recent(sessionsLimit)
		if err != nil {
			return errors.NewWithError(errors.ExitCodeGeneral, "failed to list sessions", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No recorded sessions")
			return nil
		}

		for _, s := range sessions {
			state := "unclean"
			if s.ExitClean {
				state = "clean"
			}
			fmt.Printf("%s  %-7s  %4d events  %-7s  %s  %s\n",
				s.StartedAt.Format("2006-01-02 15:04:05"),
				s.Mode, s.EventCount, state, s.EventsPath,
				strings.Join(s.Command, " "))
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 10, "Maximum sessions to list")
}
