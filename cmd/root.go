package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/internaltypes"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type rootFlags struct {
	configPath string
	migrate    bool
}

func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "courtsched",
		Short:         "Books tennis courts the moment they open, using a saved browser session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default $COURTSCHED_CONFIG or config/config.yaml)")
	root.PersistentFlags().BoolVar(&flags.migrate, "migrate", false, "apply database migrations on startup")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newBookCmd(flags))
	root.AddCommand(newScheduleCmd(flags))
	root.AddCommand(newAuthCmd(flags))
	root.AddCommand(newSessionCmd(flags))
	root.AddCommand(newAttemptsCmd(flags))
	root.AddCommand(newSlotsCmd(flags))
	root.AddCommand(newBookingsCmd(flags))

	return root
}

// Execute exits 2 for configuration errors and 1 for anything else.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, internaltypes.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
