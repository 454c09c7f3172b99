package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newAuthCmd(flags *rootFlags) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Open the site in a browser window and save the session once you sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			surface, err := a.openBrowser(ctx, headless)
			if err != nil {
				return err
			}
			coord := a.coordinator(surface)
			fmt.Fprintf(cmd.OutOrStdout(), "Sign in at %s within %s.\n", a.cfg.Site.ProgramURL, a.cfg.Auth.FirstLoginTimeout)
			if err := coord.FirstLogin(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session saved.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "run the browser headless")
	return cmd
}
