package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/internaltypes"
)

func newSessionCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear the stored browser session",
	}
	cmd.AddCommand(newSessionShowCmd(flags))
	cmd.AddCommand(newSessionClearCmd(flags))
	return cmd
}

func newSessionShowCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print when the stored session was captured and when it expires",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			s, err := a.store.Load(ctx)
			if errors.Is(err, internaltypes.ErrNotFound) {
				fmt.Fprintf(out, "no session stored (backend=%s); run `courtsched auth`\n", a.cfg.Session.Backend)
				return nil
			}
			if err != nil {
				return err
			}

			expires := "unknown"
			if s.ExpiresAt != nil {
				expires = s.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(out, "backend=%s captured=%s expires=%s bytes=%d expired=%t\n",
				a.cfg.Session.Backend, s.CapturedAt.Format(time.RFC3339), expires, len(s.State), s.Expired(a.clock.Now()))
			return nil
		},
	}
}

func newSessionClearCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
			return nil
		},
	}
}
