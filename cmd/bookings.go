package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newBookingsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "bookings",
		Short: "List the upcoming bookings held by the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			surface, err := a.signedIn(ctx)
			if err != nil {
				return err
			}
			bookings, err := a.newResolver(surface).Bookings(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(bookings) == 0 {
				fmt.Fprintln(out, "no upcoming bookings")
				return nil
			}
			for _, b := range bookings {
				day := time.Date(2000, b.Month, b.Day, 0, 0, 0, 0, time.UTC)
				fmt.Fprintf(out, "date=%q start=%s court=%q time=%q\n", day.Format("Jan 2"), b.Start, b.Court, b.TimeLabel)
			}
			return nil
		},
	}
}
