package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/internaltypes"
)

func newSlotsCmd(flags *rootFlags) *cobra.Command {
	var (
		date   string
		onlyOK bool
	)

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List the slots shown for a date (default today plus bookingOffsetDays)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			day := a.clock.Now().In(a.cfg.Location).AddDate(0, 0, a.cfg.BookingOffsetDays)
			if date != "" {
				day, err = time.ParseInLocation(time.DateOnly, date, a.cfg.Location)
				if err != nil {
					return fmt.Errorf("%w: --date (want YYYY-MM-DD): %v", internaltypes.ErrConfiguration, err)
				}
			}

			surface, err := a.signedIn(ctx)
			if err != nil {
				return err
			}
			cards, err := a.newResolver(surface).Slots(ctx, day)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			shown := 0
			for _, c := range cards {
				if onlyOK && !c.Open {
					continue
				}
				shown++
				fmt.Fprintf(out, "time=%q court=%q open=%t status=%q\n", c.TimeLabel, c.Court, c.Open, c.Status)
			}
			if shown == 0 {
				fmt.Fprintf(out, "no slots listed for %s\n", day.Format(time.DateOnly))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to check, YYYY-MM-DD")
	cmd.Flags().BoolVar(&onlyOK, "open", false, "show open slots only")
	return cmd
}
