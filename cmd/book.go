package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/internaltypes"
)

func newBookCmd(flags *rootFlags) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Run one reservation attempt now",
		Long: `Runs a single attempt immediately, targeting today plus bookingOffsetDays at
--time (default: the earliest schedule entry). Exits non-zero on an
authentication failure or a transient error; "no slot available" is a
normal outcome.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			entry, err := bookEntry(at, a.cfg.Entries)
			if err != nil {
				return err
			}

			surface, err := a.openBrowser(ctx, a.cfg.Browser.Headless)
			if err != nil {
				return err
			}
			ag, err := a.agent(surface)
			if err != nil {
				return err
			}

			res := ag.Attempt(ctx, a.clock.Now().In(a.cfg.Location), entry)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Outcome, res.Detail)
			if res.Failed() {
				return fmt.Errorf("attempt %s failed: %s", res.ID, res.Outcome)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "time", "", "time of day to book, HH:MM")
	return cmd
}

func bookEntry(flag string, schedule []reservation.ScheduleEntry) (reservation.ScheduleEntry, error) {
	if flag != "" {
		e, err := reservation.ParseScheduleEntry(flag)
		if err != nil {
			return reservation.ScheduleEntry{}, fmt.Errorf("%w: --time: %v", internaltypes.ErrConfiguration, err)
		}
		return e, nil
	}
	if len(schedule) == 0 {
		return reservation.ScheduleEntry{}, fmt.Errorf("%w: no --time given and the schedule is empty", internaltypes.ErrConfiguration)
	}
	return schedule[0], nil
}
