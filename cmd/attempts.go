package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/attempts"
	"github.com/example/court-scheduler/internal/internaltypes"
)

func newAttemptsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Read the attempt ledger (requires database.url)",
	}
	cmd.AddCommand(newAttemptsListCmd(flags))
	return cmd
}

func newAttemptsListCmd(flags *rootFlags) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "list",
		Short: "List recent attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()
			if a.db == nil {
				return fmt.Errorf("%w: database.url is required for the attempt ledger", internaltypes.ErrConfiguration)
			}

			recs, err := attempts.NewRepo(a.db).List(ctx, limit)
			if err != nil {
				return err
			}
			for _, r := range recs {
				target := "-"
				if r.TargetDate != nil && r.TargetTime != nil {
					target = r.TargetDate.Format(time.DateOnly) + " " + *r.TargetTime
				}
				court := "-"
				if r.Court != nil {
					court = *r.Court
				}
				fmt.Fprintf(cmd.OutOrStdout(), "id=%s outcome=%s target=%s court=%q fired=%s took=%s\n",
					r.ID, r.Outcome, target, court, r.FiredAt.Format(time.RFC3339), r.FinishedAt.Sub(r.FiredAt).Round(time.Millisecond))
			}
			return nil
		},
	}
	c.Flags().IntVar(&limit, "limit", 20, "number of attempts to show")
	return c
}
