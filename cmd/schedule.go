package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/attempts"
	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/scheduler"
	"github.com/example/court-scheduler/internal/web"
)

func newScheduleCmd(flags *rootFlags) *cobra.Command {
	var (
		listen    string
		keepalive time.Duration
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run continuously, firing an attempt at every scheduled time",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.cfg.RequireSchedule(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("listen") {
				listen = a.cfg.Status.Addr
			}
			if !cmd.Flags().Changed("keepalive") {
				keepalive = a.cfg.Scheduler.KeepAlive
			}

			surface, err := a.openBrowser(ctx, a.cfg.Browser.Headless)
			if err != nil {
				return err
			}
			ag, err := a.agent(surface)
			if err != nil {
				return err
			}

			s := &scheduler.Scheduler{
				Entries:  a.cfg.Entries,
				Location: a.cfg.Location,
				Clock:    a.clock,
				Log:      a.log.Named("scheduler"),
				Fire: func(ctx context.Context, at time.Time, entry reservation.ScheduleEntry) {
					ag.Attempt(ctx, at, entry)
				},
				GraceDelay:   a.cfg.Scheduler.GraceDelay,
				SpinWindow:   a.cfg.Scheduler.SpinWindow,
				SpinInterval: a.cfg.Scheduler.SpinInterval,
				OnNext:       ag.SetNextFire,
			}
			if keepalive > 0 {
				s.Idle = ag.KeepAlive
				s.IdleEvery = keepalive
			}

			if listen != "" {
				srv := &web.Server{Status: ag, Log: a.log.Named("web")}
				if a.db != nil {
					srv.Attempts = attempts.NewRepo(a.db)
				}
				go func() {
					if err := srv.ListenAndServe(ctx, listen); err != nil {
						a.log.Error("status server stopped", zap.Error(err))
					}
				}()
			}

			// Surface a dead session now rather than at the first fire.
			ag.KeepAlive(ctx)

			a.log.Info("scheduler started", zap.Int("entries", len(a.cfg.Entries)),
				zap.String("timezone", a.cfg.Location.String()))
			err = s.Run(ctx)
			if errors.Is(err, context.Canceled) {
				a.log.Info("scheduler stopped")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve /healthz and /status on this address (default status.addr)")
	cmd.Flags().DurationVar(&keepalive, "keepalive", 0, "refresh the session this often between fires (default scheduler.keepAlive)")
	return cmd
}
