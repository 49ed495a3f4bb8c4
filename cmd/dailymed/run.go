package main

import (
	"dailymed-etl/internal/api"
	"dailymed-etl/internal/scheduler"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Long: `Scrape the label once at start-up and then on the configured schedule.
Every scrape that refreshes the snapshot starts a mapping cycle. When the
admin server is enabled it also serves /jobs and /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			mapper, err := a.mapper()
			if err != nil {
				return err
			}

			sch, err := scheduler.New(a.cfg.Schedule, a.scraper(), mapper, a.metrics, a.log)
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			if err := sch.Start(ctx); err != nil {
				return err
			}
			defer sch.Stop()

			if a.cfg.Admin.Enabled {
				srv := api.NewServer(sch, a.registry, a.log)
				g.Go(func() error { return srv.Run(ctx, a.cfg.Admin.Addr) })
			}
			g.Go(func() error {
				<-ctx.Done()
				a.log.Info("interrupt received, shutting down gracefully")
				return nil
			})

			return g.Wait()
		},
	}
}
