package main

import (
	"fmt"
	"io"

	"dailymed-etl/internal/mapping"
	"dailymed-etl/internal/scrape"

	"github.com/spf13/cobra"
)

func newScrapeCommand(opts *rootOptions) *cobra.Command {
	var skipMap bool

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run one scrape cycle",
		Long: `Refresh the cached snapshot if it has expired. A fresh snapshot is left untouched.
A refreshed snapshot is classified straight away when a classifier API key is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			outcome, err := a.scraper().RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "scrape %s (%s)\n", outcome, a.cache.Path())
			if outcome != scrape.Refreshed {
				return nil
			}

			if skipMap || a.cfg.RequireClassifier() != nil {
				fmt.Fprintln(out, "snapshot refreshed; run `dailymed map` to classify it")
				return nil
			}

			mapper, err := a.mapper()
			if err != nil {
				return err
			}
			summary, err := mapper.Run(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(out, summary)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipMap, "no-map", false, "Do not classify a refreshed snapshot")
	return cmd
}

func newMapCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "map",
		Short: "Run one mapping cycle against the cached snapshot",
		Args:  cobra.NoArgs,
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

			summary, err := mapper.Run(cmd.Context())
			if err != nil {
				return err
			}
			if summary.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "no cached indications; run scrape first")
				return nil
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func printSummary(w io.Writer, summary mapping.Summary) {
	fmt.Fprintf(w, "classified %d of %d indications (%d failed), stored %d\n",
		summary.Classified, summary.Total, summary.Failed, summary.Persisted)
}
