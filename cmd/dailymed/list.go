package main

import (
	"fmt"
	"io"

	"dailymed-etl/internal/model"
	"dailymed-etl/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

const descriptionWidth = 72

func newListCommand(opts *rootOptions) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored indications",
		Long:  "List stored indications, optionally filtered by a substring of the indication, description or code.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			inds, err := a.repo.FindAll(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("failed to list indications: %w", err)
			}
			if len(inds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no indications stored")
				return nil
			}
			renderIndications(cmd.OutOrStdout(), inds)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Substring to filter by")
	return cmd
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var (
		query string
		out   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored indications as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := store.ExportCSV(cmd.Context(), a.repo, out, query)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d indications to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Substring to filter by")
	cmd.Flags().StringVarP(&out, "out", "o", "tmp/dailymed-indications.csv", "Output file")
	return cmd
}

// renderIndications writes inds to w as a table.
func renderIndications(w io.Writer, inds []model.Indication) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Indication", "Code", "Description"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Description", WidthMax: descriptionWidth},
	})

	for _, ind := range inds {
		t.AppendRow(table.Row{ind.ID, ind.Indication, ind.Code, ind.Description})
	}
	t.AppendFooter(table.Row{"", "Total", len(inds), ""})
	t.Render()
}
