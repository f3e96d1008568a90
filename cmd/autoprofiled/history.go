package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/journal"
	"github.com/spf13/cobra"
)

func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent profile transitions from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := store.Config()
			if !cfg.Journal.Enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "The transition journal is disabled; set journal.enabled = true.")
				return nil
			}

			rec, err := journal.NewService(journal.Config{
				DBPath:  cfg.Journal.Path,
				Enabled: true,
			})
			if err != nil {
				return err
			}
			defer rec.Close()

			entries, err := rec.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			return printHistory(cmd, entries)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of transitions to show")

	return cmd
}

func printHistory(cmd *cobra.Command, entries []journal.Entry) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPROFILE\tPREVIOUS\tSOURCE\tPOWER\tLOW\tAPPS")
	for _, e := range entries {
		previous := e.Previous
		if previous == "" {
			previous = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.Profile,
			previous,
			e.Source,
			onOff(e.OnBattery, "battery", "AC"),
			onOff(e.LowBattery, "yes", "no"),
			onOff(e.PerfApps, "yes", "no"),
		)
	}
	return tw.Flush()
}
