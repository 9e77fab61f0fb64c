package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func debugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect or reset the local store",
	}
	cmd.AddCommand(debugStatsCmd(), debugResetCmd())
	return cmd
}

func debugStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row and pending counts per table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.db.TableStats(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Database: %s\n\n", a.db.Path())
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tROWS\tPENDING")
			for _, s := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Table, s.Rows, s.Pending)
			}
			return tw.Flush()
		},
	}
}

func debugResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate every table",
		Long:  `Drops all local data, including changes that were never synced, and recreates the schema.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes unsynced data; pass --yes to confirm")
			}

			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.Reset(ctx); err != nil {
				return fmt.Errorf("reset failed: %w", err)
			}
			fmt.Println("Local store reset.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm data loss")
	return cmd
}
