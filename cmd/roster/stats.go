package main

import (
	"github.com/spf13/cobra"
)

func (a *app) statsCommand() *cobra.Command {
	var vacuum bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.openRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			if vacuum {
				if err := rt.store.Vacuum(ctx); err != nil {
					return err
				}
			}
			stats, err := rt.store.Stats(ctx)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(stats)
			}
			a.printf("Database:    %s\n", rt.store.GetDBPath())
			a.printf("Clients:     %d\n", stats.ClientCount)
			a.printf("Contacts:    %d\n", stats.ContactCount)
			a.printf("Notes:       %d (%d without client, %d not analyzed)\n",
				stats.RecordCount, stats.UnattachedCount, stats.UnanalyzedCount)
			a.printf("Events:      %d\n", stats.EventCount)
			if stats.DBSizeBytes > 0 {
				a.printf("Size:        %.1f KB\n", float64(stats.DBSizeBytes)/1024)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "compact the database first")
	return cmd
}
