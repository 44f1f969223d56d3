package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/learnwatch/learnwatch/pkg/storage"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Show recent changes from the change log (default 50)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		dbPath, err := sqlitePath(cmd)
		if err != nil {
			return err
		}
		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		changes, err := db.ListRecentChanges(context.Background(), limit)
		if err != nil {
			return err
		}
		for _, c := range changes {
			ts := c.OccurredAt.Local().Format("2006-01-02 15:04:05")
			fmt.Printf("%s  %-20s  delivered=%-5t  %s  %s\n", ts, c.Kind, c.Delivered, c.CourseName, c.Subject)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().String("dbpath", "", "Path to SQLite DB file (default: the configured sqlite store)")
	changesCmd.Flags().Int("limit", 50, "Number of recent changes to show")
}
