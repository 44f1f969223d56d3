package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/learnwatch/learnwatch/pkg/storage"
)

// snapshotCmd prints what the stored baseline contains.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Prints statistics about the stored baseline snapshot.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		s, err := store.Load(context.Background())
		if errors.Is(err, storage.ErrNoSnapshot) {
			fmt.Println("No snapshot stored yet. Run 'learnwatch check' to capture one.")
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "COURSE\tSEMESTER\tFILES\tANNOUNCEMENTS\tASSIGNMENTS\t")
		for _, c := range s.Courses {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t\n", c.Name, c.Semester, len(c.Files), len(c.Announcements), len(c.Assignments))
		}
		st := s.Stats(now)
		fmt.Fprintln(w, " \t \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t%d courses\t%d\t%d\t%d\t\n", st.Courses, st.Files, st.Announcements, st.Assignments)
		w.Flush()

		if !s.CapturedAt.IsZero() {
			fmt.Printf("\nCaptured %s, %d assignment(s) still pending.\n", s.CapturedAt.Local().Format("2006-01-02 15:04:05"), st.Pending)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
