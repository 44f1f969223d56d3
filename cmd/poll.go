package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/learnwatch/learnwatch/internal/utils"
	"github.com/learnwatch/learnwatch/pkg/polling"
)

// watchCmd implements: learnwatch watch
// Runs until interrupted. Only one watcher may use a local store at a time.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the course platform forever and push every change",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command: '%s'. See 'learnwatch watch --help'", args[0])
		}

		store, path, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if path != "" {
			lock, err := utils.NewStoreLock(path)
			if err != nil {
				return err
			}
			if err := lock.TryLock(); err != nil {
				return err
			}
			defer lock.Unlock()
		}

		cfg, sinks, err := buildConfig(cmd, store)
		if err != nil {
			return err
		}
		defer closeSinks(sinks)
		if len(sinks) == 0 {
			utils.Log.Warn("No notification channel configured, changes will only be logged.")
		}

		ctrl, err := polling.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		utils.Log.Infof("Watching %d semester(s) every %s", len(cfg.Semesters), cfg.Interval)
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		utils.Log.Info("Shutting down.")
		return nil
	},
}

// checkCmd implements: learnwatch check
// One login and one cycle, then exit.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single poll cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, path, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if path != "" {
			lock, err := utils.NewStoreLock(path)
			if err != nil {
				return err
			}
			if err := lock.Lock(); err != nil {
				return err
			}
			defer lock.Unlock()
		}

		cfg, sinks, err := buildConfig(cmd, store)
		if err != nil {
			return err
		}
		defer closeSinks(sinks)

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if dryRun {
			cfg.Dispatcher.Sinks = nil
			cfg.Dispatcher.Board = nil
		}

		ctrl, err := polling.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := ctrl.RunOnce(ctx)
		if err != nil {
			return err
		}

		if res.Bootstrapped {
			fmt.Printf("Baseline captured: %d course(s). Run again to see changes.\n", len(res.Snapshot.Courses))
			return nil
		}
		if len(res.Changes) == 0 {
			fmt.Println("No changes.")
			return nil
		}
		for _, out := range res.Report.Outcomes {
			status := "sent"
			if !out.Delivered {
				status = "not sent"
			}
			fmt.Printf("%-20s  %-8s  %s  %s\n", out.Change.Kind, status, out.Change.CourseName, out.Change.Subject())
		}
		fmt.Printf("\n%d delivered, %d failed, %d mirrored, %d mirror failures\n",
			res.Report.Delivered, res.Report.Failed, res.Report.Mirrored, res.Report.MirrorFailed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().Bool("dry-run", false, "Detect and record changes without sending them")
}
