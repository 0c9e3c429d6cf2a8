package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagelore/pagelore/internal/adapters/driving/spool"
)

var watchDir string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the spool directory for extracted pages",
	Long: `Watches a drop folder for extracted-page JSON files and ingests them
as they arrive. Processed files move to processed/, failures to
failed/. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "spool directory (default from config)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := ensureApp()
	if err != nil {
		return err
	}

	dir := watchDir
	if dir == "" {
		dir, err = a.cfg.SpoolDir()
		if err != nil {
			return err
		}
	}

	watcher, err := spool.New(spool.Config{
		Dir:      dir,
		Debounce: time.Duration(a.cfg.Spool.DebounceMillis) * time.Millisecond,
	}, a.ingestion)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Printf("Watching %s (ctrl-c to stop)\n", dir)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch failed: %w", err)
	}
	return nil
}
