package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"photokeep/internal/config"
	"photokeep/internal/engine"
	"photokeep/internal/index"
	"photokeep/internal/logging"
	"photokeep/internal/server"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (TOML)")

	rootCmd.AddCommand(serveCmd, scanCmd, syncCmd, rebuildCmd, terraformCmd, exportRejectedCmd, importCmd, statsCmd)
	rootCmd.AddCommand(trashCmd, dateCmd, cacheCmd, configCmd)

	trashCmd.AddCommand(trashListCmd, trashDeleteCmd, trashRestoreCmd, trashPurgeCmd, trashEmptyCmd)
	cacheCmd.AddCommand(cachePruneCmd, cacheClearCmd)
	configCmd.AddCommand(configInitCmd, configListCmd)
}

// newEngine loads the configuration and opens the engine. The caller
// must defer eng.Close().
func newEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return engine.Open(ctx, cfg)
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printProgress consumes a sink on the terminal: phases, rejections
// and a rolling counter.
func printProgress(sink *engine.Sink) {
	for ev := range sink.Events() {
		switch ev.Type {
		case engine.EventPhase:
			if ev.Total > 0 {
				fmt.Printf("%s (%d items)\n", ev.Phase, ev.Total)
			} else {
				fmt.Println(ev.Phase)
			}
		case engine.EventProgress:
			if ev.Total > 0 && (ev.Current%100 == 0 || ev.Current == ev.Total) {
				fmt.Printf("  %d/%d\n", ev.Current, ev.Total)
			}
		case engine.EventRejected:
			fmt.Printf("  rejected %s (%s)\n", ev.Path, ev.Reason)
		case engine.EventError:
			fmt.Printf("error: %s\n", ev.Message)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:           "photokeep",
	Short:         "Personal media library synchronizer",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		eng, err := engine.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := eng.Close(); err != nil {
				logging.Error("failed to close engine: %v", err)
			}
		}()

		return server.New(cfg, eng).Run(ctx)
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Report index-versus-disk drift without changing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		result, err := eng.Scan(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Indexed:   %d\n", result.Indexed)
		fmt.Printf("On disk:   %d\n", result.OnDisk)
		fmt.Printf("Ghosts:    %d (indexed, file missing)\n", result.Ghosts)
		fmt.Printf("Untracked: %d (on disk, not indexed)\n", result.Moles)
		if result.InSync {
			fmt.Println("Library is in sync.")
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the index with the filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		sink := engine.NewSink(64)
		done := make(chan struct{})
		go func() { printProgress(sink); close(done) }()

		summary, err := eng.Sync(ctx, sink)
		<-done
		if err != nil {
			return err
		}

		fmt.Printf("Removed %d stale records, indexed %d files, %d duplicates, %d rejected, pruned %d folders in %s\n",
			summary.GhostsRemoved, summary.MolesIndexed, summary.Duplicates,
			summary.Rejected, summary.FoldersRemoved, summary.Duration.Round(time.Millisecond))
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from the files alone",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		sink := engine.NewSink(64)
		done := make(chan struct{})
		go func() { printProgress(sink); close(done) }()

		summary, err := eng.Rebuild(ctx, sink)
		<-done
		if err != nil {
			return err
		}

		fmt.Printf("Indexed %d files (%d duplicates, %d rejected) in %s\n",
			summary.Indexed, summary.Duplicates, summary.Rejected,
			summary.Duration.Round(time.Millisecond))
		fmt.Printf("Previous index backed up to %s\n", summary.BackupPath)
		return nil
	},
}

var terraformCmd = &cobra.Command{
	Use:   "terraform",
	Short: "Reorganize the library into the canonical date tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		sink := engine.NewSink(64)
		done := make(chan struct{})
		go func() { printProgress(sink); close(done) }()

		summary, err := eng.Terraform(ctx, sink)
		<-done
		if err != nil {
			return err
		}

		fmt.Printf("Moved %d, already canonical %d, imported %d, quarantined %d non-media, %d duplicates, %d rejected in %s\n",
			summary.Moved, summary.AlreadyCanonical, summary.Imported,
			summary.NonMedia, summary.Duplicates, summary.Rejected,
			summary.Duration.Round(time.Millisecond))
		fmt.Printf("Manifest: %s\n", summary.ManifestPath)
		return nil
	},
}

var exportRejectedCmd = &cobra.Command{
	Use:   "export-rejected MANIFEST DEST",
	Short: "Copy the files a terraform run quarantined into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		copied, err := engine.CopyRejected(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Copied %d rejected files to %s\n", copied, args[1])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import PATH...",
	Short: "Copy external media files into the library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		sink := engine.NewSink(64)
		done := make(chan struct{})
		go func() { printProgress(sink); close(done) }()

		summary, err := eng.ImportFiles(ctx, args, sink)
		<-done
		if err != nil {
			return err
		}

		fmt.Printf("Imported %d, %d duplicates, %d rejected in %s\n",
			summary.Imported, summary.Duplicates, summary.Rejected,
			summary.Duration.Round(time.Millisecond))
		if summary.ManifestPath != "" {
			fmt.Printf("Rejections logged to %s\n", summary.ManifestPath)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show library and cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		stats, err := eng.Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Items:   %d (%d photos, %d videos)\n",
			stats.Index.TotalItems, stats.Index.TotalPhotos, stats.Index.TotalVideos)
		fmt.Printf("Trashed: %d\n", stats.Index.TotalTrashed)
		fmt.Printf("Cache:   %d queries, %.1f%% hit rate\n",
			stats.Cache.Queries, stats.Cache.HitRate())
		return nil
	},
}

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Manage soft-deleted files",
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trash contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		records, err := eng.ListTrash(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("Trash is empty.")
			return nil
		}

		for _, rec := range records {
			fmt.Printf("%6d  %s  %s (was %s)\n",
				rec.ID, rec.DeletedAt.Format("2006-01-02 15:04"),
				rec.TrashFilename, rec.OriginalPath)
		}
		return nil
	},
}

var trashDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Move a tracked file to trash",
	Args:  cobra.ExactArgs(1),
	RunE: runTrashOp(func(ctx context.Context, eng *engine.Engine, id int64) error {
		rec, err := eng.DeleteToTrash(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Moved %s to trash as %s\n", rec.OriginalPath, rec.TrashFilename)
		return nil
	}),
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore ID",
	Short: "Restore a trashed file",
	Args:  cobra.ExactArgs(1),
	RunE: runTrashOp(func(ctx context.Context, eng *engine.Engine, id int64) error {
		photo, err := eng.RestoreFromTrash(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Restored to %s\n", photo.CurrentPath)
		return nil
	}),
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge ID",
	Short: "Permanently delete a trash entry",
	Args:  cobra.ExactArgs(1),
	RunE: runTrashOp(func(ctx context.Context, eng *engine.Engine, id int64) error {
		if err := eng.PurgeTrash(ctx, id); err != nil {
			return err
		}
		fmt.Println("Purged.")
		return nil
	}),
}

var trashEmptyCmd = &cobra.Command{
	Use:   "empty",
	Short: "Permanently delete all trash entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		purged, err := eng.EmptyTrash(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d entries.\n", purged)
		return nil
	},
}

// runTrashOp wraps the shared boilerplate of id-taking trash commands.
func runTrashOp(op func(context.Context, *engine.Engine, int64) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}

		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		return op(ctx, eng, id)
	}
}

var dateCmd = &cobra.Command{
	Use:   "date ID DATETIME",
	Short: "Change a file's capture time",
	Long:  `Change a file's capture time. DATETIME uses the EXIF format, e.g. "2021:07:14 18:32:00".`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		taken, err := time.ParseInLocation(index.TimeLayout, args[1], time.Local)
		if err != nil {
			return fmt.Errorf("invalid datetime %q, expected %s", args[1], index.TimeLayout)
		}

		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		photo, err := eng.SetDateTaken(ctx, id, taken)
		if err != nil {
			return err
		}
		fmt.Printf("Capture time changed, file now at %s\n", photo.CurrentPath)
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the hash cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop cache entries for files that no longer exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		pruned, err := eng.PruneHashCache(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d stale paths.\n", pruned)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the entire hash cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.ClearHashCache(ctx); err != nil {
			return err
		}
		fmt.Println("Cache cleared.")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init LIBRARY_DIR",
	Short: "Write a default config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		libraryDir, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving library dir: %w", err)
		}

		dest := configPath
		if dest == "" {
			dest = "photokeep.toml"
		}
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists", dest)
		}

		f, err := os.Create(dest)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := config.Write(f, config.Default(libraryDir)); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", dest)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return config.Write(os.Stdout, cfg)
	},
}
