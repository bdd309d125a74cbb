package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"photosweep/internal/hash"
	"photosweep/internal/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rescan the library whenever it changes",
	Long: `Watch the photo library folder and run an incremental scan after
photos are added, removed or renamed.

Changes are collected until the folder has been quiet for the debounce
interval, so copying a batch of photos triggers a single scan.

Example:
  photosweep watch --library ./photos
  photosweep watch --debounce 10s`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before rescanning (default from config, 2s)")
	if err := v.BindPFlag("watch.debounce", watchCmd.Flags().Lookup("debounce")); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	lib, err := openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// fsnotify is not recursive, so every directory is added on its own
	if err := watchTree(watcher, lib.src.Root()); err != nil {
		return fmt.Errorf("failed to watch library: %w", err)
	}

	fmt.Printf("Watching: %s\n", lib.src.Root())
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	rescan := func() {
		if err := syncAndScan(ctx, lib); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("rescan failed")
		}
	}
	rescan()

	debounce := cfg.Watch.Debounce
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchTree(watcher, event.Name); err != nil {
						logger.Warn().Err(err).Str("dir", event.Name).Msg("failed to watch directory")
					}
					timer.Reset(debounce)
					continue
				}
			}

			if !relevant(event) {
				continue
			}

			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("library changed")
			timer.Reset(debounce)

		case <-timer.C:
			fmt.Println("Library changed, rescanning...")
			rescan()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watcher error")

		case <-ctx.Done():
			fmt.Println()
			fmt.Println("Watch stopped")
			return nil
		}
	}
}

func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // Skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// relevant reports whether event touches a photo that a scan would pick up
func relevant(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return false
	}
	if !hash.IsSupportedImage(event.Name) {
		return false
	}
	return event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) ||
		event.Has(fsnotify.Rename)
}

// syncAndScan reconciles the cache and runs an incremental pass when the
// library changed or photos are still pending
func syncAndScan(ctx context.Context, lib *library) error {
	report, err := lib.syncer.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	pending, err := lib.cache.Records(ctx, models.StatusPending)
	if err != nil {
		return err
	}
	if !report.Changed() && len(pending) == 0 {
		logger.Debug().Msg("library unchanged")
		return nil
	}

	fmt.Printf("Photos: %d (%d new, %d removed)\n", report.Total, report.Added, report.Removed)

	result, err := lib.orch.Scan(ctx, cfg.ScanOptions(models.ScanIncremental), func(u models.ScanUpdate) {
		if u.Terminal() {
			fmt.Println(u.Summary())
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("Reclaimable: %s\n\n", humanize.Bytes(uint64(result.PotentialSavings())))
	return nil
}
