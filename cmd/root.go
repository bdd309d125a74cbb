package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"photosweep/internal/config"
	"photosweep/internal/fileutil"
	"photosweep/internal/logging"
	"photosweep/internal/scan"
	"photosweep/internal/source"
	"photosweep/internal/storage"
	libsync "photosweep/internal/sync"
)

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
	logger  = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "photosweep",
	Short: "Find duplicate and problem photos in a library",
	Long: `photosweep scans a photo library for exact and visually similar duplicates,
corrupted files, screenshots and oversized images.

Results are kept in a local cache so that later scans only look at photos
that were added since the last run.

Example usage:
  photosweep scan --library ./photos   # Sync the library and scan new photos
  photosweep scan --full               # Rescan every photo
  photosweep list                      # List duplicate groups
  photosweep issues --kind screenshot  # List detected screenshots
  photosweep clean --dry-run           # Preview what would be removed
  photosweep watch                     # Rescan whenever the library changes`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		logger = logging.New(cfg.Log.Level, logging.Format(cfg.Log.Format), os.Stderr)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ./photosweep.yaml or ~/.photosweep/photosweep.yaml)")
	flags.String("db", "", "Path to the SQLite cache")
	flags.StringP("library", "l", "", "Photo library folder")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (console, json)")
	flags.Int("workers", 0, "Number of parallel hashing workers")
	flags.Float64("threshold", 0, "Similarity threshold (0.80, 0.90 or 0.95)")
	flags.String("duplicate-mode", "", "Duplicate detection (exact_only, include_similar)")
	flags.Int64("large-file-mb", 0, "Oversized photo threshold in MB (5, 10, 25, 50, 100)")

	bind := map[string]string{
		"database":                  "db",
		"library":                   "library",
		"log.level":                 "log-level",
		"log.format":                "log-format",
		"scan.workers":              "workers",
		"scan.similarity_threshold": "threshold",
		"scan.duplicate_mode":       "duplicate-mode",
		"scan.large_file_mb":        "large-file-mb",
	}
	for key, name := range bind {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// library bundles everything a command needs to talk to the photo library
// and its cache
type library struct {
	cache  *storage.Cache
	src    *source.Folder
	syncer *libsync.Coordinator
	orch   *scan.Orchestrator
}

func openLibrary() (*library, error) {
	remover, err := cfg.Remover()
	if err != nil {
		return nil, err
	}
	return openLibraryWith(remover)
}

func openLibraryWith(remover fileutil.Remover) (*library, error) {
	src, err := source.NewFolder(cfg.Library, source.WithRemover(remover))
	if err != nil {
		return nil, err
	}

	cache, err := storage.NewCache(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	return &library{
		cache:  cache,
		src:    src,
		syncer: libsync.NewCoordinator(src, cache, libsync.WithLogger(logger)),
		orch: scan.NewOrchestrator(src, cache,
			scan.WithWorkers(cfg.Scan.Workers),
			scan.WithHashTimeout(cfg.Scan.HashTimeout),
			scan.WithProgressInterval(cfg.Scan.ProgressInterval),
			scan.WithLogger(logger),
		),
	}, nil
}

func (l *library) Close() error {
	return l.cache.Close()
}
