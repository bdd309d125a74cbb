package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"photosweep/internal/fileutil"
	"photosweep/internal/issues"
	"photosweep/internal/match"
	"photosweep/internal/models"
)

// EnvPrefix prefixes every environment override, e.g. PHOTOSWEEP_SCAN_WORKERS
const EnvPrefix = "PHOTOSWEEP"

// Config is the application configuration
type Config struct {
	Library  string       `mapstructure:"library"`
	Database string       `mapstructure:"database"`
	Scan     ScanConfig   `mapstructure:"scan"`
	Delete   DeleteConfig `mapstructure:"delete"`
	Log      LogConfig    `mapstructure:"log"`
	Server   ServerConfig `mapstructure:"server"`
	Watch    WatchConfig  `mapstructure:"watch"`
}

// ScanConfig holds the options handed to each scan pass
type ScanConfig struct {
	DuplicateMode       string        `mapstructure:"duplicate_mode"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	LargeFileMB         int64         `mapstructure:"large_file_mb"`
	Workers             int           `mapstructure:"workers"`
	HashTimeout         time.Duration `mapstructure:"hash_timeout"`
	ProgressInterval    time.Duration `mapstructure:"progress_interval"`
}

// DeleteConfig selects how clean removes files
type DeleteConfig struct {
	Mode   string `mapstructure:"mode"` // trash, permanent or move
	MoveTo string `mapstructure:"move_to"`
	// TrashDir overrides the system trash for the trash mode
	TrashDir string `mapstructure:"trash_dir"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

// ServerConfig configures the local web server
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// WatchConfig configures the folder watcher
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	v.SetDefault("library", ".")
	v.SetDefault("database", filepath.Join(homeDir, ".photosweep", "cache.db"))

	v.SetDefault("scan.duplicate_mode", string(models.DuplicateIncludeSimilar))
	v.SetDefault("scan.similarity_threshold", match.ThresholdDefault)
	v.SetDefault("scan.large_file_mb", issues.Size10MB/issues.MB)
	v.SetDefault("scan.workers", 4)
	v.SetDefault("scan.hash_timeout", 30*time.Second)
	v.SetDefault("scan.progress_interval", 100*time.Millisecond)

	v.SetDefault("delete.mode", "trash")
	v.SetDefault("delete.move_to", "")
	v.SetDefault("delete.trash_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("server.addr", "127.0.0.1:8080")

	v.SetDefault("watch.debounce", 2*time.Second)
}

// Load reads configuration from defaults, the config file (explicit path or
// photosweep.yaml in the working directory or ~/.photosweep), and
// PHOTOSWEEP_* environment variables. Flags bound to v take precedence.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("photosweep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".photosweep"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, using defaults
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &cfg, nil
}

// Validate checks the values against the fixed option sets
func (c *Config) Validate() error {
	switch models.DuplicateMode(c.Scan.DuplicateMode) {
	case models.DuplicateExactOnly, models.DuplicateIncludeSimilar:
	default:
		return fmt.Errorf("duplicate mode must be %s or %s, got %q",
			models.DuplicateExactOnly, models.DuplicateIncludeSimilar, c.Scan.DuplicateMode)
	}

	if !match.ValidThreshold(c.Scan.SimilarityThreshold) {
		return fmt.Errorf("similarity threshold must be one of %v, got %v",
			match.Thresholds, c.Scan.SimilarityThreshold)
	}

	if !issues.ValidSizeOption(c.Scan.LargeFileMB * issues.MB) {
		return fmt.Errorf("large file threshold must be one of 5, 10, 25, 50, 100 MB, got %d", c.Scan.LargeFileMB)
	}

	if c.Scan.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}

	if c.Scan.HashTimeout <= 0 {
		return fmt.Errorf("hash timeout must be positive")
	}

	if _, err := c.Remover(); err != nil {
		return err
	}

	if c.Database == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	return nil
}

// ScanOptions builds the per-pass options
func (c *Config) ScanOptions(mode models.ScanMode) models.ScanOptions {
	return models.ScanOptions{
		Mode:                    mode,
		DuplicateMode:           models.DuplicateMode(c.Scan.DuplicateMode),
		SimilarityThreshold:     c.Scan.SimilarityThreshold,
		LargeFileThresholdBytes: c.Scan.LargeFileMB * issues.MB,
	}
}

// Remover builds the file remover for the configured delete mode
func (c *Config) Remover() (fileutil.Remover, error) {
	switch c.Delete.Mode {
	case "trash", "":
		return fileutil.Remover{Mode: fileutil.DeleteTrash, TrashDir: c.Delete.TrashDir}, nil
	case "permanent":
		return fileutil.Remover{Mode: fileutil.DeletePermanent}, nil
	case "move":
		if c.Delete.MoveTo == "" {
			return fileutil.Remover{}, fmt.Errorf("delete mode move requires delete.move_to")
		}
		return fileutil.Remover{Mode: fileutil.DeleteMoveTo, MoveTo: c.Delete.MoveTo}, nil
	default:
		return fileutil.Remover{}, fmt.Errorf("unknown delete mode %q", c.Delete.Mode)
	}
}
