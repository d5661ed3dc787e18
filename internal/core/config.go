package core

import (
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
)

// Config is the process configuration read from PERIODCORE_* variables.
type Config struct {
	StorageDriver string   `env:"PERIODCORE_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string   `env:"PERIODCORE_SQLITE_PATH" envDefault:"periodcore.db"`
	PostgresDSN   string   `env:"PERIODCORE_POSTGRES_DSN"`
	Kinds         []string `env:"PERIODCORE_KINDS" envSeparator:"," envDefault:"employee_assignment:day"`
	LogLevel      string   `env:"PERIODCORE_LOG_LEVEL" envDefault:"info"`
	Metrics       string   `env:"PERIODCORE_METRICS" envDefault:"none"`
	Archive       ArchiveConfig
}

// ArchiveConfig selects the blob backend holding exported snapshots.
type ArchiveConfig struct {
	Driver      string `env:"PERIODCORE_ARCHIVE_DRIVER" envDefault:"fs"`
	FSRoot      string `env:"PERIODCORE_ARCHIVE_FS_ROOT" envDefault:"./snapshots"`
	S3Bucket    string `env:"PERIODCORE_ARCHIVE_S3_BUCKET"`
	S3Region    string `env:"PERIODCORE_ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"PERIODCORE_ARCHIVE_S3_ENDPOINT"`
	S3PathStyle bool   `env:"PERIODCORE_ARCHIVE_S3_PATH_STYLE"`
}

// LoadConfig parses the configuration from the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	switch StorageDriver(c.StorageDriver) {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return errors.Newf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.Metrics {
	case "none", "expvar", "prometheus":
	default:
		return errors.Newf("unknown metrics exporter %q", c.Metrics)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	for _, spec := range c.Kinds {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := ParseKindSpec(spec); err != nil {
			return err
		}
	}
	return nil
}

// ParseLogLevel maps debug, info, warn or error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, errors.Newf("unknown log level %q", s)
	}
	return level, nil
}

// NewLogger builds a text logger writing to w at level.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
