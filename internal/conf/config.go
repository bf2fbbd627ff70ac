package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/pkg/utils"
)

type Scheme struct {
	Address string `json:"address" env:"ADDR"`
	Port    int    `json:"port" env:"PORT"`
}

type Database struct {
	Type    string `json:"type" env:"TYPE"`
	DBFile  string `json:"db_file" env:"FILE"`
	DSN     string `json:"dsn" env:"DSN"`
	Enabled bool   `json:"enabled" env:"ENABLED"`
}

type LogConfig struct {
	Enable     bool   `json:"enable" env:"ENABLE"`
	Name       string `json:"name" env:"NAME"`
	MaxSize    int    `json:"max_size" env:"MAX_SIZE"`
	MaxBackups int    `json:"max_backups" env:"MAX_BACKUPS"`
	MaxAge     int    `json:"max_age" env:"MAX_AGE"`
	Compress   bool   `json:"compress" env:"COMPRESS"`
	Level      string `json:"level" env:"LEVEL"`
}

type Aria2 struct {
	Endpoint string        `json:"endpoint" env:"ENDPOINT"`
	Secret   string        `json:"secret" env:"SECRET"`
	Timeout  time.Duration `json:"timeout" env:"TIMEOUT"`
}

type TasksConfig struct {
	DownloadDir    string        `json:"download_dir" env:"DOWNLOAD_DIR"`
	DraftDir       string        `json:"draft_dir" env:"DRAFT_DIR"`
	Workers        int           `json:"workers" env:"WORKERS"`
	PollInterval   time.Duration `json:"poll_interval" env:"POLL_INTERVAL"`
	GroupRetention time.Duration `json:"group_retention" env:"GROUP_RETENTION"`
}

type Config struct {
	Scheme   Scheme      `json:"scheme" envPrefix:"SCHEME_"`
	Database Database    `json:"database" envPrefix:"DB_"`
	Log      LogConfig   `json:"log" envPrefix:"LOG_"`
	Aria2    Aria2       `json:"aria2" envPrefix:"ARIA2_"`
	Tasks    TasksConfig `json:"tasks" envPrefix:"TASKS_"`
	TempDir  string      `json:"temp_dir" env:"TEMP_DIR"`
}

// Conf is the process-wide configuration, loaded once at bootstrap.
var Conf *Config

func DefaultConfig(dataDir string) *Config {
	return &Config{
		Scheme: Scheme{
			Address: "0.0.0.0",
			Port:    5344,
		},
		Database: Database{
			Type:    "sqlite3",
			DBFile:  filepath.Join(dataDir, "data.db"),
			Enabled: true,
		},
		Log: LogConfig{
			Enable:     true,
			Name:       filepath.Join(dataDir, "log", "draftsync.log"),
			MaxSize:    50,
			MaxBackups: 30,
			MaxAge:     28,
			Level:      "info",
		},
		Aria2: Aria2{
			Endpoint: "http://localhost:6800/jsonrpc",
			Timeout:  10 * time.Second,
		},
		Tasks: TasksConfig{
			DownloadDir:    filepath.Join(dataDir, "assets"),
			DraftDir:       filepath.Join(dataDir, "drafts"),
			Workers:        4,
			PollInterval:   time.Second,
			GroupRetention: 30 * time.Minute,
		},
		TempDir: filepath.Join(dataDir, "temp"),
	}
}

// Load reads the JSON config at path (creating it with defaults when absent)
// and applies DRAFTSYNC_* environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig(filepath.Dir(path))
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if werr := write(path, cfg); werr != nil {
			utils.Log.Warnf("failed to write default config: %+v", werr)
		}
	case err != nil:
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	default:
		if err := utils.Json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "DRAFTSYNC_"}); err != nil {
		return nil, errors.WithStack(err)
	}
	Conf = cfg
	return cfg, nil
}

func write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	data, err := utils.Json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(path, data, 0o644))
}
