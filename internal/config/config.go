package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	History   HistoryConfig
	API       APIConfig
	MCP       MCPConfig
	Reconcile ReconcileConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr returns host:port for net.Listen.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type HistoryConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// APIConfig throttles the routes that scan every record.
type APIConfig struct {
	ScanRate  float64
	ScanBurst int
}

type MCPConfig struct {
	Stdio bool
}

type ReconcileConfig struct {
	// Interval is a time.ParseDuration string. Empty disables the reconciler.
	Interval string
}

// Every returns the parsed interval, or 0 when the reconciler is disabled.
// Load has already rejected unparseable values.
func (c ReconcileConfig) Every() time.Duration {
	if c.Interval == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.Interval)
	return d
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		History: HistoryConfig{
			DefaultPageSize: 10,
			MaxPageSize:     100,
		},
		API: APIConfig{
			ScanRate:  20,
			ScanBurst: 40,
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.histd.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/histd/config.json.
//
// Environment variables (HISTD_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every setting that the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range 1-65535", c.Server.Port))
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		errs = append(errs, errors.New("storage.data_dir is empty"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.History.DefaultPageSize < 1 {
		errs = append(errs, fmt.Errorf("history.default_page_size must be positive, got %d", c.History.DefaultPageSize))
	}
	if c.History.MaxPageSize < 1 {
		errs = append(errs, fmt.Errorf("history.max_page_size must be positive, got %d", c.History.MaxPageSize))
	}
	if c.History.DefaultPageSize > c.History.MaxPageSize {
		errs = append(errs, fmt.Errorf("history.default_page_size %d exceeds history.max_page_size %d", c.History.DefaultPageSize, c.History.MaxPageSize))
	}
	if c.API.ScanRate < 0 {
		errs = append(errs, fmt.Errorf("api.scan_rate must not be negative, got %v", c.API.ScanRate))
	}
	if c.API.ScanRate > 0 && c.API.ScanBurst < 1 {
		errs = append(errs, fmt.Errorf("api.scan_burst must be positive when api.scan_rate is set, got %d", c.API.ScanBurst))
	}
	if c.Reconcile.Interval != "" {
		if d, err := time.ParseDuration(c.Reconcile.Interval); err != nil {
			errs = append(errs, fmt.Errorf("reconcile.interval: %w", err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("reconcile.interval must be positive, got %s", c.Reconcile.Interval))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
