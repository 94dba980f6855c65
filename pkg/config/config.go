// Package config loads the server's configuration record (spec.md §3.1)
// from a YAML/TOML file and built-in defaults. An environment variable
// (XROOTD_*) overrides a key only when the config file sets that key; when
// no config file is found, Load returns the built-in defaults unchanged.
// Load takes no CLI overrides.
//
// Grounded on the teacher's pkg/config.Load: a viper.Viper instance reads
// the file and environment, mapstructure.Decode hooks convert
// human-readable durations and byte sizes, ApplyDefaults fills in anything
// still zero, and go-playground/validator enforces the struct's `validate`
// tags before the record is handed back to the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/xrootd-go/xrootd-core/internal/bytesize"
)

// Config is the server's static configuration (spec.md §3.1).
type Config struct {
	Listen     ListenConfig     `mapstructure:"listen" yaml:"listen"`
	Timeouts   TimeoutsConfig   `mapstructure:"timeouts" yaml:"timeouts"`
	BufferPool BufferPoolConfig `mapstructure:"buffer_pool" yaml:"buffer_pool"`
	Async      AsyncConfig      `mapstructure:"async" yaml:"async"`
	PageSize   int              `mapstructure:"page_size" validate:"required,eq=4096" yaml:"page_size"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	PgWrite    PgWriteConfig    `mapstructure:"pgwrite" yaml:"pgwrite"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
	Security   SecurityConfig   `mapstructure:"security" yaml:"security"`
	Role       RoleConfig       `mapstructure:"role" yaml:"role"`
}

// ListenConfig is the server's bind address.
type ListenConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
	Port    int    `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`
}

// TimeoutsConfig bounds idle links, request reads, and the initial
// handshake (spec.md §4.1).
type TimeoutsConfig struct {
	Idle      time.Duration `mapstructure:"idle" yaml:"idle"`
	Read      time.Duration `mapstructure:"read" yaml:"read"`
	Handshake time.Duration `mapstructure:"handshake" yaml:"handshake"`
}

// BufferPoolConfig drives pkg/bufpool's bucket range and memory ceiling.
type BufferPoolConfig struct {
	MinSize         int            `mapstructure:"min_size" yaml:"min_size"`
	MaxSize         int            `mapstructure:"max_size" yaml:"max_size"`
	MaxTotal        bytesize.Size  `mapstructure:"max_total" yaml:"max_total"`
	RetentionWindow time.Duration  `mapstructure:"retention_window" yaml:"retention_window"`
}

// AsyncConfig drives the async read/write engine (spec.md §4.6/§4.7): the
// per-segment size (as_segsize), the minimum I/O size (as_miniosz), and the
// maximum number of concurrent backend operations per request
// (as_maxperreq). MiniOSz is passed on to dispatch.Config, but no read or
// write path consults it: every read and write goes through the async
// engine.
type AsyncConfig struct {
	SegSize   int `mapstructure:"seg_size" validate:"required,gt=0" yaml:"seg_size"`
	MiniOSz   int `mapstructure:"mini_osz" yaml:"mini_osz"`
	MaxPerReq int `mapstructure:"max_per_req" validate:"required,gt=0" yaml:"max_per_req"`
}

// CheckpointConfig bounds a checkpoint slot's pre-image size.
type CheckpointConfig struct {
	MaxSlotSize bytesize.Size `mapstructure:"max_slot_size" yaml:"max_slot_size"`
}

// PgWriteConfig bounds bad-checksum-page accumulation (spec.md §4.9).
type PgWriteConfig struct {
	MaxErrorsPerRequest int `mapstructure:"max_errors_per_request" validate:"required,gt=0" yaml:"max_errors_per_request"`
	MaxErrorsPerFile    int `mapstructure:"max_errors_per_file" validate:"required,gt=0" yaml:"max_errors_per_file"`
}

// LoggingConfig controls the process-wide logger (internal/logger).
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// TelemetryConfig configures OpenTelemetry tracing export.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`
}

// SecurityConfig selects the registered security.Provider to authenticate
// sessions with (spec.md §4.13).
type SecurityConfig struct {
	Provider string `mapstructure:"provider" validate:"required" yaml:"provider"`
}

// RoleConfig sets the handshake reply's role bit (spec.md §4.1).
type RoleConfig struct {
	IsLoadBalancer bool `mapstructure:"is_load_balancer" yaml:"is_load_balancer"`
}

// Load reads the config file, lets XROOTD_* environment variables override
// the keys that file sets, fills anything still zero from the defaults, and
// validates the result. When no config file is found it returns
// GetDefaultConfig() as is, with no environment override and no validation.
//
// Parameters:
//   - configPath: path to config file (empty string uses the default
//     location under $XDG_CONFIG_HOME/xrootd/config.yaml)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := GetDefaultConfig()
	if !found {
		return cfg, nil
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML with restricted permissions.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper wires environment variable and config-file lookup.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("XROOTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the config file if present; a missing file is not an
// error, the caller falls back to defaults.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the byte-size and duration decode hooks so
// config files may use human-readable strings like "512MiB" or "30s".
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.Size(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.Size(v), nil
		case int64:
			return bytesize.Size(v), nil
		case uint64:
			return bytesize.Size(v), nil
		case float64:
			return bytesize.Size(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// Validate runs go-playground/validator over cfg's struct tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// getConfigDir resolves $XDG_CONFIG_HOME/xrootd, falling back to
// ~/.config/xrootd, or "." if the home directory can't be determined.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "xrootd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "xrootd")
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
