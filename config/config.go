// Package config loads trace host configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/tracehost/errors"
)

// Config is the complete host configuration.
type Config struct {
	Guest   GuestConfig   `mapstructure:"guest"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Loader  LoaderConfig  `mapstructure:"loader"`
	Display DisplayConfig `mapstructure:"display"`
	Log     LogConfig     `mapstructure:"log"`
}

// GuestConfig locates the guest module and its startup parameters.
type GuestConfig struct {
	// Path to the WASM module file
	Path       string  `mapstructure:"path"`
	FontPath   string  `mapstructure:"font_path"`
	FontSize   float32 `mapstructure:"font_size"`
	PixelRatio float32 `mapstructure:"pixel_ratio"`
}

// RuntimeConfig configures the wazero engine.
type RuntimeConfig struct {
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages"`
	Threads          bool   `mapstructure:"threads"`
	StrictImports    bool   `mapstructure:"strict_imports"`
	CacheDir         string `mapstructure:"cache_dir"`
}

// LoaderConfig configures file ingestion.
type LoaderConfig struct {
	ChunkSize int           `mapstructure:"chunk_size"`
	Prefetch  int           `mapstructure:"prefetch"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// DisplayConfig sizes the render surface and the frame clock.
type DisplayConfig struct {
	Width     int `mapstructure:"width"`
	Height    int `mapstructure:"height"`
	FrameRate int `mapstructure:"frame_rate"`
}

// LogConfig builds the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Guest: GuestConfig{
			FontSize:   14,
			PixelRatio: 1,
		},
		Loader: LoaderConfig{
			ChunkSize: 1 << 20,
			Prefetch:  4,
			Timeout:   30 * time.Second,
		},
		Display: DisplayConfig{
			Width:     1280,
			Height:    720,
			FrameRate: 60,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse yaml")
	}

	cfg := Default()
	if raw != nil {
		if err := Decode(raw, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode applies a generic map onto cfg.
func Decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decode config")
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch {
	case c.Guest.FontSize <= 0:
		return errors.InvalidInput(errors.PhaseConfig, "guest.font_size must be positive")
	case c.Guest.PixelRatio <= 0:
		return errors.InvalidInput(errors.PhaseConfig, "guest.pixel_ratio must be positive")
	case c.Runtime.MemoryLimitPages > 65536:
		return errors.InvalidInput(errors.PhaseConfig, "runtime.memory_limit_pages exceeds 65536")
	case c.Loader.ChunkSize <= 0:
		return errors.InvalidInput(errors.PhaseConfig, "loader.chunk_size must be positive")
	case c.Loader.Prefetch < 0:
		return errors.InvalidInput(errors.PhaseConfig, "loader.prefetch must not be negative")
	case c.Display.Width <= 0 || c.Display.Height <= 0:
		return errors.InvalidInput(errors.PhaseConfig, "display size must be positive")
	case c.Display.FrameRate <= 0 || c.Display.FrameRate > 1000:
		return errors.InvalidInput(errors.PhaseConfig, "display.frame_rate must be in (0, 1000]")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("log.encoding %q must be json or console", c.Log.Encoding))
	}
	return nil
}

// FrameInterval returns the duration of one display frame.
func (d DisplayConfig) FrameInterval() time.Duration {
	return time.Second / time.Duration(d.FrameRate)
}

// Build creates a logger writing to the given paths (stderr when empty).
func (l LogConfig) Build(paths ...string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	var zc zap.Config
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = l.Encoding
	if zc.Encoding == "" {
		zc.Encoding = "console"
	}
	if len(paths) == 0 {
		paths = []string{"stderr"}
	}
	zc.OutputPaths = paths
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
