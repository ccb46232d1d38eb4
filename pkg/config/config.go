package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/dump"
	"github.com/srg/gattdump/internal/gatt"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel        string   `yaml:"log_level" default:"info"`
	DenyList        []string `yaml:"deny_list"`
	AllDevices      bool     `yaml:"all_devices" default:"false"`
	ReadDescriptors bool     `yaml:"read_descriptors" default:"false"`
	KnownNames      bool     `yaml:"known_names" default:"false"`
	Color           string   `yaml:"color" default:"auto"`
	QueueSize       uint32   `yaml:"queue_size" default:"1024"`
	// Adapter restricts the dump to devices under this adapter path, e.g. /org/bluez/hci0.
	Adapter string `yaml:"adapter"`
	Format  string `yaml:"format" default:"text"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.DenyList = gatt.DefaultDeniedUUIDs()
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value; an explicit empty deny_list disables the deny-list.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks every enumerated setting.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Color {
	case dump.ColorAuto, dump.ColorAlways, dump.ColorNever:
	default:
		return fmt.Errorf("invalid color mode: %s (must be auto, always, or never)", c.Color)
	}
	switch dump.Format(c.Format) {
	case dump.FormatText, dump.FormatJSON:
	default:
		return fmt.Errorf("invalid format: %s (must be text or json)", c.Format)
	}
	if c.QueueSize == 0 {
		return errors.New("queue_size must be positive")
	}
	return nil
}

// ParseLevel maps the accepted log level names to logrus levels.
func ParseLevel(s string) (logrus.Level, error) {
	switch s {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}

// NewLogger creates a configured logger instance writing to stderr.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// Denied returns the read deny-list.
func (c *Config) Denied() gatt.DenyList {
	return gatt.NewDenyList(c.DenyList...)
}

// DumpOptions maps the dump settings; color is resolved by the caller.
func (c *Config) DumpOptions(color bool) dump.Options {
	return dump.Options{
		AllDevices:      c.AllDevices,
		ReadDescriptors: c.ReadDescriptors,
		KnownNames:      c.KnownNames,
		Format:          dump.Format(c.Format),
		Color:           color,
	}
}
