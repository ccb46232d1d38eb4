package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattdump/internal/dump"
	"github.com/srg/gattdump/pkg/config"
)

// loadConfig builds the effective configuration: defaults, then the --config
// file, then every flag the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	cfg := config.DefaultConfig()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flags.Changed("deny-uuid") {
		extra, _ := flags.GetStringArray("deny-uuid")
		cfg.DenyList = append(cfg.DenyList, extra...)
	}
	if flags.Changed("all-devices") {
		cfg.AllDevices, _ = flags.GetBool("all-devices")
	}
	if flags.Changed("descriptors") {
		cfg.ReadDescriptors, _ = flags.GetBool("descriptors")
	}
	if flags.Changed("names") {
		cfg.KnownNames, _ = flags.GetBool("names")
	}
	if flags.Changed("color") {
		cfg.Color, _ = flags.GetString("color")
	}
	if flags.Changed("json") {
		cfg.Format = string(dump.FormatText)
		if asJSON, _ := flags.GetBool("json"); asJSON {
			cfg.Format = string(dump.FormatJSON)
		}
	}
	if flags.Changed("adapter") {
		cfg.Adapter, _ = flags.GetString("adapter")
	}

	// --log-level takes precedence over --verbose, which takes precedence over the file.
	if level, _ := flags.GetString("log-level"); level != "" {
		cfg.LogLevel = level
	} else if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configureLogger creates the stderr logger for the effective configuration.
func configureLogger(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.NewLogger(), nil
}
