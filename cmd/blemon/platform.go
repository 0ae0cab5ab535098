package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blemon/ingest"
	"github.com/srg/blemon/internal/radio"
	"github.com/srg/blemon/internal/radio/bluez"
	"github.com/srg/blemon/internal/radio/hci"
	"github.com/srg/blemon/internal/reset"
	"github.com/srg/blemon/pkg/config"
)

// PlatformFactory opens the BLE platform of a backend. Tests replace it.
var PlatformFactory = func(backend string, logger *logrus.Logger) (radio.Platform, error) {
	switch backend {
	case config.BackendBlueZ:
		return bluez.NewPlatform(logger), nil
	case config.BackendHCI:
		return hci.NewPlatform(logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// ResetterFactory builds the adapter reset sequence. Tests replace it.
var ResetterFactory = func(cmds reset.Commands, logger *logrus.Logger) (ingest.Resetter, error) {
	return reset.New(cmds, logger)
}

// loadConfig reads the file named by --config, $BLEMON_CONFIG or the default.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.Path()
	}
	return config.Load(path)
}

// setup loads the configuration and builds the logger and the engine.
func setup(cmd *cobra.Command, opts func(*ingest.Options)) (*config.Config, *logrus.Logger, *ingest.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	platform, err := PlatformFactory(cfg.Backend, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	resetter, err := ResetterFactory(cfg.Reset, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("adapter reset commands: %w", err)
	}

	engineOpts := cfg.EngineOptions()
	if opts != nil {
		opts(&engineOpts)
	}
	return cfg, logger, ingest.New(platform, resetter, engineOpts, logger), nil
}
