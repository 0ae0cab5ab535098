package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blemon/pkg/config"
)

// configureLogger creates the logger of cfg, at the level given by
// --log-level when the flag is set. cfg may be nil.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	var c config.Config
	if cfg != nil {
		c = *cfg
	}
	if levelStr, _ := cmd.Flags().GetString("log-level"); levelStr != "" {
		c.LogLevel = levelStr
	}
	if _, err := config.ParseLogLevel(c.LogLevel); err != nil {
		return nil, err
	}

	logger := c.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}
