package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/blemon/internal/radio"
	"github.com/srg/blemon/pkg/config"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List Bluetooth adapters of the configured backend",
	Args:  cobra.NoArgs,
	RunE:  runAdapters,
}

var adaptersBackend string

func init() {
	adaptersCmd.Flags().StringVarP(&adaptersBackend, "backend", "b", "", "Backend to query (bluez, hci); defaults to the config file")
}

func runAdapters(cmd *cobra.Command, _ []string) error {
	backend := adaptersBackend
	var cfg *config.Config
	if backend == "" {
		var err error
		if cfg, err = loadConfig(cmd); err != nil {
			return err
		}
		backend = cfg.Backend
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	platform, err := PlatformFactory(backend, logger)
	if err != nil {
		return err
	}
	names, err := platform.Adapters(commandContext(cmd))
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return radio.ErrAdapterNotFound
	}
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}
