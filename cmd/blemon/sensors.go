package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "Validate the configuration and list sensor bindings",
	Args:  cobra.NoArgs,
	RunE:  runSensors,
}

func runSensors(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	bindings, err := cfg.Bindings()
	if err != nil {
		return err
	}

	header := color.New(color.Bold)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = header.Fprintln(w, "ADDRESS\tMETHOD\tFIELD\tWEBHOOK")
	for _, b := range bindings.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.MacAddress, b.HTTPMethod, b.JSONFieldName, b.Webhook)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d sensor(s), backend %s\n", bindings.Len(), cfg.Backend)
	return nil
}
