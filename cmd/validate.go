package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/hostmon/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the effective settings",
	Long: `Load the configuration from --config (plus HOSTMON_* environment
overrides), validate it and print the effective settings as YAML.

Examples:
  hostmon validate -c hostmon.yml
  HOSTMON_REPORT_INTERVAL=10s hostmon validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), configFile)
	},
}

func runValidate(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	data, err := cfg.Dump()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = w.Write(data)
	return err
}
