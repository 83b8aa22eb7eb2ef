// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hostmon",
	Short: "hostmon - passive per-host traffic monitor",
	Long: `hostmon passively captures frames on a network interface, attributes each
frame to the remote host it was exchanged with, and prints a per-host
traffic table at a fixed interval.

Features:
  - Direction by MAC address: inbound, outbound, everything else ignored
  - Reverse DNS names collapsed to their last two labels
  - Live capture via libpcap or AF_PACKET, or replay of a pcap file
  - Optional GeoIP country column and Prometheus metrics`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and HOSTMON_* env vars when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(validateCmd)
}
