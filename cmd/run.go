package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"firestige.xyz/hostmon/internal/config"
	"firestige.xyz/hostmon/internal/daemon"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture traffic and print the per-host table",
	Long: `Capture frames and print the per-host traffic table every report interval
until interrupted (SIGINT, SIGTERM).

With --read the frames come from a pcap file instead; the table is printed
once more after the whole file has been replayed and hostmon exits.

Examples:
  hostmon run -i eth0
  hostmon run -i eth0 -f "tcp port 443" --interval 10s
  hostmon run -r trace.pcap -c hostmon.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := applyRunFlags(cfg, cmd.Flags()); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runMonitor(ctx, cfg)
	},
}

var (
	runInterface string
	runReadFile  string
	runFilter    string
	runInterval  time.Duration
)

func init() {
	runCmd.Flags().StringVarP(&runInterface, "interface", "i", "",
		"capture interface (default: first device reported by libpcap)")
	runCmd.Flags().StringVarP(&runReadFile, "read", "r", "",
		"replay frames from a pcap file instead of capturing live")
	runCmd.Flags().StringVarP(&runFilter, "filter", "f", "",
		"BPF filter expression (default from config: tcp port 80 or tcp port 443)")
	runCmd.Flags().DurationVar(&runInterval, "interval", 0,
		"report interval (default from config: 5s)")
}

// applyRunFlags overlays explicitly set flags on cfg and revalidates it.
func applyRunFlags(cfg *config.Config, flags *pflag.FlagSet) error {
	if flags.Changed("interface") {
		cfg.Capture.Interface = runInterface
	}
	if flags.Changed("read") {
		cfg.Capture.Source = config.SourceFile
		cfg.Capture.File = runReadFile
	}
	if flags.Changed("filter") {
		cfg.Capture.Filter = runFilter
	}
	if flags.Changed("interval") {
		cfg.Report.Interval = runInterval
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func runMonitor(ctx context.Context, cfg *config.Config) error {
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
