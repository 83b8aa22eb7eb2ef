package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/hostmon/internal/capture"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List capture devices",
	Long: `List the devices libpcap can capture on. The first one is used when no
interface is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInterfaces(cmd.OutOrStdout(), capture.Devices)
	},
}

func runInterfaces(w io.Writer, list func() ([]capture.Device, error)) error {
	devs, err := list()
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		return capture.ErrNoDevice
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESSES\tDESCRIPTION")
	for _, d := range devs {
		addrs := strings.Join(d.Addresses, ",")
		if addrs == "" {
			addrs = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, addrs, d.Description)
	}
	return tw.Flush()
}
