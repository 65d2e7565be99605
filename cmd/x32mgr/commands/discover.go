package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagelink/x32mgr/internal/cli/output"
	"github.com/stagelink/x32mgr/internal/discovery"
)

var (
	discoverSubnet  string
	discoverPort    int
	discoverTimeout time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Probe a subnet for consoles",
	Long: `Probe every host of a subnet with an identity query and list the
consoles that answered.

Examples:
  # Probe the house network
  x32mgr discover --subnet 192.168.1.0/24

  # Longer timeout for a congested wireless link
  x32mgr discover --subnet 10.0.0.0/24 --timeout 3s`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringVar(&discoverSubnet, "subnet", "", "Subnet to probe in CIDR notation (required)")
	discoverCmd.Flags().IntVar(&discoverPort, "port", 10023, "Console OSC port")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", time.Second, "Per-host reply timeout")
	_ = discoverCmd.MarkFlagRequired("subnet")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	consoles, err := discovery.Probe(cmd.Context(), discoverSubnet, discoverPort, discoverTimeout)
	if err != nil {
		return err
	}

	if len(consoles) == 0 {
		fmt.Println("No consoles found.")
		return nil
	}

	table := output.NewTable("IP", "Port", "Name", "Model", "Firmware")
	for _, c := range consoles {
		table.AddRow(c.IP, strconv.Itoa(c.Port), c.Name, c.Model, c.Firmware)
	}
	table.Render(os.Stdout)
	return nil
}
