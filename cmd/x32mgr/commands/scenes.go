package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stagelink/x32mgr/internal/cli/output"
	"github.com/stagelink/x32mgr/internal/store"
	"github.com/stagelink/x32mgr/pkg/config"
)

var (
	scenesIP   string
	scenesMock bool
)

var scenesCmd = &cobra.Command{
	Use:   "scenes",
	Short: "List the scene catalog",
	Long: `List the merged scene catalog: the console's populated scene slots
plus the local scene files in the sandbox directory.

Examples:
  # List scenes from the configured console
  x32mgr scenes

  # List scenes from a specific console
  x32mgr scenes --ip 192.168.1.32

  # List scenes against the simulator
  x32mgr scenes --mock`,
	RunE: runScenes,
}

func init() {
	scenesCmd.Flags().StringVar(&scenesIP, "ip", "", "Console IP (overrides the configured console)")
	scenesCmd.Flags().BoolVar(&scenesMock, "mock", false, "Use the in-process console simulator")
}

func runScenes(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	sess, bus, err := openSession(cmd.Context(), cfg, scenesIP, scenesMock)
	if err != nil {
		return err
	}
	defer func() {
		_ = sess.Close()
		bus.Close()
	}()

	st, err := store.New(cfg.SceneDir, sess, bus)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	entries, err := st.List(cmd.Context())
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No scenes found.")
		return nil
	}

	table := output.NewTable("ID", "Name", "Slot", "Origin", "File")
	for _, e := range entries {
		slot := "-"
		if e.Slot >= 0 {
			slot = strconv.Itoa(e.Slot)
		}
		table.AddRow(e.ID, e.Name, slot, string(e.Origin), e.Filename)
	}
	table.Render(os.Stdout)
	return nil
}
