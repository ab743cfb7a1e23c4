package agentcli

import (
	"fmt"
	"io"

	"github.com/neuroplastio/neio-signal/internal/demux"
	"github.com/neuroplastio/neio-signal/internal/layout"
	"github.com/neuroplastio/neio-signal/pkg/agent"
	"github.com/spf13/cobra"
)

func NewCompile(cfg *agent.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Validate the layout and print the compiled programs",
		Long:  `Compiles every device's field program and the task graph without touching any device.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := agent.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()
			compiled, err := loadLayout(cfg, log)
			if err != nil {
				return err
			}
			return printCompiled(cmd.OutOrStdout(), compiled)
		},
	}
}

func printCompiled(out io.Writer, c *layout.Compiled) error {
	fmt.Fprintf(out, "layout %016x\n", c.Hash)
	for _, dev := range c.Devices {
		bound := "unbound"
		if dev.Bound {
			bound = "bound"
		}
		fmt.Fprintf(out, "\ndevice %d %s (%d bytes, %s, %016x)\n", dev.Spec.ID, dev.Name, dev.Spec.StateSize, bound, dev.Hash)
		_, err := demux.Build(dev.Spec.StateSize, dev.Spec.Fields, demux.WithTrace(func(ins demux.Instruction) {
			fmt.Fprintf(out, "  %-24s %s\n", dev.Nodes[ins.Field.Slot], ins)
		}))
		if err != nil {
			return err
		}
	}
	g := c.Graph
	fmt.Fprintf(out, "\ngraph %d nodes\n", g.Len())
	for i, task := range g.Tasks() {
		inputs := make([]string, len(task.Inputs))
		for j, in := range task.Inputs {
			inputs[j] = g.Name(in)
		}
		fmt.Fprintf(out, "  %03d %s = %s(%v, level=%g)\n", i, g.Name(task.Output), task.Kind, inputs, g.Configs()[task.Config].Level)
	}
	return nil
}
