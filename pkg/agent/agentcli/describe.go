package agentcli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/neuroplastio/neio-signal/internal/hiddesc"
	"github.com/neuroplastio/neio-signal/internal/hidsource"
	"github.com/neuroplastio/neio-signal/internal/layout"
	"github.com/neuroplastio/neio-signal/pkg/agent"
	"github.com/spf13/cobra"
)

func NewDescribe(cfg *agent.Config) *cobra.Command {
	var (
		raw     bool
		file    string
		firstID uint16
		name    string
	)
	cmd := &cobra.Command{
		Use:   "describe [<hid-address>]",
		Short: "Generate layout devices from a report descriptor",
		Long: `Reads the report descriptor of a HID device (hidraw path or vid:pid), or of
a descriptor file, and prints layout device entries for its input reports.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data    []byte
				product string
				hidAddr string
				err     error
			)
			switch {
			case file != "" && len(args) == 0:
				data, err = os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read descriptor: %w", err)
				}
				product = "device"
			case file == "" && len(args) == 1:
				addr, err := hidsource.ParseAddress(args[0])
				if err != nil {
					return err
				}
				log, err := agent.NewLogger(cfg.LogLevel)
				if err != nil {
					return err
				}
				defer log.Sync()
				data, product, err = hidsource.New(log.Named("hid")).ReportDescriptor(addr)
				if err != nil {
					return err
				}
				hidAddr = args[0]
			default:
				return errors.New("expected either a hid address or --file")
			}
			if raw {
				fmt.Fprint(cmd.OutOrStdout(), hex.Dump(data))
				return nil
			}
			desc, err := hiddesc.Decode(data)
			if err != nil {
				return err
			}
			if name == "" {
				name = product
			}
			out, err := yaml.Marshal(layout.Layout{Devices: layout.Scaffold(desc, firstID, name, hidAddr)})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the raw report descriptor")
	cmd.Flags().StringVar(&file, "file", "", "read the descriptor from a file")
	cmd.Flags().Uint16Var(&firstID, "id", 1, "id of the first generated device")
	cmd.Flags().StringVar(&name, "name", "", "device name (defaults to the product name)")
	return cmd
}
