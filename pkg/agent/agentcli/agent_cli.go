package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/pkg/agent"
	"github.com/spf13/cobra"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "neio"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() (*agent.Agent, error)

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.Config{
		DataDir:       filepath.Join(configDir, "data"),
		LayoutConfig:  filepath.Join(configDir, "layout.yml"),
		FrameInterval: agent.DefaultFrameInterval,
		LogLevel:      "info",
	}
	rootCmd := &cobra.Command{
		Use:           "neio-signal",
		Short:         "Neuroplast.io signal pipeline",
		Long:          `Turns packed device state reports into timestamped edge events, frame by frame.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var a *agent.Agent
	provider := func() (*agent.Agent, error) {
		if a != nil {
			return a, nil
		}
		var err error
		a, err = agent.NewAgent(cfg)
		return a, err
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.LayoutConfig, "layout", cfg.LayoutConfig, "layout config file")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if a == nil {
			return nil
		}
		return a.Close()
	}
	rootCmd.AddCommand(NewRun(provider, &cfg))
	rootCmd.AddCommand(NewReplay(&cfg))
	rootCmd.AddCommand(NewCompile(&cfg))
	rootCmd.AddCommand(NewDescribe(&cfg))
	rootCmd.AddCommand(NewListDevices(provider))
	rootCmd.AddCommand(NewForgetDevice(provider))
	return rootCmd
}

func NewRun(provider agentProvider, cfg *agent.Config) *cobra.Command {
	var emit bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the signal pipeline",
		Long:  `Reads the HID devices declared in the layout and derives events until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := provider()
			if err != nil {
				return err
			}
			if emit {
				go printEvents(cmd.Context(), a, cmd.OutOrStdout())
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address")
	cmd.Flags().DurationVar(&cfg.FrameInterval, "frame-interval", cfg.FrameInterval, "frame period")
	cmd.Flags().StringVar(&cfg.RecordPath, "record", cfg.RecordPath, "capture raw events to this file")
	cmd.Flags().BoolVar(&emit, "print", false, "print derived events as JSON lines")
	return cmd
}

func printEvents(ctx context.Context, a *agent.Agent, out io.Writer) {
	enc := json.NewEncoder(out)
	for msg := range a.Events().Subscribe(ctx) {
		if err := enc.Encode(msg.Message); err != nil {
			return
		}
	}
}

func NewListDevices(provider agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List known devices",
		Long:  `List the device profiles stored by previous runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := provider()
			if err != nil {
				return err
			}
			devices, err := a.Devices().ListDevices()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(devices, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func NewForgetDevice(provider agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "forget-device <id>",
		Short: "Delete a stored device profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid device id %q: %w", args[0], err)
			}
			a, err := provider()
			if err != nil {
				return err
			}
			return a.Devices().ForgetDevice(devstate.DeviceID(id))
		},
	}
}
