package agentcli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/neuroplastio/neio-signal/internal/configsvc"
	"github.com/neuroplastio/neio-signal/internal/layout"
	"github.com/neuroplastio/neio-signal/internal/pipeline"
	"github.com/neuroplastio/neio-signal/internal/replay"
	"github.com/neuroplastio/neio-signal/pkg/agent"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func loadLayout(cfg *agent.Config, log *zap.Logger) (*layout.Compiled, error) {
	l, err := configsvc.Load(cfg.LayoutConfig, layout.Layout{})
	if err != nil {
		return nil, fmt.Errorf("failed to load layout: %w", err)
	}
	return layout.Compile(log.Named("layout"), l)
}

func NewReplay(cfg *agent.Config) *cobra.Command {
	var (
		span  int64
		stats bool
	)
	cmd := &cobra.Command{
		Use:   "replay <capture>",
		Short: "Run a captured event file through the layout",
		Long:  `Groups the captured raw events into frames and prints the derived events as JSON lines.`,
		Args:  cobra.ExactArgs(1),
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
			p, err := compiled.NewPipeline(log.Named("pipeline"), pipeline.WithDiagnostics(func(err error) {
				var anomaly *pipeline.Anomaly
				if errors.As(err, &anomaly) {
					log.Warn("Frame anomaly", zap.String("kind", anomaly.Kind), zap.Uint16("device", uint16(anomaly.Device)), zap.Error(anomaly.Err))
					return
				}
				log.Warn("Frame anomaly", zap.Error(err))
			}))
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open capture: %w", err)
			}
			defer f.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			err = replay.Frames(f, span, func(events []pipeline.RawEvent) error {
				for _, ev := range p.ProcessFrame(events) {
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
				return cmd.Context().Err()
			})
			if err != nil {
				return err
			}
			if stats {
				return enc.Encode(p.Stats())
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&span, "frame", 4000, "frame span in capture timestamp units")
	cmd.Flags().BoolVar(&stats, "stats", false, "print pipeline counters after the replay")
	return cmd
}
