package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/neuroplastio/neio-signal/internal/configsvc"
	"github.com/neuroplastio/neio-signal/internal/devicesvc"
	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/internal/hidsource"
	"github.com/neuroplastio/neio-signal/internal/layout"
	"github.com/neuroplastio/neio-signal/internal/pipeline"
	"github.com/neuroplastio/neio-signal/internal/replay"
	"github.com/neuroplastio/neio-signal/pkg/bus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"go.uber.org/dig"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Agent struct {
	config Config
	log    *zap.Logger

	db        *badger.DB
	configSvc *configsvc.Service
	deviceSvc *devicesvc.Service
	source    *hidsource.Source
	metrics   *pipeline.Metrics
	registry  *prometheus.Registry
	events    *pipeline.EventBus
}

type agentParams struct {
	dig.In

	Config    Config
	Log       *zap.Logger
	DB        *badger.DB
	ConfigSvc *configsvc.Service
	DeviceSvc *devicesvc.Service
	Source    *hidsource.Source
	Metrics   *pipeline.Metrics
	Registry  *prometheus.Registry
	Events    *pipeline.EventBus
}

func NewAgent(config Config) (*Agent, error) {
	if config.FrameInterval <= 0 {
		config.FrameInterval = DefaultFrameInterval
	}
	c := dig.New()
	providers := []any{
		func() Config {
			return config
		},
		func(cfg Config) (*zap.Logger, error) {
			return NewLogger(cfg.LogLevel)
		},
		func(cfg Config, log *zap.Logger) (*badger.DB, error) {
			return devicesvc.OpenDB(filepath.Join(cfg.DataDir, "db"), log.Named("badger"))
		},
		func(log *zap.Logger) *configsvc.Service {
			return configsvc.New(log.Named("config"))
		},
		func(db *badger.DB, log *zap.Logger) *devicesvc.Service {
			return devicesvc.New(db, log.Named("devices"), time.Now)
		},
		func(log *zap.Logger) *hidsource.Source {
			return hidsource.New(log.Named("hid"))
		},
		func() *prometheus.Registry {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			return reg
		},
		func(reg *prometheus.Registry) (*pipeline.Metrics, error) {
			return pipeline.NewMetrics(reg)
		},
		func(log *zap.Logger) *pipeline.EventBus {
			return bus.NewBus[string, pipeline.DerivedEvent](log.Named("events"))
		},
	}
	for _, provider := range providers {
		if err := c.Provide(provider); err != nil {
			return nil, fmt.Errorf("failed to provide dependency: %w", err)
		}
	}
	var a *Agent
	err := c.Invoke(func(p agentParams) {
		a = &Agent{
			config:    p.Config,
			log:       p.Log,
			db:        p.DB,
			configSvc: p.ConfigSvc,
			deviceSvc: p.DeviceSvc,
			source:    p.Source,
			metrics:   p.Metrics,
			registry:  p.Registry,
			events:    p.Events,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", dig.RootCause(err))
	}
	return a, nil
}

func (a *Agent) Close() error {
	err := a.db.Close()
	_ = a.log.Sync()
	return err
}

func (a *Agent) Log() *zap.Logger {
	return a.log
}

func (a *Agent) Devices() *devicesvc.Service {
	return a.deviceSvc
}

// Events carries derived events keyed by node name.
func (a *Agent) Events() *pipeline.EventBus {
	return a.events
}

// Run starts the agent and blocks until the context is cancelled.
// Agent startup will fail if the layout is not valid.
// In case the layout becomes invalid after the startup, it will remain running with the last valid layout.
func (a *Agent) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rawEvents := make(chan pipeline.RawEvent, 1024)
	opts := []pipeline.Option{
		pipeline.WithMetrics(a.metrics),
		pipeline.WithBus(a.events),
		pipeline.WithDiagnostics(a.diagnostics),
	}
	loop := newFrameLoop(a.log.Named("pipeline"), a.config.FrameInterval, a.deviceSvc, rawEvents, opts...)
	if a.config.RecordPath != "" {
		f, createErr := os.Create(a.config.RecordPath)
		if createErr != nil {
			return fmt.Errorf("failed to create capture file: %w", createErr)
		}
		defer func() {
			err = multierr.Append(err, f.Close())
		}()
		loop.recorder = replay.NewWriter(f)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	select {
	case <-ctx.Done():
		return nil
	case <-a.configSvc.Ready():
	}

	lastHash := atomic.NewUint64(0)
	l, err := configsvc.Register(a.configSvc, a.config.LayoutConfig, layout.Layout{}, func(l layout.Layout, err error) {
		if err != nil {
			a.log.Error("Failed to read layout", zap.Error(err))
			return
		}
		compiled, err := layout.Compile(a.log.Named("layout"), l)
		if err != nil {
			a.log.Error("Failed to compile layout", zap.Error(err))
			return
		}
		if lastHash.Swap(compiled.Hash) == compiled.Hash {
			a.log.Debug("Layout unchanged")
			return
		}
		loop.Swap(compiled)
	})
	if err != nil {
		cancel()
		_ = group.Wait()
		return fmt.Errorf("failed to register layout: %w", err)
	}
	compiled, err := layout.Compile(a.log.Named("layout"), l)
	if err != nil {
		cancel()
		_ = group.Wait()
		return fmt.Errorf("failed to compile layout: %w", err)
	}
	lastHash.Store(compiled.Hash)
	loop.Swap(compiled)

	group.Go(func() error {
		return loop.Run(groupCtx)
	})
	group.Go(func() error {
		return a.source.Run(groupCtx, compiled.Devices, sourceHandler{a.deviceSvc}, rawEvents)
	})
	if a.config.MetricsAddr != "" {
		group.Go(func() error {
			return a.serveMetrics(groupCtx)
		})
	}

	err = group.Wait()
	if err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) diagnostics(err error) {
	var anomaly *pipeline.Anomaly
	if errors.As(err, &anomaly) {
		a.log.Warn("Frame anomaly",
			zap.String("kind", anomaly.Kind),
			zap.Uint16("device", uint16(anomaly.Device)),
			zap.Int64("timestamp", anomaly.Timestamp),
			zap.Error(anomaly.Err),
		)
		return
	}
	a.log.Warn("Frame anomaly", zap.Error(err))
}

func (a *Agent) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("Serving metrics", zap.String("addr", a.config.MetricsAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

type sourceHandler struct {
	devices *devicesvc.Service
}

func (h sourceHandler) Connected(dev layout.Device, product string) error {
	_, err := h.devices.Connect(dev, product)
	return err
}

func (h sourceHandler) Disconnected(id devstate.DeviceID) {
	h.devices.Disconnect(id)
}
