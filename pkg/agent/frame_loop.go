package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/neuroplastio/neio-signal/internal/devicesvc"
	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/internal/layout"
	"github.com/neuroplastio/neio-signal/internal/pipeline"
	"github.com/neuroplastio/neio-signal/internal/replay"
	"github.com/neuroplastio/neio-signal/pkg/bus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// frameLoop owns the pipeline. Raw events are batched between ticks and every
// tick processes one frame, empty or not. Device lifecycle events and layout
// swaps are applied on the loop goroutine between frames.
type frameLoop struct {
	log      *zap.Logger
	interval time.Duration
	devices  *devicesvc.Service
	events   <-chan pipeline.RawEvent
	opts     []pipeline.Option
	recorder *replay.Writer

	pending  *atomic.Pointer[layout.Compiled]
	current  *atomic.Pointer[pipeline.Pipeline]
	compiled *layout.Compiled
}

func newFrameLoop(log *zap.Logger, interval time.Duration, devices *devicesvc.Service, events <-chan pipeline.RawEvent, opts ...pipeline.Option) *frameLoop {
	return &frameLoop{
		log:      log,
		interval: interval,
		devices:  devices,
		events:   events,
		opts:     opts,
		pending:  atomic.NewPointer[layout.Compiled](nil),
		current:  atomic.NewPointer[pipeline.Pipeline](nil),
	}
}

// Swap schedules a compiled layout to replace the running one at the next frame.
func (l *frameLoop) Swap(c *layout.Compiled) {
	l.pending.Store(c)
}

// Pipeline is the pipeline of the last frame, or nil before the first one.
func (l *frameLoop) Pipeline() *pipeline.Pipeline {
	return l.current.Load()
}

func (l *frameLoop) Run(ctx context.Context) error {
	lifecycle := l.devices.Subscribe(ctx)
	if err := l.applyPending(); err != nil {
		return err
	}
	if l.current.Load() == nil {
		return fmt.Errorf("no layout to run")
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	batch := make([]pipeline.RawEvent, 0, 256)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-l.events:
			batch = append(batch, ev)
			if l.recorder != nil {
				if err := l.recorder.Write(ev); err != nil {
					l.log.Error("Failed to record event", zap.Error(err))
				}
			}
		case msg, ok := <-lifecycle:
			if !ok {
				return nil
			}
			l.applyLifecycle(msg.Message)
		case <-ticker.C:
			l.drainLifecycle(lifecycle)
			l.reconcile()
			if err := l.applyPending(); err != nil {
				l.log.Error("Failed to apply layout, keeping the previous one", zap.Error(err))
			}
			derived := l.current.Load().ProcessFrame(batch)
			for _, ev := range derived {
				l.log.Debug("Derived event", zap.String("node", ev.Name), zap.Int64("ts", ev.Timestamp), zap.Float32("value", ev.Value))
			}
			clear(batch)
			batch = batch[:0]
		}
	}
}

// drainLifecycle applies queued lifecycle events so a device is added before
// the reports that followed its connection are processed.
func (l *frameLoop) drainLifecycle(lifecycle <-chan bus.Message[devstate.DeviceID, devicesvc.DeviceEvent]) {
	for {
		select {
		case msg, ok := <-lifecycle:
			if !ok {
				return
			}
			l.applyLifecycle(msg.Message)
		default:
			return
		}
	}
}

// reconcile brings the pipeline in line with the connected set. The lifecycle
// bus drops messages for slow subscribers, so it is not the source of truth.
func (l *frameLoop) reconcile() {
	p := l.current.Load()
	if p == nil {
		return
	}
	for _, dev := range l.compiled.Devices {
		id := dev.Spec.ID
		connected := l.devices.IsConnected(id)
		switch {
		case connected && !p.HasDevice(id):
			if err := p.AddDevice(dev.Spec); err != nil {
				l.log.Error("Failed to add device", zap.Uint16("device", uint16(id)), zap.Error(err))
				continue
			}
			l.log.Warn("Device added without a lifecycle event", zap.Uint16("device", uint16(id)))
		case !connected && p.HasDevice(id):
			p.RemoveDevice(id)
			l.log.Warn("Device removed without a lifecycle event", zap.Uint16("device", uint16(id)))
		}
	}
}

func (l *frameLoop) applyPending() error {
	c := l.pending.Swap(nil)
	if c == nil {
		return nil
	}
	p := pipeline.New(l.log, c.Graph, l.opts...)
	for _, dev := range c.Devices {
		if !l.devices.IsConnected(dev.Spec.ID) {
			continue
		}
		if err := p.AddDevice(dev.Spec); err != nil {
			return fmt.Errorf("failed to add device %s: %w", dev.Name, err)
		}
	}
	l.compiled = c
	l.current.Store(p)
	l.log.Info("Layout applied", zap.Uint64("hash", c.Hash), zap.Int("nodes", c.Graph.Len()))
	return nil
}

func (l *frameLoop) applyLifecycle(ev devicesvc.DeviceEvent) {
	p := l.current.Load()
	id := ev.Profile.ID
	switch ev.Type {
	case devicesvc.DeviceConnected:
		dev, ok := l.compiled.Device(id)
		if !ok {
			l.log.Warn("Connected device is not in the layout", zap.Uint16("device", uint16(id)))
			return
		}
		// a reconnect starts from a fresh state buffer
		p.RemoveDevice(id)
		if err := p.AddDevice(dev.Spec); err != nil {
			l.log.Error("Failed to add device", zap.Uint16("device", uint16(id)), zap.Error(err))
		}
	case devicesvc.DeviceDisconnected:
		p.RemoveDevice(id)
	}
}
