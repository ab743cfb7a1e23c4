// Package hidsource reads raw reports from HID devices and turns them into
// pipeline events.
package hidsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jochenvg/go-udev"
	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/internal/layout"
	"github.com/neuroplastio/neio-signal/internal/pipeline"
	"github.com/sstallion/go-hid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrDeviceNotFound = errors.New("hid device not found")

// Handler is told when a device starts and stops producing reports.
type Handler interface {
	Connected(dev layout.Device, product string) error
	Disconnected(id devstate.DeviceID)
}

var defaultOptions = sourceOptions{
	backoffTimeout: 5 * time.Second,
	reportSize:     64,
}

type sourceOptions struct {
	backoffTimeout time.Duration
	reportSize     int
}

type Option func(*sourceOptions)

// WithBackoffTimeout sets the delay before a failed device is opened again.
func WithBackoffTimeout(d time.Duration) Option {
	return func(o *sourceOptions) {
		o.backoffTimeout = d
	}
}

type Source struct {
	log     *zap.Logger
	options sourceOptions
	start   time.Time
	udev    *udev.Udev
}

func New(log *zap.Logger, opts ...Option) *Source {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Source{
		log:     log,
		options: options,
		start:   time.Now(),
		udev:    &udev.Udev{},
	}
}

// Now is the event clock: microseconds since the source was created, taken
// from the monotonic clock.
func (s *Source) Now() int64 {
	return time.Since(s.start).Microseconds()
}

// Run reads every device that has a HID address until ctx is done.
// Devices that fail are retried after the backoff timeout.
func (s *Source) Run(ctx context.Context, devices []layout.Device, handler Handler, events chan<- pipeline.RawEvent) error {
	if err := hid.Init(); err != nil {
		return fmt.Errorf("failed to initialize hidapi: %w", err)
	}
	defer hid.Exit()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, dev := range devices {
		if dev.HID == "" {
			continue
		}
		addr, err := ParseAddress(dev.HID)
		if err != nil {
			return fmt.Errorf("device %s: %w", dev.Name, err)
		}
		dev := dev
		group.Go(func() error {
			s.runDevice(groupCtx, dev, addr, handler, events)
			return nil
		})
	}
	return group.Wait()
}

func (s *Source) runDevice(ctx context.Context, dev layout.Device, addr Address, handler Handler, events chan<- pipeline.RawEvent) {
	log := s.log.With(zap.String("device", dev.Name), zap.Stringer("addr", addr))
	for {
		err := s.readDevice(ctx, dev, addr, handler, events)
		if ctx.Err() != nil {
			return
		}
		log.Warn("Device is not available, retrying", zap.Error(err), zap.Duration("backoff", s.options.backoffTimeout))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.options.backoffTimeout):
		}
	}
}

func (s *Source) resolve(addr Address) (hid.DeviceInfo, error) {
	var found *hid.DeviceInfo
	vid, pid := addr.VendorID, addr.ProductID
	if addr.Path != "" {
		vid, pid = hid.VendorIDAny, hid.ProductIDAny
	}
	err := hid.Enumerate(vid, pid, func(info *hid.DeviceInfo) error {
		if found == nil && (addr.Path == "" || info.Path == addr.Path) {
			v := *info
			found = &v
		}
		return nil
	})
	if err != nil {
		return hid.DeviceInfo{}, fmt.Errorf("failed to enumerate hid devices: %w", err)
	}
	if found == nil {
		return hid.DeviceInfo{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, addr)
	}
	return *found, nil
}

func productName(info hid.DeviceInfo) string {
	var parts []string
	if info.MfrStr != "" {
		parts = append(parts, info.MfrStr)
	}
	if info.ProductStr != "" {
		parts = append(parts, info.ProductStr)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%04x:%04x", info.VendorID, info.ProductID)
	}
	return strings.Join(parts, " ")
}

func (s *Source) readDevice(ctx context.Context, dev layout.Device, addr Address, handler Handler, events chan<- pipeline.RawEvent) error {
	info, err := s.resolve(addr)
	if err != nil {
		return err
	}
	hidDev, err := hid.OpenPath(info.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", info.Path, err)
	}
	var closeOnce sync.Once
	closeDev := func() {
		closeOnce.Do(func() {
			hidDev.Close()
		})
	}
	defer closeDev()

	if dev.Exclusive {
		release, err := s.detach(info.Path)
		if err != nil {
			return fmt.Errorf("failed to detach kernel inputs: %w", err)
		}
		defer release()
	}

	if err := handler.Connected(dev, productName(info)); err != nil {
		return err
	}
	defer handler.Disconnected(dev.Spec.ID)

	// Read blocks, so closing the device is the only way to interrupt it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeDev()
		case <-done:
		}
	}()

	buf := make([]byte, max(s.options.reportSize, dev.Spec.StateSize+1))
	for {
		n, err := hidDev.Read(buf)
		if err != nil {
			return fmt.Errorf("failed to read report: %w", err)
		}
		ts := s.Now()
		report, ok := stripReportID(buf[:n], dev.ReportID)
		if !ok {
			continue
		}
		data := make([]byte, len(report))
		copy(data, report)
		select {
		case <-ctx.Done():
			return nil
		case events <- pipeline.RawEvent{Device: dev.Spec.ID, Timestamp: ts, Type: pipeline.EventState, Data: data}:
		}
	}
}

// stripReportID drops reports of other ids and removes the id byte.
func stripReportID(report []byte, id *uint8) ([]byte, bool) {
	if id == nil {
		return report, true
	}
	if len(report) == 0 || report[0] != *id {
		return nil, false
	}
	return report[1:], true
}

// detach removes the kernel input devices bound to the hidraw node so the OS
// stops acting on the reports. The returned func attaches them again.
func (s *Source) detach(hidrawPath string) (func(), error) {
	hidrawDev := s.udev.NewDeviceFromSubsystemSysname("hidraw", filepath.Base(hidrawPath))
	if hidrawDev == nil {
		return nil, fmt.Errorf("hidraw device %s not found in udev", hidrawPath)
	}
	e := s.udev.NewEnumerate()
	e.AddMatchSubsystem("input")
	e.AddMatchParent(hidrawDev.Parent())
	inputs, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate input devices: %w", err)
	}
	var detached []string
	for _, input := range inputs {
		syspath := input.Syspath()
		if !strings.HasPrefix(filepath.Base(syspath), "event") {
			continue
		}
		if err := os.WriteFile(syspath+"/uevent", []byte("remove"), 0644); err != nil {
			s.log.Error("Failed to detach input", zap.String("input", syspath), zap.Error(err))
			continue
		}
		detached = append(detached, syspath)
	}
	return func() {
		for _, syspath := range detached {
			if err := os.WriteFile(syspath+"/uevent", []byte("add"), 0644); err != nil {
				s.log.Error("Failed to attach input", zap.String("input", syspath), zap.Error(err))
			}
		}
	}, nil
}
