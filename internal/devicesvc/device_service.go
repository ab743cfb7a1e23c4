// Package devicesvc keeps persistent device profiles and tracks which devices
// are connected.
package devicesvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/internal/layout"
	"github.com/neuroplastio/neio-signal/pkg/bus"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

var ErrDeviceNotFound = errors.New("device not found")

// Profile is the stored record of a device seen by the agent.
type Profile struct {
	ID          devstate.DeviceID `json:"id"`
	Name        string            `json:"name"`
	StateSize   int               `json:"stateSize"`
	HID         string            `json:"hid,omitempty"`
	Product     string            `json:"product,omitempty"`
	LayoutHash  uint64            `json:"layoutHash"`
	Connections int               `json:"connections"`
	FirstSeenAt time.Time         `json:"firstSeenAt"`
	LastSeenAt  time.Time         `json:"lastSeenAt"`
}

type EventType uint8

const (
	DeviceConnected EventType = iota
	DeviceDisconnected
)

func (t EventType) String() string {
	switch t {
	case DeviceConnected:
		return "connected"
	case DeviceDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("EventType(%d)", t)
	}
}

type DeviceEvent struct {
	Type    EventType
	Profile Profile
}

type (
	DeviceBus        = bus.Bus[devstate.DeviceID, DeviceEvent]
	DeviceSubscriber = bus.Subscriber[devstate.DeviceID, DeviceEvent]
)

type Service struct {
	log       *zap.Logger
	db        *badger.DB
	now       func() time.Time
	bus       *DeviceBus
	connected *xsync.MapOf[devstate.DeviceID, Profile]
}

func New(db *badger.DB, log *zap.Logger, now func() time.Time) *Service {
	return &Service{
		db:        db,
		log:       log,
		now:       now,
		bus:       bus.NewBus[devstate.DeviceID, DeviceEvent](log),
		connected: xsync.NewMapOf[devstate.DeviceID, Profile](),
	}
}

func deviceKey(id devstate.DeviceID) []byte {
	return []byte(fmt.Sprintf("devices/%05d", id))
}

// Connect stores the device profile and announces the connection.
// product is the name reported by the hardware, if any.
func (s *Service) Connect(dev layout.Device, product string) (Profile, error) {
	profile, err := s.initializeDevice(dev, product)
	if err != nil {
		return Profile{}, err
	}
	if _, loaded := s.connected.LoadOrStore(profile.ID, profile); loaded {
		s.connected.Store(profile.ID, profile)
		return profile, nil
	}
	s.log.Info("Device connected",
		zap.Uint16("device", uint16(profile.ID)),
		zap.String("name", profile.Name),
		zap.String("product", profile.Product),
	)
	s.bus.Publish(profile.ID, DeviceEvent{Type: DeviceConnected, Profile: profile})
	return profile, nil
}

func (s *Service) Disconnect(id devstate.DeviceID) bool {
	profile, ok := s.connected.LoadAndDelete(id)
	if !ok {
		return false
	}
	s.log.Info("Device disconnected", zap.Uint16("device", uint16(id)), zap.String("name", profile.Name))
	s.bus.Publish(id, DeviceEvent{Type: DeviceDisconnected, Profile: profile})
	return true
}

func (s *Service) IsConnected(id devstate.DeviceID) bool {
	_, ok := s.connected.Load(id)
	return ok
}

// Connected lists connected devices ordered by id.
func (s *Service) Connected() []Profile {
	profiles := make([]Profile, 0, s.connected.Size())
	s.connected.Range(func(_ devstate.DeviceID, p Profile) bool {
		profiles = append(profiles, p)
		return true
	})
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].ID < profiles[j].ID
	})
	return profiles
}

// Subscribe streams lifecycle events of the given devices, or of all devices.
func (s *Service) Subscribe(ctx context.Context, ids ...devstate.DeviceID) <-chan bus.Message[devstate.DeviceID, DeviceEvent] {
	return s.bus.Subscribe(ctx, ids...)
}

func (s *Service) initializeDevice(dev layout.Device, product string) (Profile, error) {
	var profile Profile
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := deviceKey(dev.Spec.ID)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &profile)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal device: %w", err)
			}
			if profile.LayoutHash != dev.Hash {
				s.log.Info("Device layout changed",
					zap.Uint16("device", uint16(dev.Spec.ID)),
					zap.Uint64("previous", profile.LayoutHash),
					zap.Uint64("current", dev.Hash),
				)
			}
		}
		profile.ID = dev.Spec.ID
		profile.Name = dev.Name
		profile.StateSize = dev.Spec.StateSize
		profile.HID = dev.HID
		profile.LayoutHash = dev.Hash
		if product != "" {
			profile.Product = product
		}
		profile.Connections++
		if profile.FirstSeenAt.IsZero() {
			profile.FirstSeenAt = now
		}
		profile.LastSeenAt = now
		b, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("failed to marshal device: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return Profile{}, fmt.Errorf("failed to store device: %w", err)
	}
	return profile, nil
}

func (s *Service) ListDevices() ([]Profile, error) {
	var profiles []Profile
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("devices/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var profile Profile
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &profile)
			})
			if err != nil {
				return err
			}
			profiles = append(profiles, profile)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return profiles, nil
}

func (s *Service) GetDevice(id devstate.DeviceID) (Profile, error) {
	var profile Profile
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deviceKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %d", ErrDeviceNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &profile)
		})
	})
	if err != nil {
		return Profile{}, fmt.Errorf("failed to get device: %w", err)
	}
	return profile, nil
}

// ForgetDevice deletes the stored profile.
func (s *Service) ForgetDevice(id devstate.DeviceID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(deviceKey(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}
