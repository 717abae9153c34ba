package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrInvalidValue is returned by configuration writes when the value is
// outside [0,255]. No transport write is attempted in that case.
var ErrInvalidValue = errors.New("ble: value must be an integer in [0,255]")

// Session is an authenticated connection to a sensor unit. It exposes
// the single-byte configuration accessors and the battery /
// fall-detection notification streams.
type Session struct {
	conn     Connection
	deviceID string

	mu    sync.Mutex
	chars map[string]Characteristic
}

func newSession(conn Connection, deviceID string) *Session {
	return &Session{
		conn:     conn,
		deviceID: deviceID,
		chars:    make(map[string]Characteristic),
	}
}

// DeviceID returns the platform identifier of the connected device.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Close disconnects from the device.
func (s *Session) Close() error {
	return s.conn.Disconnect()
}

// characteristic returns the config-service characteristic with the
// given UUID, discovering it on first use.
func (s *Session) characteristic(uuid string) (Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chars[uuid]; ok {
		return c, nil
	}
	c, err := s.conn.DiscoverCharacteristic(ConfigServiceUUID, uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristic %s: %w", uuid, err)
	}
	s.chars[uuid] = c
	return c, nil
}

func (s *Session) readByte(uuid string) (byte, error) {
	c, err := s.characteristic(uuid)
	if err != nil {
		return 0, err
	}
	data, err := c.Read()
	if err != nil {
		return 0, fmt.Errorf("ble: read characteristic %s: %w", uuid, err)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("ble: characteristic %s returned no value", uuid)
	}
	return data[0], nil
}

// writeByte validates the value and writes it as a single byte. The
// write is attempted without acknowledgment first; if the peripheral
// rejects that mode, it falls back once to an acknowledged write. This
// is a compatibility fallback, not a retry on failure.
func (s *Session) writeByte(uuid string, v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("%w: got %d", ErrInvalidValue, v)
	}
	c, err := s.characteristic(uuid)
	if err != nil {
		return err
	}
	data := []byte{byte(v)}
	if err := c.WriteWithoutResponse(data); err != nil {
		if ackErr := c.Write(data); ackErr != nil {
			return fmt.Errorf("ble: write characteristic %s: %w", uuid, ackErr)
		}
	}
	return nil
}

// ReadLight returns the headlight state byte.
func (s *Session) ReadLight() (byte, error) { return s.readByte(LightCharUUID) }

// WriteLight sets the headlight state byte.
func (s *Session) WriteLight(v int) error { return s.writeByte(LightCharUUID, v) }

// ReadAlarm returns the alarm state byte.
func (s *Session) ReadAlarm() (byte, error) { return s.readByte(AlarmCharUUID) }

// WriteAlarm sets the alarm state byte.
func (s *Session) WriteAlarm(v int) error { return s.writeByte(AlarmCharUUID, v) }

// ReadVolume returns the output volume byte.
func (s *Session) ReadVolume() (byte, error) { return s.readByte(VolumeCharUUID) }

// WriteVolume sets the output volume byte.
func (s *Session) WriteVolume(v int) error { return s.writeByte(VolumeCharUUID, v) }

// SubscribeBattery streams battery level percentages, re-emitting on
// every peripheral notification. A malformed notification is logged and
// skipped; it never terminates the stream. The returned subscription
// must be released on teardown.
func (s *Session) SubscribeBattery(cb func(level int)) (Subscription, error) {
	c, err := s.characteristic(BatteryCharUUID)
	if err != nil {
		return nil, err
	}
	sub, err := c.Subscribe(func(data []byte) {
		if len(data) == 0 {
			slog.Warn("[ble] malformed battery notification", "device", s.deviceID)
			return
		}
		cb(int(data[0]))
	})
	if err != nil {
		return nil, fmt.Errorf("ble: subscribe battery: %w", err)
	}
	return sub, nil
}

// SubscribeFalls streams fall-detection events: any notification whose
// first byte is nonzero signals a fall. Malformed notifications are
// logged and skipped. The returned subscription must be released on
// teardown.
func (s *Session) SubscribeFalls(cb func()) (Subscription, error) {
	c, err := s.characteristic(FallCharUUID)
	if err != nil {
		return nil, err
	}
	sub, err := c.Subscribe(func(data []byte) {
		if len(data) == 0 {
			slog.Warn("[ble] malformed fall notification", "device", s.deviceID)
			return
		}
		if data[0] != 0 {
			cb()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ble: subscribe fall detection: %w", err)
	}
	return sub, nil
}
