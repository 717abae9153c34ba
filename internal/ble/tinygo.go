package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinygoAdapter wraps tinygo-org/bluetooth. On Linux the device
// identifier is a MAC address; on macOS it is a CoreBluetooth UUID. The
// ID field in Device and the stored credential hold whichever form the
// platform uses.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinygoConnection // keyed by device identifier
}

// NewTinygoAdapter creates a BLE adapter over the platform default.
func NewTinygoAdapter() *TinygoAdapter {
	return &TinygoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinygoConnection),
	}
}

func (a *TinygoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler fires (with connected=false) when a
	// peripheral disconnects; route it to the matching connection's
	// observer.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinygoAdapter) Scan(ctx context.Context, onDevice func(Device) bool) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		id := result.Address.String()
		mu.Lock()
		if seen[id] {
			mu.Unlock()
			return
		}
		seen[id] = true
		mu.Unlock()

		stop := onDevice(Device{
			Name: result.LocalName(),
			ID:   id,
			RSSI: int(result.RSSI),
		})
		if stop {
			adapter.StopScan()
		}
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinygoAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(id)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect will eventually time out or succeed.
		// We can't cancel it from here, but we return immediately.
		return nil, fmt.Errorf("ble: connect to %s: %w", id, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", id, result.err)
		}
		conn := &tinygoConnection{device: &result.device}

		// Track this connection so the adapter-level disconnect handler
		// can find it and fire its OnDisconnect callback.
		a.mu.Lock()
		a.connections[id] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinygoAdapter implements Adapter.
var _ Adapter = (*TinygoAdapter)(nil)

type tinygoConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinygoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &tinygoCharacteristic{char: &chars[0]}, nil
}

func (c *tinygoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	c.mu.Unlock()
}

func (c *tinygoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinygoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, 32)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// tinygo/bluetooth exposes one write primitive; the stack picks request
// or command from the characteristic's properties.
func (c *tinygoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinygoCharacteristic) WriteWithoutResponse(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinygoCharacteristic) Subscribe(cb func([]byte)) (Subscription, error) {
	if err := c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	}); err != nil {
		return nil, err
	}
	return &tinygoSubscription{char: c.char}, nil
}

type tinygoSubscription struct {
	char *bluetooth.DeviceCharacteristic
	once sync.Once
	err  error
}

func (s *tinygoSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.char.EnableNotifications(nil)
	})
	return s.err
}
