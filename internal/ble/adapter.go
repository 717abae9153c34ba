// Package ble provides the BLE client for communicating with a
// VisionWalkHelper sensor unit. It handles device discovery, the
// serial-secret authentication handshake, configuration writes, and
// the battery / fall-detection notification streams.
package ble

import "context"

// VisionWalkHelper GATT addresses.
const (
	ConfigServiceUUID = "87654321-1234-5678-1234-56789abcdef0"

	AuthCharUUID    = "fedcba01-1234-5678-1234-56789abcdef0"
	LightCharUUID   = "abcdef01-1234-5678-1234-56789abcdef1"
	AlarmCharUUID   = "abcdef01-1234-5678-1234-56789abcdef2"
	VolumeCharUUID  = "abcdef01-1234-5678-1234-56789abcdef3"
	BatteryCharUUID = "abcdef01-1234-5678-1234-56789abcdef4"
	FallCharUUID    = "abcdef01-1234-5678-1234-56789abcdef5"
)

// DeviceNamePrefix filters advertisements during discovery.
const DeviceNamePrefix = "VisionWalkHelper"

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	ID   string // platform device identifier (MAC or CoreBluetooth UUID)
	RSSI int
}

// Subscription is an active notification registration. Callers must
// release it on teardown or the underlying registration leaks.
type Subscription interface {
	Unsubscribe() error
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Read returns the current value of the characteristic.
	Read() ([]byte, error)
	// Write sends data with acknowledgment.
	Write(data []byte) error
	// WriteWithoutResponse sends data without acknowledgment.
	WriteWithoutResponse(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) (Subscription, error)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers the callback invoked when the connection
	// drops, replacing any previously registered one. A nil callback
	// disarms the observer.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports discovered peripherals to onDevice until it returns
	// true (stop scanning) or ctx is done.
	Scan(ctx context.Context, onDevice func(Device) (stop bool)) error
	// Connect establishes a connection to the device with the given identifier.
	Connect(ctx context.Context, id string) (Connection, error)
}
