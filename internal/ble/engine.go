package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel errors surfaced by the pairing engine.
var (
	// ErrPairingInProgress is returned when a pairing or reconnect
	// attempt is already in flight; only one peripheral may be in
	// flight at a time.
	ErrPairingInProgress = errors.New("ble: pairing already in progress")
	// ErrDiscoveryTimeout is returned when no matching peripheral is
	// found within the scan ceiling. Retrying is the caller's decision.
	ErrDiscoveryTimeout = errors.New("ble: no device found before discovery timeout")
	// ErrAuthFailed is returned when the peripheral drops the link
	// inside the post-write grace window, which is how it signals a
	// serial mismatch.
	ErrAuthFailed = errors.New("ble: serial rejected by device")
	// ErrNoStoredCredential is returned by Reconnect when no pairing
	// credential has been persisted.
	ErrNoStoredCredential = errors.New("ble: no stored credential")
)

// Credential is the locally persisted pairing record: the device
// identifier to reconnect to and the serial secret that authenticates
// against it.
type Credential struct {
	DeviceID string
	Serial   string
}

// CredentialStore persists the pairing credential across app starts.
type CredentialStore interface {
	// Load returns the stored credential, or nil when none exists.
	Load() (*Credential, error)
	// Save persists the credential, replacing any previous one.
	Save(Credential) error
	// Clear removes the stored credential. Clearing an empty store is
	// a no-op.
	Clear() error
}

// State is the engine's position in the pairing state machine.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateCandidateFound
	StateConnecting
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateCandidateFound:
		return "candidate-found"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// EngineOptions configures pairing behavior.
type EngineOptions struct {
	ScanTimeout time.Duration // discovery ceiling
	AuthGrace   time.Duration // how long the link must survive after the serial write
	NamePrefix  string        // advertisement name filter
}

// DefaultEngineOptions returns sensible defaults for production use.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		ScanTimeout: 10 * time.Second,
		AuthGrace:   2 * time.Second,
		NamePrefix:  DeviceNamePrefix,
	}
}

// Engine drives the scan → connect → authenticate → persist flow and
// the symmetric reconnect path using a stored credential.
//
// The peripheral enforces authentication by unilaterally dropping the
// link when the written serial does not match, so the engine races a
// disconnect observer against a fixed grace period after the write:
// disconnect first means the serial was rejected, grace elapsing with
// the link still up means it was accepted.
type Engine struct {
	adapter Adapter
	creds   CredentialStore
	opts    EngineOptions

	inFlight atomic.Bool

	mu         sync.Mutex
	state      State
	onConnLost func()
}

// NewEngine creates a pairing engine over the given adapter and
// credential store.
func NewEngine(adapter Adapter, creds CredentialStore, opts EngineOptions) *Engine {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 10 * time.Second
	}
	if opts.AuthGrace <= 0 {
		opts.AuthGrace = 2 * time.Second
	}
	if opts.NamePrefix == "" {
		opts.NamePrefix = DeviceNamePrefix
	}
	return &Engine{
		adapter: adapter,
		creds:   creds,
		opts:    opts,
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// OnConnectionLost registers the long-lived observer fired when an
// authenticated connection drops. Losing the link after authentication
// is a connectivity event, not an authentication failure: the stored
// credential survives it.
func (e *Engine) OnConnectionLost(cb func()) {
	e.mu.Lock()
	e.onConnLost = cb
	e.mu.Unlock()
}

func (e *Engine) connectionLost() {
	e.setState(StateIdle)
	slog.Warn("[ble] device disconnected")
	e.mu.Lock()
	cb := e.onConnLost
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// BeginPairing scans for a peripheral whose advertised name carries the
// VisionWalkHelper prefix, connects to the first match, and
// authenticates it with the given serial. On success the credential is
// persisted for later silent reconnection. Any stale credential is
// cleared up front.
func (e *Engine) BeginPairing(ctx context.Context, serial string) (*Session, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, ErrPairingInProgress
	}
	defer e.inFlight.Store(false)

	if err := e.creds.Clear(); err != nil {
		return nil, fmt.Errorf("ble: clear stale credential: %w", err)
	}

	if err := e.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	e.setState(StateScanning)
	device, err := e.discover(ctx)
	if err != nil {
		e.setState(StateIdle)
		return nil, err
	}
	e.setState(StateCandidateFound)
	slog.Info("[ble] device found", "name", device.Name, "id", device.ID)

	return e.connectAndAuthenticate(ctx, device.ID, serial)
}

// Reconnect connects directly to the stored device identifier, skipping
// discovery, and re-runs the serial authentication with the stored
// secret. This is the path taken automatically on app start. When the
// stored serial is rejected the credential is discarded.
func (e *Engine) Reconnect(ctx context.Context) (*Session, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, ErrPairingInProgress
	}
	defer e.inFlight.Store(false)

	cred, err := e.creds.Load()
	if err != nil {
		return nil, fmt.Errorf("ble: load credential: %w", err)
	}
	if cred == nil {
		return nil, ErrNoStoredCredential
	}

	if err := e.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	slog.Info("[ble] reconnecting to stored device", "id", cred.DeviceID)
	return e.connectAndAuthenticate(ctx, cred.DeviceID, cred.Serial)
}

// discover scans until the first name-prefix match and stops
// immediately; no further devices are collected.
func (e *Engine) discover(ctx context.Context) (Device, error) {
	scanCtx, cancel := context.WithTimeout(ctx, e.opts.ScanTimeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found *Device
	)
	err := e.adapter.Scan(scanCtx, func(d Device) bool {
		if !strings.HasPrefix(d.Name, e.opts.NamePrefix) {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		if found != nil {
			return true
		}
		dev := d
		found = &dev
		return true
	})

	mu.Lock()
	defer mu.Unlock()
	if found != nil {
		return *found, nil
	}
	if scanCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return Device{}, ErrDiscoveryTimeout
	}
	if err != nil {
		return Device{}, fmt.Errorf("ble: scan: %w", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Device{}, fmt.Errorf("ble: scan: %w", ctxErr)
	}
	return Device{}, ErrDiscoveryTimeout
}

func (e *Engine) connectAndAuthenticate(ctx context.Context, deviceID, serial string) (*Session, error) {
	e.setState(StateConnecting)
	conn, err := e.adapter.Connect(ctx, deviceID)
	if err != nil {
		e.setState(StateIdle)
		return nil, fmt.Errorf("ble: connect to %s: %w", deviceID, err)
	}

	session, err := e.authenticate(ctx, conn, deviceID, serial)
	if err != nil {
		e.setState(StateIdle)
		return nil, err
	}
	e.setState(StateAuthenticated)
	slog.Info("[ble] authenticated", "id", deviceID)
	return session, nil
}

// authenticate writes the serial secret and resolves the race between
// the disconnect observer and the grace timer. Exactly one of the two
// branches acts; the observer is installed before the write so a
// rejection can never slip past it.
func (e *Engine) authenticate(ctx context.Context, conn Connection, deviceID, serial string) (*Session, error) {
	e.setState(StateAuthenticating)

	authChar, err := conn.DiscoverCharacteristic(ConfigServiceUUID, AuthCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("ble: discover auth characteristic: %w", err)
	}

	disconnected := make(chan struct{})
	var once sync.Once
	conn.OnDisconnect(func() {
		once.Do(func() { close(disconnected) })
	})

	if err := authChar.Write([]byte(serial)); err != nil {
		conn.OnDisconnect(nil)
		_ = conn.Disconnect()
		return nil, fmt.Errorf("ble: write serial: %w", err)
	}

	grace := time.NewTimer(e.opts.AuthGrace)
	defer grace.Stop()

	select {
	case <-disconnected:
		// The device dropped the link inside the grace window: the
		// serial did not match. Discard any stored credential.
		if err := e.creds.Clear(); err != nil {
			slog.Error("[ble] clear credential after auth failure", "error", err)
		}
		return nil, ErrAuthFailed

	case <-ctx.Done():
		conn.OnDisconnect(nil)
		_ = conn.Disconnect()
		return nil, fmt.Errorf("ble: authenticate: %w", ctx.Err())

	case <-grace.C:
		// Link survived the grace window: authenticated. Disarm the
		// race observer by replacing it with the long-lived
		// connection-loss observer before anything else can fire.
		conn.OnDisconnect(e.connectionLost)

		if err := e.creds.Save(Credential{DeviceID: deviceID, Serial: serial}); err != nil {
			slog.Error("[ble] persist credential", "error", err)
		}
		return newSession(conn, deviceID), nil
	}
}
