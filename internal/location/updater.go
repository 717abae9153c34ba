// Package location implements the periodic location uploader. Positions
// reach the store only while three gates hold at once: the uploader is
// started, sending is allowed, and the app is in the foreground. A gate
// closing pauses uploads; it never tears the uploader down.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Hyunsookm/VisionWalkHelper/internal/identity"
	"github.com/Hyunsookm/VisionWalkHelper/internal/model"
	"github.com/Hyunsookm/VisionWalkHelper/internal/store"
)

var (
	// ErrPermissionDenied is returned by a Source when the platform
	// refuses access to the device position.
	ErrPermissionDenied = errors.New("location: permission denied")

	// ErrNotInitialized is returned by Start before Init has wired the
	// identity provider and the store.
	ErrNotInitialized = errors.New("location: updater not initialized")
)

// Position is one device fix.
type Position struct {
	Lat float64
	Lng float64
}

// Source provides device positions.
type Source interface {
	// RequestPermission asks the platform for position access.
	RequestPermission(ctx context.Context) error
	// Current returns the device position.
	Current(ctx context.Context) (Position, error)
}

// Store is the document-store surface the uploader needs.
type Store interface {
	SetMerge(ctx context.Context, collection, id string, data map[string]any) error
}

// Options configures the uploader.
type Options struct {
	// Interval is the periodic upload cadence.
	Interval time.Duration
}

// DefaultOptions returns the production cadence.
func DefaultOptions() Options {
	return Options{Interval: 10 * time.Second}
}

// Updater periodically uploads the device position while started,
// allowed to send, and in the foreground. It also fans each accepted
// position out to in-process subscribers.
type Updater struct {
	source Source
	opts   Options
	now    func() time.Time

	mu          sync.Mutex
	identity    identity.Provider
	store       Store
	initialized bool
	started     bool
	sendAllowed bool
	appActive   bool
	lastPos     *Position
	subs        map[int]func(Position)
	nextSub     int
	ctx         context.Context
	tickerStop  chan struct{}
}

// NewUpdater creates an uploader over the given position source.
func NewUpdater(source Source, opts Options) *Updater {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	return &Updater{
		source:    source,
		opts:      opts,
		now:       time.Now,
		appActive: true,
		subs:      make(map[int]func(Position)),
	}
}

// Init wires the identity provider and the store. Calling it again is
// a no-op.
func (u *Updater) Init(id identity.Provider, st Store) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.initialized {
		return
	}
	u.identity = id
	u.store = st
	u.initialized = true
}

// SetSendAllowed toggles the send gate. It does not start or stop the
// uploader; a closed gate just makes every tick a no-op.
func (u *Updater) SetSendAllowed(allowed bool) {
	u.mu.Lock()
	u.sendAllowed = allowed
	u.mu.Unlock()
}

// Start requests position permission and arms the periodic upload. A
// denied permission is logged and swallowed: the uploader stays up and
// later ticks simply fail to read a position. When immediate is true
// one gated upload is attempted right away. Calling Start again while
// started is a no-op.
func (u *Updater) Start(ctx context.Context, immediate bool) error {
	u.mu.Lock()
	if !u.initialized {
		u.mu.Unlock()
		return ErrNotInitialized
	}
	if u.started {
		u.mu.Unlock()
		return nil
	}
	u.started = true
	u.ctx = ctx
	u.mu.Unlock()

	if err := u.source.RequestPermission(ctx); err != nil {
		if !errors.Is(err, ErrPermissionDenied) {
			u.mu.Lock()
			u.started = false
			u.mu.Unlock()
			return fmt.Errorf("location: request permission: %w", err)
		}
		slog.Warn("[location] position permission denied, uploads will be skipped")
	}

	u.mu.Lock()
	if u.appActive {
		u.armLocked()
	}
	u.mu.Unlock()

	if immediate {
		u.tryUpload()
	}
	return nil
}

// Stop disarms the ticker. Calling Stop again is a no-op.
func (u *Updater) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.started {
		return
	}
	u.started = false
	u.disarmLocked()
}

// SetAppActive records a foreground transition. Entering the foreground
// while started attempts one immediate gated upload and rearms the
// ticker; leaving it disarms the ticker.
func (u *Updater) SetAppActive(active bool) {
	u.mu.Lock()
	if u.appActive == active {
		u.mu.Unlock()
		return
	}
	u.appActive = active
	started := u.started
	if started {
		if active {
			u.armLocked()
		} else {
			u.disarmLocked()
		}
	}
	u.mu.Unlock()

	if active && started {
		u.tryUpload()
	}
}

// Subscribe registers a position listener. The last known position, if
// any, is replayed immediately; the listener then receives every
// accepted position. The returned func removes the listener.
func (u *Updater) Subscribe(fn func(Position)) func() {
	u.mu.Lock()
	id := u.nextSub
	u.nextSub++
	u.subs[id] = fn
	last := u.lastPos
	u.mu.Unlock()

	if last != nil {
		fn(*last)
	}
	return func() {
		u.mu.Lock()
		delete(u.subs, id)
		u.mu.Unlock()
	}
}

// armLocked starts the tick loop. Caller holds u.mu.
func (u *Updater) armLocked() {
	if u.tickerStop != nil {
		return
	}
	stop := make(chan struct{})
	u.tickerStop = stop
	ctx := u.ctx
	go func() {
		ticker := time.NewTicker(u.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				u.tryUpload()
			}
		}
	}()
}

// disarmLocked stops the tick loop. Caller holds u.mu.
func (u *Updater) disarmLocked() {
	if u.tickerStop == nil {
		return
	}
	close(u.tickerStop)
	u.tickerStop = nil
}

// tryUpload performs one gated upload. Every gate is re-checked here so
// a gate that closed between ticks wins.
func (u *Updater) tryUpload() {
	u.mu.Lock()
	if !u.started || !u.sendAllowed || !u.appActive {
		u.mu.Unlock()
		return
	}
	id := u.identity
	st := u.store
	ctx := u.ctx
	u.mu.Unlock()

	uid, ok := id.CurrentUID()
	if !ok {
		slog.Debug("[location] no signed-in user, skipping upload")
		return
	}

	pos, err := u.source.Current(ctx)
	if err != nil {
		slog.Warn("[location] position read failed", "error", err)
		return
	}

	u.mu.Lock()
	u.lastPos = &pos
	listeners := make([]func(Position), 0, len(u.subs))
	for _, fn := range u.subs {
		listeners = append(listeners, fn)
	}
	u.mu.Unlock()

	for _, fn := range listeners {
		fn(pos)
	}

	rec := model.LocationRecord{UID: uid, Lat: pos.Lat, Lng: pos.Lng, Time: u.now()}
	if err := st.SetMerge(ctx, store.CollectionLocations, uid, rec.Doc()); err != nil {
		// The in-memory position and the notifications above stand.
		slog.Warn("[location] upload failed", "uid", uid, "error", err)
	}
}
