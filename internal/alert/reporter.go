// Package alert turns fall events into durable alert records and fans
// freshly created records out to guardian devices. The reporter runs in
// the client daemon; the dispatcher runs server-side, once per created
// record.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Hyunsookm/VisionWalkHelper/internal/identity"
	"github.com/Hyunsookm/VisionWalkHelper/internal/model"
	"github.com/Hyunsookm/VisionWalkHelper/internal/store"
)

// ErrBadTransition is returned when an alert status change would move
// backwards in the lifecycle.
var ErrBadTransition = errors.New("alert: status transition not allowed")

// GuardianResolver resolves the guardians linked to a user.
type GuardianResolver interface {
	LinkedGuardians(ctx context.Context, userUID string) ([]string, error)
}

// Store is the document-store surface the reporter and the inbox
// operations need.
type Store interface {
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
}

// ReporterOptions configures alert creation.
type ReporterOptions struct {
	// Debounce drops repeat falls from the same device arriving within
	// this window of the previous reported one.
	Debounce time.Duration
}

// DefaultReporterOptions returns the production debounce window.
func DefaultReporterOptions() ReporterOptions {
	return ReporterOptions{Debounce: 30 * time.Second}
}

// Reporter creates one alert record per accepted fall event.
type Reporter struct {
	identity identity.Provider
	peers    GuardianResolver
	store    Store
	opts     ReporterOptions
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	lastFall map[string]time.Time
}

// NewReporter creates a fall reporter.
func NewReporter(id identity.Provider, peers GuardianResolver, st Store, opts ReporterOptions) *Reporter {
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	return &Reporter{
		identity: id,
		peers:    peers,
		store:    st,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
		lastFall: make(map[string]time.Time),
	}
}

// ReportFall records a fall detected on deviceID. Events without a
// signed-in user are dropped, as are repeats inside the debounce
// window; neither is an error. The guardian list is snapshotted at
// creation and a record is written even when it is empty.
func (r *Reporter) ReportFall(ctx context.Context, deviceID string) error {
	uid, ok := r.identity.CurrentUID()
	if !ok {
		slog.Warn("[alert] fall event with no signed-in user, dropping", "device", deviceID)
		return nil
	}

	now := r.now()
	r.mu.Lock()
	if last, seen := r.lastFall[deviceID]; seen && now.Sub(last) < r.opts.Debounce {
		r.mu.Unlock()
		slog.Debug("[alert] fall inside debounce window, dropping", "device", deviceID)
		return nil
	}
	r.lastFall[deviceID] = now
	r.mu.Unlock()

	guardians, err := r.peers.LinkedGuardians(ctx, uid)
	if err != nil {
		return fmt.Errorf("alert: resolve guardians: %w", err)
	}

	rec := model.AlertRecord{
		UserUID:      uid,
		GuardianUIDs: guardians,
		Type:         model.AlertTypeFall,
		DeviceID:     deviceID,
		CreatedAt:    now,
		Status:       model.AlertNew,
	}
	id := r.newID()
	if err := r.store.Set(ctx, store.CollectionAlerts, id, rec.Doc()); err != nil {
		return fmt.Errorf("alert: save record %s: %w", id, err)
	}
	slog.Info("[alert] fall recorded", "id", id, "device", deviceID, "guardians", len(guardians))
	return nil
}

// MarkRead moves an alert from new to read.
func MarkRead(ctx context.Context, st Store, id string) error {
	return transition(ctx, st, id, model.AlertRead)
}

// Delete soft-deletes an alert. The record stays in the store with
// status deleted.
func Delete(ctx context.Context, st Store, id string) error {
	return transition(ctx, st, id, model.AlertDeleted)
}

func transition(ctx context.Context, st Store, id string, next model.AlertStatus) error {
	data, err := st.Get(ctx, store.CollectionAlerts, id)
	if err != nil {
		return fmt.Errorf("alert: get %s: %w", id, err)
	}
	rec, err := model.AlertFromDoc(data)
	if err != nil {
		return fmt.Errorf("alert: %s: %w", id, err)
	}
	if !rec.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, rec.Status, next)
	}
	err = st.Update(ctx, store.CollectionAlerts, id, map[string]any{
		"status": string(next),
	})
	if err != nil {
		return fmt.Errorf("alert: update %s: %w", id, err)
	}
	return nil
}
