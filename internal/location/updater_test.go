package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Hyunsookm/VisionWalkHelper/internal/identity"
	"github.com/Hyunsookm/VisionWalkHelper/internal/store"
)

type fakeSource struct {
	mu          sync.Mutex
	permErr     error
	pos         Position
	posErr      error
	permCalls   int
	currentCall int
}

func (f *fakeSource) RequestPermission(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permCalls++
	return f.permErr
}

func (f *fakeSource) Current(context.Context) (Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentCall++
	return f.pos, f.posErr
}

func (f *fakeSource) setPos(p Position) {
	f.mu.Lock()
	f.pos = p
	f.mu.Unlock()
}

func (f *fakeSource) permissionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permCalls
}

type recordStore struct {
	mu     sync.Mutex
	err    error
	writes []map[string]any
	ids    []string
	cols   []string
}

func (r *recordStore) SetMerge(_ context.Context, collection, id string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.cols = append(r.cols, collection)
	r.ids = append(r.ids, id)
	r.writes = append(r.writes, data)
	return nil
}

func (r *recordStore) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *recordStore) lastWrite() (string, string, map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.writes)
	if n == 0 {
		return "", "", nil
	}
	return r.cols[n-1], r.ids[n-1], r.writes[n-1]
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func readyUpdater(src *fakeSource, st *recordStore, uid string) *Updater {
	u := NewUpdater(src, Options{Interval: 15 * time.Millisecond})
	u.Init(identity.Static{UID: uid}, st)
	u.SetSendAllowed(true)
	return u
}

func TestStartBeforeInit(t *testing.T) {
	u := NewUpdater(&fakeSource{}, Options{})

	if err := u.Start(context.Background(), false); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Start() error = %v, want ErrNotInitialized", err)
	}
}

func TestImmediateUpload(t *testing.T) {
	src := &fakeSource{pos: Position{Lat: 37.5665, Lng: 126.9780}}
	st := &recordStore{}
	u := readyUpdater(src, st, "user-1")
	defer u.Stop()

	if err := u.Start(context.Background(), true); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if st.writeCount() == 0 {
		t.Fatal("immediate upload did not reach the store")
	}
	col, id, data := st.lastWrite()
	if col != store.CollectionLocations || id != "user-1" {
		t.Errorf("wrote %s/%s", col, id)
	}
	loc, ok := data["location"].(map[string]any)
	if !ok {
		t.Fatalf("document has no nested location: %v", data)
	}
	if loc["lat"] != 37.5665 || loc["lng"] != 126.978 {
		t.Errorf("location = %v", loc)
	}
	if data["uid"] != "user-1" {
		t.Errorf("uid = %v", data["uid"])
	}
}

func TestSendGateBlocksUpload(t *testing.T) {
	src := &fakeSource{pos: Position{Lat: 1, Lng: 2}}
	st := &recordStore{}
	u := readyUpdater(src, st, "user-1")
	u.SetSendAllowed(false)
	defer u.Stop()

	if err := u.Start(context.Background(), true); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := st.writeCount(); n != 0 {
		t.Fatalf("got %d uploads through a closed gate", n)
	}

	// Opening the gate lets the next tick through.
	u.SetSendAllowed(true)
	waitFor(t, time.Second, func() bool { return st.writeCount() > 0 })
}

func TestNoIdentitySkipsUpload(t *testing.T) {
	src := &fakeSource{pos: Position{Lat: 1, Lng: 2}}
	st := &recordStore{}
	u := NewUpdater(src, Options{Interval: 15 * time.Millisecond})
	u.Init(identity.Static{}, st)
	u.SetSendAllowed(true)
	defer u.Stop()

	if err := u.Start(context.Background(), true); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := st.writeCount(); n != 0 {
		t.Fatalf("got %d uploads with nobody signed in", n)
	}
}

func TestPermissionDeniedDegrades(t *testing.T) {
	src := &fakeSource{permErr: ErrPermissionDenied, posErr: ErrPermissionDenied}
	st := &recordStore{}
	u := readyUpdater(src, st, "user-1")
	defer u.Stop()

	if err := u.Start(context.Background(), true); err != nil {
		t.Fatalf("Start() must swallow a denied permission, got %v", err)
	}
	if st.writeCount() != 0 {
		t.Error("upload should not succeed without permission")
	}
}

func TestPeriodicUpload(t *testing.T) {
	src := &fakeSource{pos: Position{Lat: 1, Lng: 2}}
	st := &recordStore{}
	u := readyUpdater(src, st, "user-1")
	defer u.Stop()

	if err := u.Start(context.Background(), false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return st.writeCount() >= 2 })
}

func TestBackgroundPausesUploads(t *testing.T) {
	src := &fakeSource{pos: Position{Lat: 1, Lng: 2}}
	st := &recordStore{}
	u := readyUpdater(src, st, "user-1")
	defer u.Stop()

	if err := u.Start(context.Background(), false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return st.writeCount() >= 1 })

	u.SetAppActive(false)
	paused := st.writeCount()
	time.Sleep(60 * time.Millisecond)
	if got := st.writeCount(); got != paused {
		t.Fatalf("uploads continued in the background: %d -> %d", paused, got)
	}

	// Returning to the foreground fires one upload right away.
	u.SetAppActive(true)
	waitFor(t, time.Second, func() bool { return st.writeCount() > paused })
}

func TestStoreFailureKeepsLocalState(t *testing.T) {
	src := &fakeSource{pos: Position{Lat: 3, Lng: 4}}
	st := &recordStore{err: errors.New("firestore down")}
	u := readyUpdater(src, st, "user-1")
	defer u.Stop()

	var got []Position
	var mu sync.Mutex
	u.Subscribe(func(p Position) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	if err := u.Start(context.Background(), true); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 || got[0] != (Position{Lat: 3, Lng: 4}) {
		t.Fatalf("subscribers should be notified despite the store failing, got %v", got)
	}
}

func TestSubscribeReplaysLastPosition(t *testing.T) {
	src := &fakeSource{pos: Position{Lat: 5, Lng: 6}}
	st := &recordStore{}
	u := readyUpdater(src, st, "user-1")
	defer u.Stop()

	if err := u.Start(context.Background(), true); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var got []Position
	var mu sync.Mutex
	unsub := u.Subscribe(func(p Position) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	mu.Lock()
	if len(got) != 1 || got[0] != (Position{Lat: 5, Lng: 6}) {
		mu.Unlock()
		t.Fatalf("late subscriber should replay the last position, got %v", got)
	}
	mu.Unlock()

	unsub()
	src.setPos(Position{Lat: 7, Lng: 8})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, p := range got[1:] {
		if p == (Position{Lat: 7, Lng: 8}) {
			t.Fatal("unsubscribed listener still receiving positions")
		}
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	src := &fakeSource{pos: Position{Lat: 1, Lng: 2}}
	st := &recordStore{}
	u := readyUpdater(src, st, "user-1")

	ctx := context.Background()
	if err := u.Start(ctx, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := u.Start(ctx, false); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if got := src.permissionCalls(); got != 1 {
		t.Errorf("permission requested %d times, want 1", got)
	}

	u.Stop()
	u.Stop()

	n := st.writeCount()
	time.Sleep(60 * time.Millisecond)
	if st.writeCount() != n {
		t.Error("uploads continued after Stop")
	}
}
