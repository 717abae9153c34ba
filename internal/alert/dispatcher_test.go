package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Hyunsookm/VisionWalkHelper/internal/model"
	"github.com/Hyunsookm/VisionWalkHelper/internal/push"
)

type fakeTokenStore struct {
	mu      sync.Mutex
	tokens  map[string][]string
	deleted [][2]string
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string][]string)}
}

func (f *fakeTokenStore) GuardianTokens(_ context.Context, uid string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[uid], nil
}

func (f *fakeTokenStore) DeleteGuardianToken(_ context.Context, uid, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, [2]string{uid, token})
	return nil
}

type fakeSender struct {
	mu      sync.Mutex
	calls   int
	tokens  []string
	msg     push.Message
	results []push.Result
	err     error
}

func (f *fakeSender) Send(_ context.Context, tokens []string, msg push.Message) ([]push.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tokens = tokens
	f.msg = msg
	if f.err != nil {
		return nil, f.err
	}
	if f.results != nil {
		return f.results, nil
	}
	results := make([]push.Result, len(tokens))
	for i, t := range tokens {
		results[i] = push.Result{Token: t}
	}
	return results, nil
}

func fallDoc(guardians []string) map[string]any {
	return model.AlertRecord{
		UserUID:      "user-1",
		GuardianUIDs: guardians,
		Type:         model.AlertTypeFall,
		DeviceID:     "AA:BB",
		CreatedAt:    time.Now(),
		Status:       model.AlertNew,
	}.Doc()
}

func TestDispatchSkipsRecordWithoutGuardians(t *testing.T) {
	tokens := newFakeTokenStore()
	sender := &fakeSender{}
	d := NewDispatcher(tokens, sender)

	if err := d.HandleAlert(context.Background(), "a1", fallDoc(nil)); err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}
	if sender.calls != 0 {
		t.Error("nothing should be sent for a guardian-less record")
	}
}

func TestDispatchOnlyToRegisteredGuardians(t *testing.T) {
	tokens := newFakeTokenStore()
	tokens.tokens["g1"] = []string{"tok-a", "tok-b"}
	// g2 has no registered devices.
	sender := &fakeSender{}
	d := NewDispatcher(tokens, sender)

	if err := d.HandleAlert(context.Background(), "a1", fallDoc([]string{"g1", "g2"})); err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("sender called %d times, want 1", sender.calls)
	}
	if len(sender.tokens) != 2 {
		t.Errorf("sent to %v, want g1's two tokens", sender.tokens)
	}
}

func TestDispatchSkipsWhenNobodyRegistered(t *testing.T) {
	tokens := newFakeTokenStore()
	sender := &fakeSender{}
	d := NewDispatcher(tokens, sender)

	if err := d.HandleAlert(context.Background(), "a1", fallDoc([]string{"g1"})); err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}
	if sender.calls != 0 {
		t.Error("nothing should be sent when no guardian has a device")
	}
}

func TestDispatchPrunesDeadTokens(t *testing.T) {
	tokens := newFakeTokenStore()
	tokens.tokens["g1"] = []string{"tok-dead", "tok-live", "tok-flaky"}
	sender := &fakeSender{results: []push.Result{
		{Token: "tok-dead", Err: errors.New("registration-token-not-registered"), Permanent: true},
		{Token: "tok-live"},
		{Token: "tok-flaky", Err: errors.New("internal error")},
	}}
	d := NewDispatcher(tokens, sender)

	if err := d.HandleAlert(context.Background(), "a1", fallDoc([]string{"g1"})); err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}

	if len(tokens.deleted) != 1 {
		t.Fatalf("deleted %v, want only the dead token", tokens.deleted)
	}
	if got := tokens.deleted[0]; got != [2]string{"g1", "tok-dead"} {
		t.Errorf("deleted %v", got)
	}
}

func TestDispatchDeduplicatesSharedTokens(t *testing.T) {
	tokens := newFakeTokenStore()
	// The same device is registered under both guardians.
	tokens.tokens["g1"] = []string{"tok-shared"}
	tokens.tokens["g2"] = []string{"tok-shared", "tok-own"}
	sender := &fakeSender{}
	d := NewDispatcher(tokens, sender)

	if err := d.HandleAlert(context.Background(), "a1", fallDoc([]string{"g1", "g2"})); err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}
	if len(sender.tokens) != 2 {
		t.Errorf("sent to %v, want the shared token once", sender.tokens)
	}
}

func TestDispatchMessagePayload(t *testing.T) {
	tokens := newFakeTokenStore()
	tokens.tokens["g1"] = []string{"tok-a"}
	sender := &fakeSender{}
	d := NewDispatcher(tokens, sender)

	if err := d.HandleAlert(context.Background(), "a1", fallDoc([]string{"g1"})); err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}

	if sender.msg.Title != "낙상 감지" {
		t.Errorf("title = %q", sender.msg.Title)
	}
	want := map[string]string{
		"type":     "fall",
		"userUid":  "user-1",
		"alertId":  "a1",
		"deviceId": "AA:BB",
		"status":   "new",
	}
	for k, v := range want {
		if sender.msg.Data[k] != v {
			t.Errorf("data[%s] = %q, want %q", k, sender.msg.Data[k], v)
		}
	}
}

func TestDispatchMalformedRecord(t *testing.T) {
	d := NewDispatcher(newFakeTokenStore(), &fakeSender{})

	err := d.HandleAlert(context.Background(), "a1", map[string]any{"status": "exploded"})
	if err == nil {
		t.Fatal("a malformed record must be surfaced, not silently skipped")
	}
}
