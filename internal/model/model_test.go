package model

import (
	"testing"
	"time"
)

func TestParsePeerStatus(t *testing.T) {
	for _, s := range []string{"pending", "linked"} {
		got, err := ParsePeerStatus(s)
		if err != nil {
			t.Errorf("ParsePeerStatus(%q) error = %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParsePeerStatus(%q) = %q", s, got)
		}
	}

	for _, s := range []string{"", "LINKED", "unlinked", "deleted"} {
		if _, err := ParsePeerStatus(s); err == nil {
			t.Errorf("ParsePeerStatus(%q) should fail", s)
		}
	}
}

func TestParseAlertStatus(t *testing.T) {
	for _, s := range []string{"new", "read", "deleted"} {
		if _, err := ParseAlertStatus(s); err != nil {
			t.Errorf("ParseAlertStatus(%q) error = %v", s, err)
		}
	}
	if _, err := ParseAlertStatus("archived"); err == nil {
		t.Error("ParseAlertStatus(\"archived\") should fail")
	}
}

func TestAlertStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to AlertStatus
		want     bool
	}{
		{AlertNew, AlertRead, true},
		{AlertNew, AlertDeleted, true},
		{AlertRead, AlertDeleted, true},
		{AlertRead, AlertNew, false},
		{AlertDeleted, AlertNew, false},
		{AlertDeleted, AlertRead, false},
		{AlertRead, AlertRead, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPeerLinkRoundTrip(t *testing.T) {
	linked := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	link := PeerLink{
		Code:        "482913",
		UserUID:     "user-1",
		GuardianUID: "guardian-1",
		Status:      PeerLinked,
		LinkedAt:    &linked,
		DisplayName: "엄마",
		CreatedAt:   time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC),
	}

	got, err := PeerLinkFromDoc("482913", link.Doc())
	if err != nil {
		t.Fatalf("PeerLinkFromDoc() error = %v", err)
	}
	if got.UserUID != link.UserUID || got.GuardianUID != link.GuardianUID {
		t.Errorf("uids = %q/%q, want %q/%q", got.UserUID, got.GuardianUID, link.UserUID, link.GuardianUID)
	}
	if got.Status != PeerLinked {
		t.Errorf("Status = %q, want linked", got.Status)
	}
	if got.LinkedAt == nil || !got.LinkedAt.Equal(linked) {
		t.Errorf("LinkedAt = %v, want %v", got.LinkedAt, linked)
	}
	if got.DisplayName != "엄마" {
		t.Errorf("DisplayName = %q", got.DisplayName)
	}
}

func TestPeerLinkFromDocRejectsUnknownStatus(t *testing.T) {
	_, err := PeerLinkFromDoc("123456", map[string]any{
		"userUid": "user-1",
		"status":  "corrupt",
	})
	if err == nil {
		t.Fatal("PeerLinkFromDoc() should reject unknown status")
	}
}

func TestPeerLinkPendingHasNullLinkedAt(t *testing.T) {
	link := PeerLink{Code: "111111", UserUID: "u", Status: PeerPending}
	doc := link.Doc()
	if v, ok := doc["linkedAt"]; !ok || v != nil {
		t.Errorf("linkedAt = %v, want explicit nil", v)
	}
	if doc["guardianUid"] != "" {
		t.Errorf("guardianUid = %v, want empty string", doc["guardianUid"])
	}
}

func TestAlertRecordDocDefaultsGuardiansToEmptyList(t *testing.T) {
	rec := AlertRecord{UserUID: "u", Type: AlertTypeFall, Status: AlertNew}
	doc := rec.Doc()
	guardians, ok := doc["guardianUids"].([]string)
	if !ok || guardians == nil {
		t.Fatalf("guardianUids = %v, want empty []string", doc["guardianUids"])
	}
	if len(guardians) != 0 {
		t.Errorf("guardianUids = %v, want empty", guardians)
	}
}

func TestAlertFromDocFirestoreArrayShape(t *testing.T) {
	// Firestore decodes arrays as []any.
	rec, err := AlertFromDoc(map[string]any{
		"userUid":      "user-1",
		"guardianUids": []any{"g1", "g2"},
		"type":         "fall",
		"deviceId":     "dev-1",
		"status":       "new",
		"createdAt":    time.Now(),
	})
	if err != nil {
		t.Fatalf("AlertFromDoc() error = %v", err)
	}
	if len(rec.GuardianUIDs) != 2 || rec.GuardianUIDs[0] != "g1" {
		t.Errorf("GuardianUIDs = %v", rec.GuardianUIDs)
	}
}

func TestLocationRecordRoundTrip(t *testing.T) {
	rec := LocationRecord{
		UID:  "user-1",
		Lat:  37.5665,
		Lng:  126.978,
		Time: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	got := LocationFromDoc(rec.Doc())
	if got.Lat != rec.Lat || got.Lng != rec.Lng {
		t.Errorf("position = (%v, %v), want (%v, %v)", got.Lat, got.Lng, rec.Lat, rec.Lng)
	}
	if !got.Time.Equal(rec.Time) {
		t.Errorf("Time = %v, want %v", got.Time, rec.Time)
	}
}
