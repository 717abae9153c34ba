package model

import (
	"fmt"
	"time"
)

// AlertStatus is the lifecycle state of an alert record. Transitions are
// monotonic: new → read on first guardian view, new or read → deleted on
// dismissal. Deleted is terminal; records are never physically removed.
type AlertStatus string

const (
	AlertNew     AlertStatus = "new"
	AlertRead    AlertStatus = "read"
	AlertDeleted AlertStatus = "deleted"
)

// ParseAlertStatus validates a stored status string.
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch AlertStatus(s) {
	case AlertNew, AlertRead, AlertDeleted:
		return AlertStatus(s), nil
	default:
		return "", fmt.Errorf("model: unknown alert status %q", s)
	}
}

// CanTransition reports whether moving from s to next is allowed.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	switch next {
	case AlertRead:
		return s == AlertNew
	case AlertDeleted:
		return s == AlertNew || s == AlertRead
	default:
		return false
	}
}

// AlertTypeFall marks alerts produced by the fall-detection stream.
const AlertTypeFall = "fall"

// AlertRecord is one durable record per monitored event. GuardianUIDs is
// a snapshot of the linked guardians at creation time and is never
// re-resolved.
type AlertRecord struct {
	UserUID      string
	GuardianUIDs []string
	Type         string
	DeviceID     string
	CreatedAt    time.Time
	Status       AlertStatus
	Extra        map[string]any
}

// AlertFromDoc builds an AlertRecord from a stored document.
func AlertFromDoc(data map[string]any) (AlertRecord, error) {
	status, err := ParseAlertStatus(docString(data, "status"))
	if err != nil {
		return AlertRecord{}, err
	}
	extra, _ := data["extra"].(map[string]any)
	return AlertRecord{
		UserUID:      docString(data, "userUid"),
		GuardianUIDs: docStrings(data, "guardianUids"),
		Type:         docString(data, "type"),
		DeviceID:     docString(data, "deviceId"),
		CreatedAt:    docTime(data, "createdAt"),
		Status:       status,
		Extra:        extra,
	}, nil
}

// Doc returns the storable representation of the alert.
func (a AlertRecord) Doc() map[string]any {
	guardians := a.GuardianUIDs
	if guardians == nil {
		guardians = []string{}
	}
	doc := map[string]any{
		"userUid":      a.UserUID,
		"guardianUids": guardians,
		"type":         a.Type,
		"deviceId":     a.DeviceID,
		"createdAt":    a.CreatedAt,
		"status":       string(a.Status),
	}
	if a.Extra != nil {
		doc["extra"] = a.Extra
	}
	return doc
}
