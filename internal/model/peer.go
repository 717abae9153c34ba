// Package model defines the document shapes shared by the client and the
// dispatcher: peer links, alert records, and location records. Documents
// cross the store boundary as generic maps; the From*/Doc converters here
// validate and normalize them so the rest of the code never sees an
// unknown status value.
package model

import (
	"fmt"
	"time"
)

// PeerStatus is the lifecycle state of a peer link.
type PeerStatus string

const (
	PeerPending PeerStatus = "pending"
	PeerLinked  PeerStatus = "linked"
)

// ParsePeerStatus validates a stored status string.
func ParsePeerStatus(s string) (PeerStatus, error) {
	switch PeerStatus(s) {
	case PeerPending, PeerLinked:
		return PeerStatus(s), nil
	default:
		return "", fmt.Errorf("model: unknown peer status %q", s)
	}
}

// PeerLink is the relationship between one end-user and one guardian,
// keyed by the human-entered pairing code. The code outlives unlinking,
// so the same code can be consumed again later.
type PeerLink struct {
	Code        string
	UserUID     string
	GuardianUID string // empty while unlinked
	Status      PeerStatus
	LinkedAt    *time.Time
	DisplayName string
	CreatedAt   time.Time
}

// PeerLinkFromDoc builds a PeerLink from a stored document.
func PeerLinkFromDoc(id string, data map[string]any) (PeerLink, error) {
	status, err := ParsePeerStatus(docString(data, "status"))
	if err != nil {
		return PeerLink{}, fmt.Errorf("model: peer %s: %w", id, err)
	}
	return PeerLink{
		Code:        id,
		UserUID:     docString(data, "userUid"),
		GuardianUID: docString(data, "guardianUid"),
		Status:      status,
		LinkedAt:    docTimePtr(data, "linkedAt"),
		DisplayName: docString(data, "displayName"),
		CreatedAt:   docTime(data, "createdAt"),
	}, nil
}

// Doc returns the storable representation of the link.
func (p PeerLink) Doc() map[string]any {
	doc := map[string]any{
		"code":        p.Code,
		"userUid":     p.UserUID,
		"guardianUid": p.GuardianUID,
		"status":      string(p.Status),
		"createdAt":   p.CreatedAt,
	}
	if p.LinkedAt != nil {
		doc["linkedAt"] = *p.LinkedAt
	} else {
		doc["linkedAt"] = nil
	}
	if p.DisplayName != "" {
		doc["displayName"] = p.DisplayName
	}
	return doc
}
