// Package peers manages the linking relationship between end-users and
// guardians. A link is keyed by a six-digit code the end-user generates
// and the guardian enters; the code document survives unlinking so the
// same code can be consumed again.
package peers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Hyunsookm/VisionWalkHelper/internal/model"
	"github.com/Hyunsookm/VisionWalkHelper/internal/store"
)

// ErrNotPending is returned when a guardian tries to consume a code
// that is not in the pending state.
var ErrNotPending = errors.New("peers: code is not pending")

// Store is the document-store surface the peer service needs.
type Store interface {
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	QueryEq(ctx context.Context, collection string, filters map[string]any) ([]store.Document, error)
}

// Service implements the peer link lifecycle.
type Service struct {
	store Store
	now   func() time.Time
	code  func() string
}

// NewService creates a peer link service.
func NewService(st Store) *Service {
	return &Service{
		store: st,
		now:   time.Now,
		code:  randomCode,
	}
}

// randomCode returns a six-digit pairing code.
func randomCode() string {
	return fmt.Sprintf("%06d", 100000+rand.Intn(900000))
}

// CreateCode generates a fresh pairing code for the user and stores it
// as a pending link.
func (s *Service) CreateCode(ctx context.Context, userUID string) (model.PeerLink, error) {
	// A collision with a live code is unlikely but cheap to check.
	for attempt := 0; attempt < 5; attempt++ {
		code := s.code()
		_, err := s.store.Get(ctx, store.CollectionPeers, code)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.PeerLink{}, fmt.Errorf("peers: check code: %w", err)
		}

		link := model.PeerLink{
			Code:      code,
			UserUID:   userUID,
			Status:    model.PeerPending,
			CreatedAt: s.now(),
		}
		if err := s.store.Set(ctx, store.CollectionPeers, code, link.Doc()); err != nil {
			return model.PeerLink{}, fmt.Errorf("peers: save code: %w", err)
		}
		return link, nil
	}
	return model.PeerLink{}, errors.New("peers: could not allocate an unused code")
}

// Link consumes a pending code on behalf of a guardian: the link moves
// to the linked state with the guardian recorded and the link time set.
// A code links exactly once per linking action.
func (s *Service) Link(ctx context.Context, code, guardianUID string) error {
	link, err := s.get(ctx, code)
	if err != nil {
		return err
	}
	if link.Status != model.PeerPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, code, link.Status)
	}
	err = s.store.Update(ctx, store.CollectionPeers, code, map[string]any{
		"guardianUid": guardianUID,
		"status":      string(model.PeerLinked),
		"linkedAt":    s.now(),
	})
	if err != nil {
		return fmt.Errorf("peers: link %s: %w", code, err)
	}
	return nil
}

// Unlink returns a link to the pending state, clearing the guardian and
// the link time. The code document itself is never deleted, so it can
// be consumed again later. Unlinking an already-pending code is a
// no-op.
func (s *Service) Unlink(ctx context.Context, code string) error {
	link, err := s.get(ctx, code)
	if err != nil {
		return err
	}
	if link.Status == model.PeerPending {
		return nil
	}
	err = s.store.Update(ctx, store.CollectionPeers, code, map[string]any{
		"status":      string(model.PeerPending),
		"guardianUid": "",
		"linkedAt":    nil,
	})
	if err != nil {
		return fmt.Errorf("peers: unlink %s: %w", code, err)
	}
	return nil
}

// SetDisplayName stores a display-name override for the link.
func (s *Service) SetDisplayName(ctx context.Context, code, name string) error {
	if _, err := s.get(ctx, code); err != nil {
		return err
	}
	err := s.store.Update(ctx, store.CollectionPeers, code, map[string]any{
		"displayName": name,
	})
	if err != nil {
		return fmt.Errorf("peers: rename %s: %w", code, err)
	}
	return nil
}

// LinkedGuardians returns the distinct guardian uids currently linked
// to the user. This is the snapshot source for alert fan-out.
func (s *Service) LinkedGuardians(ctx context.Context, userUID string) ([]string, error) {
	docs, err := s.store.QueryEq(ctx, store.CollectionPeers, map[string]any{
		"userUid": userUID,
		"status":  string(model.PeerLinked),
	})
	if err != nil {
		return nil, fmt.Errorf("peers: resolve guardians: %w", err)
	}

	seen := make(map[string]bool)
	uids := make([]string, 0, len(docs))
	for _, doc := range docs {
		link, err := model.PeerLinkFromDoc(doc.ID, doc.Data)
		if err != nil {
			slog.Warn("[peers] skipping malformed peer document", "code", doc.ID, "error", err)
			continue
		}
		if link.GuardianUID == "" || seen[link.GuardianUID] {
			continue
		}
		seen[link.GuardianUID] = true
		uids = append(uids, link.GuardianUID)
	}
	return uids, nil
}

// LinkedUsers returns the links a guardian currently holds.
func (s *Service) LinkedUsers(ctx context.Context, guardianUID string) ([]model.PeerLink, error) {
	docs, err := s.store.QueryEq(ctx, store.CollectionPeers, map[string]any{
		"guardianUid": guardianUID,
		"status":      string(model.PeerLinked),
	})
	if err != nil {
		return nil, fmt.Errorf("peers: list linked users: %w", err)
	}

	links := make([]model.PeerLink, 0, len(docs))
	for _, doc := range docs {
		link, err := model.PeerLinkFromDoc(doc.ID, doc.Data)
		if err != nil {
			slog.Warn("[peers] skipping malformed peer document", "code", doc.ID, "error", err)
			continue
		}
		links = append(links, link)
	}
	return links, nil
}

func (s *Service) get(ctx context.Context, code string) (model.PeerLink, error) {
	data, err := s.store.Get(ctx, store.CollectionPeers, code)
	if err != nil {
		return model.PeerLink{}, fmt.Errorf("peers: get %s: %w", code, err)
	}
	link, err := model.PeerLinkFromDoc(code, data)
	if err != nil {
		return model.PeerLink{}, err
	}
	return link, nil
}
