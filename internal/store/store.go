// Package store wraps the Firestore document store used for peers,
// user locations, alerts, and guardian push-token registrations. The
// rest of the code depends only on small per-package interfaces that
// *Client satisfies.
package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection names.
const (
	CollectionPeers     = "peers"
	CollectionLocations = "user_locations"
	CollectionAlerts    = "alerts"
	CollectionUsers     = "users"
	SubcollectionTokens = "fcmTokens"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("store: document not found")

// Document is a stored document with its key.
type Document struct {
	ID   string
	Data map[string]any
}

// Client is the Firestore-backed document store.
type Client struct {
	fs *firestore.Client
}

// NewClient initializes Firestore from a service account key file.
func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("store: initialize firebase app: %w", err)
	}
	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: initialize firestore: %w", err)
	}
	return &Client{fs: fs}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.fs.Close()
}

// Get returns the document data, or ErrNotFound.
func (c *Client) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	snap, err := c.fs.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s/%s: %w", collection, id, err)
	}
	return snap.Data(), nil
}

// Set writes the document, replacing any existing content.
func (c *Client) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if _, err := c.fs.Collection(collection).Doc(id).Set(ctx, data); err != nil {
		return fmt.Errorf("store: set %s/%s: %w", collection, id, err)
	}
	return nil
}

// SetMerge merge-writes the document: given fields are written, other
// fields are left untouched.
func (c *Client) SetMerge(ctx context.Context, collection, id string, data map[string]any) error {
	if _, err := c.fs.Collection(collection).Doc(id).Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("store: merge %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update updates individual fields of an existing document.
func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	if _, err := c.fs.Collection(collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("store: update %s/%s: %w", collection, id, err)
	}
	return nil
}

// QueryEq returns all documents of a collection matching every
// equality filter.
func (c *Client) QueryEq(ctx context.Context, collection string, filters map[string]any) ([]Document, error) {
	q := c.fs.Collection(collection).Query
	for field, value := range filters {
		q = q.Where(field, "==", value)
	}

	var docs []Document
	iter := q.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("store: query %s: %w", collection, err)
		}
		docs = append(docs, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return docs, nil
}

// GuardianTokens returns the push delivery tokens registered for a
// guardian. The token value is the subcollection document id.
func (c *Client) GuardianTokens(ctx context.Context, guardianUID string) ([]string, error) {
	iter := c.fs.Collection(CollectionUsers).Doc(guardianUID).Collection(SubcollectionTokens).Documents(ctx)
	defer iter.Stop()

	var tokens []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("store: list tokens for %s: %w", guardianUID, err)
		}
		tokens = append(tokens, snap.Ref.ID)
	}
	return tokens, nil
}

// SaveGuardianToken registers (or refreshes) a push delivery token for
// a guardian.
func (c *Client) SaveGuardianToken(ctx context.Context, guardianUID, token string) error {
	doc := c.fs.Collection(CollectionUsers).Doc(guardianUID).Collection(SubcollectionTokens).Doc(token)
	if _, err := doc.Set(ctx, map[string]any{"updatedAt": firestore.ServerTimestamp}); err != nil {
		return fmt.Errorf("store: save token for %s: %w", guardianUID, err)
	}
	return nil
}

// DeleteGuardianToken removes a token registration. Deleting an
// already-deleted token is a no-op, so concurrent cleanup is safe.
func (c *Client) DeleteGuardianToken(ctx context.Context, guardianUID, token string) error {
	doc := c.fs.Collection(CollectionUsers).Doc(guardianUID).Collection(SubcollectionTokens).Doc(token)
	if _, err := doc.Delete(ctx); err != nil {
		return fmt.Errorf("store: delete token for %s: %w", guardianUID, err)
	}
	return nil
}

// ListenNewAlerts invokes handler once per alert document created after
// the listener starts, until ctx is cancelled. It is the creation
// trigger for the push fan-out: documents that already exist when the
// listener attaches are not redelivered.
func (c *Client) ListenNewAlerts(ctx context.Context, handler func(id string, data map[string]any)) error {
	snaps := c.fs.Collection(CollectionAlerts).Snapshots(ctx)
	defer snaps.Stop()

	first := true
	for {
		snap, err := snaps.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("store: alert listener: %w", err)
		}
		if first {
			// The initial snapshot replays the existing collection;
			// only later additions are creations.
			first = false
			continue
		}
		for _, change := range snap.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}
			handler(change.Doc.Ref.ID, change.Doc.Data())
		}
	}
}
