// Package profile detects WhatsApp profile picture changes for bridged conversations.
package profile

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	storetypes "wabridge/pkg/store/types"

	"github.com/zeebo/blake3"
)

// Digest hashes the picture URL. The source rotates the URL whenever the
// picture changes, so the image bytes are never fetched.
func Digest(url string) string {
	sum := blake3.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// SnapshotStore is the persistence the tracker needs.
type SnapshotStore interface {
	SaveProfileSnapshot(ctx context.Context, snapshot storetypes.ProfileSnapshot) error
	ProfileSnapshot(ctx context.Context, subjectID string) (storetypes.ProfileSnapshot, bool, error)
}

// Tracker owns the stored snapshots.
type Tracker struct {
	store SnapshotStore
	now   func() time.Time
}

func NewTracker(store SnapshotStore) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Observe compares url against the stored snapshot. The first observation of
// a subject is stored and reported as unchanged.
func (t *Tracker) Observe(ctx context.Context, subjectID, url string) (bool, error) {
	hash := Digest(url)

	current, ok, err := t.store.ProfileSnapshot(ctx, subjectID)
	if err != nil {
		return false, fmt.Errorf("load snapshot %s: %w", subjectID, err)
	}
	if ok && current.ImageHash == hash {
		return false, nil
	}

	if err := t.save(ctx, subjectID, url, hash); err != nil {
		return false, err
	}
	return ok, nil
}

// Record stores url as the subject's snapshot unconditionally.
func (t *Tracker) Record(ctx context.Context, subjectID, url string) error {
	return t.save(ctx, subjectID, url, Digest(url))
}

func (t *Tracker) save(ctx context.Context, subjectID, url, hash string) error {
	err := t.store.SaveProfileSnapshot(ctx, storetypes.ProfileSnapshot{
		SubjectID: subjectID,
		ImageURL:  url,
		ImageHash: hash,
		UpdatedAt: t.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", subjectID, err)
	}
	return nil
}
