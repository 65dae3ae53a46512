package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/common"
)

// Put stores a new record, and its image when one is given, as a create
// change. Image references supplied in c are ignored; the store assigns its
// own.
func (s *Store) Put(ctx context.Context, c models.Content, image []byte) (models.RecordHandle, error) {
	return s.put(ctx, s.newID(), c, image)
}

func (s *Store) put(ctx context.Context, id string, c models.Content, image []byte) (models.RecordHandle, error) {
	if err := c.Validate(); err != nil {
		return models.RecordHandle{}, err
	}

	now := s.now().UTC()
	rec := models.AnimalRecord{
		ID:        id,
		Content:   c,
		SyncState: models.SyncPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec.ImageRef = ""

	var blob *models.ImageBlob
	if len(image) > 0 {
		sum := blake2b.Sum256(image)
		blob = &models.ImageBlob{
			Ref:       s.newID(),
			RecordID:  rec.ID,
			Bytes:     image,
			SizeBytes: int64(len(image)),
			Checksum:  sum[:],
			CreatedAt: now,
		}
		rec.ImageRef = blob.Ref
	}
	rec.SizeBytes = recordSize(rec.Content)

	err := s.mutate(ctx, "put", func(ctx context.Context, r repos, acct *account) error {
		need := rec.SizeBytes
		if blob != nil {
			need += blob.SizeBytes
		}
		if err := acct.admit(need); err != nil {
			return err
		}
		if blob != nil {
			if err := r.blobs.Insert(ctx, blob); err != nil {
				return err
			}
			if err := s.step("blob"); err != nil {
				return err
			}
		}
		if err := r.records.Insert(ctx, &rec); err != nil {
			return err
		}
		if err := s.step("record"); err != nil {
			return err
		}
		_, err := r.changelog.Append(ctx, &models.ChangeLogEntry{
			RecordID:       rec.ID,
			Operation:      models.OpCreate,
			PayloadVersion: rec.Version,
			Payload:        rec.Content,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		return s.step("changelog")
	})
	if err != nil {
		return models.RecordHandle{}, err
	}

	s.logger.Debug(ctx, "record stored", "record_id", rec.ID, "size_bytes", rec.SizeBytes)
	return models.RecordHandle{ID: rec.ID, ImageRef: rec.ImageRef, Version: rec.Version}, nil
}

// requeue moves a record back to pending after a local edit. Records that
// are in flight keep their state: the engine compares versions on the
// response and requeues them itself. Conflicts stay parked until resolved.
func requeue(rec *models.AnimalRecord) {
	switch rec.SyncState {
	case models.SyncSyncing, models.SyncConflict:
		return
	}
	rec.SyncState = models.SyncPending
	rec.Attempts = 0
	rec.LastError = ""
	rec.NextAttemptAt = nil
}

// Update applies a local edit. p.BaseVersion must match the stored version.
func (s *Store) Update(ctx context.Context, id string, p models.Patch) (*models.AnimalRecord, error) {
	var out *models.AnimalRecord
	err := s.mutate(ctx, "update", func(ctx context.Context, r repos, acct *account) error {
		rec, err := r.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return common.ErrorNotFound
		}
		if p.BaseVersion != rec.Version {
			return fmt.Errorf("%w: record %s is at version %d, edit based on %d",
				common.ErrVersionConflict, id, rec.Version, p.BaseVersion)
		}

		content := p.Apply(rec.Content)
		content.ImageRef = rec.ImageRef
		if err := content.Validate(); err != nil {
			return err
		}
		size := recordSize(content)
		if err := acct.resize(rec.SizeBytes, size); err != nil {
			return err
		}

		now := s.now().UTC()
		rec.Content = content
		rec.SizeBytes = size
		rec.Version++
		rec.UpdatedAt = now
		requeue(rec)
		if err := r.records.Save(ctx, rec); err != nil {
			return err
		}
		if err := s.step("record"); err != nil {
			return err
		}
		_, err = r.changelog.Append(ctx, &models.ChangeLogEntry{
			RecordID:       id,
			Operation:      models.OpUpdate,
			PayloadVersion: rec.Version,
			Payload:        rec.Content,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		out = rec
		return s.step("changelog")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a record from every read path, frees its image and logs a
// delete change. The row stays as a tombstone until the deletion has been
// acknowledged remotely.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.delete(ctx, id, false)
	return err
}

var errNotSynced = errors.New("record has unsynced changes")

func (s *Store) delete(ctx context.Context, id string, onlySynced bool) (bool, error) {
	err := s.mutate(ctx, "delete", func(ctx context.Context, r repos, acct *account) error {
		rec, err := r.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return common.ErrorNotFound
		}
		if onlySynced && rec.SyncState != models.SyncSynced {
			return errNotSynced
		}

		if rec.ImageRef != "" {
			freed, err := r.blobs.Delete(ctx, rec.ImageRef)
			if err != nil {
				return err
			}
			acct.freed += freed
			if err := s.step("blob"); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		payload := rec.Content
		acct.freed += rec.SizeBytes
		rec.ImageRef = ""
		rec.SizeBytes = 0
		rec.Deleted = true
		rec.Version++
		rec.UpdatedAt = now
		requeue(rec)
		if err := r.records.Save(ctx, rec); err != nil {
			return err
		}
		if err := s.step("record"); err != nil {
			return err
		}
		_, err = r.changelog.Append(ctx, &models.ChangeLogEntry{
			RecordID:       id,
			Operation:      models.OpDelete,
			PayloadVersion: rec.Version,
			Payload:        payload,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		return s.step("changelog")
	})
	if errors.Is(err, errNotSynced) {
		return false, nil
	}
	return err == nil, err
}

// Purge deletes synced records captured more than olderThan ago. Records
// with local changes that have not reached the server are never touched.
// It returns the number of records deleted.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	ids, err := s.recordsRepo().SyncedBefore(ctx, cutoff)
	if err != nil {
		return 0, common.StorageError("purge", err)
	}

	n := 0
	for _, id := range ids {
		ok, err := s.delete(ctx, id, true)
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		if _, err := s.ReconcileQuota(ctx); err != nil {
			return n, err
		}
		s.logger.Info(ctx, "purged synced records", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// AcceptRemote replaces a conflicted record with the remote copy. Pending
// local changes are marked superseded and the record becomes synced; a
// remote tombstone removes the record locally.
func (s *Store) AcceptRemote(ctx context.Context, id string, snap models.RemoteSnapshot) (*models.AnimalRecord, error) {
	var out *models.AnimalRecord
	err := s.mutate(ctx, "accept remote", func(ctx context.Context, r repos, acct *account) error {
		rec, err := r.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.SyncState != models.SyncConflict {
			return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, rec.SyncState, models.SyncSynced)
		}
		now := s.now().UTC()
		if _, err := r.changelog.Supersede(ctx, id, now); err != nil {
			return err
		}

		if snap.Deleted {
			if rec.ImageRef != "" {
				freed, err := r.blobs.Delete(ctx, rec.ImageRef)
				if err != nil {
					return err
				}
				acct.freed += freed
			}
			acct.freed += rec.SizeBytes
			return r.records.HardDelete(ctx, id)
		}

		content := snap.Content
		content.ImageRef = rec.ImageRef
		size := recordSize(content)
		if size > rec.SizeBytes {
			acct.charged += size - rec.SizeBytes
		} else {
			acct.freed += rec.SizeBytes - size
		}

		rec.Content = content
		rec.SizeBytes = size
		rec.Deleted = false
		rec.Version++
		rec.RemoteID = snap.RemoteID
		rec.RemoteVersion = snap.Version
		rec.SyncState = models.SyncSynced
		rec.Attempts = 0
		rec.LastError = ""
		rec.NextAttemptAt = nil
		rec.UpdatedAt = now
		if err := r.records.Save(ctx, rec); err != nil {
			return err
		}
		if err := r.records.SetSnapshot(ctx, id, nil); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Rebase replaces a conflicted record's content with a merged version built
// on top of the remote copy. Older pending changes are superseded by a
// single update carrying the merge, and the record goes back to pending.
func (s *Store) Rebase(ctx context.Context, id string, merged models.Content, snap models.RemoteSnapshot) (*models.AnimalRecord, error) {
	var out *models.AnimalRecord
	err := s.mutate(ctx, "rebase", func(ctx context.Context, r repos, acct *account) error {
		rec, err := r.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.SyncState != models.SyncConflict {
			return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, rec.SyncState, models.SyncPending)
		}
		if rec.Deleted {
			return fmt.Errorf("%w: record %s was deleted locally", common.ErrInvalidTransition, id)
		}
		merged.ImageRef = rec.ImageRef
		if err := merged.Validate(); err != nil {
			return err
		}
		size := recordSize(merged)
		if err := acct.resize(rec.SizeBytes, size); err != nil {
			return err
		}

		now := s.now().UTC()
		if _, err := r.changelog.Supersede(ctx, id, now); err != nil {
			return err
		}
		rec.Content = merged
		rec.SizeBytes = size
		rec.Version++
		rec.RemoteID = snap.RemoteID
		rec.RemoteVersion = snap.Version
		rec.SyncState = models.SyncPending
		rec.Attempts = 0
		rec.LastError = ""
		rec.NextAttemptAt = nil
		rec.UpdatedAt = now
		if err := r.records.Save(ctx, rec); err != nil {
			return err
		}
		if err := r.records.SetSnapshot(ctx, id, nil); err != nil {
			return err
		}
		_, err = r.changelog.Append(ctx, &models.ChangeLogEntry{
			RecordID:       id,
			Operation:      models.OpUpdate,
			PayloadVersion: rec.Version,
			Payload:        merged,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
