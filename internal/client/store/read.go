package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/client/repositories/blobs"
	"github.com/pashudhan/fieldsync/internal/client/repositories/records"
	"github.com/pashudhan/fieldsync/internal/common"
)

const listBatch = 100

func (s *Store) recordsRepo() records.Repository {
	return records.NewSQLiteRepository(s.db)
}

// Get returns a live record.
func (s *Store) Get(ctx context.Context, id string) (*models.AnimalRecord, error) {
	rec, err := s.recordsRepo().Get(ctx, id)
	if err != nil {
		return nil, wrapErr("get", err)
	}
	if rec.Deleted {
		return nil, common.ErrorNotFound
	}
	return rec, nil
}

// List streams live records matching f. Rows are fetched in batches as the
// sequence is consumed, so no read transaction outlives a single batch.
// Ranging over the result again restarts the listing.
func (s *Store) List(ctx context.Context, f models.Filter, p models.Page) iter.Seq2[models.AnimalRecord, error] {
	return func(yield func(models.AnimalRecord, error) bool) {
		repo := s.recordsRepo()
		var cursor *records.Cursor
		remaining := p.Limit
		for {
			batch := listBatch
			if p.Limit > 0 {
				if remaining <= 0 {
					return
				}
				batch = min(batch, remaining)
			}
			page, err := repo.ListPage(ctx, f, cursor, p.Offset, batch)
			if err != nil {
				yield(models.AnimalRecord{}, common.StorageError("list", err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < batch {
				return
			}
			last := page[len(page)-1]
			cursor = &records.Cursor{CapturedAt: last.Timestamp, ID: last.ID}
			remaining -= len(page)
		}
	}
}

// Image returns the bytes of an image blob after verifying its checksum.
// A mismatch is reported as a storage error.
func (s *Store) Image(ctx context.Context, ref string) ([]byte, error) {
	b, err := blobs.NewSQLiteRepository(s.db).Get(ctx, ref)
	if err != nil {
		return nil, wrapErr("image", err)
	}
	sum := blake2b.Sum256(b.Bytes)
	if !bytes.Equal(sum[:], b.Checksum) || int64(len(b.Bytes)) != b.SizeBytes {
		return nil, common.StorageError("image", fmt.Errorf("blob %s is corrupt", ref))
	}
	return b.Bytes, nil
}

// Conflicts returns every parked conflict with both sides.
func (s *Store) Conflicts(ctx context.Context) ([]models.Conflict, error) {
	repo := s.recordsRepo()
	recs, err := repo.ListConflicts(ctx)
	if err != nil {
		return nil, common.StorageError("conflicts", err)
	}
	out := make([]models.Conflict, 0, len(recs))
	for _, rec := range recs {
		snap, err := repo.Snapshot(ctx, rec.ID)
		if err != nil {
			return nil, wrapErr("conflicts", err)
		}
		c := models.Conflict{Local: rec}
		if snap != nil {
			c.Remote = *snap
		}
		out = append(out, c)
	}
	return out, nil
}

// Conflict returns the parked conflict of one record.
func (s *Store) Conflict(ctx context.Context, id string) (*models.Conflict, error) {
	repo := s.recordsRepo()
	rec, err := repo.Get(ctx, id)
	if err != nil {
		return nil, wrapErr("conflict", err)
	}
	if rec.SyncState != models.SyncConflict {
		return nil, common.ErrorNotFound
	}
	snap, err := repo.Snapshot(ctx, id)
	if err != nil {
		return nil, wrapErr("conflict", err)
	}
	if snap == nil {
		return nil, common.StorageError("conflict", fmt.Errorf("record %s has no remote snapshot", id))
	}
	return &models.Conflict{Local: *rec, Remote: *snap}, nil
}

type exportDocument struct {
	Version    string                `json:"version"`
	ExportedAt time.Time             `json:"exported_at"`
	Quota      models.QuotaState     `json:"quota"`
	Records    []models.AnimalRecord `json:"records"`
}

// Export writes every live record as a single JSON document.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	doc := exportDocument{
		Version:    "1.0",
		ExportedAt: s.now().UTC(),
		Quota:      s.quota.State(),
		Records:    []models.AnimalRecord{},
	}
	for rec, err := range s.List(ctx, models.Filter{Ascending: true}, models.Page{}) {
		if err != nil {
			return 0, err
		}
		doc.Records = append(doc.Records, rec)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	return len(doc.Records), nil
}
