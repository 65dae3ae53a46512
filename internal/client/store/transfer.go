package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/common"
)

type ImportResult struct {
	Imported int
	// Skipped counts records whose id already exists locally, tombstones
	// included.
	Skipped int
}

// Import reads a document produced by Export and stores every record in it
// as a new pending create. Record ids are kept, so importing the same
// document twice skips what the first run stored. Images are not part of an
// export and are not restored.
//
// The whole document is validated before anything is written. A quota or
// storage failure part way leaves the records imported so far in place and
// is reported together with the counts.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	var doc exportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return ImportResult{}, fmt.Errorf("import: %w: malformed document: %v", common.ErrValidation, err)
	}
	for i, rec := range doc.Records {
		if err := rec.Content.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("import: record %d: %w", i, err)
		}
	}

	var res ImportResult
	for _, rec := range doc.Records {
		id := rec.ID
		if id == "" {
			id = s.newID()
		} else {
			_, err := s.recordsRepo().Get(ctx, id)
			if err == nil {
				res.Skipped++
				continue
			}
			if !errors.Is(err, common.ErrorNotFound) {
				return res, common.StorageError("import", err)
			}
		}

		if _, err := s.put(ctx, id, rec.Content, nil); err != nil {
			return res, err
		}
		res.Imported++
	}

	s.logger.Info(ctx, "records imported", "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}

// ClearAll deletes every live record through the regular delete path, so
// each deletion is logged and reaches the server like any other. It returns
// the number of records deleted.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	var ids []string
	for rec, err := range s.List(ctx, models.Filter{Ascending: true}, models.Page{}) {
		if err != nil {
			return 0, err
		}
		ids = append(ids, rec.ID)
	}

	n := 0
	for _, id := range ids {
		err := s.Delete(ctx, id)
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		if _, err := s.ReconcileQuota(ctx); err != nil {
			return n, err
		}
	}
	s.logger.Info(ctx, "all records cleared", "count", n)
	return n, nil
}
