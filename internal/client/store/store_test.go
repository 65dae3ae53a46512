package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashudhan/fieldsync/internal/client/client"
	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/client/repositories/changelog"
	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/logging"
)

var epoch = time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	path  string
	db    *sql.DB
	store *Store
	ids   atomic.Int64
}

func (f *fixture) cfg(limit int64) Config {
	return Config{
		QuotaLimitBytes: limit,
		Now:             func() time.Time { return epoch },
		NewID:           func() string { return fmt.Sprintf("id-%03d", f.ids.Add(1)) },
	}
}

func newFixture(t *testing.T, limit int64) *fixture {
	t.Helper()
	f := &fixture{path: filepath.Join(t.TempDir(), "store.db")}
	f.open(t, limit)
	return f
}

func (f *fixture) open(t *testing.T, limit int64) {
	t.Helper()
	db, err := client.OpenDatabase(context.Background(), f.path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := Open(context.Background(), db, f.cfg(limit), logging.Nop())
	require.NoError(t, err)
	f.db, f.store = db, s
}

// reopen simulates a process restart on the same database file.
func (f *fixture) reopen(t *testing.T, limit int64) {
	t.Helper()
	require.NoError(t, f.db.Close())
	f.open(t, limit)
}

func gir(confidence float64) models.Content {
	return models.Content{
		BreedName:  "Gir",
		Confidence: confidence,
		Timestamp:  epoch,
		UserID:     "u1",
	}
}

func pending(t *testing.T, db *sql.DB) []models.ChangeLogEntry {
	t.Helper()
	entries, err := changelog.NewSQLiteRepository(db).Pending(context.Background(), 0, 1000)
	require.NoError(t, err)
	return entries
}

func TestPut_StoresRecordAndCreateEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	h, err := f.store.Put(ctx, gir(92), []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "id-001", h.ID)
	assert.Equal(t, "id-002", h.ImageRef)
	assert.Equal(t, int64(1), h.Version)

	rec, err := f.store.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPending, rec.SyncState)
	assert.Equal(t, "Gir", rec.BreedName)
	assert.Empty(t, rec.RemoteID)

	img, err := f.store.Image(ctx, h.ImageRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), img)

	entries := pending(t, f.db)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OpCreate, entries[0].Operation)
	assert.Equal(t, h.ID, entries[0].RecordID)
	assert.Equal(t, int64(1), entries[0].PayloadVersion)

	select {
	case <-f.store.Changes():
	default:
		t.Fatal("expected change notification")
	}
}

func TestPut_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	cases := map[string]func(c *models.Content){
		"no breed":          func(c *models.Content) { c.BreedName = "" },
		"nan latitude":      func(c *models.Content) { c.Location = &models.Location{Latitude: math.NaN(), Longitude: 72.8} },
		"timestamp in 2300": func(c *models.Content) { c.Timestamp = time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := gir(90)
			mutate(&c)
			_, err := f.store.Put(ctx, c, nil)
			require.ErrorIs(t, err, common.ErrValidation)
			assert.NotErrorIs(t, err, common.ErrStorage)
		})
	}
	assert.Empty(t, pending(t, f.db))
}

func TestPut_QuotaExceededLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1024)

	_, err := f.store.Put(ctx, gir(90), bytes.Repeat([]byte{1}, 512))
	require.NoError(t, err)
	before := f.store.Quota().State()

	_, err = f.store.Put(ctx, gir(91), bytes.Repeat([]byte{2}, 600))
	require.ErrorIs(t, err, common.ErrQuotaExceeded)

	assert.Equal(t, before, f.store.Quota().State())
	assert.Len(t, pending(t, f.db), 1)

	var blobsN, recordsN int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM image_blobs`).Scan(&blobsN))
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&recordsN))
	assert.Equal(t, 1, blobsN)
	assert.Equal(t, 1, recordsN)
}

func TestUpdate_VersionsAndConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	h, err := f.store.Put(ctx, gir(92), nil)
	require.NoError(t, err)

	conf := 95.0
	rec, err := f.store.Update(ctx, h.ID, models.Patch{BaseVersion: 1, Confidence: &conf})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, 95.0, rec.Confidence)

	_, err = f.store.Update(ctx, h.ID, models.Patch{BaseVersion: 1, Confidence: &conf})
	require.ErrorIs(t, err, common.ErrVersionConflict)

	_, err = f.store.Update(ctx, "missing", models.Patch{BaseVersion: 1})
	require.ErrorIs(t, err, common.ErrorNotFound)

	entries := pending(t, f.db)
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].Sequence, entries[1].Sequence)
	assert.Equal(t, models.OpUpdate, entries[1].Operation)
	assert.Equal(t, 95.0, entries[1].Payload.Confidence)
}

func TestUpdate_RequeuesSyncedButKeepsInFlightAndConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	cases := map[models.SyncState]models.SyncState{
		models.SyncSynced:   models.SyncPending,
		models.SyncFailed:   models.SyncPending,
		models.SyncSyncing:  models.SyncSyncing,
		models.SyncConflict: models.SyncConflict,
	}
	for from, want := range cases {
		h, err := f.store.Put(ctx, gir(80), nil)
		require.NoError(t, err)
		_, err = f.db.Exec(`UPDATE records SET sync_state = ?, attempts = 3 WHERE id = ?`, string(from), h.ID)
		require.NoError(t, err)

		breed := "Sahiwal"
		rec, err := f.store.Update(ctx, h.ID, models.Patch{BaseVersion: 1, BreedName: &breed})
		require.NoError(t, err)
		assert.Equal(t, want, rec.SyncState, "from %s", from)
	}
}

func TestUpdate_SameRecordRaceHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	h, err := f.store.Put(ctx, gir(80), nil)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := float64(81 + i)
			_, err := f.store.Update(ctx, h.ID, models.Patch{BaseVersion: 1, Confidence: &c})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, common.ErrVersionConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), conflicts.Load())
	assert.Len(t, pending(t, f.db), 2)
}

func TestPut_ConcurrentWritersGetContiguousSequences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.store.Put(ctx, gir(float64(50+i)), nil); err != nil {
				t.Errorf("put %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	entries := pending(t, f.db)
	require.Len(t, entries, 16)
	seen := make(map[string]bool)
	for i, e := range entries {
		assert.Equal(t, entries[0].Sequence+int64(i), e.Sequence)
		seen[e.RecordID] = true
	}
	assert.Len(t, seen, 16)
}

func TestDelete_TombstonesAndFreesSpace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	h, err := f.store.Put(ctx, gir(90), []byte("image-bytes"))
	require.NoError(t, err)
	require.NotZero(t, f.store.Quota().State().UsedBytes)

	require.NoError(t, f.store.Delete(ctx, h.ID))
	assert.Zero(t, f.store.Quota().State().UsedBytes)

	_, err = f.store.Get(ctx, h.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.store.Image(ctx, h.ImageRef)
	require.ErrorIs(t, err, common.ErrorNotFound)
	require.ErrorIs(t, f.store.Delete(ctx, h.ID), common.ErrorNotFound)

	entries := pending(t, f.db)
	require.Len(t, entries, 2)
	assert.Equal(t, models.OpDelete, entries[1].Operation)
	assert.Equal(t, int64(2), entries[1].PayloadVersion)
	assert.Equal(t, "Gir", entries[1].Payload.BreedName)
}

func TestList_FilterPaginationRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	for i := 0; i < 250; i++ {
		c := gir(50)
		c.Timestamp = epoch.Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			c.BreedName = "Murrah"
		}
		_, err := f.store.Put(ctx, c, nil)
		require.NoError(t, err)
	}

	collect := func(seq func(func(models.AnimalRecord, error) bool)) []models.AnimalRecord {
		var out []models.AnimalRecord
		for rec, err := range seq {
			require.NoError(t, err)
			out = append(out, rec)
		}
		return out
	}

	all := collect(f.store.List(ctx, models.Filter{}, models.Page{}))
	require.Len(t, all, 250)
	for i := 1; i < len(all); i++ {
		require.False(t, all[i].Timestamp.After(all[i-1].Timestamp))
	}

	murrah := f.store.List(ctx, models.Filter{BreedName: "murrah"}, models.Page{Offset: 10, Limit: 105})
	first := collect(murrah)
	require.Len(t, first, 105)
	assert.Equal(t, epoch.Add(228*time.Minute), first[0].Timestamp)
	again := collect(murrah)
	assert.Equal(t, first, again)

	n := 0
	for range f.store.List(ctx, models.Filter{}, models.Page{}) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestImage_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	h, err := f.store.Put(ctx, gir(90), []byte("original"))
	require.NoError(t, err)
	_, err = f.db.Exec(`UPDATE image_blobs SET bytes = ? WHERE ref = ?`, []byte("tampered"), h.ImageRef)
	require.NoError(t, err)

	_, err = f.store.Image(ctx, h.ImageRef)
	require.ErrorIs(t, err, common.ErrStorage)
}

func TestCrashMidWrite_RecoversLastCommittedState(t *testing.T) {
	ctx := context.Background()
	errCrash := errors.New("simulated crash")

	type snapshot struct {
		Records, Blobs, Changes int
		Version                 int64
	}
	state := func(f *fixture, id string) snapshot {
		var s snapshot
		require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&s.Records))
		require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM image_blobs`).Scan(&s.Blobs))
		require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM change_log`).Scan(&s.Changes))
		_ = f.db.QueryRow(`SELECT version FROM records WHERE id = ?`, id).Scan(&s.Version)
		return s
	}

	ops := map[string]func(s *Store, id string) error{
		"put": func(s *Store, _ string) error {
			_, err := s.Put(ctx, gir(70), []byte("img"))
			return err
		},
		"update": func(s *Store, id string) error {
			c := 99.0
			_, err := s.Update(ctx, id, models.Patch{BaseVersion: 1, Confidence: &c})
			return err
		},
		"delete": func(s *Store, id string) error {
			return s.Delete(ctx, id)
		},
	}

	for name, op := range ops {
		for _, stage := range []string{"blob", "record", "changelog"} {
			t.Run(name+"/"+stage, func(t *testing.T) {
				f := newFixture(t, 0)
				h, err := f.store.Put(ctx, gir(60), []byte("seed"))
				require.NoError(t, err)
				before := state(f, h.ID)
				quotaBefore := f.store.Quota().State()

				hit := false
				f.store.checkpoint = func(s string) error {
					if s == stage {
						hit = true
						return errCrash
					}
					return nil
				}
				err = op(f.store, h.ID)
				if !hit {
					t.Skipf("%s has no %s step", name, stage)
				}
				require.ErrorIs(t, err, common.ErrStorage)
				assert.Equal(t, quotaBefore, f.store.Quota().State())

				f.reopen(t, 0)
				assert.Equal(t, before, state(f, h.ID))
				assert.Equal(t, quotaBefore, f.store.Quota().State())
				img, err := f.store.Image(ctx, h.ImageRef)
				require.NoError(t, err)
				assert.Equal(t, []byte("seed"), img)
			})
		}
	}
}

func TestCommittedWritesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	a, err := f.store.Put(ctx, gir(92), []byte("a"))
	require.NoError(t, err)
	b, err := f.store.Put(ctx, gir(80), nil)
	require.NoError(t, err)
	conf := 95.0
	_, err = f.store.Update(ctx, a.ID, models.Patch{BaseVersion: 1, Confidence: &conf})
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, b.ID))
	usage := f.store.Quota().State()

	f.reopen(t, 0)

	rec, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, 95.0, rec.Confidence)
	_, err = f.store.Get(ctx, b.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Len(t, pending(t, f.db), 4)
	assert.Equal(t, usage, f.store.Quota().State())
}

func TestQuota_ReconcileMatchesRecompute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1<<20)

	var ids []string
	for i := 0; i < 6; i++ {
		h, err := f.store.Put(ctx, gir(float64(60+i)), bytes.Repeat([]byte{byte(i)}, 1000*(i+1)))
		require.NoError(t, err)
		ids = append(ids, h.ID)
	}
	require.NoError(t, f.store.Delete(ctx, ids[1]))
	require.NoError(t, f.store.Delete(ctx, ids[4]))
	feats := []string{"hump", "dewlap", "lyre-shaped horns"}
	_, err := f.store.Update(ctx, ids[0], models.Patch{BaseVersion: 1, Features: feats})
	require.NoError(t, err)

	cached := f.store.Quota().State()
	drift, err := f.store.ReconcileQuota(ctx)
	require.NoError(t, err)
	assert.Zero(t, drift)

	actual, err := f.store.usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, actual, cached.UsedBytes)
	assert.LessOrEqual(t, cached.UsedBytes, cached.LimitBytes)
}

func TestPurge_OnlySyncedAndOld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	old := gir(70)
	old.Timestamp = epoch.Add(-120 * 24 * time.Hour)
	oldSynced, err := f.store.Put(ctx, old, []byte("x"))
	require.NoError(t, err)
	oldPending, err := f.store.Put(ctx, old, nil)
	require.NoError(t, err)
	recent, err := f.store.Put(ctx, gir(70), nil)
	require.NoError(t, err)
	_, err = f.db.Exec(`UPDATE records SET sync_state = 'synced' WHERE id IN (?, ?)`, oldSynced.ID, recent.ID)
	require.NoError(t, err)

	n, err := f.store.Purge(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.store.Get(ctx, oldSynced.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.store.Get(ctx, oldPending.ID)
	require.NoError(t, err)
	_, err = f.store.Get(ctx, recent.ID)
	require.NoError(t, err)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	_, err := f.store.Put(ctx, gir(92), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := f.store.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var doc exportDocument
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "1.0", doc.Version)
	require.Len(t, doc.Records, 1)
	assert.Equal(t, "Gir", doc.Records[0].BreedName)
}

func TestImport_RestoresExportAndSkipsKnownIDs(t *testing.T) {
	ctx := context.Background()
	src := newFixture(t, 0)
	_, err := src.store.Put(ctx, gir(92), []byte("jpeg"))
	require.NoError(t, err)
	sahiwal := gir(81)
	sahiwal.BreedName = "Sahiwal"
	_, err = src.store.Put(ctx, sahiwal, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = src.store.Export(ctx, &buf)
	require.NoError(t, err)
	doc := buf.Bytes()

	dst := newFixture(t, 0)
	res, err := dst.store.Import(ctx, bytes.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Imported: 2}, res)

	entries := pending(t, dst.db)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, models.OpCreate, e.Operation)
		rec, err := dst.store.Get(ctx, e.RecordID)
		require.NoError(t, err)
		assert.Equal(t, models.SyncPending, rec.SyncState)
		assert.Empty(t, rec.ImageRef)
	}
	assert.Positive(t, dst.store.Quota().State().UsedBytes)

	res, err = dst.store.Import(ctx, bytes.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Skipped: 2}, res)
	assert.Len(t, pending(t, dst.db), 2)
}

func TestImport_InvalidDocumentWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.store.Import(ctx, bytes.NewReader([]byte("{not json")))
	require.ErrorIs(t, err, common.ErrValidation)

	doc := `{"version":"1.0","records":[
		{"id":"a","breed_name":"Gir","confidence":90,"timestamp":"2024-04-10T09:00:00Z","user_id":"u1"},
		{"id":"b","breed_name":"","confidence":90,"timestamp":"2024-04-10T09:00:00Z","user_id":"u1"}]}`
	_, err = f.store.Import(ctx, bytes.NewReader([]byte(doc)))
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Empty(t, pending(t, f.db))
}

func TestImport_QuotaStopsPartWay(t *testing.T) {
	ctx := context.Background()
	src := newFixture(t, 0)
	for i := 0; i < 3; i++ {
		_, err := src.store.Put(ctx, gir(float64(70+i)), nil)
		require.NoError(t, err)
	}
	var buf bytes.Buffer
	_, err := src.store.Export(ctx, &buf)
	require.NoError(t, err)

	one := recordSize(gir(70))
	dst := newFixture(t, one+one/2)
	res, err := dst.store.Import(ctx, &buf)
	require.ErrorIs(t, err, common.ErrQuotaExceeded)
	assert.Equal(t, 1, res.Imported)
	assert.Len(t, pending(t, dst.db), 1)
}

func TestClearAll_DeletesThroughChangeLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	for i := 0; i < 3; i++ {
		_, err := f.store.Put(ctx, gir(float64(60+i)), []byte("jpeg"))
		require.NoError(t, err)
	}

	n, err := f.store.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for rec, err := range f.store.List(ctx, models.Filter{}, models.Page{}) {
		require.NoError(t, err)
		t.Fatalf("record %s still listed", rec.ID)
	}
	deletes := 0
	for _, e := range pending(t, f.db) {
		if e.Operation == models.OpDelete {
			deletes++
		}
	}
	assert.Equal(t, 3, deletes)
	assert.Zero(t, f.store.Quota().State().UsedBytes)

	n, err = f.store.ClearAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen_RemovesOrphanBlobs(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.db.Exec(`INSERT INTO image_blobs (ref, record_id, bytes, size_bytes, checksum, created_at)
		VALUES ('stray', 'nobody', x'00', 1, x'00', 0)`)
	require.NoError(t, err)

	f.reopen(t, 0)

	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM image_blobs`).Scan(&n))
	assert.Zero(t, n)
}
