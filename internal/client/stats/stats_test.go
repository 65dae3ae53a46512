package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashudhan/fieldsync/internal/client/client"
	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/client/netstate"
	"github.com/pashudhan/fieldsync/internal/client/store"
	"github.com/pashudhan/fieldsync/internal/client/syncstate"
	"github.com/pashudhan/fieldsync/internal/logging"
)

var epoch = time.Date(2024, 3, 18, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.Store
	tracker *syncstate.Tracker
	net     *netstate.Notifier
	agg     *Aggregator
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := client.OpenDatabase(ctx, filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := func() time.Time { return epoch }
	s, err := store.Open(ctx, db, store.Config{QuotaLimitBytes: 1 << 20, Now: now}, logging.Nop())
	require.NoError(t, err)
	tr := syncstate.New(db, time.Hour, now, logging.Nop())
	n := netstate.NewNotifier(logging.Nop())
	return &fixture{store: s, tracker: tr, net: n, agg: NewAggregator(s, tr, n)}
}

func (f *fixture) put(t *testing.T, breed, user string, confidence float64, at time.Time) string {
	t.Helper()
	h, err := f.store.Put(context.Background(), models.Content{
		BreedName: breed, Confidence: confidence, Timestamp: at, UserID: user,
	}, nil)
	require.NoError(t, err)
	return h.ID
}

func (f *fixture) sync(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, entries, err := f.tracker.MarkSyncing(ctx, id)
	require.NoError(t, err)
	for _, en := range entries {
		_, err := f.tracker.MarkApplied(ctx, id, en.Sequence, "srv-"+id, 1)
		require.NoError(t, err)
	}
	_, err = f.tracker.MarkSynced(ctx, id)
	require.NoError(t, err)
}

func TestStatistics_UnsyncedFollowsSync(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.put(t, "Gir", "u1", 92, epoch)

	st, err := f.agg.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalAnimals)
	assert.Equal(t, 1, st.UnsyncedCount)
	assert.Positive(t, st.StorageUsage.UsedBytes)
	assert.Equal(t, int64(1<<20), st.StorageUsage.LimitBytes)

	f.sync(t, a)
	st, err = f.agg.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.UnsyncedCount)
	assert.Equal(t, 1, st.TotalAnimals)
}

func TestStatistics_CountsBreedsCaseInsensitively(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.put(t, "Gir", "u1", 90, epoch)
	f.put(t, "gir", "u1", 80, epoch)
	f.put(t, "Sahiwal", "u2", 70, epoch)
	gone := f.put(t, "Ongole", "u2", 60, epoch)
	require.NoError(t, f.store.Delete(ctx, gone))

	st, err := f.agg.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalAnimals)
	assert.Equal(t, 2, st.TotalBreeds)
	assert.Equal(t, 3, st.UnsyncedCount)
	assert.Zero(t, st.ConflictCount)
}

func TestStatistics_FailedAndConflicts(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	failed := f.put(t, "Gir", "u1", 90, epoch)
	parked := f.put(t, "Sahiwal", "u1", 90, epoch)

	_, _, err := f.tracker.MarkSyncing(ctx, failed)
	require.NoError(t, err)
	_, err = f.tracker.MarkFailed(ctx, failed, "rejected")
	require.NoError(t, err)
	_, _, err = f.tracker.MarkSyncing(ctx, parked)
	require.NoError(t, err)
	_, err = f.tracker.MarkConflict(ctx, parked, models.RemoteSnapshot{Version: 3})
	require.NoError(t, err)

	st, err := f.agg.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.FailedCount)
	assert.Equal(t, 1, st.ConflictCount)
	assert.Equal(t, 1, st.UnsyncedCount)

	ss, err := f.agg.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ss.FailedCount)
	assert.Equal(t, 1, ss.Conflicts)
	assert.Zero(t, ss.PendingCount)
	assert.Equal(t, 2, ss.Backlog)
}

func TestAnalytics(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.put(t, "Gir", "u1", 90, epoch)
	f.put(t, "Gir", "u1", 80, epoch.Add(time.Hour))
	f.put(t, "Sahiwal", "u1", 70, epoch.Add(2*time.Hour))
	f.put(t, "Sahiwal", "u1", 99, epoch.Add(-48*time.Hour))
	f.put(t, "Ongole", "u2", 50, epoch)

	got, err := f.agg.Analytics(ctx, "u1", epoch)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Total)
	assert.InDelta(t, 80.0, got.AverageConfidence, 1e-9)
	assert.Equal(t, []models.BreedCount{{Breed: "Gir", Count: 2}, {Breed: "Sahiwal", Count: 1}}, got.BreedDistribution)

	all, err := f.agg.Analytics(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 5, all.Total)
}

func TestSyncStatus(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.put(t, "Gir", "u1", 90, epoch)
	f.put(t, "Sahiwal", "u1", 90, epoch)

	ss, err := f.agg.SyncStatus(ctx)
	require.NoError(t, err)
	assert.False(t, ss.Online)
	assert.Nil(t, ss.LastSyncAt)
	assert.Equal(t, 2, ss.PendingCount)
	assert.Equal(t, 2, ss.Backlog)

	f.net.Set(true)
	f.sync(t, a)
	ss, err = f.agg.SyncStatus(ctx)
	require.NoError(t, err)
	assert.True(t, ss.Online)
	require.NotNil(t, ss.LastSyncAt)
	assert.True(t, ss.LastSyncAt.Equal(epoch))
	assert.Equal(t, 1, ss.PendingCount)
	assert.Equal(t, 1, ss.Backlog)
}
