package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/localstore"
	"github.com/scout-sync/internal/models"
	"github.com/scout-sync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(context.Background(), path)
	require.NoError(t, err)
	return s
}

func validInput() ObservationInput {
	return ObservationInput{ObservationPayload: models.ObservationPayload{
		FirstName:       "Jan",
		LastName:        "Kowalski",
		BirthYear:       2010,
		Source:          types.SourceScouting,
		ObservationDate: "2025-03-01",
	}}
}

func newTestQueue(t *testing.T, store Store, maxDepth int) *Queue {
	t.Helper()
	q, err := New(context.Background(), Config{
		Store:    store,
		MaxDepth: maxDepth,
		Now:      func() time.Time { return time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func TestQueue_AddPersistsPendingEntry(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()
	q := newTestQueue(t, store, 0)

	var mu sync.Mutex
	var counts []int
	q.Subscribe(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})

	obs, err := q.Add(ctx, validInput())
	require.NoError(t, err)

	_, err = uuid.Parse(obs.LocalID)
	assert.NoError(t, err, "generated id should be a uuid")
	assert.Equal(t, types.SyncStatusPending, obs.SyncStatus)
	assert.Zero(t, obs.SyncAttempts)
	assert.Equal(t, time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC), obs.CreatedAt)

	stored, err := q.Get(ctx, obs.LocalID)
	require.NoError(t, err)
	assert.Equal(t, obs.Data, stored.Data)

	assert.Equal(t, 1, q.PendingCount())
	mu.Lock()
	assert.Equal(t, []int{0, 1}, counts)
	mu.Unlock()
}

func TestQueue_AddRejectsInvalidBeforeStoring(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()
	q := newTestQueue(t, store, 0)

	in := validInput()
	in.BirthYear = 0

	_, err := q.Add(ctx, in)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	total, err := store.CountOffline(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, q.PendingCount())
}

func TestQueue_DuplicateLocalIDConflicts(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()
	q := newTestQueue(t, store, 0)

	in := validInput()
	in.LocalID = "client-1"
	_, err := q.Add(ctx, in)
	require.NoError(t, err)

	_, err = q.Add(ctx, in)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryConflict))
	assert.Equal(t, 1, q.PendingCount())
}

func TestQueue_MaxDepth(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()
	q := newTestQueue(t, store, 2)

	_, err := q.Add(ctx, validInput())
	require.NoError(t, err)
	second, err := q.Add(ctx, validInput())
	require.NoError(t, err)

	_, err = q.Add(ctx, validInput())
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryQueueFull))

	// Synced entries no longer count against the cap
	synced := types.SyncStatusSynced
	remoteID := "O1"
	_, err = store.UpdateOffline(ctx, second.LocalID, &models.OfflineObservationPatch{SyncStatus: &synced, RemoteID: &remoteID})
	require.NoError(t, err)

	_, err = q.Add(ctx, validInput())
	assert.NoError(t, err)
}

func TestQueue_DurableAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "q.db")

	store := openStore(t, path)
	q := newTestQueue(t, store, 0)
	obs, err := q.Add(ctx, validInput())
	require.NoError(t, err)
	q.Close()
	require.NoError(t, store.Close())

	reopened := openStore(t, path)
	defer reopened.Close()
	q2 := newTestQueue(t, reopened, 0)

	assert.Equal(t, 1, q2.PendingCount())
	pending, err := q2.List(ctx, types.SyncStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, obs.LocalID, pending[0].LocalID)
}

func TestQueue_Stats(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()
	q := newTestQueue(t, store, 0)

	var ids []string
	for i := 0; i < 4; i++ {
		obs, err := q.Add(ctx, validInput())
		require.NoError(t, err)
		ids = append(ids, obs.LocalID)
	}

	failed := types.SyncStatusFailed
	three, one := 3, 1
	_, err := store.UpdateOffline(ctx, ids[0], &models.OfflineObservationPatch{SyncStatus: &failed, SyncAttempts: &three})
	require.NoError(t, err)
	_, err = store.UpdateOffline(ctx, ids[1], &models.OfflineObservationPatch{SyncStatus: &failed, SyncAttempts: &one})
	require.NoError(t, err)
	synced := types.SyncStatusSynced
	_, err = store.UpdateOffline(ctx, ids[2], &models.OfflineObservationPatch{SyncStatus: &synced})
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{Pending: 1, Synced: 1, Failed: 2, Exhausted: 1, Total: 4}, stats)

	// Exhausted entries still count as pending
	assert.Equal(t, 3, q.PendingCount())

	_, err = q.List(ctx, "bogus")
	assert.True(t, apperrors.IsValidation(err))
}

// silentStore hides change notifications so only the poll can see writes
type silentStore struct {
	*localstore.Store
}

func (silentStore) OnChange(func(localstore.ChangeEvent)) func() { return func() {} }

func TestQueue_ReconcilePoll(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()

	q, err := New(ctx, Config{Store: silentStore{store}, ReconcileInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	defer q.Close()

	obs, err := models.NewOfflineObservation("external", validInput().ObservationPayload, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.PutOffline(ctx, obs))
	assert.Zero(t, q.PendingCount())

	require.NoError(t, q.Start(ctx))
	require.Eventually(t, func() bool { return q.PendingCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Stop(ctx))
}
