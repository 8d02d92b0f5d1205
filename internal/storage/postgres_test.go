package storage

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scout-sync/internal/config"
	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/models"
	"github.com/scout-sync/internal/types"
)

func TestNewPostgresDB_LazyConnect(t *testing.T) {
	// Nothing listens on this port; creating the pool must still succeed
	db, err := NewPostgresDB(&config.PostgresConfig{
		Host:           "127.0.0.1",
		Port:           "1",
		Database:       "scouting",
		User:           "scout",
		MaxConnections: 2,
	})
	require.NoError(t, err)
	defer db.Close()

	assert.NotNil(t, db.Pool())
	assert.Error(t, db.Ping(testContext(t)))
}

func TestRemote_CreateAndList(t *testing.T) {
	db := newTestPostgres(t)
	ctx := testContext(t)
	remote := NewRemote(db)

	playerID, err := remote.CreatePlayer(ctx, models.NewPlayer{
		FirstName:    "Jan",
		LastName:     "Kowalski",
		BirthYear:    2010,
		ClubName:     "KS Test",
		DominantFoot: types.FootRight,
	})
	require.NoError(t, err)
	require.NotEmpty(t, playerID)

	potential := 7
	localID := uuid.NewString()
	obsID, err := remote.CreateObservation(ctx, models.NewObservation{
		PlayerID:        playerID,
		Source:          types.SourceScouting,
		Notes:           "quick first step",
		PotentialNow:    &potential,
		ObservationDate: "2024-05-01",
		OfflineCreated:  true,
		LocalID:         localID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, obsID)

	players, err := remote.ListPlayers(ctx)
	require.NoError(t, err)
	var found map[string]interface{}
	for _, p := range players {
		if p.ID == playerID {
			require.NoError(t, json.Unmarshal(p.Data, &found))
		}
	}
	require.NotNil(t, found, "created player missing from list")
	assert.Equal(t, "Kowalski", found["last_name"])

	observations, err := remote.ListObservations(ctx)
	require.NoError(t, err)
	var obs map[string]interface{}
	for _, o := range observations {
		if o.ID == obsID {
			require.NoError(t, json.Unmarshal(o.Data, &obs))
		}
	}
	require.NotNil(t, obs, "created observation missing from list")
	assert.Equal(t, true, obs["created_offline"])
	assert.Equal(t, localID, obs["local_id"])
}

func TestObservationRepository_ReplayedLocalIDResolvesToSameRow(t *testing.T) {
	db := newTestPostgres(t)
	ctx := testContext(t)
	remote := NewRemote(db)

	playerID, err := remote.CreatePlayer(ctx, models.NewPlayer{FirstName: "Adam", LastName: "Nowak", BirthYear: 2009})
	require.NoError(t, err)

	obs := models.NewObservation{
		PlayerID:        playerID,
		Source:          types.SourceTournament,
		ObservationDate: "2024-06-10",
		OfflineCreated:  true,
		LocalID:         uuid.NewString(),
	}
	first, err := remote.CreateObservation(ctx, obs)
	require.NoError(t, err)
	second, err := remote.CreateObservation(ctx, obs)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestObservationRepository_InvalidDate(t *testing.T) {
	repo := NewObservationRepository(nil)

	_, err := repo.CreateObservation(testContext(t), models.NewObservation{ObservationDate: "01.05.2024"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestObservationRepository_UnknownPlayerIsRejected(t *testing.T) {
	db := newTestPostgres(t)
	remote := NewRemote(db)

	_, err := remote.CreateObservation(testContext(t), models.NewObservation{
		PlayerID:        uuid.NewString(),
		Source:          types.SourceScouting,
		ObservationDate: "2024-05-01",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryRemoteRejected))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestRemoteWriteError(t *testing.T) {
	t.Run("constraint violation is a rejection", func(t *testing.T) {
		err := remoteWriteError("create player", &pgconn.PgError{Code: "23514", Message: "check violation"})
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryRemoteRejected))
		assert.False(t, apperrors.IsRetryable(err))
	})

	t.Run("admin shutdown stays a remote failure", func(t *testing.T) {
		err := remoteWriteError("create player", &pgconn.PgError{Code: "57P01"})
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryRemote))
		assert.True(t, apperrors.IsRetryable(err))
	})

	t.Run("transport error stays a remote failure", func(t *testing.T) {
		err := remoteWriteError("create observation", errors.New("dial tcp: connection refused"))
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryRemote))
		assert.True(t, apperrors.IsRetryable(err))
	})
}
