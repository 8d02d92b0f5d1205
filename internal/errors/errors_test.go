package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/scout-sync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Categorize(nil))
	})

	t.Run("wrapped categorized error is found", func(t *testing.T) {
		base := NewNotFoundError("offline observation", "abc")
		wrapped := fmt.Errorf("lookup: %w", base)

		got := Categorize(wrapped)
		require.NotNil(t, got)
		assert.Equal(t, CategoryNotFound, got.Category)
		assert.True(t, IsNotFound(wrapped))
	})

	t.Run("service error maps to system", func(t *testing.T) {
		got := Categorize(&types.ServiceError{Code: "BOOM", Message: "boom"})
		assert.Equal(t, CategorySystem, got.Category)
		assert.Equal(t, "BOOM", got.Code)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		got := Categorize(fmt.Errorf("disk on fire"))
		assert.Equal(t, "INTERNAL_ERROR", got.Code)
		assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"remote", NewRemoteError("create player", fmt.Errorf("timeout")), true},
		{"offline", NewOfflineError("retry"), true},
		{"local store", NewLocalStoreError("update", fmt.Errorf("locked")), true},
		{"validation", NewValidationError("first_name", "required"), false},
		{"exhausted", NewRetryExhaustedError("abc", 3), false},
		{"rejected", NewRemoteRejectedError("create player", fmt.Errorf("check violation")), false},
		{"remote wrapping constraint violation", NewRemoteError("create player", sqlStateError("23514")), false},
		{"remote wrapping connection failure", NewRemoteError("create player", sqlStateError("08006")), true},
		{"remote wrapping serialization failure", NewRemoteError("create observation", sqlStateError("40001")), true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

type sqlStateError string

func (e sqlStateError) Error() string    { return "SQLSTATE " + string(e) }
func (e sqlStateError) SQLState() string { return string(e) }

func TestIsRemoteRejection(t *testing.T) {
	assert.True(t, IsRemoteRejection(NewRemoteRejectedError("create player", nil)))
	assert.True(t, IsRemoteRejection(fmt.Errorf("create player: %w", NewRemoteError("create player", sqlStateError("23503")))))
	assert.False(t, IsRemoteRejection(NewRemoteError("create player", sqlStateError("57P01"))))
	assert.False(t, IsRemoteRejection(NewRemoteError("create player", fmt.Errorf("connection refused"))))
	assert.False(t, IsRemoteRejection(nil))
}

func TestGetHTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, GetHTTPStatusCode(NewValidationError("source", "required")))
	assert.Equal(t, http.StatusTooManyRequests, GetHTTPStatusCode(NewQueueFullError(10)))
	assert.Equal(t, http.StatusServiceUnavailable, GetHTTPStatusCode(NewOfflineError("sync")))
	assert.Equal(t, http.StatusUnprocessableEntity, GetHTTPStatusCode(NewRemoteRejectedError("create player", nil)))
	assert.Equal(t, http.StatusConflict, GetHTTPStatusCode(NewInvalidTransitionError("x", types.SyncStatusSynced, types.SyncStatusSyncing)))
}

func TestCategorizedErrorMessage(t *testing.T) {
	err := NewLocalStoreError("put offline observation", fmt.Errorf("disk full"))
	assert.Contains(t, err.Error(), "LOCAL_STORE_ERROR")
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, IsLocalStore(err))
	assert.Equal(t, "LOCAL_STORE_ERROR", err.ToServiceError().Code)
}
