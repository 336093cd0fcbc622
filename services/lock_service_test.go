package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLockService() (*LockService, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()

	service := NewLockService(db)
	service.now = func() time.Time {
		return time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	}

	return service, mock
}

func TestLockService_Acquire_Granted(t *testing.T) {
	service, mock := setupTestLockService()
	defer mock.ClearExpect()

	nowMs := service.now().UnixMilli()
	mock.ExpectEval(acquireLockScript,
		[]string{"checkin:lock:evt1:ABC123"},
		"alice", "scan_s1", nowMs, int64(30000),
	).SetVal([]interface{}{"granted", "alice"})

	state, err := service.Acquire(context.Background(), "evt1", "ABC123", "alice", "scan_s1", 30*time.Second)

	require.NoError(t, err)
	assert.True(t, state.Granted)
	assert.False(t, state.TakenOver)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockService_Acquire_ReentrantSameSession(t *testing.T) {
	service, mock := setupTestLockService()
	defer mock.ClearExpect()

	nowMs := service.now().UnixMilli()
	mock.ExpectEval(acquireLockScript,
		[]string{"checkin:lock:evt1:ABC123"},
		"alice", "scan_s1", nowMs, int64(30000),
	).SetVal([]interface{}{"reacquired", "alice"})

	state, err := service.Acquire(context.Background(), "evt1", "ABC123", "alice", "scan_s1", 30*time.Second)

	require.NoError(t, err)
	assert.True(t, state.Granted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockService_Acquire_HeldByOtherScanner(t *testing.T) {
	service, mock := setupTestLockService()
	defer mock.ClearExpect()

	nowMs := service.now().UnixMilli()
	mock.ExpectEval(acquireLockScript,
		[]string{"checkin:lock:evt1:ABC123"},
		"bob", "scan_s2", nowMs, int64(30000),
	).SetVal([]interface{}{"held", "alice"})

	state, err := service.Acquire(context.Background(), "evt1", "ABC123", "bob", "scan_s2", 30*time.Second)

	require.NoError(t, err)
	assert.False(t, state.Granted)
	assert.Equal(t, "alice", state.Holder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockService_Acquire_StaleTakeover(t *testing.T) {
	service, mock := setupTestLockService()
	defer mock.ClearExpect()

	nowMs := service.now().UnixMilli()
	mock.ExpectEval(acquireLockScript,
		[]string{"checkin:lock:evt1:ABC123"},
		"bob", "scan_s2", nowMs, int64(30000),
	).SetVal([]interface{}{"takeover", "bob"})

	state, err := service.Acquire(context.Background(), "evt1", "ABC123", "bob", "scan_s2", 30*time.Second)

	require.NoError(t, err)
	assert.True(t, state.Granted)
	assert.True(t, state.TakenOver)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockService_Release_Idempotent(t *testing.T) {
	service, mock := setupTestLockService()
	defer mock.ClearExpect()

	// DEL on an already-released key returns 0; that is still a success.
	mock.ExpectDel("checkin:lock:evt1:ABC123").SetVal(0)

	err := service.Release(context.Background(), "evt1", "ABC123")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockService_Holder(t *testing.T) {
	service, mock := setupTestLockService()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("checkin:lock:evt1:ABC123").SetVal(map[string]string{
		"actor":       "alice",
		"session":     "scan_s1",
		"acquired_at": "1777654800000",
	})

	snap, err := service.Holder(context.Background(), "evt1", "ABC123")

	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "alice", snap.Actor)
	assert.Equal(t, "scan_s1", snap.Session)
	assert.Equal(t, int64(1777654800000), snap.AcquiredAt.UnixMilli())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockService_Holder_Unlocked(t *testing.T) {
	service, mock := setupTestLockService()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("checkin:lock:evt1:ABC123").SetVal(map[string]string{})

	snap, err := service.Holder(context.Background(), "evt1", "ABC123")

	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.NoError(t, mock.ExpectationsWereMet())
}
