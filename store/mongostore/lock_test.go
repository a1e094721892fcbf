package mongostore //nolint:testpackage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-dbclone-mongodb/store"
)

func TestLockManager_Exclusive(t *testing.T) {
	t.Parallel()

	mgr := newLockManager()
	ctx := context.Background()

	lk, err := mgr.AcquireDatabase(ctx, "db")
	require.NoError(t, err)
	assert.True(t, lk.Held())

	// a second acquire blocks until the first is released
	acquired := make(chan store.DBLock)

	go func() {
		lk2, err := mgr.AcquireDatabase(ctx, "db")
		if err == nil {
			acquired <- lk2
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	lk.Release()
	assert.False(t, lk.Held())

	select {
	case lk2 := <-acquired:
		lk2.Release()
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestLockManager_DifferentDatabasesIndependent(t *testing.T) {
	t.Parallel()

	mgr := newLockManager()
	ctx := context.Background()

	lk1, err := mgr.AcquireDatabase(ctx, "db1")
	require.NoError(t, err)

	lk2, err := mgr.AcquireDatabase(ctx, "db2")
	require.NoError(t, err)

	assert.True(t, lk1.Held())
	assert.True(t, lk2.Held())

	lk1.Release()
	lk2.Release()
}

func TestLockManager_AcquireCanceled(t *testing.T) {
	t.Parallel()

	mgr := newLockManager()

	lk, err := mgr.AcquireDatabase(context.Background(), "db")
	require.NoError(t, err)

	defer lk.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = mgr.AcquireDatabase(ctx, "db")
	require.Error(t, err)
	assert.Equal(t, store.CodeInterrupted, store.CodeOf(err))
}

func TestDBLock_ReleaseReacquire(t *testing.T) {
	t.Parallel()

	mgr := newLockManager()
	ctx := context.Background()

	lk, err := mgr.AcquireDatabase(ctx, "db")
	require.NoError(t, err)

	lk.Release()
	assert.False(t, lk.Held())

	// double release is a no-op
	lk.Release()

	require.NoError(t, lk.Reacquire(ctx))
	assert.True(t, lk.Held())

	lk.Release()
}
