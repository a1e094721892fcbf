package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/store"
)

type recordingLock struct {
	held         bool
	releases     int
	reacquires   int
	reacquireErr error
}

func (lk *recordingLock) Release() {
	lk.held = false
	lk.releases++
}

func (lk *recordingLock) Reacquire(context.Context) error {
	if lk.reacquireErr != nil {
		return lk.reacquireErr
	}

	lk.held = true
	lk.reacquires++

	return nil
}

func (lk *recordingLock) Held() bool { return lk.held }

func TestTempRelease_ReleasesAroundFn(t *testing.T) {
	t.Parallel()

	lk := &recordingLock{held: true}
	heldDuringFn := true

	err := store.TempRelease(context.Background(), lk, func(context.Context) error {
		heldDuringFn = lk.Held()

		return nil
	})

	require.NoError(t, err)
	assert.False(t, heldDuringFn)
	assert.True(t, lk.Held())
	assert.Equal(t, 1, lk.releases)
	assert.Equal(t, 1, lk.reacquires)
}

func TestTempRelease_ReacquiresOnFnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("remote call failed")
	lk := &recordingLock{held: true}

	err := store.TempRelease(context.Background(), lk, func(context.Context) error {
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.True(t, lk.Held())
}

func TestTempRelease_FnErrorWinsOverReacquireError(t *testing.T) {
	t.Parallel()

	boom := errors.New("remote call failed")
	lk := &recordingLock{held: true, reacquireErr: errors.New("lock gone")}

	err := store.TempRelease(context.Background(), lk, func(context.Context) error {
		return boom
	})

	require.ErrorIs(t, err, boom)
}

func TestTempRelease_ReacquireErrorSurfaces(t *testing.T) {
	t.Parallel()

	lk := &recordingLock{held: true, reacquireErr: errors.New("lock gone")}

	err := store.TempRelease(context.Background(), lk, func(context.Context) error {
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reacquire database lock")
}
