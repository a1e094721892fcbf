package mongostore

import (
	"context"
	"sync"

	"github.com/percona/percona-dbclone-mongodb/store"
)

// lockManager serializes clone work per database within this process. The
// engine's yield protocol runs against these locks: release hands the
// database to other waiters, reacquire blocks until it is exclusive again.
type lockManager struct {
	mu  sync.Mutex
	dbs map[string]chan struct{}
}

func newLockManager() *lockManager {
	return &lockManager{dbs: make(map[string]chan struct{})}
}

func (m *lockManager) sem(db string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	sem, ok := m.dbs[db]
	if !ok {
		sem = make(chan struct{}, 1)
		m.dbs[db] = sem
	}

	return sem
}

func (m *lockManager) AcquireDatabase(ctx context.Context, db string) (store.DBLock, error) {
	lk := &dbLock{db: db, sem: m.sem(db)}

	err := lk.Reacquire(ctx)
	if err != nil {
		return nil, err
	}

	return lk, nil
}

type dbLock struct {
	db   string
	sem  chan struct{}
	held bool
}

func (lk *dbLock) Release() {
	if !lk.held {
		return
	}

	lk.held = false
	<-lk.sem
}

func (lk *dbLock) Reacquire(ctx context.Context) error {
	select {
	case lk.sem <- struct{}{}:
		lk.held = true

		return nil
	case <-ctx.Done():
		return store.Interrupted("acquire database lock "+lk.db, ctx.Err())
	}
}

func (lk *dbLock) Held() bool { return lk.held }
