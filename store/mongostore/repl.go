package mongostore

import (
	"context"

	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/store"
)

// WritesAreReplicated reports whether the node runs as a replica set member.
func (s *Store) WritesAreReplicated() bool {
	return s.setName != ""
}

// CanAcceptWritesFor checks, at this instant, that the node is a writable
// primary. The namespace does not narrow the answer for a mongod.
func (s *Store) CanAcceptWritesFor(ctx context.Context, _ store.Namespace) bool {
	return s.isWritablePrimary(ctx)
}

func (s *Store) CanAcceptWritesForDatabase(ctx context.Context, _ string) bool {
	return s.isWritablePrimary(ctx)
}

func (s *Store) isWritablePrimary(ctx context.Context) bool {
	hello, err := runHello(ctx, s.client)
	if err != nil {
		log.Ctx(ctx).Errorf(err, "Check writable primary")

		return false
	}

	return hello.IsWritablePrimary
}

// IsSelf reports whether host is one of this node's advertised addresses.
func (s *Store) IsSelf(_ context.Context, host string) bool {
	_, ok := s.self[host]

	return ok
}
