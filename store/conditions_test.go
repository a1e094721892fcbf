package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/store"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want store.Code
	}{
		{name: "nil", err: nil, want: 0},
		{name: "plain error", err: errors.New("boom"), want: 0},
		{
			name: "condition",
			err:  store.NewCondition(store.CodeNamespaceExists, "exists"),
			want: store.CodeNamespaceExists,
		},
		{
			name: "wrapped condition",
			err:  errors.Wrap(store.NewCondition(store.CodeWriteConflict, "conflict"), "insert"),
			want: store.CodeWriteConflict,
		},
		{
			name: "interrupted",
			err:  store.Interrupted("op", errors.New("context canceled")),
			want: store.CodeInterrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, store.CodeOf(tt.err))
		})
	}
}

func TestConditionError(t *testing.T) {
	t.Parallel()

	err := store.Conditionf(store.CodeDatabaseDropped, "database %q was dropped", "db")
	assert.Contains(t, err.Error(), "DatabaseDroppedDuringClone")
	assert.Contains(t, err.Error(), `database "db" was dropped`)

	bare := store.NewCondition(store.CodeDuplicateKey, "")
	assert.Equal(t, "DuplicateKey", bare.Error())
}

func TestConditionUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")
	err := store.Interrupted("copy", cause)

	assert.ErrorIs(t, err, cause)
}

func TestIsNotPrimary(t *testing.T) {
	t.Parallel()

	assert.True(t, store.IsNotPrimary(
		store.NewCondition(store.CodeNotWritablePrimary, "")))
	assert.True(t, store.IsNotPrimary(
		store.NewCondition(store.CodePrimarySteppedDown, "")))
	assert.False(t, store.IsNotPrimary(
		store.NewCondition(store.CodeNamespaceExists, "")))
	assert.False(t, store.IsNotPrimary(nil))
}
