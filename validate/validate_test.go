package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/percona/percona-dbclone-mongodb/validate"
)

func TestDatabaseName(t *testing.T) {
	t.Parallel()

	type req struct {
		Database string `validate:"db_name"`
	}

	valid := []string{"appdb", "admin", "x0250", "a-b_c", "0x2F"}
	for _, name := range valid {
		assert.NoError(t, validate.Struct(&req{Database: name}), name)
	}

	invalid := []string{"a/b", `a\b`, "a.b", "a b", `a"b`, "a$b"}
	for _, name := range invalid {
		assert.Error(t, validate.Struct(&req{Database: name}), name)
	}
}
