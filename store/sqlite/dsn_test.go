package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{":memory:", ":memory:?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"},
		{"pbb.db", "pbb.db?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"},
		{"file:test?mode=memory&cache=shared", "file:test?mode=memory&cache=shared&_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, dsn(tt.path))
		})
	}
}
