package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSQLOptions_Defaults(t *testing.T) {
	opts := SQLOptions{}
	assert.Equal(t, "", opts.TableName)
	assert.False(t, opts.UseMigrate)
}
