package service_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
)

func TestDedup_StrictFIFO(t *testing.T) {
	d := service.NewDedup(3)
	for _, k := range []string{"a", "b", "c"} {
		assert.False(t, d.Seen(k))
	}
	assert.True(t, d.Seen("a"), "re-seeing does not refresh position")

	assert.False(t, d.Seen("d")) // evicts a
	assert.Equal(t, 3, d.Len())
	assert.False(t, d.Seen("a")) // evicts b
	assert.True(t, d.Seen("c"))
	assert.False(t, d.Seen("b"))
}

func TestDedup_DefaultCapacity(t *testing.T) {
	d := service.NewDedup(0)
	for i := 0; i < service.DefaultDedupCapacity+10; i++ {
		d.Seen("1001-" + strconv.Itoa(i))
	}
	assert.Equal(t, service.DefaultDedupCapacity, d.Len())
}
