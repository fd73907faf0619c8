package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaletteStartsEmpty(t *testing.T) {
	p := newPaletteStorage(4096)
	assert.Equal(t, uint(0), p.bits)
	assert.Equal(t, 1, p.distinct())
	assert.Equal(t, uint32(0), p.get(4095))
}

func TestPaletteGrowsAndKeepsValues(t *testing.T) {
	p := newPaletteStorage(4096)
	for i := 0; i < 4096; i++ {
		p.set(i, uint32(i%40)<<8)
	}
	for i := 0; i < 4096; i++ {
		require.Equal(t, uint32(i%40)<<8, p.get(i), "cell %d", i)
	}
	assert.Equal(t, 40, p.distinct())
	assert.GreaterOrEqual(t, p.bits, uint(6))
}

func TestPaletteReusesFreedSlots(t *testing.T) {
	p := newPaletteStorage(64)
	p.set(0, 1<<8)
	p.set(1, 2<<8)
	entries := len(p.entries)

	// Dropping the last reference frees the slot for the next key.
	old := p.set(0, 0)
	assert.Equal(t, uint32(1<<8), old)
	assert.Equal(t, 2, p.distinct())

	p.set(2, 3<<8)
	assert.Equal(t, entries, len(p.entries))
	assert.Equal(t, uint32(3<<8), p.get(2))
	assert.Equal(t, uint32(2<<8), p.get(1))
	assert.Equal(t, uint32(0), p.get(0))
}

func TestPaletteSetSameKeyIsNoop(t *testing.T) {
	p := newPaletteStorage(8)
	p.set(3, 5<<8|1)
	refs := append([]int(nil), p.refs...)
	assert.Equal(t, uint32(5<<8|1), p.set(3, 5<<8|1))
	assert.Equal(t, refs, p.refs)
}
