package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToChunk_NegativeCoordinatesUseFloor(t *testing.T) {
	c, l := ToChunk(Vec3{X: -1, Y: 0, Z: -17}, 16)
	assert.Equal(t, ChunkCoord{X: -1, Y: 0, Z: -2}, c)
	assert.Equal(t, Vec3{X: 15, Y: 0, Z: 15}, l)

	c, l = ToChunk(Vec3{X: 16, Y: 31, Z: 0}, 16)
	assert.Equal(t, ChunkCoord{X: 1, Y: 1, Z: 0}, c)
	assert.Equal(t, Vec3{X: 0, Y: 15, Z: 0}, l)
}

func TestLocalIndexRoundTrip(t *testing.T) {
	const n = 16
	for i := 0; i < n*n*n; i += 37 {
		local := IndexToLocal(i, n)
		require.True(t, InChunk(local, n))
		assert.Equal(t, i, LocalIndex(local, n))
	}
	assert.Equal(t, 1+2*n+3*n*n, LocalIndex(Vec3{X: 1, Y: 2, Z: 3}, n))
}

func TestChunkCoordStringParse(t *testing.T) {
	c := ChunkCoord{X: -3, Y: 7, Z: 0}
	parsed, err := ParseChunkCoord(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	_, err = ParseChunkCoord("garbage")
	assert.Error(t, err)
}

func TestNeighborsAndOpposite(t *testing.T) {
	c := ChunkCoord{}
	n := c.Neighbors()
	assert.Equal(t, ChunkCoord{X: 1}, n[FacePosX])
	assert.Equal(t, ChunkCoord{Z: -1}, n[FaceNegZ])
	for f := Face(0); f < FaceCount; f++ {
		assert.Equal(t, c, n[f].Neighbor(f.Opposite()))
	}
}

func TestFloorDivMod(t *testing.T) {
	assert.Equal(t, -1, FloorDiv(-1, 16))
	assert.Equal(t, 0, FloorDiv(15, 16))
	assert.Equal(t, -2, FloorDiv(-17, 16))
	assert.Equal(t, 15, FloorMod(-1, 16))
	assert.Equal(t, 0, FloorMod(-16, 16))
}
