package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

func TestTerritoryClaimAndBuild(t *testing.T) {
	tr := NewTerritory(16)
	home := vec.Vec3{X: 3, Y: 3, Z: 10}

	assert.True(t, tr.CanBuild("bob", home), "unowned land is free")
	require.NoError(t, tr.Claim("alice", home))
	require.NoError(t, tr.Claim("alice", home))

	err := tr.Claim("bob", vec.Vec3{X: 15, Y: 0})
	assert.ErrorIs(t, err, world.ErrEditRejected)
	assert.Equal(t, world.ReasonProtected, world.ReasonOf(err))

	assert.True(t, tr.CanBuild("alice", vec.Vec3{X: 0, Y: 15, Z: -40}), "cells span every height")
	assert.False(t, tr.CanBuild("bob", home))
	assert.True(t, tr.CanBuild("bob", vec.Vec3{X: 16, Y: 3}))
	assert.True(t, tr.CanBuild("bob", vec.Vec3{X: -1, Y: 3}), "negative coordinates floor into the next cell")

	assert.False(t, tr.Release("bob", home))
	assert.True(t, tr.Release("alice", home))
	assert.Equal(t, 0, tr.Claims())
}
