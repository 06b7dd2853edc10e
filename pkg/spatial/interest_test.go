package spatial

import (
	"testing"

	"github.com/duskworks/coopcore/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestInterestGrid_MoveAndQuery(t *testing.T) {
	grid := NewInterestGrid(testBounds())

	assert.NoError(t, grid.Move(1, types.Vec3{X: 0, Y: 0}))
	assert.NoError(t, grid.Move(2, types.Vec3{X: 30, Y: 0}))
	assert.NoError(t, grid.Move(3, types.Vec3{X: 500, Y: 500}))

	got := grid.PeersWithin(types.Vec3{X: 0, Y: 0}, 100)
	assert.ElementsMatch(t, []types.PeerID{1, 2}, got)

	// Moving relocates the peer in the index.
	assert.NoError(t, grid.Move(2, types.Vec3{X: 600, Y: 600}))
	got = grid.PeersWithin(types.Vec3{X: 0, Y: 0}, 100)
	assert.ElementsMatch(t, []types.PeerID{1}, got)

	pos, ok := grid.Position(2)
	assert.True(t, ok)
	assert.Equal(t, types.Vec3{X: 600, Y: 600}, pos)

	assert.ElementsMatch(t, []types.PeerID{1, 2, 3}, grid.AllPeers())
}

func TestInterestGrid_MoveOutOfBounds(t *testing.T) {
	grid := NewInterestGrid(testBounds())
	err := grid.Move(1, types.Vec3{X: types.WorldBound + 1})
	assert.Error(t, err)
	assert.True(t, types.IsValidationFailed(err))
	_, ok := grid.Position(1)
	assert.False(t, ok)
}

func TestInterestGrid_Remove(t *testing.T) {
	grid := NewInterestGrid(testBounds())
	assert.NoError(t, grid.Move(1, types.Vec3{X: 1, Y: 1}))

	grid.Remove(1)
	_, ok := grid.Position(1)
	assert.False(t, ok)
	assert.Empty(t, grid.AllPeers())

	// Removing an unknown peer is a no-op.
	grid.Remove(99)
}
