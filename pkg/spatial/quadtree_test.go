package spatial

import (
	"math"
	"testing"

	"github.com/duskworks/coopcore/pkg/types"
	"github.com/stretchr/testify/assert"
)

func testBounds() AABB {
	return AABB{MinX: -1000, MinY: -1000, MaxX: 1000, MaxY: 1000}
}

func TestQuadtree_InsertAndQuery(t *testing.T) {
	tree := NewQuadtree(testBounds())

	assert.NoError(t, tree.Insert(1, types.Vec3{X: 0, Y: 0}))
	assert.NoError(t, tree.Insert(2, types.Vec3{X: 10, Y: 0}))
	assert.NoError(t, tree.Insert(3, types.Vec3{X: 500, Y: 500}))
	assert.Equal(t, 3, tree.Len())

	got := tree.QueryCircle(types.Vec3{X: 0, Y: 0}, 50)
	assert.ElementsMatch(t, []uint64{1, 2}, got)

	got = tree.QueryCircle(types.Vec3{X: 500, Y: 500}, 1)
	assert.ElementsMatch(t, []uint64{3}, got)

	got = tree.QueryCircle(types.Vec3{X: -900, Y: -900}, 10)
	assert.Empty(t, got)
}

func TestQuadtree_InsertNonFinite(t *testing.T) {
	tree := NewQuadtree(testBounds())
	err := tree.Insert(1, types.Vec3{X: float32(math.NaN())})
	assert.Error(t, err)
	assert.Equal(t, 0, tree.Len())
}

func TestQuadtree_Subdivision(t *testing.T) {
	tree := NewQuadtree(testBounds())

	// Cluster more entries than a leaf holds to force subdivision.
	for i := 0; i < NodeCapacity*4; i++ {
		pos := types.Vec3{X: float32(i % 20), Y: float32(i / 20)}
		assert.NoError(t, tree.Insert(uint64(i), pos))
	}
	assert.Equal(t, NodeCapacity*4, tree.Len())

	got := tree.QueryCircle(types.Vec3{X: 10, Y: 3}, 2000)
	assert.Len(t, got, NodeCapacity*4)

	got = tree.QueryCircle(types.Vec3{X: 0, Y: 0}, 0.5)
	assert.ElementsMatch(t, []uint64{0}, got)
}

func TestQuadtree_RemoveAndMove(t *testing.T) {
	tree := NewQuadtree(testBounds())

	pos := types.Vec3{X: 100, Y: 100}
	assert.NoError(t, tree.Insert(7, pos))

	assert.False(t, tree.Remove(8, pos), "unknown id")
	assert.True(t, tree.Remove(7, pos))
	assert.Equal(t, 0, tree.Len())

	assert.NoError(t, tree.Insert(7, pos))
	newPos := types.Vec3{X: -100, Y: -100}
	assert.NoError(t, tree.Move(7, pos, newPos))
	assert.Equal(t, 1, tree.Len())
	assert.Empty(t, tree.QueryCircle(pos, 10))
	assert.ElementsMatch(t, []uint64{7}, tree.QueryCircle(newPos, 10))
}

func TestAABB_IntersectsCircle(t *testing.T) {
	box := AABB{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	assert.True(t, box.IntersectsCircle(types.Vec3{X: 5, Y: 5}, 1))
	assert.True(t, box.IntersectsCircle(types.Vec3{X: 12, Y: 5}, 3))
	assert.False(t, box.IntersectsCircle(types.Vec3{X: 20, Y: 20}, 5))
}
