package spatial

import (
	"fmt"

	"github.com/duskworks/coopcore/pkg/types"
)

const (
	// NodeCapacity is the number of entries a leaf holds before subdividing.
	NodeCapacity = 32
	// MaxDepth is the maximum subdivision depth of the tree.
	MaxDepth = 6
)

const noChild = int32(-1)

// AABB is an axis-aligned bounding box on the X/Y plane.
type AABB struct {
	MinX, MinY float32
	MaxX, MaxY float32
}

// Contains reports whether the point is inside the box (inclusive).
func (b AABB) Contains(p types.Vec3) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// IntersectsCircle clamps the circle center to the box and compares the
// squared distance against the squared radius.
func (b AABB) IntersectsCircle(center types.Vec3, radius float32) bool {
	cx := clamp(center.X, b.MinX, b.MaxX)
	cy := clamp(center.Y, b.MinY, b.MaxY)
	dx := center.X - cx
	dy := center.Y - cy
	return dx*dx+dy*dy <= radius*radius
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type entry struct {
	id  uint64
	pos types.Vec3
}

// node is a quadtree node stored in the arena. Children are arena indices;
// noChild marks an absent child.
type node struct {
	bounds   AABB
	depth    int
	entries  []entry
	children [4]int32
}

func (n *node) isLeaf() bool {
	return n.children[0] == noChild
}

// Quadtree is a recursively subdivided index over a bounded 2-D footprint.
// Z is carried on entries but not partitioned. Nodes live in an arena and
// reference each other by index, so the tree is trivially shareable for
// read queries. Duplicate inserts of the same id are not detected; callers
// maintain per-id uniqueness.
type Quadtree struct {
	nodes []node
}

// NewQuadtree creates a quadtree covering the given footprint.
func NewQuadtree(bounds AABB) *Quadtree {
	t := &Quadtree{}
	t.newNode(bounds, 0)
	return t
}

func (t *Quadtree) newNode(bounds AABB, depth int) int32 {
	t.nodes = append(t.nodes, node{
		bounds:   bounds,
		depth:    depth,
		children: [4]int32{noChild, noChild, noChild, noChild},
	})
	return int32(len(t.nodes) - 1)
}

// Insert adds an id at the given position.
func (t *Quadtree) Insert(id uint64, pos types.Vec3) error {
	if !pos.Finite() {
		return fmt.Errorf("position is not finite")
	}
	t.insert(0, id, pos)
	return nil
}

func (t *Quadtree) insert(ni int32, id uint64, pos types.Vec3) {
	for {
		n := &t.nodes[ni]
		if n.isLeaf() {
			if len(n.entries) < NodeCapacity || n.depth >= MaxDepth {
				n.entries = append(n.entries, entry{id: id, pos: pos})
				return
			}
			t.subdivide(ni)
			n = &t.nodes[ni]
		}
		child := t.childContaining(ni, pos)
		if child == noChild {
			// No child covers the point; it stays on this node.
			t.nodes[ni].entries = append(t.nodes[ni].entries, entry{id: id, pos: pos})
			return
		}
		ni = child
	}
}

func (t *Quadtree) subdivide(ni int32) {
	bounds := t.nodes[ni].bounds
	depth := t.nodes[ni].depth
	midX := (bounds.MinX + bounds.MaxX) / 2
	midY := (bounds.MinY + bounds.MaxY) / 2

	quads := [4]AABB{
		{bounds.MinX, bounds.MinY, midX, midY},
		{midX, bounds.MinY, bounds.MaxX, midY},
		{bounds.MinX, midY, midX, bounds.MaxY},
		{midX, midY, bounds.MaxX, bounds.MaxY},
	}
	var children [4]int32
	for i, q := range quads {
		children[i] = t.newNode(q, depth+1)
	}
	// newNode may reallocate the arena, so re-resolve the node.
	n := &t.nodes[ni]
	n.children = children

	entries := n.entries
	n.entries = nil
	for _, e := range entries {
		child := t.childContaining(ni, e.pos)
		if child == noChild {
			t.nodes[ni].entries = append(t.nodes[ni].entries, e)
			continue
		}
		t.insert(child, e.id, e.pos)
	}
}

func (t *Quadtree) childContaining(ni int32, pos types.Vec3) int32 {
	for _, ci := range t.nodes[ni].children {
		if ci == noChild {
			continue
		}
		if t.nodes[ci].bounds.Contains(pos) {
			return ci
		}
	}
	return noChild
}

// Remove deletes the first entry matching id on a pre-order walk of the
// subtrees whose bounds contain pos. Returns false when no match is found.
func (t *Quadtree) Remove(id uint64, pos types.Vec3) bool {
	if !pos.Finite() {
		return false
	}
	return t.remove(0, id, pos)
}

func (t *Quadtree) remove(ni int32, id uint64, pos types.Vec3) bool {
	n := &t.nodes[ni]
	for i, e := range n.entries {
		if e.id == id {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			return true
		}
	}
	for _, ci := range n.children {
		if ci == noChild {
			continue
		}
		if !t.nodes[ci].bounds.Contains(pos) {
			continue
		}
		if t.remove(ci, id, pos) {
			return true
		}
	}
	return false
}

// Move relocates an id from old to new position.
func (t *Quadtree) Move(id uint64, oldPos, newPos types.Vec3) error {
	if !newPos.Finite() {
		return fmt.Errorf("position is not finite")
	}
	t.Remove(id, oldPos)
	return t.Insert(id, newPos)
}

// QueryCircle returns the ids of all entries within radius of center on the
// X/Y plane.
func (t *Quadtree) QueryCircle(center types.Vec3, radius float32) []uint64 {
	if !center.Finite() {
		return nil
	}
	var out []uint64
	t.queryCircle(0, center, radius, &out)
	return out
}

func (t *Quadtree) queryCircle(ni int32, center types.Vec3, radius float32, out *[]uint64) {
	n := &t.nodes[ni]
	if !n.bounds.IntersectsCircle(center, radius) {
		return
	}
	r2 := radius * radius
	for _, e := range n.entries {
		if e.pos.DistanceSq2D(center) <= r2 {
			*out = append(*out, e.id)
		}
	}
	for _, ci := range n.children {
		if ci == noChild {
			continue
		}
		t.queryCircle(ci, center, radius, out)
	}
}

// Len returns the total number of entries in the tree.
func (t *Quadtree) Len() int {
	total := 0
	for i := range t.nodes {
		total += len(t.nodes[i].entries)
	}
	return total
}
