package spatial

import (
	"fmt"
	"sync"

	"github.com/duskworks/coopcore/pkg/types"
)

// InterestGrid layers a last-known-position table for peers over the
// quadtree. All position mutations of the index go through this type,
// serialized under one exclusive lock per edit. It answers "who should see
// this update" for every broadcast.
type InterestGrid struct {
	lock      sync.RWMutex
	tree      *Quadtree
	positions map[types.PeerID]types.Vec3
}

func NewInterestGrid(bounds AABB) *InterestGrid {
	return &InterestGrid{
		tree:      NewQuadtree(bounds),
		positions: make(map[types.PeerID]types.Vec3),
	}
}

// Move updates a peer's position, inserting it on first sight.
func (g *InterestGrid) Move(peerID types.PeerID, pos types.Vec3) error {
	if !pos.InWorldBounds() {
		return &types.ErrValidationFailed{Reason: "position out of world bounds"}
	}
	g.lock.Lock()
	defer g.lock.Unlock()

	old, known := g.positions[peerID]
	if known {
		if err := g.tree.Move(uint64(peerID), old, pos); err != nil {
			return fmt.Errorf("failed to move peer in spatial index: %v", err)
		}
	} else {
		if err := g.tree.Insert(uint64(peerID), pos); err != nil {
			return fmt.Errorf("failed to insert peer into spatial index: %v", err)
		}
	}
	g.positions[peerID] = pos
	return nil
}

// Remove drops a peer from the grid.
func (g *InterestGrid) Remove(peerID types.PeerID) {
	g.lock.Lock()
	defer g.lock.Unlock()

	pos, known := g.positions[peerID]
	if !known {
		return
	}
	g.tree.Remove(uint64(peerID), pos)
	delete(g.positions, peerID)
}

// Position returns a peer's last-known position.
func (g *InterestGrid) Position(peerID types.PeerID) (types.Vec3, bool) {
	g.lock.RLock()
	defer g.lock.RUnlock()
	pos, ok := g.positions[peerID]
	return pos, ok
}

// PeersWithin returns the peers whose last-known position is within radius
// of center.
func (g *InterestGrid) PeersWithin(center types.Vec3, radius float32) []types.PeerID {
	g.lock.RLock()
	defer g.lock.RUnlock()

	ids := g.tree.QueryCircle(center, radius)
	peers := make([]types.PeerID, 0, len(ids))
	for _, id := range ids {
		peers = append(peers, types.PeerID(id))
	}
	return peers
}

// AllPeers returns every peer currently tracked by the grid.
func (g *InterestGrid) AllPeers() []types.PeerID {
	g.lock.RLock()
	defer g.lock.RUnlock()

	peers := make([]types.PeerID, 0, len(g.positions))
	for id := range g.positions {
		peers = append(peers, id)
	}
	return peers
}
