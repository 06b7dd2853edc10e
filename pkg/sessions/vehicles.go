package sessions

import (
	"sync"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/types"
)

const (
	// DriverSeat is the seat index that controls the vehicle.
	DriverSeat = 0
	// maxSeatIndex bounds seat indices for any vehicle.
	maxSeatIndex = 7
)

// vehicleTable tracks seat occupancy per vehicle entity under its own lock.
type vehicleTable struct {
	lock  sync.Mutex
	seats map[types.EntityID]map[int]types.PeerID
}

func (t *vehicleTable) claim(vehicle types.EntityID, seat int, peerID types.PeerID) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	occupancy, ok := t.seats[vehicle]
	if !ok {
		occupancy = make(map[int]types.PeerID)
		t.seats[vehicle] = occupancy
	}
	if occupant, taken := occupancy[seat]; taken && occupant != peerID {
		return &types.ErrConflict{Reason: "seat already occupied"}
	}
	for s, occupant := range occupancy {
		if occupant == peerID {
			delete(occupancy, s)
		}
	}
	occupancy[seat] = peerID
	return nil
}

func (t *vehicleTable) release(vehicle types.EntityID, peerID types.PeerID) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	occupancy, ok := t.seats[vehicle]
	if !ok {
		return false
	}
	released := false
	for seat, occupant := range occupancy {
		if occupant == peerID {
			delete(occupancy, seat)
			released = true
		}
	}
	if len(occupancy) == 0 {
		delete(t.seats, vehicle)
	}
	return released
}

func (t *vehicleTable) releaseAll(peerID types.PeerID) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for vehicle, occupancy := range t.seats {
		for seat, occupant := range occupancy {
			if occupant == peerID {
				delete(occupancy, seat)
			}
		}
		if len(occupancy) == 0 {
			delete(t.seats, vehicle)
		}
	}
}

func (t *vehicleTable) snapshot(vehicle types.EntityID) map[int]types.PeerID {
	t.lock.Lock()
	defer t.lock.Unlock()
	occupancy, ok := t.seats[vehicle]
	if !ok {
		return nil
	}
	out := make(map[int]types.PeerID, len(occupancy))
	for seat, occupant := range occupancy {
		out[seat] = occupant
	}
	return out
}

// ClaimSeat seats a session member in a vehicle. Seat zero is the driver.
// A peer occupies at most one seat per vehicle; claiming a new seat vacates
// the old one.
func (f *Fabric) ClaimSeat(vehicle types.EntityID, seat int, peerID types.PeerID) error {
	if seat < 0 || seat > maxSeatIndex {
		return &types.ErrValidationFailed{Reason: "seat index out of range"}
	}
	sessionID, ok := f.SessionOf(peerID)
	if !ok {
		return &types.ErrNotFound{Kind: "peer"}
	}
	if err := f.vehicles.claim(vehicle, seat, peerID); err != nil {
		return err
	}
	f.broadcastOccupancy(sessionID, vehicle, peerID)
	return nil
}

// LeaveSeat vacates whatever seat the peer holds in the vehicle.
func (f *Fabric) LeaveSeat(vehicle types.EntityID, peerID types.PeerID) {
	if !f.vehicles.release(vehicle, peerID) {
		return
	}
	if sessionID, ok := f.SessionOf(peerID); ok {
		f.broadcastOccupancy(sessionID, vehicle, peerID)
	}
}

// SeatOccupancy returns the current seat map for a vehicle.
func (f *Fabric) SeatOccupancy(vehicle types.EntityID) map[int]types.PeerID {
	return f.vehicles.snapshot(vehicle)
}

// Driver returns the peer in the driver seat, if any.
func (f *Fabric) Driver(vehicle types.EntityID) (types.PeerID, bool) {
	occupancy := f.vehicles.snapshot(vehicle)
	driver, ok := occupancy[DriverSeat]
	return driver, ok
}

func (f *Fabric) broadcastOccupancy(sessionID types.SessionID, vehicle types.EntityID, peerID types.PeerID) {
	snapshot, ok := f.Snapshot(sessionID)
	if !ok {
		return
	}
	f.port.Publish(broadcast.Event{
		Kind:       broadcast.EventVehicleOccupancy,
		SenderPeer: peerID,
		Payload: map[string]interface{}{
			"vehicle": vehicle,
			"seats":   f.vehicles.snapshot(vehicle),
		},
		Recipients: snapshot.peerList(),
	})
}
