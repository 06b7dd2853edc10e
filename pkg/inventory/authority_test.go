package inventory

import (
	"testing"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
	"github.com/stretchr/testify/assert"
)

type capturePort struct {
	events []broadcast.Event
}

func (p *capturePort) Publish(event broadcast.Event) {
	p.events = append(p.events, event)
}

func (p *capturePort) lastOfKind(kind string) (broadcast.Event, bool) {
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Kind == kind {
			return p.events[i], true
		}
	}
	return broadcast.Event{}, false
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestAuthority(distance DistanceFunc) (*Authority, *capturePort, *testClock, chan TransactionRecord) {
	port := &capturePort{}
	clock := &testClock{now: time.Unix(1700000000, 0)}
	txnChan := make(chan TransactionRecord, 64)
	authority := NewAuthority(NewAuthorityOptions{
		Distance: distance,
		TxnChan:  txnChan,
		Port:     port,
		Metrics:  metrics.NewRegistry(),
		Now:      clock.Now,
	})
	return authority, port, clock, txnChan
}

func seedSnapshot(t *testing.T, a *Authority, peerID types.PeerID, items ...ItemEntry) {
	t.Helper()
	a.AddPeer(peerID)
	assert.NoError(t, a.Restore(Snapshot{
		PeerID:  peerID,
		Version: 1,
		Money:   1000,
		Items:   items,
	}))
}

func TestAuthority_ApplySnapshot(t *testing.T) {
	authority, port, _, _ := newTestAuthority(nil)
	seedSnapshot(t, authority, 1, ItemEntry{ItemID: 10, Quantity: 5, Durability: 90})

	err := authority.ApplySnapshot(Snapshot{
		PeerID:  1,
		Version: 2,
		Money:   1200,
		Items:   []ItemEntry{{ItemID: 10, Quantity: 4, Durability: 88}},
	})
	assert.NoError(t, err)

	snapshot, ok := authority.SnapshotOf(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), snapshot.Version)
	assert.Equal(t, uint64(1200), snapshot.Money)
	_, published := port.lastOfKind(broadcast.EventInventoryUpdate)
	assert.True(t, published)
}

func TestAuthority_ApplySnapshotStaleVersion(t *testing.T) {
	authority, _, _, _ := newTestAuthority(nil)
	seedSnapshot(t, authority, 1)

	err := authority.ApplySnapshot(Snapshot{PeerID: 1, Version: 1})
	assert.True(t, types.IsValidationFailed(err))

	err = authority.ApplySnapshot(Snapshot{PeerID: 1, Version: 0})
	assert.True(t, types.IsValidationFailed(err))

	err = authority.ApplySnapshot(Snapshot{PeerID: 99, Version: 5})
	assert.True(t, types.IsNotFound(err))
}

func TestAuthority_SnapshotValidation(t *testing.T) {
	tests := []struct {
		name     string
		snapshot Snapshot
	}{
		{
			name:     "too much money",
			snapshot: Snapshot{PeerID: 1, Version: 2, Money: MaxMoney + 1},
		},
		{
			name: "zero quantity",
			snapshot: Snapshot{PeerID: 1, Version: 2, Items: []ItemEntry{
				{ItemID: 10, Quantity: 0},
			}},
		},
		{
			name: "quantity over the cap",
			snapshot: Snapshot{PeerID: 1, Version: 2, Items: []ItemEntry{
				{ItemID: 10, Quantity: MaxQuantity + 1},
			}},
		},
		{
			name: "durability over the cap",
			snapshot: Snapshot{PeerID: 1, Version: 2, Items: []ItemEntry{
				{ItemID: 10, Quantity: 1, Durability: MaxDurability + 1},
			}},
		},
		{
			name: "oversized mod data",
			snapshot: Snapshot{PeerID: 1, Version: 2, Items: []ItemEntry{
				{ItemID: 10, Quantity: 1, ModData: make([]byte, MaxModDataBytes+1)},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authority, _, _, _ := newTestAuthority(nil)
			seedSnapshot(t, authority, 1)
			err := authority.ApplySnapshot(tt.snapshot)
			assert.True(t, types.IsValidationFailed(err))
		})
	}
}

func TestAuthority_TransferLifecycle(t *testing.T) {
	authority, port, _, txnChan := newTestAuthority(nil)
	seedSnapshot(t, authority, 1, ItemEntry{ItemID: 10, Quantity: 5, Durability: 90, ModData: []byte{1, 2}})
	seedSnapshot(t, authority, 2)

	request, err := authority.RequestTransfer(1, 2, 10, 3)
	assert.NoError(t, err)
	assert.True(t, request.Validated)
	assert.Equal(t, TransferValidated, request.Status)

	assert.NoError(t, authority.ApproveTransfer(request.RequestID))

	sender, _ := authority.SnapshotOf(1)
	receiver, _ := authority.SnapshotOf(2)
	assert.Equal(t, uint32(2), sender.CountOf(10))
	assert.Equal(t, uint32(3), receiver.CountOf(10))
	assert.Equal(t, uint64(2), sender.Version, "both versions bump")
	assert.Equal(t, uint64(2), receiver.Version)
	assert.Equal(t, uint8(90), receiver.Items[0].Durability, "durability carries over")
	assert.Equal(t, []byte{1, 2}, receiver.Items[0].ModData)

	event, ok := port.lastOfKind(broadcast.EventTransferResult)
	assert.True(t, ok)
	assert.ElementsMatch(t, []types.PeerID{1, 2}, event.Recipients)

	assert.Empty(t, authority.PendingTransfers())
	assert.True(t, types.IsNotFound(authority.ApproveTransfer(request.RequestID)))

	// The log saw validated then approved.
	var statuses []TransferStatus
	for len(txnChan) > 0 {
		statuses = append(statuses, (<-txnChan).Status)
	}
	assert.Equal(t, []TransferStatus{TransferValidated, TransferApproved}, statuses)
}

func TestAuthority_TransferMergeKeepsReceiverItemState(t *testing.T) {
	authority, _, _, _ := newTestAuthority(nil)
	seedSnapshot(t, authority, 1, ItemEntry{ItemID: 10, Quantity: 5, Durability: 90, ModData: []byte{1}})
	seedSnapshot(t, authority, 2, ItemEntry{ItemID: 10, Quantity: 4, Durability: 50, ModData: []byte{2}})

	request, err := authority.RequestTransfer(1, 2, 10, 3)
	assert.NoError(t, err)
	assert.NoError(t, authority.ApproveTransfer(request.RequestID))

	receiver, _ := authority.SnapshotOf(2)
	assert.Equal(t, uint32(7), receiver.CountOf(10))
	assert.Equal(t, uint8(50), receiver.Items[0].Durability, "merged units adopt the receiving stack's state")
	assert.Equal(t, []byte{2}, receiver.Items[0].ModData)
}

func TestAuthority_ApproveTransferReceiverCaps(t *testing.T) {
	authority, _, _, txnChan := newTestAuthority(nil)
	seedSnapshot(t, authority, 1, ItemEntry{ItemID: 9000, Quantity: 5})

	full := make([]ItemEntry, 0, MaxItems)
	for i := 0; i < MaxItems; i++ {
		full = append(full, ItemEntry{ItemID: types.ItemID(i + 1), Quantity: 1})
	}
	seedSnapshot(t, authority, 2, full...)

	request, err := authority.RequestTransfer(1, 2, 9000, 1)
	assert.NoError(t, err)
	err = authority.ApproveTransfer(request.RequestID)
	assert.True(t, types.IsCapacityExceeded(err), "insert past the item cap")

	sender, _ := authority.SnapshotOf(1)
	receiver, _ := authority.SnapshotOf(2)
	assert.Equal(t, uint32(5), sender.CountOf(9000), "denied commit leaves both sides untouched")
	assert.Len(t, receiver.Items, MaxItems)
	assert.Equal(t, uint64(1), receiver.Version)

	var last TransactionRecord
	for len(txnChan) > 0 {
		last = <-txnChan
	}
	assert.Equal(t, TransferDenied, last.Status)
	assert.Equal(t, "receiver capacity exceeded", last.Reason)
}

func TestAuthority_ApproveTransferStackCap(t *testing.T) {
	authority, _, _, _ := newTestAuthority(nil)
	seedSnapshot(t, authority, 1, ItemEntry{ItemID: 10, Quantity: 5})
	seedSnapshot(t, authority, 2, ItemEntry{ItemID: 10, Quantity: MaxQuantity - 1})

	request, err := authority.RequestTransfer(1, 2, 10, 2)
	assert.NoError(t, err)
	err = authority.ApproveTransfer(request.RequestID)
	assert.True(t, types.IsCapacityExceeded(err), "merge past the stack cap")

	receiver, _ := authority.SnapshotOf(2)
	assert.Equal(t, uint32(MaxQuantity-1), receiver.CountOf(10))
}

func TestAuthority_TransferValidation(t *testing.T) {
	authority, _, _, _ := newTestAuthority(nil)
	seedSnapshot(t, authority, 1, ItemEntry{ItemID: 10, Quantity: 2})
	seedSnapshot(t, authority, 2)

	_, err := authority.RequestTransfer(1, 1, 10, 1)
	assert.True(t, types.IsValidationFailed(err), "self transfer")

	_, err = authority.RequestTransfer(1, 2, 10, 0)
	assert.True(t, types.IsValidationFailed(err), "zero quantity")

	_, err = authority.RequestTransfer(1, 2, 10, 5)
	assert.True(t, types.IsValidationFailed(err), "insufficient quantity")

	_, err = authority.RequestTransfer(1, 99, 10, 1)
	assert.True(t, types.IsNotFound(err), "unknown receiver")
}

func TestAuthority_TransferDistance(t *testing.T) {
	far := func(a, b types.PeerID) (float32, bool) { return 100, true }
	authority, _, _, _ := newTestAuthority(far)
	seedSnapshot(t, authority, 1, ItemEntry{ItemID: 10, Quantity: 2})
	seedSnapshot(t, authority, 2)

	_, err := authority.RequestTransfer(1, 2, 10, 1)
	assert.True(t, types.IsValidationFailed(err))
}

func TestAuthority_DenyAndCancel(t *testing.T) {
	authority, port, _, _ := newTestAuthority(nil)
	seedSnapshot(t, authority, 1, ItemEntry{ItemID: 10, Quantity: 5})
	seedSnapshot(t, authority, 2)

	request, err := authority.RequestTransfer(1, 2, 10, 1)
	assert.NoError(t, err)
	assert.NoError(t, authority.DenyTransfer(request.RequestID, "no thanks"))
	assert.Empty(t, authority.PendingTransfers())

	event, ok := port.lastOfKind(broadcast.EventTransferResult)
	assert.True(t, ok)
	record := event.Payload.(TransferRequest)
	assert.Equal(t, TransferDenied, record.Status)

	sender, _ := authority.SnapshotOf(1)
	assert.Equal(t, uint32(5), sender.CountOf(10), "denied transfer moves nothing")

	request, err = authority.RequestTransfer(1, 2, 10, 1)
	assert.NoError(t, err)
	assert.NoError(t, authority.CancelTransfer(request.RequestID, "changed my mind"))
	assert.True(t, types.IsNotFound(authority.CancelTransfer(request.RequestID, "again")))
}

func TestAuthority_TransferExpiry(t *testing.T) {
	authority, port, clock, _ := newTestAuthority(nil)
	seedSnapshot(t, authority, 1, ItemEntry{ItemID: 10, Quantity: 5})
	seedSnapshot(t, authority, 2)

	_, err := authority.RequestTransfer(1, 2, 10, 1)
	assert.NoError(t, err)

	clock.Advance(TransferTTL + time.Second)
	authority.Tick()

	assert.Empty(t, authority.PendingTransfers())
	event, ok := port.lastOfKind(broadcast.EventTransferResult)
	assert.True(t, ok)
	record := event.Payload.(TransferRequest)
	assert.Equal(t, TransferExpired, record.Status)
}

func TestAuthority_WorldPickup(t *testing.T) {
	authority, _, clock, _ := newTestAuthority(nil)

	pos := types.Vec3{X: 10, Y: 20, Z: 0}
	assert.NoError(t, authority.RegisterWorldPickup(500, pos, 1))

	err := authority.RegisterWorldPickup(500, pos, 2)
	assert.True(t, types.IsConflict(err), "an item is taken at most once")

	item, ok := authority.WorldPickup(500)
	assert.True(t, ok)
	assert.Equal(t, types.PeerID(1), item.Taker)

	err = authority.RegisterWorldPickup(501, types.Vec3{X: types.WorldBound + 1}, 1)
	assert.True(t, types.IsValidationFailed(err))

	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, authority.SweepWorldItems())
	_, ok = authority.WorldPickup(500)
	assert.False(t, ok)
}

func TestResolveConflict(t *testing.T) {
	older := Snapshot{PeerID: 1, Version: 3, LastUpdate: time.Unix(100, 0)}
	newer := Snapshot{PeerID: 1, Version: 2, LastUpdate: time.Unix(200, 0)}

	assert.Equal(t, newer, ResolveConflict(older, newer), "later update wins")
	assert.Equal(t, newer, ResolveConflict(newer, older), "ties keep current")
}
