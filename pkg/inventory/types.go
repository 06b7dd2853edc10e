package inventory

import (
	"time"

	"github.com/duskworks/coopcore/pkg/types"
)

const (
	// MaxItems is the item entry limit per snapshot.
	MaxItems = 500
	// MaxMoney is the money limit per snapshot.
	MaxMoney = 1_000_000_000
	// MaxQuantity is the per-entry quantity limit.
	MaxQuantity = 9999
	// MaxDurability is the per-entry durability limit.
	MaxDurability = 100
	// MaxModDataBytes is the per-entry opaque mod-data limit.
	MaxModDataBytes = 1024

	// MaxPendingTransfers bounds pending transfers system-wide.
	MaxPendingTransfers = 100
	// TransferTTL is how long a pending transfer lives before expiring.
	TransferTTL = 30 * time.Second

	// MaxWorldItems caps the world-item registry before TTL eviction runs.
	MaxWorldItems = 1000
)

// ItemEntry is one row of an inventory snapshot.
type ItemEntry struct {
	ItemID     types.ItemID `json:"itemId"`
	Quantity   uint32       `json:"quantity"`
	Durability uint8        `json:"durability"`
	ModData    []byte       `json:"modData,omitempty"`
}

// Snapshot is a versioned view of one peer's inventory. An update with
// version less than or equal to the current one is rejected.
type Snapshot struct {
	PeerID     types.PeerID `json:"peerId"`
	Version    uint64       `json:"version"`
	LastUpdate time.Time    `json:"lastUpdate"`
	Money      uint64       `json:"money"`
	Items      []ItemEntry  `json:"items"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Items = make([]ItemEntry, len(s.Items))
	for i, item := range s.Items {
		out.Items[i] = item
		if item.ModData != nil {
			out.Items[i].ModData = append([]byte(nil), item.ModData...)
		}
	}
	return out
}

// CountOf returns the total quantity of an item across the snapshot.
func (s Snapshot) CountOf(itemID types.ItemID) uint32 {
	var total uint32
	for _, item := range s.Items {
		if item.ItemID == itemID {
			total += item.Quantity
		}
	}
	return total
}

// TransferStatus is the lifecycle state of a transfer request.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferValidated TransferStatus = "validated"
	TransferApproved  TransferStatus = "approved"
	TransferDenied    TransferStatus = "denied"
	TransferCancelled TransferStatus = "cancelled"
	TransferExpired   TransferStatus = "expired"
)

// TransferRequest is one cross-peer item transfer in flight.
type TransferRequest struct {
	RequestID uint64         `json:"requestId"`
	FromPeer  types.PeerID   `json:"fromPeer"`
	ToPeer    types.PeerID   `json:"toPeer"`
	ItemID    types.ItemID   `json:"itemId"`
	Quantity  uint32         `json:"quantity"`
	CreatedAt time.Time      `json:"createdAt"`
	Validated bool           `json:"validated"`
	Status    TransferStatus `json:"status"`
}

// WorldItem records a world pickup. An itemId may be taken at most once.
type WorldItem struct {
	ItemID   types.ItemID `json:"itemId"`
	Position types.Vec3   `json:"position"`
	Taker    types.PeerID `json:"taker"`
	TakenAt  time.Time    `json:"takenAt"`
}

// SaveRequest asks the persistence worker to write a snapshot through to
// the durable store.
type SaveRequest struct {
	PeerID   types.PeerID
	Snapshot Snapshot
}

// TransactionRecord is one transfer status change for the durable
// transaction log.
type TransactionRecord struct {
	Request TransferRequest
	Status  TransferStatus
	Reason  string
	At      time.Time
}
