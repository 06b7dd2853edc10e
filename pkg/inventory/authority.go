package inventory

import (
	"sync"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
)

// DistanceFunc reports the distance between two peers for transfer
// validation. The engine adapter supplies the real positions; a nil func
// always passes the distance check.
type DistanceFunc func(a, b types.PeerID) (float32, bool)

// Authority owns the per-peer inventory snapshots, the transfer workflow
// and the world-item pickup registry.
type Authority struct {
	lock       sync.RWMutex
	snapshots  map[types.PeerID]*Snapshot
	transfers  map[uint64]*TransferRequest
	worldItems map[types.ItemID]*WorldItem
	nextReqID  uint64

	transferRange float32
	distance      DistanceFunc
	worldItemTTL  time.Duration

	saveChan chan<- SaveRequest
	txnChan  chan<- TransactionRecord
	port     broadcast.Port
	metrics  *metrics.Registry
	now      func() time.Time
}

type NewAuthorityOptions struct {
	// TransferRange is the maximum sender/receiver distance for a transfer.
	TransferRange float32
	Distance      DistanceFunc
	WorldItemTTL  time.Duration
	SaveChan      chan<- SaveRequest
	TxnChan       chan<- TransactionRecord
	Port          broadcast.Port
	Metrics       *metrics.Registry
	Now           func() time.Time
}

func NewAuthority(opts NewAuthorityOptions) *Authority {
	port := opts.Port
	if port == nil {
		port = broadcast.NopPort{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	transferRange := opts.TransferRange
	if transferRange <= 0 {
		transferRange = 5.0
	}
	worldItemTTL := opts.WorldItemTTL
	if worldItemTTL <= 0 {
		worldItemTTL = 10 * time.Minute
	}
	return &Authority{
		snapshots:     make(map[types.PeerID]*Snapshot),
		transfers:     make(map[uint64]*TransferRequest),
		worldItems:    make(map[types.ItemID]*WorldItem),
		transferRange: transferRange,
		distance:      opts.Distance,
		worldItemTTL:  worldItemTTL,
		saveChan:      opts.SaveChan,
		txnChan:       opts.TxnChan,
		port:          port,
		metrics:       opts.Metrics,
		now:           now,
	}
}

// AddPeer registers a peer with an empty inventory.
func (a *Authority) AddPeer(peerID types.PeerID) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if _, ok := a.snapshots[peerID]; !ok {
		a.snapshots[peerID] = &Snapshot{PeerID: peerID}
	}
}

// RemovePeer drops a peer's in-memory snapshot. The durable copy survives.
func (a *Authority) RemovePeer(peerID types.PeerID) {
	a.lock.Lock()
	defer a.lock.Unlock()
	delete(a.snapshots, peerID)
}

// Restore seeds a peer's snapshot from the durable store without version
// checks. Used on join.
func (a *Authority) Restore(snapshot Snapshot) error {
	if err := validateSnapshot(snapshot); err != nil {
		return err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	s := snapshot.Clone()
	a.snapshots[snapshot.PeerID] = &s
	return nil
}

func validateSnapshot(s Snapshot) error {
	if len(s.Items) > MaxItems {
		return &types.ErrValidationFailed{Reason: "too many items"}
	}
	if s.Money > MaxMoney {
		return &types.ErrValidationFailed{Reason: "money out of range"}
	}
	for _, item := range s.Items {
		if item.Quantity < 1 || item.Quantity > MaxQuantity {
			return &types.ErrValidationFailed{Reason: "item quantity out of range"}
		}
		if item.Durability > MaxDurability {
			return &types.ErrValidationFailed{Reason: "item durability out of range"}
		}
		if len(item.ModData) > MaxModDataBytes {
			return &types.ErrValidationFailed{Reason: "item mod data too large"}
		}
	}
	return nil
}

// ApplySnapshot applies an inbound inventory update. Versions less than or
// equal to the current one are rejected with no state change and no
// broadcast.
func (a *Authority) ApplySnapshot(snapshot Snapshot) error {
	if err := validateSnapshot(snapshot); err != nil {
		a.metrics.Inc("inventory.rejects")
		return err
	}

	a.lock.Lock()
	current, ok := a.snapshots[snapshot.PeerID]
	if !ok {
		a.lock.Unlock()
		return &types.ErrNotFound{Kind: "peer"}
	}
	if snapshot.Version <= current.Version {
		a.lock.Unlock()
		a.metrics.Inc("inventory.stale_drops")
		return &types.ErrValidationFailed{Reason: "stale version"}
	}
	applied := snapshot.Clone()
	if applied.LastUpdate.IsZero() {
		applied.LastUpdate = a.now()
	}
	a.snapshots[snapshot.PeerID] = &applied
	a.lock.Unlock()

	a.persist(applied)
	a.port.Publish(broadcast.Event{
		Kind:       broadcast.EventInventoryUpdate,
		SenderPeer: snapshot.PeerID,
		Payload:    applied,
	})
	return nil
}

// ResolveConflict picks the winner between two snapshots for the same peer:
// the one with the later LastUpdate wins, ties keep current.
func ResolveConflict(current, incoming Snapshot) Snapshot {
	if incoming.LastUpdate.After(current.LastUpdate) {
		return incoming
	}
	return current
}

// SnapshotOf returns a copy of a peer's current snapshot.
func (a *Authority) SnapshotOf(peerID types.PeerID) (Snapshot, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	s, ok := a.snapshots[peerID]
	if !ok {
		return Snapshot{}, false
	}
	return s.Clone(), true
}

func (a *Authority) persist(snapshot Snapshot) {
	if a.saveChan == nil {
		return
	}
	select {
	case a.saveChan <- SaveRequest{PeerID: snapshot.PeerID, Snapshot: snapshot}:
	default:
		log.Warn("Inventory save channel is full, dropping save for peer %d", snapshot.PeerID)
		a.metrics.Inc("inventory.save_drops")
	}
}

func (a *Authority) appendTxn(request TransferRequest, status TransferStatus, reason string) {
	a.metrics.Inc("inventory.txn." + string(status))
	if a.txnChan == nil {
		return
	}
	select {
	case a.txnChan <- TransactionRecord{Request: request, Status: status, Reason: reason, At: a.now()}:
	default:
		log.Warn("Transaction log channel is full, dropping record for request %d", request.RequestID)
	}
}

// RequestTransfer creates and validates a transfer request. Returns the
// validated request awaiting approval.
func (a *Authority) RequestTransfer(from, to types.PeerID, itemID types.ItemID, quantity uint32) (TransferRequest, error) {
	if from == to {
		return TransferRequest{}, &types.ErrValidationFailed{Reason: "cannot transfer to self"}
	}
	if quantity < 1 || quantity > MaxQuantity {
		return TransferRequest{}, &types.ErrValidationFailed{Reason: "quantity out of range"}
	}

	a.lock.Lock()
	if len(a.transfers) >= MaxPendingTransfers {
		a.lock.Unlock()
		return TransferRequest{}, &types.ErrCapacityExceeded{Resource: "pending transfers"}
	}
	sender, ok := a.snapshots[from]
	if !ok {
		a.lock.Unlock()
		return TransferRequest{}, &types.ErrNotFound{Kind: "peer"}
	}
	if _, ok := a.snapshots[to]; !ok {
		a.lock.Unlock()
		return TransferRequest{}, &types.ErrNotFound{Kind: "peer"}
	}

	a.nextReqID++
	request := &TransferRequest{
		RequestID: a.nextReqID,
		FromPeer:  from,
		ToPeer:    to,
		ItemID:    itemID,
		Quantity:  quantity,
		CreatedAt: a.now(),
		Status:    TransferPending,
	}

	// Validation phase: distance and ownership.
	if a.distance != nil {
		if d, ok := a.distance(from, to); ok && d > a.transferRange {
			a.lock.Unlock()
			a.appendTxn(*request, TransferDenied, "distance exceeded")
			return TransferRequest{}, &types.ErrValidationFailed{Reason: "distance exceeded"}
		}
	}
	if sender.CountOf(itemID) < quantity {
		a.lock.Unlock()
		a.appendTxn(*request, TransferDenied, "insufficient quantity")
		return TransferRequest{}, &types.ErrValidationFailed{Reason: "insufficient quantity"}
	}

	request.Validated = true
	request.Status = TransferValidated
	a.transfers[request.RequestID] = request
	result := *request
	a.lock.Unlock()

	a.appendTxn(result, TransferValidated, "")
	return result, nil
}

// ApproveTransfer commits a validated transfer atomically: the sender's row
// is decremented (and removed at zero), the receiver's row is incremented
// (keeping the receiver's durability and mod data) or inserted with the
// sender's, and both versions are bumped. A commit that would break the
// receiver's snapshot caps is denied.
func (a *Authority) ApproveTransfer(requestID uint64) error {
	a.lock.Lock()
	request, ok := a.transfers[requestID]
	if !ok {
		a.lock.Unlock()
		return &types.ErrNotFound{Kind: "transfer"}
	}
	if !request.Validated {
		a.lock.Unlock()
		return &types.ErrConflict{Reason: "transfer not validated"}
	}
	sender := a.snapshots[request.FromPeer]
	receiver := a.snapshots[request.ToPeer]
	if sender == nil || receiver == nil {
		delete(a.transfers, requestID)
		record := *request
		a.lock.Unlock()
		a.appendTxn(record, TransferCancelled, "peer left")
		return &types.ErrConflict{Reason: "peer left"}
	}
	if sender.CountOf(request.ItemID) < request.Quantity {
		delete(a.transfers, requestID)
		record := *request
		a.lock.Unlock()
		a.appendTxn(record, TransferDenied, "insufficient quantity")
		return &types.ErrConflict{Reason: "insufficient quantity"}
	}

	// The receiver's snapshot caps hold across the commit too: a merge may
	// not push a stack past MaxQuantity and an insert may not push the
	// entry count past MaxItems.
	receiverIdx := -1
	for i := range receiver.Items {
		if receiver.Items[i].ItemID == request.ItemID {
			receiverIdx = i
			break
		}
	}
	overCap := false
	if receiverIdx >= 0 {
		overCap = receiver.Items[receiverIdx].Quantity+request.Quantity > MaxQuantity
	} else {
		overCap = len(receiver.Items) >= MaxItems
	}
	if overCap {
		delete(a.transfers, requestID)
		record := *request
		a.lock.Unlock()
		a.appendTxn(record, TransferDenied, "receiver capacity exceeded")
		return &types.ErrCapacityExceeded{Resource: "receiver inventory"}
	}

	var durability uint8
	var modData []byte
	remaining := request.Quantity
	for i := 0; i < len(sender.Items) && remaining > 0; {
		item := &sender.Items[i]
		if item.ItemID != request.ItemID {
			i++
			continue
		}
		durability = item.Durability
		modData = item.ModData
		if item.Quantity > remaining {
			item.Quantity -= remaining
			remaining = 0
			break
		}
		remaining -= item.Quantity
		sender.Items = append(sender.Items[:i], sender.Items[i+1:]...)
	}

	if receiverIdx >= 0 {
		// Merging into an existing stack keeps the receiver's durability and
		// mod data; the transferred units adopt the receiving stack's.
		receiver.Items[receiverIdx].Quantity += request.Quantity
	} else {
		receiver.Items = append(receiver.Items, ItemEntry{
			ItemID:     request.ItemID,
			Quantity:   request.Quantity,
			Durability: durability,
			ModData:    modData,
		})
	}

	now := a.now()
	sender.Version++
	sender.LastUpdate = now
	receiver.Version++
	receiver.LastUpdate = now

	request.Status = TransferApproved
	record := *request
	senderCopy := sender.Clone()
	receiverCopy := receiver.Clone()
	delete(a.transfers, requestID)
	a.lock.Unlock()

	a.metrics.Inc("inventory.transfers_applied")
	a.appendTxn(record, TransferApproved, "")
	a.persist(senderCopy)
	a.persist(receiverCopy)
	for _, snapshot := range []Snapshot{senderCopy, receiverCopy} {
		a.port.Publish(broadcast.Event{
			Kind:       broadcast.EventInventoryUpdate,
			SenderPeer: snapshot.PeerID,
			Payload:    snapshot,
		})
	}
	a.port.Publish(broadcast.Event{
		Kind:       broadcast.EventTransferResult,
		SenderPeer: record.FromPeer,
		Payload:    record,
		Recipients: []types.PeerID{record.FromPeer, record.ToPeer},
	})
	return nil
}

// DenyTransfer discards a pending transfer with a reason.
func (a *Authority) DenyTransfer(requestID uint64, reason string) error {
	return a.discardTransfer(requestID, TransferDenied, reason)
}

// CancelTransfer discards a pending transfer at the requester's behest.
func (a *Authority) CancelTransfer(requestID uint64, reason string) error {
	return a.discardTransfer(requestID, TransferCancelled, reason)
}

func (a *Authority) discardTransfer(requestID uint64, status TransferStatus, reason string) error {
	a.lock.Lock()
	request, ok := a.transfers[requestID]
	if !ok {
		a.lock.Unlock()
		return &types.ErrNotFound{Kind: "transfer"}
	}
	request.Status = status
	record := *request
	delete(a.transfers, requestID)
	a.lock.Unlock()

	a.appendTxn(record, status, reason)
	a.port.Publish(broadcast.Event{
		Kind:       broadcast.EventTransferResult,
		SenderPeer: record.FromPeer,
		Payload:    record,
		Recipients: []types.PeerID{record.FromPeer, record.ToPeer},
	})
	return nil
}

// PendingTransfers returns the in-flight transfer requests.
func (a *Authority) PendingTransfers() []TransferRequest {
	a.lock.RLock()
	defer a.lock.RUnlock()
	out := make([]TransferRequest, 0, len(a.transfers))
	for _, request := range a.transfers {
		out = append(out, *request)
	}
	return out
}

// RegisterWorldPickup records a world item being taken. A second
// registration for a live id fails.
func (a *Authority) RegisterWorldPickup(itemID types.ItemID, position types.Vec3, taker types.PeerID) error {
	if !position.InWorldBounds() {
		return &types.ErrValidationFailed{Reason: "position out of world bounds"}
	}

	a.lock.Lock()
	if _, taken := a.worldItems[itemID]; taken {
		a.lock.Unlock()
		return &types.ErrConflict{Reason: "item already taken"}
	}
	a.worldItems[itemID] = &WorldItem{
		ItemID:   itemID,
		Position: position,
		Taker:    taker,
		TakenAt:  a.now(),
	}
	overCap := len(a.worldItems) > MaxWorldItems
	a.lock.Unlock()

	a.metrics.Inc("inventory.world_pickups")
	if overCap {
		a.SweepWorldItems()
	}
	return nil
}

// WorldPickup returns the registered pickup for an item id.
func (a *Authority) WorldPickup(itemID types.ItemID) (WorldItem, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	item, ok := a.worldItems[itemID]
	if !ok {
		return WorldItem{}, false
	}
	return *item, true
}

// SweepWorldItems evicts world-item entries older than the configured TTL.
func (a *Authority) SweepWorldItems() int {
	cutoff := a.now().Add(-a.worldItemTTL)
	a.lock.Lock()
	defer a.lock.Unlock()
	evicted := 0
	for itemID, item := range a.worldItems {
		if item.TakenAt.Before(cutoff) {
			delete(a.worldItems, itemID)
			evicted++
		}
	}
	return evicted
}

// Tick purges expired pending transfers and logs them.
func (a *Authority) Tick() {
	now := a.now()
	a.lock.Lock()
	var expired []TransferRequest
	for requestID, request := range a.transfers {
		if now.Sub(request.CreatedAt) > TransferTTL {
			request.Status = TransferExpired
			expired = append(expired, *request)
			delete(a.transfers, requestID)
		}
	}
	a.lock.Unlock()

	for _, record := range expired {
		a.appendTxn(record, TransferExpired, "timed out")
		a.port.Publish(broadcast.Event{
			Kind:       broadcast.EventTransferResult,
			SenderPeer: record.FromPeer,
			Payload:    record,
			Recipients: []types.PeerID{record.FromPeer, record.ToPeer},
		})
	}
}
