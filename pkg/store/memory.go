package store

import (
	"context"
	"sync"
	"time"

	"github.com/duskworks/coopcore/pkg/inventory"
	"github.com/duskworks/coopcore/pkg/types"
)

type sessionJoin struct {
	sessionID types.SessionID
	peerID    types.PeerID
	name      string
	at        time.Time
}

// InMemoryRepository keeps everything in process memory. Useful for tests
// and ephemeral servers.
type InMemoryRepository struct {
	lock         sync.RWMutex
	inventories  map[types.PeerID]inventory.Snapshot
	transactions []inventory.TransactionRecord
	joins        []sessionJoin
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		inventories: make(map[types.PeerID]inventory.Snapshot),
	}
}

func (r *InMemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *InMemoryRepository) SaveInventory(ctx context.Context, snapshot inventory.Snapshot) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.inventories[snapshot.PeerID] = snapshot.Clone()
	return nil
}

func (r *InMemoryRepository) LoadInventory(ctx context.Context, peerID types.PeerID) (inventory.Snapshot, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	snapshot, ok := r.inventories[peerID]
	if !ok {
		return inventory.Snapshot{}, &types.ErrNotFound{Kind: "inventory"}
	}
	return snapshot.Clone(), nil
}

func (r *InMemoryRepository) AppendTransaction(ctx context.Context, record inventory.TransactionRecord) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.transactions = append(r.transactions, record)
	return nil
}

func (r *InMemoryRepository) ReadTransactions(ctx context.Context, peerID types.PeerID, limit int) ([]inventory.TransactionRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var records []inventory.TransactionRecord
	for i := len(r.transactions) - 1; i >= 0 && len(records) < limit; i-- {
		record := r.transactions[i]
		if record.Request.FromPeer == peerID || record.Request.ToPeer == peerID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (r *InMemoryRepository) RecordSessionJoin(ctx context.Context, sessionID types.SessionID, peerID types.PeerID, name string, at time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.joins = append(r.joins, sessionJoin{sessionID: sessionID, peerID: peerID, name: name, at: at})
	return nil
}

func (r *InMemoryRepository) IntegrityCheck(ctx context.Context) (IntegrityReport, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	report := IntegrityReport{
		Inventories:  len(r.inventories),
		Transactions: len(r.transactions),
	}
	for peerID, snapshot := range r.inventories {
		report.Violations = append(report.Violations, checkInventory(peerID, snapshot.Money, snapshot.Items)...)
	}
	return report, nil
}
