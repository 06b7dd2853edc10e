package store

import (
	"context"
	"fmt"
	"time"

	"github.com/duskworks/coopcore/pkg/inventory"
	"github.com/duskworks/coopcore/pkg/types"
)

// Repository is the durable persistence port: inventory snapshots, the
// transfer transaction log, and session join history.
type Repository interface {
	Close(ctx context.Context) error
	SaveInventory(ctx context.Context, snapshot inventory.Snapshot) error
	LoadInventory(ctx context.Context, peerID types.PeerID) (inventory.Snapshot, error)
	AppendTransaction(ctx context.Context, record inventory.TransactionRecord) error
	ReadTransactions(ctx context.Context, peerID types.PeerID, limit int) ([]inventory.TransactionRecord, error)
	RecordSessionJoin(ctx context.Context, sessionID types.SessionID, peerID types.PeerID, name string, at time.Time) error
	IntegrityCheck(ctx context.Context) (IntegrityReport, error)
}

// IntegrityReport summarizes a consistency scan over stored inventories.
type IntegrityReport struct {
	Inventories  int      `json:"inventories"`
	Transactions int      `json:"transactions"`
	Violations   []string `json:"violations,omitempty"`
}

// checkInventory scans one stored inventory row for cap and count
// violations.
func checkInventory(peerID types.PeerID, money uint64, items []inventory.ItemEntry) []string {
	var violations []string
	if money > inventory.MaxMoney {
		violations = append(violations, fmt.Sprintf("peer %d: money %d over cap", peerID, money))
	}
	if len(items) > inventory.MaxItems {
		violations = append(violations, fmt.Sprintf("peer %d: %d item entries over cap", peerID, len(items)))
	}
	for _, item := range items {
		if item.Quantity == 0 || item.Quantity > inventory.MaxQuantity {
			violations = append(violations, fmt.Sprintf("peer %d: item %d quantity %d out of range", peerID, item.ItemID, item.Quantity))
		}
	}
	return violations
}

// JoinRecorder adapts a Repository to the session fabric's join-history
// interface.
type JoinRecorder struct {
	Repo Repository
}

func (r JoinRecorder) RecordJoin(sessionID types.SessionID, peerID types.PeerID, name string, at time.Time) error {
	return r.Repo.RecordSessionJoin(context.Background(), sessionID, peerID, name, at)
}
