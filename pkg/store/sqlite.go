package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/duskworks/coopcore/pkg/inventory"
	"github.com/duskworks/coopcore/pkg/types"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(ctx context.Context, path string, migrations string) (Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	dir, err := os.ReadDir(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %v", err)
	}

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if _, err := db.ExecContext(ctx, string(migration)); err != nil {
			return nil, fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveInventory(ctx context.Context, snapshot inventory.Snapshot) error {
	items, err := json.Marshal(snapshot.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %v", err)
	}

	q := `
	INSERT OR REPLACE INTO inventories (peer_id, version, money, items, updated_at)
	VALUES (?, ?, ?, ?, ?);
	`
	_, err = r.db.ExecContext(ctx, q, snapshot.PeerID, snapshot.Version, snapshot.Money, string(items), snapshot.LastUpdate.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert inventory: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) LoadInventory(ctx context.Context, peerID types.PeerID) (inventory.Snapshot, error) {
	q := `
	SELECT version, money, items, updated_at FROM inventories WHERE peer_id = $1;
	`
	var version uint64
	var money uint64
	var items string
	var updatedAt int64
	if err := r.db.QueryRowContext(ctx, q, peerID).Scan(&version, &money, &items, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return inventory.Snapshot{}, &types.ErrNotFound{Kind: "inventory"}
		}
		return inventory.Snapshot{}, fmt.Errorf("failed to scan inventory: %v", err)
	}

	snapshot := inventory.Snapshot{
		PeerID:     peerID,
		Version:    version,
		Money:      money,
		LastUpdate: time.UnixMilli(updatedAt),
	}
	if err := json.Unmarshal([]byte(items), &snapshot.Items); err != nil {
		return inventory.Snapshot{}, fmt.Errorf("failed to unmarshal items: %v", err)
	}

	return snapshot, nil
}

func (r *SQLiteRepository) AppendTransaction(ctx context.Context, record inventory.TransactionRecord) error {
	q := `
	INSERT INTO transactions (request_id, from_peer, to_peer, item_id, quantity, status, reason, at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q,
		record.Request.RequestID, record.Request.FromPeer, record.Request.ToPeer,
		record.Request.ItemID, record.Request.Quantity,
		string(record.Status), record.Reason, record.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) ReadTransactions(ctx context.Context, peerID types.PeerID, limit int) ([]inventory.TransactionRecord, error) {
	q := `
	SELECT request_id, from_peer, to_peer, item_id, quantity, status, reason, at
	FROM transactions WHERE from_peer = $1 OR to_peer = $1
	ORDER BY at DESC LIMIT $2;
	`
	rows, err := r.db.QueryContext(ctx, q, peerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %v", err)
	}
	defer rows.Close()

	var records []inventory.TransactionRecord
	for rows.Next() {
		var record inventory.TransactionRecord
		var status string
		var at int64
		if err := rows.Scan(&record.Request.RequestID, &record.Request.FromPeer, &record.Request.ToPeer,
			&record.Request.ItemID, &record.Request.Quantity, &status, &record.Reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %v", err)
		}
		record.Status = inventory.TransferStatus(status)
		record.At = time.UnixMilli(at)
		records = append(records, record)
	}

	return records, nil
}

func (r *SQLiteRepository) RecordSessionJoin(ctx context.Context, sessionID types.SessionID, peerID types.PeerID, name string, at time.Time) error {
	q := `
	INSERT INTO session_joins (session_id, peer_id, name, joined_at)
	VALUES (?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, string(sessionID), peerID, name, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert session join: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) IntegrityCheck(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{}

	rows, err := r.db.QueryContext(ctx, "SELECT peer_id, money, items FROM inventories")
	if err != nil {
		return report, fmt.Errorf("failed to query inventories: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var peerID types.PeerID
		var money uint64
		var items string
		if err := rows.Scan(&peerID, &money, &items); err != nil {
			return report, fmt.Errorf("failed to scan inventory: %v", err)
		}
		report.Inventories++
		var entries []inventory.ItemEntry
		if err := json.Unmarshal([]byte(items), &entries); err != nil {
			report.Violations = append(report.Violations, fmt.Sprintf("peer %d: unreadable items", peerID))
			continue
		}
		report.Violations = append(report.Violations, checkInventory(peerID, money, entries)...)
	}

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&report.Transactions); err != nil {
		return report, fmt.Errorf("failed to count transactions: %v", err)
	}

	return report, nil
}
