package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/duskworks/coopcore/pkg/inventory"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/types"
)

type PostgresRepository struct {
	conn *pgx.Conn
}

// NewPostgresRepository creates a Postgres-backed Repository.
// It panics if it is unable to connect to the database.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) Repository {
	return &PostgresRepository{
		conn: connectDb(ctx, connStr),
	}
}

func connectDb(ctx context.Context, connStr string) *pgx.Conn {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		panic(fmt.Sprintf("Unable to connect to database: %v\n", err))
	}

	var username string
	var database string
	err = conn.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		panic(fmt.Sprintf("Unable to query database: %v\n", err))
	}

	log.Info("Connected to %s as %s", database, username)

	return conn
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func (r *PostgresRepository) SaveInventory(ctx context.Context, snapshot inventory.Snapshot) error {
	items, err := json.Marshal(snapshot.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %v", err)
	}

	q := `
	INSERT INTO inventories (peer_id, version, money, items, updated_at) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (peer_id) DO UPDATE SET version = $2, money = $3, items = $4, updated_at = $5;
	`
	_, err = r.conn.Exec(ctx, q, snapshot.PeerID, snapshot.Version, snapshot.Money, string(items), snapshot.LastUpdate.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert inventory: %v", err)
	}

	return nil
}

func (r *PostgresRepository) LoadInventory(ctx context.Context, peerID types.PeerID) (inventory.Snapshot, error) {
	q := `
	SELECT version, money, items, updated_at FROM inventories WHERE peer_id = $1;
	`
	var version uint64
	var money uint64
	var items string
	var updatedAt int64
	if err := r.conn.QueryRow(ctx, q, peerID).Scan(&version, &money, &items, &updatedAt); err != nil {
		if err == pgx.ErrNoRows {
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

func (r *PostgresRepository) AppendTransaction(ctx context.Context, record inventory.TransactionRecord) error {
	q := `
	INSERT INTO transactions (request_id, from_peer, to_peer, item_id, quantity, status, reason, at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := r.conn.Exec(ctx, q,
		record.Request.RequestID, record.Request.FromPeer, record.Request.ToPeer,
		record.Request.ItemID, record.Request.Quantity,
		string(record.Status), record.Reason, record.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %v", err)
	}

	return nil
}

func (r *PostgresRepository) ReadTransactions(ctx context.Context, peerID types.PeerID, limit int) ([]inventory.TransactionRecord, error) {
	q := `
	SELECT request_id, from_peer, to_peer, item_id, quantity, status, reason, at
	FROM transactions WHERE from_peer = $1 OR to_peer = $1
	ORDER BY at DESC LIMIT $2;
	`
	rows, err := r.conn.Query(ctx, q, peerID, limit)
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

func (r *PostgresRepository) RecordSessionJoin(ctx context.Context, sessionID types.SessionID, peerID types.PeerID, name string, at time.Time) error {
	q := `
	INSERT INTO session_joins (session_id, peer_id, name, joined_at)
	VALUES ($1, $2, $3, $4);
	`
	_, err := r.conn.Exec(ctx, q, string(sessionID), peerID, name, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert session join: %v", err)
	}

	return nil
}

func (r *PostgresRepository) IntegrityCheck(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{}

	rows, err := r.conn.Query(ctx, "SELECT peer_id, money, items FROM inventories")
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

	if err := r.conn.QueryRow(ctx, "SELECT COUNT(*) FROM transactions").Scan(&report.Transactions); err != nil {
		return report, fmt.Errorf("failed to count transactions: %v", err)
	}

	return report, nil
}
