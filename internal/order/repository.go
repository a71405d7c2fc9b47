package order

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	pkgdb "github.com/ahwlsqja/csrf-recovery/pkg/db"
)

// Repository persists orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*Order, error)
}

// Schema creates the orders table used by MySQLRepository.
const Schema = `CREATE TABLE IF NOT EXISTS orders (
	id          CHAR(36)      NOT NULL PRIMARY KEY,
	session_id  VARCHAR(64)   NOT NULL,
	item        VARCHAR(100)  NOT NULL,
	quantity    INT           NOT NULL,
	note        VARCHAR(500)  NOT NULL DEFAULT '',
	created_at  DATETIME(6)   NOT NULL,
	INDEX idx_orders_session (session_id, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const (
	insertOrder = `INSERT INTO orders (id, session_id, item, quantity, note, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	listOrders  = `SELECT id, session_id, item, quantity, note, created_at FROM orders WHERE session_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
)

// MySQLRepository stores orders in MySQL.
type MySQLRepository struct {
	txRunner *pkgdb.TxRunner
}

var _ Repository = (*MySQLRepository)(nil)

// NewMySQLRepository creates a MySQL-backed order repository.
func NewMySQLRepository(txRunner *pkgdb.TxRunner) *MySQLRepository {
	return &MySQLRepository{txRunner: txRunner}
}

// EnsureSchema creates the orders table when missing.
func (r *MySQLRepository) EnsureSchema(ctx context.Context) error {
	return pkgdb.EnsureSchema(ctx, r.txRunner.DB(), Schema)
}

func (r *MySQLRepository) Create(ctx context.Context, o *Order) error {
	return r.txRunner.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertOrder,
			o.ID, o.SessionID, o.Item, o.Quantity, o.Note, o.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

func (r *MySQLRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*Order, error) {
	rows, err := r.txRunner.DB().QueryContext(ctx, listOrders, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.SessionID, &o.Item, &o.Quantity, &o.Note, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

// MemoryRepository keeps orders in process memory. It backs the server
// when the database is disabled.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders []*Order
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders = append(r.orders, &cp)
	return nil
}

func (r *MemoryRepository) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]*Order, error) {
	r.mu.RLock()
	var matched []*Order
	for _, o := range r.orders {
		if o.SessionID == sessionID {
			cp := *o
			matched = append(matched, &cp)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}
