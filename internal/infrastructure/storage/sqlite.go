package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/manojd/signal_bridge/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			ticker TEXT NOT NULL,
			security_id TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			signal_price REAL NOT NULL,
			status TEXT NOT NULL,
			stop_loss_price REAL NOT NULL DEFAULT 0,
			target_price REAL NOT NULL DEFAULT 0,
			rebased_stop_loss REAL NOT NULL DEFAULT 0,
			rebased_target REAL NOT NULL DEFAULT 0,
			error TEXT,
			placed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_account_ticker ON orders(account_id, ticker);`,
		`CREATE TABLE IF NOT EXISTS rebase_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			skipped BOOLEAN NOT NULL DEFAULT 0,
			error TEXT,
			filled_price REAL NOT NULL DEFAULT 0,
			old_stop_loss REAL NOT NULL DEFAULT 0,
			old_target REAL NOT NULL DEFAULT 0,
			new_stop_loss REAL NOT NULL DEFAULT 0,
			new_target REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rebase_results_order ON rebase_results(order_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// OrderRepository implementation

func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.PlacedOrder) error {
	query := `INSERT OR REPLACE INTO orders
		(order_id, correlation_id, account_id, ticker, security_id, side, quantity, signal_price, status, stop_loss_price, target_price, rebased_stop_loss, rebased_target, error, placed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		order.OrderID, order.CorrelationID, order.AccountID, order.Ticker, order.SecurityID,
		order.Side, order.Quantity, order.SignalPrice, order.Status,
		order.StopLossPrice, order.TargetPrice, order.RebasedStopLoss, order.RebasedTarget,
		order.Error, order.PlacedAt)
	return err
}

func (s *SQLiteStore) UpdateRebasedLegs(ctx context.Context, orderID string, stopLoss, target float64) error {
	query := `UPDATE orders SET rebased_stop_loss = ?, rebased_target = ? WHERE order_id = ?`
	res, err := s.db.ExecContext(ctx, query, stopLoss, target, orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("order %s not found", orderID)
	}
	return err
}

func (s *SQLiteStore) ListOrders(ctx context.Context, limit int) ([]*domain.PlacedOrder, error) {
	query := `SELECT order_id, correlation_id, account_id, ticker, security_id, side, quantity, signal_price, status, stop_loss_price, target_price, rebased_stop_loss, rebased_target, COALESCE(error, ''), placed_at
		FROM orders ORDER BY placed_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.PlacedOrder
	for rows.Next() {
		o := &domain.PlacedOrder{}
		if err := rows.Scan(&o.OrderID, &o.CorrelationID, &o.AccountID, &o.Ticker, &o.SecurityID,
			&o.Side, &o.Quantity, &o.SignalPrice, &o.Status,
			&o.StopLossPrice, &o.TargetPrice, &o.RebasedStopLoss, &o.RebasedTarget,
			&o.Error, &o.PlacedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) SaveRebaseResult(ctx context.Context, result *domain.RebaseResult) error {
	query := `INSERT INTO rebase_results
		(order_id, account_id, success, skipped, error, filled_price, old_stop_loss, old_target, new_stop_loss, new_target, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		result.OrderID, result.AccountID, result.Success, result.Skipped, result.Error,
		result.FilledPrice, result.OldStopLoss, result.OldTarget, result.NewStopLoss, result.NewTarget,
		result.At)
	return err
}

func (s *SQLiteStore) ListRebaseResults(ctx context.Context, limit int) ([]*domain.RebaseResult, error) {
	query := `SELECT order_id, account_id, success, skipped, COALESCE(error, ''), filled_price, old_stop_loss, old_target, new_stop_loss, new_target, created_at
		FROM rebase_results ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.RebaseResult
	for rows.Next() {
		r := &domain.RebaseResult{}
		if err := rows.Scan(&r.OrderID, &r.AccountID, &r.Success, &r.Skipped, &r.Error,
			&r.FilledPrice, &r.OldStopLoss, &r.OldTarget, &r.NewStopLoss, &r.NewTarget, &r.At); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
