package store

import (
	"database/sql"
	"strconv"
)

// UpsertBalance writes the current ledger amount for a user/coin entry.
// Called after every successful engine balance mutation so the snapshot
// tracks the in-memory ledger.
func (s *Store) UpsertBalance(user, coin string, amount uint64) error {
	_, err := s.db.Exec(
		`INSERT INTO balances (user, coin, amount, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user, coin) DO UPDATE SET amount = excluded.amount, updated_at = CURRENT_TIMESTAMP`,
		user, coin, strconv.FormatUint(amount, 10),
	)
	return err
}

// Balances loads the full ledger snapshot (user -> coin -> amount).
func (s *Store) Balances() (map[string]map[string]uint64, error) {
	rows, err := s.db.Query("SELECT user, coin, amount FROM balances")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]uint64)
	for rows.Next() {
		var user, coin, amountStr string
		if err := rows.Scan(&user, &coin, &amountStr); err != nil {
			return nil, err
		}
		amount, err := strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			return nil, err
		}
		if out[user] == nil {
			out[user] = make(map[string]uint64)
		}
		out[user][coin] = amount
	}
	return out, rows.Err()
}

// RecordFill appends a settled fulfillment to the audit trail.
func (s *Store) RecordFill(f Fill) error {
	_, err := s.db.Exec(
		"INSERT INTO fills (id, order_id, taker, quantity, payment, coin) VALUES (?, ?, ?, ?, ?, ?)",
		f.ID, f.OrderID, f.Taker,
		strconv.FormatUint(f.Quantity, 10),
		strconv.FormatUint(f.Payment, 10),
		f.Coin,
	)
	return err
}

// RecentFills returns the latest n fills, newest first.
func (s *Store) RecentFills(n int) ([]Fill, error) {
	rows, err := s.db.Query(
		"SELECT id, order_id, taker, quantity, payment, coin, created_at FROM fills ORDER BY created_at DESC, id LIMIT ?",
		n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFills(rows)
}

// FillsByOrder returns all fills recorded against one order, oldest first.
func (s *Store) FillsByOrder(orderID string) ([]Fill, error) {
	rows, err := s.db.Query(
		"SELECT id, order_id, taker, quantity, payment, coin, created_at FROM fills WHERE order_id = ? ORDER BY created_at",
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFills(rows)
}

func scanFills(rows *sql.Rows) ([]Fill, error) {
	var fills []Fill
	for rows.Next() {
		var f Fill
		var quantity, payment string
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Taker, &quantity, &payment, &f.Coin, &f.CreatedAt); err != nil {
			return nil, err
		}
		var err error
		if f.Quantity, err = strconv.ParseUint(quantity, 10, 64); err != nil {
			return nil, err
		}
		if f.Payment, err = strconv.ParseUint(payment, 10, 64); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
