package store

import (
	"database/sql"
	"errors"
	"strconv"
)

var ErrOrderNotFound = errors.New("order not found")

// SavePair persists a registered pair. Re-registering a key overwrites
// the stored reference price, matching the engine's last-write-wins.
func (s *Store) SavePair(base, quote string, price uint64) error {
	_, err := s.db.Exec(
		`INSERT INTO pairs (base, quote, price) VALUES (?, ?, ?)
		 ON CONFLICT(base, quote) DO UPDATE SET price = excluded.price`,
		base, quote, strconv.FormatUint(price, 10),
	)
	return err
}

// Pairs returns all persisted pairs in registration order.
func (s *Store) Pairs() ([]PairRecord, error) {
	rows, err := s.db.Query("SELECT base, quote, price FROM pairs ORDER BY created_at, base, quote")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []PairRecord
	for rows.Next() {
		var p PairRecord
		var price string
		if err := rows.Scan(&p.Base, &p.Quote, &price); err != nil {
			return nil, err
		}
		if p.Price, err = strconv.ParseUint(price, 10, 64); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// SaveOrder journals a newly created order.
func (s *Store) SaveOrder(o OrderRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO orders (id, kind, base, quote, side, strike, price, writer, counterparty, expiry, filled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Kind, o.Base, o.Quote, o.Side,
		strconv.FormatUint(o.Strike, 10),
		strconv.FormatUint(o.Price, 10),
		o.Writer, o.CounterParty, o.Expiry,
		strconv.FormatUint(o.Filled, 10),
	)
	return err
}

// UpdateOrderFill records the post-fulfillment state of an order.
func (s *Store) UpdateOrderFill(id, counterParty string, filled uint64) error {
	res, err := s.db.Exec(
		"UPDATE orders SET counterparty = ?, filled = ? WHERE id = ?",
		counterParty, strconv.FormatUint(filled, 10), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetOrder retrieves one journaled order by ID.
func (s *Store) GetOrder(id string) (*OrderRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, kind, base, quote, side, strike, price, writer, counterparty, expiry, filled, created_at
		 FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// OrdersByPair returns all journaled orders for a pair, oldest first.
func (s *Store) OrdersByPair(base, quote string) ([]OrderRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, base, quote, side, strike, price, writer, counterparty, expiry, filled, created_at
		 FROM orders WHERE base = ? AND quote = ? ORDER BY created_at, id`,
		base, quote,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*OrderRecord, error) {
	o := &OrderRecord{}
	var strike, price, filled string
	err := row.Scan(&o.ID, &o.Kind, &o.Base, &o.Quote, &o.Side,
		&strike, &price, &o.Writer, &o.CounterParty, &o.Expiry, &filled, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if o.Strike, err = strconv.ParseUint(strike, 10, 64); err != nil {
		return nil, err
	}
	if o.Price, err = strconv.ParseUint(price, 10, 64); err != nil {
		return nil, err
	}
	if o.Filled, err = strconv.ParseUint(filled, 10, 64); err != nil {
		return nil, err
	}
	return o, nil
}
