package store

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite persistence for the exchange: registered users
// and sessions, the pair registry, ledger snapshots, and an order/fill
// audit trail. The engine stays authoritative at runtime; the store is
// what survives a restart.
type Store struct {
	db *sql.DB
}

// New creates a new Store and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection: keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Unsigned 64-bit amounts are stored as decimal TEXT because SQLite's
// INTEGER is a signed 64-bit value and would truncate the upper half of
// the range the ledger supports.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		username TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS pairs (
		base TEXT NOT NULL,
		quote TEXT NOT NULL,
		price TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (base, quote)
	);

	CREATE TABLE IF NOT EXISTS balances (
		user TEXT NOT NULL,
		coin TEXT NOT NULL,
		amount TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user, coin)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		base TEXT NOT NULL,
		quote TEXT NOT NULL,
		side TEXT NOT NULL,
		strike TEXT NOT NULL DEFAULT '0',
		price TEXT NOT NULL,
		writer TEXT NOT NULL,
		counterparty TEXT NOT NULL DEFAULT '',
		expiry INTEGER NOT NULL,
		filled TEXT NOT NULL DEFAULT '0',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS fills (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		taker TEXT NOT NULL,
		quantity TEXT NOT NULL,
		payment TEXT NOT NULL,
		coin TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	CREATE INDEX IF NOT EXISTS idx_orders_pair ON orders(base, quote);
	CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// User represents a registered user.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// PairRecord is a persisted tradable pair.
type PairRecord struct {
	Base  string
	Quote string
	Price uint64
}

// OrderRecord is the journal form of an engine order.
type OrderRecord struct {
	ID           string
	Kind         string
	Base         string
	Quote        string
	Side         string
	Strike       uint64
	Price        uint64
	Writer       string
	CounterParty string
	Expiry       int64
	Filled       uint64
	CreatedAt    time.Time
}

// Fill records one settled fulfillment against an order.
type Fill struct {
	ID        string
	OrderID   string
	Taker     string
	Quantity  uint64
	Payment   uint64
	Coin      string
	CreatedAt time.Time
}
