// Package store provides the accountant shard's persistent position store:
// SQLite-backed Users, Positions, Orders, Trades and the outbox/inbox used
// for reliable remote_post delivery between shards.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/klingon-exchange/accountant/pkg/logging"
)

// Store wraps a single SQLite connection. mu serializes writes the way the
// teacher's storage layer does, since go-sqlite3 with a single connection
// does not itself guarantee safe concurrent access from multiple
// goroutines issuing writes.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	log    *logging.Logger
}

// Config configures where the shard's database file lives.
type Config struct {
	DataDir string
}

// New opens (and if necessary creates) the shard's SQLite database.
func New(cfg *Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "accountant.db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		dbPath: dbPath,
		log:    logging.GetDefault().Component("store"),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username             TEXT PRIMARY KEY,
		user_type            TEXT NOT NULL DEFAULT 'Asset',
		permission_group_id  TEXT NOT NULL DEFAULT 'default',
		fee_group_id         TEXT NOT NULL DEFAULT 'default',
		locale               TEXT NOT NULL DEFAULT 'en_US',
		email                TEXT,
		nickname             TEXT,
		trade_permitted      INTEGER NOT NULL DEFAULT 1,
		withdraw_permitted   INTEGER NOT NULL DEFAULT 1,
		deposit_permitted    INTEGER NOT NULL DEFAULT 1,
		created_at           INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		username             TEXT NOT NULL,
		contract             TEXT NOT NULL,
		position             INTEGER NOT NULL DEFAULT 0,
		reference_price      INTEGER,
		pending_postings     INTEGER NOT NULL DEFAULT 0,
		position_checkpoint  INTEGER NOT NULL DEFAULT 0,
		cp_timestamp         INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (username, contract)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		username       TEXT NOT NULL,
		contract       TEXT NOT NULL,
		side           TEXT NOT NULL,
		price          INTEGER NOT NULL,
		quantity       INTEGER NOT NULL,
		quantity_left  INTEGER NOT NULL,
		accepted       INTEGER NOT NULL DEFAULT 0,
		dispatched     INTEGER NOT NULL DEFAULT 0,
		is_cancelled   INTEGER NOT NULL DEFAULT 0,
		timestamp      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_username ON orders(username);
	CREATE INDEX IF NOT EXISTS idx_orders_contract ON orders(contract);

	CREATE TABLE IF NOT EXISTS trades (
		aggressive_order_id  INTEGER NOT NULL,
		passive_order_id     INTEGER NOT NULL,
		price                INTEGER NOT NULL,
		quantity             INTEGER NOT NULL,
		posted               INTEGER NOT NULL DEFAULT 0,
		timestamp            INTEGER NOT NULL,
		PRIMARY KEY (aggressive_order_id, passive_order_id)
	);

	CREATE TABLE IF NOT EXISTS addresses (
		address       TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		contract      TEXT NOT NULL,
		accounted_for INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS message_outbox (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id    TEXT NOT NULL UNIQUE,
		uid           TEXT NOT NULL,
		to_username   TEXT NOT NULL,
		shard_id      INTEGER NOT NULL,
		payload       BLOB NOT NULL,
		created_at    INTEGER NOT NULL,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_status ON message_outbox(status, next_retry_at);

	CREATE TABLE IF NOT EXISTS message_inbox (
		message_id  TEXT PRIMARY KEY,
		received_at INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
