package store

import (
	"fmt"
	"time"
)

// Trade is identified by the pair of orders it matched, persisted by the
// shard owning the aggressive side.
type Trade struct {
	AggressiveOrderID int64
	PassiveOrderID    int64
	Price             int64
	Quantity          int64
	Posted            bool
	Timestamp         time.Time
}

// CreateTrade inserts an unposted trade row.
func (s *Store) CreateTrade(t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO trades (aggressive_order_id, passive_order_id, price, quantity, posted, timestamp)
		VALUES (?, ?, ?, ?, 0, ?)
	`, t.AggressiveOrderID, t.PassiveOrderID, t.Price, t.Quantity, t.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// MarkTradePosted flips the posted flag once PostOrFail has confirmed the
// trade's postings were acknowledged by the ledger.
func (s *Store) MarkTradePosted(aggressiveOrderID, passiveOrderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE trades SET posted = 1 WHERE aggressive_order_id = ? AND passive_order_id = ?
	`, aggressiveOrderID, passiveOrderID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: trade (%d,%d) not found", ErrStorage, aggressiveOrderID, passiveOrderID)
	}
	return nil
}
