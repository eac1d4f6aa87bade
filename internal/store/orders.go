package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/accountant/internal/margin"
)

// ErrOrderNotFound is returned when an order id has no row.
var ErrOrderNotFound = errors.New("no_order_found")

// Order is the accountant's persisted view of an order, mirroring
// spec.md's state machine: created -> accepted -> dispatched -> cancelled|exhausted.
type Order struct {
	ID           int64
	Username     string
	Contract     string
	Side         margin.Side
	Price        int64
	Quantity     int64
	QuantityLeft int64
	Accepted     bool
	Dispatched   bool
	IsCancelled  bool
	Timestamp    time.Time
}

// CreateOrder inserts a new, not-yet-accepted order and returns its id.
func (s *Store) CreateOrder(o *Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO orders (username, contract, side, price, quantity, quantity_left, accepted, dispatched, is_cancelled, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?)
	`, o.Username, o.Contract, string(o.Side), o.Price, o.Quantity, o.Quantity, o.Timestamp.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return res.LastInsertId()
}

// GetOrder retrieves an order by id.
func (s *Store) GetOrder(id int64) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getOrderLocked(id)
}

func (s *Store) getOrderLocked(id int64) (*Order, error) {
	var o Order
	var side string
	var accepted, dispatched, cancelled int
	var ts int64

	err := s.db.QueryRow(`
		SELECT id, username, contract, side, price, quantity, quantity_left, accepted, dispatched, is_cancelled, timestamp
		FROM orders WHERE id = ?
	`, id).Scan(&o.ID, &o.Username, &o.Contract, &side, &o.Price, &o.Quantity, &o.QuantityLeft,
		&accepted, &dispatched, &cancelled, &ts)

	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	o.Side = margin.Side(side)
	o.Accepted = accepted == 1
	o.Dispatched = dispatched == 1
	o.IsCancelled = cancelled == 1
	o.Timestamp = time.Unix(ts, 0)
	return &o, nil
}

// SetAccepted marks an order accepted.
func (s *Store) SetAccepted(id int64, accepted bool) error {
	return s.updateOrderBool(id, "accepted", accepted)
}

// SetDispatched marks an order dispatched to the engine.
func (s *Store) SetDispatched(id int64, dispatched bool) error {
	return s.updateOrderBool(id, "dispatched", dispatched)
}

// SetCancelled marks an order cancelled.
func (s *Store) SetCancelled(id int64) error {
	return s.updateOrderBool(id, "is_cancelled", true)
}

func (s *Store) updateOrderBool(id int64, field string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(fmt.Sprintf("UPDATE orders SET %s = ? WHERE id = ?", field), boolToInt(value), id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// DeleteOrder removes an order row outright, used when admission fails.
func (s *Store) DeleteOrder(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM orders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ReduceQuantityLeft subtracts a filled quantity from an order.
func (s *Store) ReduceQuantityLeft(id int64, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE orders SET quantity_left = quantity_left - ? WHERE id = ? AND quantity_left >= ?
	`, quantity, id, quantity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: order %d quantity_left underflow", ErrStorage, id)
	}
	return nil
}

// OpenOrdersForContract returns every non-cancelled, non-exhausted order on
// a ticker, owned by local users — used by clearing to cancel them.
func (s *Store) OpenOrdersForContract(contract string) ([]*Order, error) {
	return s.queryOrders(`
		SELECT id, username, contract, side, price, quantity, quantity_left, accepted, dispatched, is_cancelled, timestamp
		FROM orders WHERE contract = ? AND is_cancelled = 0 AND quantity_left > 0
	`, contract)
}

// OpenOrdersForUser returns every open order belonging to a user.
func (s *Store) OpenOrdersForUser(username string) ([]*Order, error) {
	return s.queryOrders(`
		SELECT id, username, contract, side, price, quantity, quantity_left, accepted, dispatched, is_cancelled, timestamp
		FROM orders WHERE username = ? AND is_cancelled = 0 AND quantity_left > 0
	`, username)
}

func (s *Store) queryOrders(query string, arg string) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		var side string
		var accepted, dispatched, cancelled int
		var ts int64
		if err := rows.Scan(&o.ID, &o.Username, &o.Contract, &side, &o.Price, &o.Quantity, &o.QuantityLeft,
			&accepted, &dispatched, &cancelled, &ts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		o.Side = margin.Side(side)
		o.Accepted = accepted == 1
		o.Dispatched = dispatched == 1
		o.IsCancelled = cancelled == 1
		o.Timestamp = time.Unix(ts, 0)
		orders = append(orders, &o)
	}
	return orders, nil
}
