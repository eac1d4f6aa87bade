package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrStorage wraps any persistence fault surfaced by the position store, per
// spec.md 4.2 ("Fails with StorageError on any persistence fault").
var ErrStorage = errors.New("storage_error")

// Position is the accountant's row for one (username, contract) pair.
type Position struct {
	Username           string
	Contract           string
	Position           int64
	ReferencePrice     *int64
	PendingPostings    int64
	PositionCheckpoint int64
	CPTimestamp        time.Time
}

// GetOrCreatePosition returns the existing row for (username, contract),
// or materializes a new zeroed one. If refPrice is non-nil and the
// existing row has no reference price, it is set.
func (s *Store) GetOrCreatePosition(username, contract string, refPrice *int64) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getPositionLocked(username, contract)
	if err == nil {
		if refPrice != nil && p.ReferencePrice == nil {
			if _, err := s.db.Exec(`UPDATE positions SET reference_price = ? WHERE username = ? AND contract = ?`,
				*refPrice, username, contract); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStorage, err)
			}
			p.ReferencePrice = refPrice
		}
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	now := time.Now()
	_, err = s.db.Exec(`
		INSERT INTO positions (username, contract, position, reference_price, pending_postings, position_checkpoint, cp_timestamp)
		VALUES (?, ?, 0, ?, 0, 0, ?)
	`, username, contract, refPrice, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return &Position{Username: username, Contract: contract, ReferencePrice: refPrice, CPTimestamp: now}, nil
}

func (s *Store) getPositionLocked(username, contract string) (*Position, error) {
	var p Position
	var refPrice sql.NullInt64
	var cpTimestamp int64

	err := s.db.QueryRow(`
		SELECT username, contract, position, reference_price, pending_postings, position_checkpoint, cp_timestamp
		FROM positions WHERE username = ? AND contract = ?
	`, username, contract).Scan(&p.Username, &p.Contract, &p.Position, &refPrice, &p.PendingPostings, &p.PositionCheckpoint, &cpTimestamp)
	if err != nil {
		return nil, err
	}
	if refPrice.Valid {
		v := refPrice.Int64
		p.ReferencePrice = &v
	}
	p.CPTimestamp = time.Unix(cpTimestamp, 0)
	return &p, nil
}

// GetPosition reads a position without creating it; returns sql.ErrNoRows
// wrapped as nil, nil when absent so callers can default to zero.
func (s *Store) GetPosition(username, contract string) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.getPositionLocked(username, contract)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return p, nil
}

// ListPositions returns every position row for a user.
func (s *Store) ListPositions(username string) ([]*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT username, contract, position, reference_price, pending_postings, position_checkpoint, cp_timestamp
		FROM positions WHERE username = ?
	`, username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		var p Position
		var refPrice sql.NullInt64
		var cpTimestamp int64
		if err := rows.Scan(&p.Username, &p.Contract, &p.Position, &refPrice, &p.PendingPostings, &p.PositionCheckpoint, &cpTimestamp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if refPrice.Valid {
			v := refPrice.Int64
			p.ReferencePrice = &v
		}
		p.CPTimestamp = time.Unix(cpTimestamp, 0)
		out = append(out, &p)
	}
	return out, nil
}

// BumpPending applies delta to pending_postings for one position,
// creating the row first if necessary. It never allows pending_postings to
// go negative (testable property 2).
func (s *Store) BumpPending(username, contract string, delta int64) error {
	if _, err := s.GetOrCreatePosition(username, contract, nil); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE positions SET pending_postings = pending_postings + ?
		WHERE username = ? AND contract = ? AND pending_postings + ? >= 0
	`, delta, username, contract, delta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: pending_postings would go negative for %s/%s", ErrStorage, username, contract)
	}
	return nil
}

// ApplyDelta applies a confirmed journal entry's position delta.
func (s *Store) ApplyDelta(username, contract string, signedQuantity int64) error {
	if _, err := s.GetOrCreatePosition(username, contract, nil); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE positions SET position = position + ? WHERE username = ? AND contract = ?`,
		signedQuantity, username, contract)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// SetReferencePrice updates a futures position's mark price.
func (s *Store) SetReferencePrice(username, contract string, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE positions SET reference_price = ? WHERE username = ? AND contract = ?`,
		price, username, contract)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// SetCheckpoint rewrites a position's reconciled value and checkpoint
// after a canonical-position replay (repair path).
func (s *Store) SetCheckpoint(username, contract string, value int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE positions SET position = ?, position_checkpoint = ?, cp_timestamp = ?, pending_postings = 0
		WHERE username = ? AND contract = ?
	`, value, value, at.Unix(), username, contract)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// ResetPendingToZero force-resets pending_postings to 0, used by
// repair_user_position after a crash.
func (s *Store) ResetPendingToZero(username, contract string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE positions SET pending_postings = 0 WHERE username = ? AND contract = ?`, username, contract)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
