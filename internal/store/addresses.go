package store

import (
	"database/sql"
	"fmt"
)

// AddressAccounting tracks, per deposit address, how much of the address's
// balance has already been credited to the owning user — the "accounted
// for" bookkeeping spec.md 4.8.2's deposit_cash needs to turn a wallet's
// running balance into an incremental deposit amount.
type AddressAccounting struct {
	Address      string
	Username     string
	Contract     string
	AccountedFor int64
}

// GetAddressAccounting reads the accounted_for counter for an address,
// creating a zeroed row on first reference.
func (s *Store) GetAddressAccounting(address, username, contract string) (*AddressAccounting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var a AddressAccounting
	err := s.db.QueryRow(`SELECT address, username, contract, accounted_for FROM addresses WHERE address = ?`, address).
		Scan(&a.Address, &a.Username, &a.Contract, &a.AccountedFor)
	if err == nil {
		return &a, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	_, err = s.db.Exec(`INSERT INTO addresses (address, username, contract, accounted_for) VALUES (?, ?, ?, 0)`,
		address, username, contract)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return &AddressAccounting{Address: address, Username: username, Contract: contract}, nil
}

// SetAccountedFor replaces the accounted_for counter (used when total=true).
func (s *Store) SetAccountedFor(address string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE addresses SET accounted_for = ? WHERE address = ?`, value, address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// AddAccountedFor increments the accounted_for counter (used when
// total=false), creating the row on first reference to this address so an
// increment on a never-before-seen address isn't silently dropped.
func (s *Store) AddAccountedFor(address, username, contract string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO addresses (address, username, contract, accounted_for) VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET accounted_for = accounted_for + excluded.accounted_for
	`, address, username, contract, delta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
