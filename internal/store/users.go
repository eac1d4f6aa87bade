package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/accountant/internal/ledger"
)

// ErrUserNotFound is returned when a username has no row.
var ErrUserNotFound = errors.New("no such user")

// User is the accountant's view of an exchange user.
type User struct {
	Username          string
	Type              ledger.UserType
	PermissionGroupID string
	FeeGroupID        string
	Locale            string
	Email             string
	Nickname          string
	TradePermitted    bool
	WithdrawPermitted bool
	DepositPermitted  bool
	CreatedAt         time.Time
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO users (username, user_type, permission_group_id, fee_group_id,
			locale, email, nickname, trade_permitted, withdraw_permitted, deposit_permitted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.Username, string(u.Type), u.PermissionGroupID, u.FeeGroupID, u.Locale, u.Email, u.Nickname,
		boolToInt(u.TradePermitted), boolToInt(u.WithdrawPermitted), boolToInt(u.DepositPermitted), u.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by username.
func (s *Store) GetUser(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u User
	var userType string
	var trade, withdraw, deposit int
	var createdAt int64

	err := s.db.QueryRow(`
		SELECT username, user_type, permission_group_id, fee_group_id, locale, email, nickname,
			trade_permitted, withdraw_permitted, deposit_permitted, created_at
		FROM users WHERE username = ?
	`, username).Scan(&u.Username, &userType, &u.PermissionGroupID, &u.FeeGroupID, &u.Locale,
		&u.Email, &u.Nickname, &trade, &withdraw, &deposit, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.Type = ledger.UserType(userType)
	u.TradePermitted = trade == 1
	u.WithdrawPermitted = withdraw == 1
	u.DepositPermitted = deposit == 1
	u.CreatedAt = time.Unix(createdAt, 0)

	return &u, nil
}

// UpdatePermissionGroup changes a user's permission group id.
func (s *Store) UpdatePermissionGroup(username, groupID string) error {
	return s.updateUserField(username, "permission_group_id", groupID)
}

// UpdateFeeGroup changes a user's fee group id.
func (s *Store) UpdateFeeGroup(username, groupID string) error {
	return s.updateUserField(username, "fee_group_id", groupID)
}

// SetPermissions overwrites a user's cached trade/withdraw/deposit flags,
// used by ChangePermissionGroup to sync them to the new group's defaults.
func (s *Store) SetPermissions(username string, trade, withdraw, deposit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE users SET trade_permitted = ?, withdraw_permitted = ?, deposit_permitted = ?
		WHERE username = ?
	`, boolToInt(trade), boolToInt(withdraw), boolToInt(deposit), username)
	if err != nil {
		return fmt.Errorf("failed to update permissions: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Store) updateUserField(username, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(fmt.Sprintf("UPDATE users SET %s = ? WHERE username = ?", field), value, username)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListUsers returns every local user, used by get_my_users / startup repair.
func (s *Store) ListUsers() ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT username, user_type, permission_group_id, fee_group_id, locale, email, nickname,
			trade_permitted, withdraw_permitted, deposit_permitted, created_at
		FROM users
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		var userType string
		var trade, withdraw, deposit int
		var createdAt int64
		if err := rows.Scan(&u.Username, &userType, &u.PermissionGroupID, &u.FeeGroupID, &u.Locale,
			&u.Email, &u.Nickname, &trade, &withdraw, &deposit, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Type = ledger.UserType(userType)
		u.TradePermitted = trade == 1
		u.WithdrawPermitted = withdraw == 1
		u.DepositPermitted = deposit == 1
		u.CreatedAt = time.Unix(createdAt, 0)
		users = append(users, &u)
	}
	return users, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
