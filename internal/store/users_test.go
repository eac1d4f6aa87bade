package store

import (
	"errors"
	"testing"
	"time"

	"github.com/klingon-exchange/accountant/internal/ledger"
)

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)

	u := &User{
		Username:          "alice",
		Type:              ledger.Asset,
		PermissionGroupID: "default",
		FeeGroupID:        "default",
		Locale:            "en_US",
		Email:             "alice@example.com",
		TradePermitted:    true,
		WithdrawPermitted: true,
		DepositPermitted:  true,
		CreatedAt:         time.Now(),
	}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := s.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "alice" || got.Type != ledger.Asset || !got.TradePermitted {
		t.Errorf("unexpected user: %+v", got)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUser("nobody")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdatePermissionAndFeeGroup(t *testing.T) {
	s := newTestStore(t)
	mustCreateUser(t, s, "bob")

	if err := s.UpdatePermissionGroup("bob", "vip"); err != nil {
		t.Fatalf("UpdatePermissionGroup: %v", err)
	}
	if err := s.UpdateFeeGroup("bob", "discount"); err != nil {
		t.Fatalf("UpdateFeeGroup: %v", err)
	}

	got, err := s.GetUser("bob")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.PermissionGroupID != "vip" || got.FeeGroupID != "discount" {
		t.Errorf("unexpected user after update: %+v", got)
	}
}

func TestUpdateUnknownUser(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpdatePermissionGroup("ghost", "vip"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestListUsers(t *testing.T) {
	s := newTestStore(t)
	mustCreateUser(t, s, "alice")
	mustCreateUser(t, s, "bob")

	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("expected 2 users, got %d", len(users))
	}
}

func mustCreateUser(t *testing.T, s *Store, username string) {
	t.Helper()
	u := &User{
		Username:          username,
		Type:              ledger.Asset,
		PermissionGroupID: "default",
		FeeGroupID:        "default",
		Locale:            "en_US",
		TradePermitted:    true,
		WithdrawPermitted: true,
		DepositPermitted:  true,
		CreatedAt:         time.Now(),
	}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
}
