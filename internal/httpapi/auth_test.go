package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func plainAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin-pass-123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := plainAdminStore()
	manager := NewAuthManager(context.Background(), testSecret, time.Hour, users)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Admin", Password: "admin-pass-123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	stored := users.users["admin"].Password
	if stored == "admin-pass-123" || !strings.HasPrefix(stored, "$2") {
		t.Fatalf("expected bcrypt hash after upgrade, got %q", stored)
	}
	if users.updates == 0 {
		t.Fatalf("expected password upgrade to be written back")
	}
}

func TestLoginRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	users := plainAdminStore()
	users.users["old"] = domain.UserAccount{Username: "old", Password: "old-pass-123", Role: domain.RoleOperator}
	manager := NewAuthManager(context.Background(), testSecret, time.Hour, users)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "nope"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "old", Password: "old-pass-123"})
	if !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected inactive account, got %v", err)
	}
}

func TestTokenRoundTripAndExpiry(t *testing.T) {
	manager := NewAuthManager(context.Background(), testSecret, time.Hour, plainAdminStore())
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin-pass-123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager(context.Background(), strings.Repeat("z", 32), time.Hour, nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	manager.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }
	expired, err := manager.sign("admin", domain.RoleAdmin, manager.now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestCreateOperatorStoresPasswordHash(t *testing.T) {
	users := plainAdminStore()
	manager := NewAuthManager(context.Background(), testSecret, time.Hour, users)

	operator, err := manager.CreateOperator(context.Background(), domain.OperatorCreateRequest{Username: " Caja01 ", Password: "caja-pass-1"})
	if err != nil {
		t.Fatalf("create operator failed: %v", err)
	}
	if operator.Username != "caja01" || operator.Role != domain.RoleOperator {
		t.Fatalf("unexpected operator %+v", operator)
	}

	saved, ok := users.users["caja01"]
	if !ok {
		t.Fatalf("expected operator to be saved")
	}
	if saved.Password == "caja-pass-1" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected operator password to be hashed, got %q", saved.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "caja01", Password: "caja-pass-1"}); err != nil {
		t.Fatalf("login with new operator failed: %v", err)
	}

	_, err = manager.CreateOperator(context.Background(), domain.OperatorCreateRequest{Username: "caja01", Password: "another-pass"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected duplicate username to be a validation error, got %v", err)
	}
	_, err = manager.CreateOperator(context.Background(), domain.OperatorCreateRequest{Username: "abc", Password: "another-pass"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected short username to be rejected, got %v", err)
	}

	operators := manager.ListOperators(context.Background())
	if len(operators) != 1 || operators[0].Username != "caja01" {
		t.Fatalf("expected only caja01 among operators, got %+v", operators)
	}
}
