package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/saji-pos/api/internal/database"
	"github.com/saji-pos/api/internal/handler"
	"golang.org/x/crypto/bcrypt"
)

// --- Mock store ---

type mockUserStore struct {
	users map[uuid.UUID]database.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[uuid.UUID]database.User)}
}

func (m *mockUserStore) ListUsers(_ context.Context) ([]database.User, error) {
	var out []database.User
	for _, u := range m.users {
		if u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockUserStore) CreateUser(_ context.Context, arg database.CreateUserParams) (database.User, error) {
	for _, u := range m.users {
		if u.Username == arg.Username {
			return database.User{}, &pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"}
		}
	}
	u := database.User{
		ID:             uuid.New(),
		Username:       arg.Username,
		HashedPassword: arg.HashedPassword,
		FullName:       arg.FullName,
		Role:           arg.Role,
		Pin:            arg.Pin,
		IsActive:       true,
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *mockUserStore) UpdateUser(_ context.Context, arg database.UpdateUserParams) (database.User, error) {
	u, ok := m.users[arg.ID]
	if !ok {
		return database.User{}, pgx.ErrNoRows
	}
	u.FullName = arg.FullName
	u.Role = arg.Role
	u.Pin = arg.Pin
	m.users[arg.ID] = u
	return u, nil
}

func (m *mockUserStore) DeactivateUser(_ context.Context, id uuid.UUID) error {
	if u, ok := m.users[id]; ok {
		u.IsActive = false
		m.users[id] = u
	}
	return nil
}

func setupUserRouter(store *mockUserStore) *chi.Mux {
	h := handler.NewUserHandler(store)
	r := chi.NewRouter()
	r.Route("/users", h.RegisterRoutes)
	return r
}

// --- Tests ---

func TestCreateUser(t *testing.T) {
	store := newMockUserStore()
	r := setupUserRouter(store)

	rr := postJSON(t, r, "/users", map[string]string{
		"username":  "budi",
		"password":  "rahasia123",
		"full_name": "Budi Santoso",
		"role":      "KITCHEN",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["username"] != "budi" {
		t.Errorf("unexpected username %v", resp["username"])
	}
	if resp["role"] != "KITCHEN" {
		t.Errorf("unexpected role %v", resp["role"])
	}
	if _, ok := resp["hashed_password"]; ok {
		t.Error("hashed password must not be exposed")
	}

	// Stored password is a bcrypt hash of the submitted one.
	var stored database.User
	for _, u := range store.users {
		stored = u
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.HashedPassword), []byte("rahasia123")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	store := newMockUserStore()
	r := setupUserRouter(store)

	body := map[string]string{
		"username":  "budi",
		"password":  "rahasia123",
		"full_name": "Budi Santoso",
		"role":      "CASHIER",
	}
	if rr := postJSON(t, r, "/users", body); rr.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d", rr.Code)
	}
	if rr := postJSON(t, r, "/users", body); rr.Code != http.StatusConflict {
		t.Fatalf("second create: expected 409, got %d", rr.Code)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	r := setupUserRouter(newMockUserStore())

	cases := []struct {
		name string
		body map[string]string
	}{
		{"missing password", map[string]string{"username": "budi", "full_name": "Budi", "role": "CASHIER"}},
		{"invalid role", map[string]string{"username": "budi", "password": "x", "full_name": "Budi", "role": "SUPERADMIN"}},
		{"short pin", map[string]string{"username": "budi", "password": "x", "full_name": "Budi", "role": "CASHIER", "pin": "12"}},
		{"non-digit pin", map[string]string{"username": "budi", "password": "x", "full_name": "Budi", "role": "CASHIER", "pin": "12ab"}},
	}
	for _, tc := range cases {
		rr := postJSON(t, r, "/users", tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, rr.Code)
		}
	}
}

func TestUpdateUser(t *testing.T) {
	store := newMockUserStore()
	u, _ := store.CreateUser(context.Background(), database.CreateUserParams{
		Username:       "budi",
		HashedPassword: "x",
		FullName:       "Budi Santoso",
		Role:           database.UserRoleCASHIER,
	})
	r := setupUserRouter(store)

	rr := authedRequest(t, r, "PUT", "/users/"+u.ID.String(), map[string]string{
		"full_name": "Budi S.",
		"role":      "ADMIN",
		"pin":       "5678",
	}, uuid.New(), "ADMIN")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["full_name"] != "Budi S." {
		t.Errorf("unexpected full_name %v", resp["full_name"])
	}
	if resp["role"] != "ADMIN" {
		t.Errorf("unexpected role %v", resp["role"])
	}
}

func TestUpdateUser_NotFound(t *testing.T) {
	r := setupUserRouter(newMockUserStore())
	rr := authedRequest(t, r, "PUT", "/users/"+uuid.New().String(), map[string]string{
		"full_name": "Nobody",
		"role":      "CASHIER",
	}, uuid.New(), "ADMIN")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestDeleteUser_HiddenFromList(t *testing.T) {
	store := newMockUserStore()
	u, _ := store.CreateUser(context.Background(), database.CreateUserParams{
		Username:       "budi",
		HashedPassword: "x",
		FullName:       "Budi Santoso",
		Role:           database.UserRoleCASHIER,
	})
	r := setupUserRouter(store)

	rr := authedRequest(t, r, "DELETE", "/users/"+u.ID.String(), nil, uuid.New(), "ADMIN")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	rr = get(t, r, "/users")
	var users []map[string]interface{}
	if err := jsonDecode(rr, &users); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected deactivated user hidden, got %d", len(users))
	}
}
