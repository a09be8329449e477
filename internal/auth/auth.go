// Package auth is the concrete credential verifier spec.md treats as an
// external collaborator: it maps (username, password_hash) to (user_id,
// is_admin) and mints opaque session tokens. Grounded in the original
// hub's Authentication module: an `auth` table seeded with one admin user
// on first run, and an in-memory session map keyed by token.
package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rycus86/intellihomehub/internal/store"
)

// ErrInvalidCredentials reports an authentication failure.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrUsernameTaken reports a create/edit collision on username.
var ErrUsernameTaken = errors.New("auth: username already in use")

const table = "auth"
const createStmt = `CREATE TABLE auth (
	uid INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT,
	password TEXT,
	administrator INTEGER
)`

// Session is an authenticated client's token (spec §3).
type Session struct {
	ID      string
	UserID  int64
	IsAdmin bool
}

// User is one row of the auth table (spec §4.7, LIST_USERS).
type User struct {
	UID       int64
	Username  string
	IsAdmin   bool
}

// Service is the credential verifier and session minter.
type Service struct {
	store *store.Store

	mu       sync.RWMutex
	sessions map[string]Session
}

// New wires a Service to its backing store, creating the auth table and
// seeding a default admin user (admin / md5("admin")) if the table is
// empty of administrators — matching the original exactly.
func New(ctx context.Context, st *store.Store) (*Service, error) {
	if err := st.EnsureTable(ctx, table, createStmt); err != nil {
		return nil, fmt.Errorf("auth: ensure table: %w", err)
	}
	s := &Service{store: st, sessions: make(map[string]Session)}

	err := st.WithWriter(ctx, func(ctx context.Context) error {
		row := st.QueryRow(ctx, "SELECT username FROM auth WHERE administrator = 1")
		var existing string
		if err := row.Scan(&existing); err == nil {
			return nil
		}
		hash := HashPassword("admin")
		_, err := st.Exec(ctx, "INSERT INTO auth (username, password, administrator) VALUES (?, ?, 1)", "admin", hash)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("auth: seed admin user: %w", err)
	}
	return s, nil
}

// HashPassword renders the md5 hex digest the wire protocol expects
// (spec §6: "passwords are stored and compared as ... client-supplied hex
// hash; the core does not hash" — this helper exists for seeding/tests,
// not for re-hashing client-supplied values).
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Authenticate verifies (username, passwordHash) and, on success, mints a
// new session token.
func (s *Service) Authenticate(ctx context.Context, username, passwordHash string) (Session, error) {
	row := s.store.QueryRow(ctx,
		"SELECT uid, administrator FROM auth WHERE username = ? AND password = ?",
		strings.ToLower(username), passwordHash)

	var uid int64
	var isAdmin bool
	if err := row.Scan(&uid, &isAdmin); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	session := Session{ID: newToken(), UserID: uid, IsAdmin: isAdmin}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session, nil
}

// newToken mints a 32-hex-char token with no dashes, matching the
// original's uuid4().get_hex().
func newToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GetSession resolves a previously minted session token.
func (s *Service) GetSession(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// ListUsers returns every user ordered administrators-first, then username.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.store.Query(ctx, "SELECT uid, username, administrator FROM auth ORDER BY administrator DESC, username ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UID, &u.Username, &u.IsAdmin); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateUser inserts a new non-admin user. Returns ErrUsernameTaken if the
// lowercased username already exists.
func (s *Service) CreateUser(ctx context.Context, username, passwordHash string) error {
	username = strings.ToLower(username)
	return s.store.WithWriter(ctx, func(ctx context.Context) error {
		var existing int64
		err := s.store.QueryRow(ctx, "SELECT uid FROM auth WHERE username = ?", username).Scan(&existing)
		if err == nil {
			return ErrUsernameTaken
		}
		_, err = s.store.Exec(ctx, "INSERT INTO auth (username, password, administrator) VALUES (?, ?, 0)", username, passwordHash)
		return err
	})
}

// EditUser updates an existing user's credentials, unless the new username
// collides with a different user.
func (s *Service) EditUser(ctx context.Context, uid int64, username, passwordHash string) error {
	username = strings.ToLower(username)
	return s.store.WithWriter(ctx, func(ctx context.Context) error {
		var existingUID int64
		err := s.store.QueryRow(ctx, "SELECT uid FROM auth WHERE username = ?", username).Scan(&existingUID)
		if err == nil && existingUID != uid {
			return ErrUsernameTaken
		}
		_, err = s.store.Exec(ctx, "UPDATE auth SET username = ?, password = ? WHERE uid = ?", username, passwordHash, uid)
		return err
	})
}

// DeleteUser removes a user row.
func (s *Service) DeleteUser(ctx context.Context, uid int64) error {
	return s.store.WithWriter(ctx, func(ctx context.Context) error {
		_, err := s.store.Exec(ctx, "DELETE FROM auth WHERE uid = ?", uid)
		return err
	})
}
