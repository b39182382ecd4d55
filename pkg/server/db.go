package server

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/UNIZAR-30226-2021-07/backend-sub000/pkg/server/internal/db"
)

// StatsDelta is the per-player adjustment persisted once per finished game.
type StatsDelta struct {
	PlaytimeMins int
	Coins        int
	Wins         int
	Losses       int
}

// Database is the persistence collaborator consumed by the match runtime.
// The account subsystem owns the data; the runtime only reads identities and
// writes one stats delta per player when a game finishes.
type Database interface {
	// LoadUser returns the identity stored for an account.
	LoadUser(email string) (*User, error)
	// UserByName returns the account using the given display name, or nil.
	UserByName(name string) (*User, error)
	// PersistStatsDelta accumulates playtime, coins and win/loss counters
	// onto an account.
	PersistStatsDelta(email string, delta StatsDelta) error

	// Close closes the database connection.
	Close() error
}

// Auth validates the session tokens presented by incoming socket
// connections.
type Auth interface {
	// VerifyToken resolves a session token to the account email it was
	// issued for.
	VerifyToken(token string) (string, error)
}

// Store is the combined collaborator handed to the gateway.
type Store interface {
	Database
	Auth
}

// NewDatabase opens (creating if needed) the sqlite store at dbPath.
func NewDatabase(dbPath string) (Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}

	sqldb, err := db.NewDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: sqldb}, nil
}

// sqlStore adapts the internal sqlite layer to the runtime's User type.
type sqlStore struct {
	db *db.DB
}

func (s *sqlStore) LoadUser(email string) (*User, error) {
	rec, err := s.db.GetUser(email)
	if err != nil {
		return nil, err
	}
	return userFromRecord(rec), nil
}

func (s *sqlStore) UserByName(name string) (*User, error) {
	rec, err := s.db.GetUserByName(name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return userFromRecord(rec), nil
}

func (s *sqlStore) PersistStatsDelta(email string, delta StatsDelta) error {
	return s.db.ApplyStatsDelta(email, db.StatsDelta{
		PlaytimeMins: delta.PlaytimeMins,
		Coins:        delta.Coins,
		Wins:         delta.Wins,
		Losses:       delta.Losses,
	})
}

func (s *sqlStore) VerifyToken(token string) (string, error) {
	return s.db.EmailForToken(token)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func userFromRecord(rec *db.UserRecord) *User {
	return &User{
		Email:   rec.Email,
		Name:    rec.Name,
		Picture: rec.Picture,
		Board:   rec.Board,
		Coins:   rec.Coins,
	}
}
