package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// UserRecord is the stored identity of an account.
type UserRecord struct {
	Email   string
	Name    string
	Picture int
	Board   int
	Coins   int
}

// StatsRecord holds the per-account game statistics.
type StatsRecord struct {
	Email        string
	Wins         int
	Losses       int
	PlaytimeMins int
}

// StatsDelta is an additive adjustment applied atomically to an account's
// coins and statistics.
type StatsDelta struct {
	PlaytimeMins int
	Coins        int
	Wins         int
	Losses       int
}

// DB represents the database connection.
type DB struct {
	*sql.DB
}

// NewDB opens the sqlite database at dbPath, creating the schema if needed.
func NewDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// createTables creates the necessary database tables.
func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			email TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			picture INTEGER NOT NULL DEFAULT 0,
			board INTEGER NOT NULL DEFAULT 0,
			coins INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(err, "creating users table")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS stats (
			user_email TEXT PRIMARY KEY,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			playtime_mins INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (user_email) REFERENCES users(email)
		)
	`)
	if err != nil {
		return errors.Wrap(err, "creating stats table")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS session_tokens (
			token TEXT PRIMARY KEY,
			user_email TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_email) REFERENCES users(email)
		)
	`)
	if err != nil {
		return errors.Wrap(err, "creating session_tokens table")
	}

	return nil
}

// GetUser returns the identity stored for email.
func (db *DB) GetUser(email string) (*UserRecord, error) {
	rec := &UserRecord{}
	err := db.QueryRow(`
		SELECT email, name, picture, board, coins FROM users WHERE email = ?
	`, email).Scan(&rec.Email, &rec.Name, &rec.Picture, &rec.Board, &rec.Coins)
	if err != nil {
		return nil, errors.Wrapf(err, "loading user %s", email)
	}
	return rec, nil
}

// GetUserByName returns the account using the given display name, or nil if
// no account does.
func (db *DB) GetUserByName(name string) (*UserRecord, error) {
	rec := &UserRecord{}
	err := db.QueryRow(`
		SELECT email, name, picture, board, coins FROM users WHERE name = ?
	`, name).Scan(&rec.Email, &rec.Name, &rec.Picture, &rec.Board, &rec.Coins)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading user named %s", name)
	}
	return rec, nil
}

// UpsertUser stores an identity. The account subsystem owns registration;
// this exists for provisioning and tests.
func (db *DB) UpsertUser(rec *UserRecord) error {
	_, err := db.Exec(`
		INSERT INTO users (email, name, picture, board, coins)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			picture = excluded.picture,
			board = excluded.board,
			coins = excluded.coins
	`, rec.Email, rec.Name, rec.Picture, rec.Board, rec.Coins)
	if err != nil {
		return errors.Wrapf(err, "upserting user %s", rec.Email)
	}

	_, err = db.Exec(`
		INSERT OR IGNORE INTO stats (user_email) VALUES (?)
	`, rec.Email)
	return errors.Wrapf(err, "seeding stats for %s", rec.Email)
}

// InsertToken registers a session token for an account.
func (db *DB) InsertToken(token, email string) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO session_tokens (token, user_email) VALUES (?, ?)
	`, token, email)
	return errors.Wrap(err, "inserting session token")
}

// EmailForToken resolves a session token to the account it was issued for.
func (db *DB) EmailForToken(token string) (string, error) {
	var email string
	err := db.QueryRow(`
		SELECT user_email FROM session_tokens WHERE token = ?
	`, token).Scan(&email)
	if err == sql.ErrNoRows {
		return "", errors.New("unknown session token")
	}
	if err != nil {
		return "", errors.Wrap(err, "resolving session token")
	}
	return email, nil
}

// GetStats returns the statistics stored for email.
func (db *DB) GetStats(email string) (*StatsRecord, error) {
	rec := &StatsRecord{Email: email}
	err := db.QueryRow(`
		SELECT wins, losses, playtime_mins FROM stats WHERE user_email = ?
	`, email).Scan(&rec.Wins, &rec.Losses, &rec.PlaytimeMins)
	if err != nil {
		return nil, errors.Wrapf(err, "loading stats for %s", email)
	}
	return rec, nil
}

// ApplyStatsDelta adds the delta onto an account's coins and statistics in a
// single transaction.
func (db *DB) ApplyStatsDelta(email string, delta StatsDelta) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning stats transaction")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR IGNORE INTO stats (user_email) VALUES (?)
	`, email)
	if err != nil {
		return errors.Wrapf(err, "seeding stats for %s", email)
	}

	_, err = tx.Exec(`
		UPDATE stats SET
			wins = wins + ?,
			losses = losses + ?,
			playtime_mins = playtime_mins + ?
		WHERE user_email = ?
	`, delta.Wins, delta.Losses, delta.PlaytimeMins, email)
	if err != nil {
		return errors.Wrapf(err, "updating stats for %s", email)
	}

	_, err = tx.Exec(`
		UPDATE users SET coins = coins + ? WHERE email = ?
	`, delta.Coins, email)
	if err != nil {
		return errors.Wrapf(err, "updating coins for %s", email)
	}

	return errors.Wrap(tx.Commit(), "committing stats transaction")
}
