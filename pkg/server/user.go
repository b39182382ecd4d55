package server

// User is the read-mostly identity of an account as the match runtime sees
// it. Accounts themselves (registration, passwords, the shop) live in an
// external subsystem; here a user is loaded once per connection and carries
// an ephemeral socket session id while connected.
type User struct {
	// Email is the unique account key.
	Email string
	// Name is the display name, frozen into the game at join time.
	Name string
	// Picture and Board are the cosmetic asset ids the user equipped.
	Picture int
	Board   int
	// Coins is the soft currency balance.
	Coins int
	// SID is the socket session id, set only while connected and refreshed
	// on reconnection.
	SID string
}

// Equal compares users by their account key.
func (u *User) Equal(other *User) bool {
	return other != nil && u.Email == other.Email
}
