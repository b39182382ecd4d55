package server

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// emission is one recorded Emitter call.
type emission struct {
	target  string
	room    bool
	event   string
	payload any
}

// fakeEmitter records every emission for inspection.
type fakeEmitter struct {
	mu        sync.Mutex
	emissions []emission
}

func (f *fakeEmitter) ToSession(sid, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emissions = append(f.emissions, emission{target: sid, event: event, payload: payload})
}

func (f *fakeEmitter) ToRoom(code, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emissions = append(f.emissions, emission{target: code, room: true, event: event, payload: payload})
}

func (f *fakeEmitter) ofEvent(event string) []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emission
	for _, e := range f.emissions {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeStore is an in-memory Store recording the stats write-backs.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*User
	tokens map[string]string
	deltas map[string][]StatsDelta
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*User),
		tokens: make(map[string]string),
		deltas: make(map[string][]StatsDelta),
	}
}

func (f *fakeStore) addUser(u *User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.Email] = u
}

func (f *fakeStore) LoadUser(email string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return nil, errors.Errorf("unknown user %s", email)
	}
	clone := *u
	return &clone, nil
}

func (f *fakeStore) UserByName(name string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Name == name {
			clone := *u
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) PersistStatsDelta(email string, delta StatsDelta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas[email] = append(f.deltas[email], delta)
	return nil
}

func (f *fakeStore) VerifyToken(token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.tokens[token]
	if !ok {
		return "", errors.New("unknown session token")
	}
	return email, nil
}

func (f *fakeStore) Close() error { return nil }

func testUser(i int) *User {
	return &User{
		Email: fmt.Sprintf("user%d@test.com", i),
		Name:  fmt.Sprintf("user%d", i),
		SID:   fmt.Sprintf("sid-%d", i),
	}
}

// newTestManager builds a manager with short matchmaking deadlines and turn
// timers that never fire on their own.
func newTestManager(emit Emitter, db Database) *MatchManager {
	return NewMatchManager(ManagerConfig{
		Emitter:       emit,
		DB:            db,
		Rng:           rand.New(rand.NewSource(42)),
		StartTimeout:  40 * time.Millisecond,
		TurnTimeout:   time.Hour,
		ResumeTimeout: time.Hour,
	})
}
