package server

import (
	"math/rand"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/UNIZAR-30226-2021-07/backend-sub000/pkg/game"
)

// Match codes avoid ambiguous characters (no 0/O, 1/I/B/8, 2/Z) so they can
// be read aloud; 28 characters to the 4th power is roughly 614k codes.
const (
	codeAllowedChars = "ACDEFGHJKLMNPQRSTUVWXY345679"
	codeLength       = 4
)

// ManagerConfig holds the collaborators and knobs of a MatchManager.
type ManagerConfig struct {
	Log     slog.Logger
	Emitter Emitter
	DB      Database
	// Rng drives code generation and the games' shuffles. Defaults to a
	// time-seeded source.
	Rng *rand.Rand
	// StartTimeout, TurnTimeout and ResumeTimeout override the matchmaking
	// panic deadline and the per-game timers, mainly for tests.
	StartTimeout  time.Duration
	TurnTimeout   time.Duration
	ResumeTimeout time.Duration
}

// MatchManager is the global registry of matches by code, plus the public
// matchmaking queue with its panic timer. The server process owns exactly
// one and hands it to the gateway.
type MatchManager struct {
	cfg ManagerConfig
	log slog.Logger

	// mu guards the registry and the rng.
	mu      sync.RWMutex
	matches map[string]*Match
	rng     *rand.Rand

	// publicMu guards the waiting queue and the panic timer.
	publicMu    sync.Mutex
	waiting     []*User
	publicTimer *game.Timer
}

// nopEmitter drops every emission; it stands in until the gateway is wired.
type nopEmitter struct{}

func (nopEmitter) ToSession(string, string, any) {}
func (nopEmitter) ToRoom(string, string, any)    {}

// NewMatchManager creates an empty manager.
func NewMatchManager(cfg ManagerConfig) *MatchManager {
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.Emitter == nil {
		cfg.Emitter = nopEmitter{}
	}
	if cfg.Rng == nil {
		cfg.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = TimeUntilStart
	}
	return &MatchManager{
		cfg:     cfg,
		log:     cfg.Log,
		matches: make(map[string]*Match),
		rng:     cfg.Rng,
	}
}

// SetEmitter wires the gateway in after construction; the manager and the
// gateway reference each other, so one of the two is attached late. Must be
// called before any match is created.
func (mm *MatchManager) SetEmitter(e Emitter) {
	mm.mu.Lock()
	mm.cfg.Emitter = e
	mm.mu.Unlock()
}

// CreatePrivate creates and registers a private match owned by owner,
// returning its code. Users queued for a public game first have to stop
// searching.
func (mm *MatchManager) CreatePrivate(owner *User) (string, error) {
	mm.publicMu.Lock()
	queued := mm.isWaitingLocked(owner)
	mm.publicMu.Unlock()
	if queued {
		return "", game.Logicf("El usuario ya está esperando a una partida pública")
	}

	match := mm.register(func(code string) *Match {
		return newMatch(code, mm.matchConfig(false, owner, 0))
	})

	mm.log.Infof("Private match %s has been created by %s", match.Code(), owner.Name)
	return match.Code(), nil
}

// WaitForGame queues a user for public matchmaking. A full queue forms a
// game immediately; reaching the minimum arms the panic timer that will
// form an undersized game after the deadline.
func (mm *MatchManager) WaitForGame(user *User) error {
	mm.publicMu.Lock()
	defer mm.publicMu.Unlock()

	if mm.isWaitingLocked(user) {
		return game.Logicf("El usuario ya está esperando a una partida pública")
	}

	mm.waiting = append(mm.waiting, user)
	mm.log.Infof("User %s is waiting for a game", user.Name)

	if len(mm.waiting) >= game.MaxMatchUsers {
		mm.createPublicGame()
		return nil
	}
	if len(mm.waiting) == game.MinMatchUsers {
		mm.publicTimer = game.NewTimer(mm.cfg.StartTimeout, mm.matchmakingCheck)
		mm.publicTimer.Start()
	}
	return nil
}

// matchmakingCheck fires when the panic deadline expires: form an
// "emergency" public game with fewer users than the maximum, if at least the
// minimum is still queued.
func (mm *MatchManager) matchmakingCheck() {
	mm.publicMu.Lock()
	defer mm.publicMu.Unlock()

	if len(mm.waiting) >= game.MinMatchUsers {
		mm.createPublicGame()
	}
}

// StopWaiting removes a user from the public queue, cancelling the panic
// timer when the queue falls below the minimum.
func (mm *MatchManager) StopWaiting(user *User) error {
	mm.publicMu.Lock()
	defer mm.publicMu.Unlock()

	found := false
	for i, u := range mm.waiting {
		if u.Equal(user) {
			mm.waiting = append(mm.waiting[:i], mm.waiting[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return game.Logicf("No estás buscando partida")
	}
	mm.log.Infof("User %s has stopped searching", user.Name)

	if len(mm.waiting) < game.MinMatchUsers && mm.publicTimer != nil {
		mm.publicTimer.Cancel()
		mm.publicTimer = nil
	}
	return nil
}

// IsWaiting reports whether the user is queued for a public game.
func (mm *MatchManager) IsWaiting(user *User) bool {
	mm.publicMu.Lock()
	defer mm.publicMu.Unlock()
	return mm.isWaitingLocked(user)
}

func (mm *MatchManager) isWaitingLocked(user *User) bool {
	for _, u := range mm.waiting {
		if u.Equal(user) {
			return true
		}
	}
	return false
}

// createPublicGame drains up to MaxMatchUsers from the queue into a new
// public match. The drained users are notified individually (they haven't
// joined the room yet) and the match's own start-panic timer is armed.
// Assumes publicMu is held.
func (mm *MatchManager) createPublicGame() {
	if mm.publicTimer != nil {
		mm.publicTimer.Cancel()
		mm.publicTimer = nil
	}

	count := len(mm.waiting)
	if count > game.MaxMatchUsers {
		count = game.MaxMatchUsers
	}
	users := mm.waiting[:count]
	mm.waiting = append([]*User{}, mm.waiting[count:]...)

	match := mm.register(func(code string) *Match {
		return newMatch(code, mm.matchConfig(true, nil, len(users)))
	})

	for _, u := range users {
		mm.cfg.Emitter.ToSession(u.SID, EventFoundGame, CodePayload{Code: match.Code()})
	}

	mm.log.Infof("Public match %s has been created", match.Code())
	match.StartPanicTimer()
}

// GetMatch returns the match registered under code, or nil.
func (mm *MatchManager) GetMatch(code string) *Match {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.matches[code]
}

// RemoveMatch unregisters a match; unknown codes are a no-op.
func (mm *MatchManager) RemoveMatch(code string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, ok := mm.matches[code]; ok {
		mm.log.Infof("Removing %s from matches", code)
		delete(mm.matches, code)
	}
}

// register picks an unused code by rejection sampling and stores the match
// built for it, atomically with respect to other registrations.
func (mm *MatchManager) register(build func(code string) *Match) *Match {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	code := mm.genCode()
	for mm.matches[code] != nil {
		code = mm.genCode()
	}

	match := build(code)
	mm.matches[code] = match
	return match
}

// genCode draws a random code. Assumes mu is held for the rng.
func (mm *MatchManager) genCode() string {
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAllowedChars[mm.rng.Intn(len(codeAllowedChars))]
	}
	return string(code)
}

// matchConfig assembles the per-match collaborator set. Assumes mu is held
// for the rng.
func (mm *MatchManager) matchConfig(public bool, owner *User, numUsers int) matchConfig {
	return matchConfig{
		log:           mm.log,
		emit:          mm.cfg.Emitter,
		mgr:           mm,
		db:            mm.cfg.DB,
		rng:           rand.New(rand.NewSource(mm.rng.Int63())),
		startTimeout:  mm.cfg.StartTimeout,
		turnTimeout:   mm.cfg.TurnTimeout,
		resumeTimeout: mm.cfg.ResumeTimeout,
		public:        public,
		owner:         owner,
		numUsers:      numUsers,
	}
}
