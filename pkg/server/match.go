package server

import (
	"math/rand"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/UNIZAR-30226-2021-07/backend-sub000/pkg/game"
	"github.com/UNIZAR-30226-2021-07/backend-sub000/pkg/statemachine"
)

// TimeUntilStart is the panic deadline of public matchmaking: both how long
// the manager waits before forming an undersized game, and how long a formed
// public match waits for its players before starting (or cancelling) anyway.
const TimeUntilStart = 5 * time.Second

// Match lifecycle states.
const (
	MatchCreated   statemachine.State = "created"
	MatchWaiting   statemachine.State = "waiting"
	MatchRunning   statemachine.State = "running"
	MatchPaused    statemachine.State = "paused"
	MatchFinished  statemachine.State = "finished"
	MatchCancelled statemachine.State = "cancelled"
)

func newMatchStates() *statemachine.Machine {
	return statemachine.New(MatchCreated, map[statemachine.State][]statemachine.State{
		MatchCreated: {MatchWaiting},
		MatchWaiting: {MatchRunning, MatchCancelled},
		MatchRunning: {MatchPaused, MatchFinished, MatchCancelled},
		MatchPaused:  {MatchRunning, MatchFinished, MatchCancelled},
	})
}

// Emitter delivers events to connected sessions. The gateway implements it;
// matches never touch the transport directly.
type Emitter interface {
	// ToSession emits to one session by its sid.
	ToSession(sid, event string, payload any)
	// ToRoom emits once to every session joined to the match's room.
	ToRoom(code, event string, payload any)
}

// matchConfig carries the collaborators a match needs, injected by the
// manager at creation.
type matchConfig struct {
	log  slog.Logger
	emit Emitter
	mgr  *MatchManager
	db   Database
	rng  *rand.Rand

	startTimeout  time.Duration
	turnTimeout   time.Duration
	resumeTimeout time.Duration

	public   bool
	owner    *User
	numUsers int
}

// Match wraps a Game with its external-world surface: the roster of joined
// users, delivery of updates through the Emitter, reconnection snapshots,
// the stats write-back and the room lifecycle. The private variant carries
// an owner that decides when to start; the public variant is driven by the
// manager and a start-panic timer.
type Match struct {
	code string
	cfg  matchConfig
	log  slog.Logger

	state *statemachine.Machine

	// mu guards the roster and the game pointer.
	mu    sync.Mutex
	users []*User
	game  *game.Game

	// owner of a private match; may change when the owner leaves.
	owner *User

	// Public matches only: the start-panic timer and the lock that
	// arbitrates between it and user-driven start/end. The timer callback
	// uses the lockless internal variants to avoid re-entrant deadlock.
	startMu    sync.Mutex
	startTimer *game.Timer
}

func newMatch(code string, cfg matchConfig) *Match {
	m := &Match{
		code:  code,
		cfg:   cfg,
		log:   cfg.log,
		state: newMatchStates(),
		owner: cfg.owner,
	}
	if cfg.public {
		m.startTimer = game.NewTimer(cfg.startTimeout, m.startCheck)
	}
	return m
}

// Code returns the match's room code.
func (m *Match) Code() string {
	return m.code
}

// IsPublic reports the match variant.
func (m *Match) IsPublic() bool {
	return m.cfg.public
}

// Owner returns the current owner of a private match, nil for public ones.
func (m *Match) Owner() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// ExpectedUsers returns how many players matchmaking put into a public
// match.
func (m *Match) ExpectedUsers() int {
	return m.cfg.numUsers
}

// State returns the lifecycle state of the match.
func (m *Match) State() statemachine.State {
	return m.state.Current()
}

// IsStarted reports whether the game was constructed, which happens exactly
// once at start.
func (m *Match) IsStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.game != nil
}

// Game returns the running game, or nil before start.
func (m *Match) Game() *game.Game {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.game
}

// NumUsers returns the roster size.
func (m *Match) NumUsers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// Users returns a snapshot of the roster.
func (m *Match) Users() []*User {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]*User, len(m.users))
	copy(users, m.users)
	return users
}

// GetUser returns the roster entry with the given name, or nil.
func (m *Match) GetUser(name string) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Name == name {
			return u
		}
	}
	return nil
}

// AddUser appends a user to the roster. It fails once the game started, when
// the user is already seated, or when the match is full.
func (m *Match) AddUser(user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.game != nil {
		return game.Logicf("La partida ya ha empezado")
	}
	for _, u := range m.users {
		if u.Equal(user) {
			return game.Logicf("El usuario ya está en la partida")
		}
	}
	if len(m.users) >= game.MaxMatchUsers {
		return game.Logicf("La partida está llena")
	}

	m.users = append(m.users, user)
	if len(m.users) == 1 {
		if err := m.state.To(MatchWaiting); err != nil {
			m.log.Warnf("Match %s: %v", m.code, err)
		}
	}
	return nil
}

// UpdateUser replaces the roster entry matching user by account, refreshing
// the session id and display name after a reconnection.
func (m *Match) UpdateUser(user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, u := range m.users {
		if u.Equal(user) {
			m.users[i] = user
			return nil
		}
	}
	return game.Logicf("El usuario no está en la partida")
}

// RemoveUser drops a user from the roster; absent users are a no-op. In a
// started game the seat is removed (or AI-replaced) too, possibly finishing
// the game.
func (m *Match) RemoveUser(user *User) {
	m.mu.Lock()
	found := false
	for i, u := range m.users {
		if u.Equal(user) {
			m.users = append(m.users[:i], m.users[i+1:]...)
			found = true
			break
		}
	}
	g := m.game
	m.mu.Unlock()

	if !found {
		return
	}
	if g == nil {
		return
	}

	update := g.RemovePlayer(user.Name)
	if g.IsFinished() {
		m.End(true)
	} else {
		m.sendUpdate(update)
	}
}

// DelegateOwner hands a private match to its first remaining user when the
// current owner leaves. Returns the new owner, or nil if nothing changed.
func (m *Match) DelegateOwner(leaver *User) *User {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.public || m.owner == nil || !m.owner.Equal(leaver) || len(m.users) == 0 {
		return nil
	}
	m.owner = m.users[0]
	return m.owner
}

// Start transitions the match into its running state. Public matches
// serialize the transition against their panic timer.
func (m *Match) Start() error {
	if m.cfg.public {
		m.startMu.Lock()
		defer m.startMu.Unlock()
	}
	return m.start()
}

// start is the lock-free internal variant used by the panic timer.
func (m *Match) start() error {
	m.mu.Lock()
	if m.game != nil {
		m.mu.Unlock()
		return nil
	}

	users := make([]*User, len(m.users))
	copy(users, m.users)
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Name
	}

	g, err := game.NewGame(game.Config{
		Players:       names,
		TurnCallback:  m.turnPassedAuto,
		EnableAI:      m.cfg.public,
		Rng:           m.cfg.rng,
		Log:           m.log,
		TurnTimeout:   m.cfg.turnTimeout,
		ResumeTimeout: m.cfg.resumeTimeout,
	})
	if err != nil {
		m.mu.Unlock()
		return game.Logicf("Se necesitan al menos dos jugadores")
	}
	m.game = g
	m.mu.Unlock()

	if m.startTimer != nil {
		m.startTimer.Cancel()
	}
	if err := m.state.To(MatchRunning); err != nil {
		m.log.Warnf("Match %s: %v", m.code, err)
	}

	// The start notice goes out on its own; the first game_update follows
	// with the initial hands, the turn, and the per-player roster info
	// (avatars and each recipient's own board).
	m.log.Infof("Match %s has started", m.code)
	m.cfg.emit.ToRoom(m.code, EventStartGame, nil)

	update, err := g.Start()
	if err != nil {
		m.log.Errorf("Match %s failed to start its game: %v", m.code, err)
		return nil
	}
	if err := update.MergeWith(m.matchUpdate(users, g)); err != nil {
		m.log.Errorf("Match %s start update merge: %v", m.code, err)
	}
	m.sendUpdate(update)
	return nil
}

// matchUpdate builds the per-recipient roster section: every user's name and
// avatar, plus the recipient's own equipped board.
func (m *Match) matchUpdate(users []*User, g *game.Game) *game.GameUpdate {
	update := game.NewUpdate(g)
	for _, recipient := range users {
		players := make([]map[string]any, 0, len(users))
		for _, u := range users {
			data := map[string]any{
				"name":    u.Name,
				"picture": u.Picture,
			}
			if u.Equal(recipient) {
				data["board"] = u.Board
			}
			players = append(players, data)
		}
		update.Add(recipient.Name, map[string]any{"players": players})
	}
	return update
}

// CheckRejoin reports whether user may reconnect into this match: only
// private, started matches keep seats across disconnections. On success the
// returned snapshot resynchronizes the user's client from scratch.
func (m *Match) CheckRejoin(user *User) (bool, map[string]any) {
	if m.cfg.public {
		return false, nil
	}

	m.mu.Lock()
	g := m.game
	seated := false
	for _, u := range m.users {
		if u.Equal(user) {
			seated = true
			break
		}
	}
	users := make([]*User, len(m.users))
	copy(users, m.users)
	m.mu.Unlock()

	if g == nil || !seated {
		return false, nil
	}

	update := g.FullUpdate()
	if err := update.MergeWith(m.matchUpdate(users, g)); err != nil {
		m.log.Errorf("Match %s rejoin update merge: %v", m.code, err)
	}
	return true, update.Get(user.Name)
}

// RunAction proxies a player move into the game and fans out the resulting
// update. When the move finished the game, every roster user's statistics
// are written back through the persistence collaborator.
func (m *Match) RunAction(caller string, action game.Action) error {
	m.mu.Lock()
	g := m.game
	m.mu.Unlock()
	if g == nil {
		return game.Logicf("El juego no ha comenzado")
	}

	update, err := g.RunAction(caller, action)
	if err != nil {
		return err
	}
	m.sendUpdate(update)

	if msg := update.FmtMsg(caller); msg != "" {
		m.cfg.emit.ToRoom(m.code, EventChat, ChatPayload{Msg: msg, Owner: SystemChatOwner})
	}

	if g.IsFinished() {
		m.state.Force(MatchFinished)
		m.persistStats(g)
	}
	return nil
}

// SetPaused pauses or resumes the started game on behalf of a player.
func (m *Match) SetPaused(paused bool, pausedBy string) error {
	m.mu.Lock()
	g := m.game
	m.mu.Unlock()
	if g == nil {
		return game.Logicf("El juego no ha comenzado")
	}

	update, err := g.SetPaused(paused, pausedBy, m.resumePaused)
	if err != nil {
		return err
	}
	if update == nil {
		// Already in the requested state.
		return nil
	}

	next := MatchRunning
	if paused {
		next = MatchPaused
	}
	if err := m.state.To(next); err != nil {
		m.log.Warnf("Match %s: %v", m.code, err)
	}
	m.broadcastUpdate(update)
	return nil
}

// resumePaused is the pause timer callback: the pause budget ran out and the
// game resumes on behalf of whoever paused it.
func (m *Match) resumePaused() {
	m.log.Infof("Pause time expired, resuming match %s", m.code)

	m.mu.Lock()
	g := m.game
	m.mu.Unlock()
	if g == nil {
		return
	}
	if err := m.SetPaused(false, g.PausedBy()); err != nil {
		m.log.Errorf("Match %s auto-resume failed: %v", m.code, err)
	}
}

// turnPassedAuto is the game's turn callback: a turn ended automatically,
// possibly kicking an AFK user, possibly leaving too few players to go on.
func (m *Match) turnPassedAuto(update *game.GameUpdate, kicked string, finished bool) {
	if finished {
		m.log.Infof("Not enough players to continue in %s", m.code)
		m.End(true)
		return
	}

	m.sendUpdate(update)

	if kicked != "" {
		// Dropped from the roster only after the send so the replaced
		// user still sees the update that replaced them.
		m.mu.Lock()
		for i, u := range m.users {
			if u.Name == kicked {
				m.users = append(m.users[:i], m.users[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}
}

// End finishes the match, cancelling it loudly when cancel is set, and
// removes it from the manager. Public matches serialize against their panic
// timer.
func (m *Match) End(cancel bool) {
	if m.cfg.public {
		m.startMu.Lock()
		defer m.startMu.Unlock()
	}
	m.end(cancel)
}

// end is the lock-free internal variant used by the panic timer.
func (m *Match) end(cancel bool) {
	if m.startTimer != nil {
		m.startTimer.Cancel()
	}

	if cancel {
		m.log.Infof("Match %s is being cancelled", m.code)
		m.cfg.emit.ToRoom(m.code, EventGameCancelled, nil)
		m.state.Force(MatchCancelled)
	}

	m.mu.Lock()
	g := m.game
	m.mu.Unlock()
	if g != nil && !g.IsFinished() {
		// Ended from outside the game: finish it quietly, without the
		// stats write-back of a played-out game.
		g.Finish()
	}
	if !m.state.Is(MatchCancelled) {
		m.state.Force(MatchFinished)
	}

	m.cfg.mgr.RemoveMatch(m.code)
	m.log.Infof("Match %s has ended", m.code)
}

// StartPanicTimer arms the public start deadline. The manager calls it once
// the match is created and its users were notified.
func (m *Match) StartPanicTimer() {
	if m.startTimer != nil {
		m.startTimer.Start()
	}
}

// startCheck fires when the public start deadline expires: start with
// whoever showed up, or cancel the room if not even the minimum arrived.
func (m *Match) startCheck() {
	m.log.Infof("Public match %s timer triggered", m.code)

	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.IsStarted() {
		m.log.Infof("Timer skipping check; game already started")
		return
	}

	if m.NumUsers() >= game.MinMatchUsers {
		if err := m.start(); err != nil {
			m.log.Errorf("Match %s panic start failed: %v", m.code, err)
		}
	} else {
		m.end(true)
	}
}

// persistStats writes one stats delta per roster user once the game played
// out. Persistence failures are logged and don't undo the in-memory finish.
func (m *Match) persistStats(g *game.Game) {
	leaderboard := g.Leaderboard()
	mins := g.PlaytimeMins()

	for _, u := range m.Users() {
		delta := StatsDelta{PlaytimeMins: mins}
		if entry, ok := leaderboard[u.Name]; ok {
			delta.Coins = entry.Coins
			if entry.Position == 1 {
				delta.Wins = 1
			} else {
				delta.Losses = 1
			}
		} else {
			// The last survivor ranks nowhere: no coins, one loss.
			delta.Losses = 1
		}

		if err := m.cfg.db.PersistStatsDelta(u.Email, delta); err != nil {
			m.log.Errorf("Failed to persist stats for %s: %v", u.Email, err)
		}
	}
}

// sendUpdate emits the per-recipient slices of an update, skipping users
// whose slice is empty.
func (m *Match) sendUpdate(update *game.GameUpdate) {
	if update == nil {
		return
	}
	for _, u := range m.Users() {
		slice := update.Get(u.Name)
		if len(slice) == 0 {
			continue
		}
		m.cfg.emit.ToSession(u.SID, EventGameUpdate, slice)
	}
}

// broadcastUpdate emits a repeated update once to the whole room.
func (m *Match) broadcastUpdate(update *game.GameUpdate) {
	payload, err := update.GetAny()
	if err != nil {
		m.log.Errorf("Match %s broadcast of a non-repeated update: %v", m.code, err)
		return
	}
	m.cfg.emit.ToRoom(m.code, EventGameUpdate, payload)
}
