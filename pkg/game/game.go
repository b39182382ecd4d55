package game

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/UNIZAR-30226-2021-07/backend-sub000/pkg/statemachine"
)

// Tunables of the match runtime.
const (
	// MinMatchUsers is the minimum number of human players a game needs to
	// keep running.
	MinMatchUsers = 2
	// MaxMatchUsers is the maximum number of seats of a match.
	MaxMatchUsers = 6
	// MinHandCards is the hand size every player is replenished to.
	MinHandCards = 3
	// MaxAFKTurns is how many consecutive timed-out turns are tolerated
	// before an AI takeover, in matches where AI is enabled.
	MaxAFKTurns = 3

	// TimeTurnEnd is how long a player may take before the turn ends on
	// its own.
	TimeTurnEnd = 30 * time.Second
	// TimeUntilResume is how long a pause lasts before the game resumes
	// automatically.
	TimeUntilResume = 15 * time.Second
)

// BotPictureID is the avatar id shown for AI-controlled seats.
const BotPictureID = 0

// Game lifecycle states.
const (
	StateSetup    statemachine.State = "setup"
	StateRunning  statemachine.State = "running"
	StatePaused   statemachine.State = "paused"
	StateFinished statemachine.State = "finished"
)

func newGameStates() *statemachine.Machine {
	return statemachine.New(StateSetup, map[statemachine.State][]statemachine.State{
		StateSetup:   {StateRunning},
		StateRunning: {StatePaused, StateFinished},
		StatePaused:  {StateRunning, StateFinished},
	})
}

// TurnCallback delivers the update produced when the turn timer ends a turn
// on its own. kicked names a player removed by the AFK rules, if any. When
// the game ended because too few players remain, finished is true and the
// other arguments are empty.
type TurnCallback func(update *GameUpdate, kicked string, finished bool)

// LeaderboardEntry is one row of the final scoreboard. With N seats, the
// player finishing at position i earns 10*(N-i) coins.
type LeaderboardEntry struct {
	Position int `json:"position"`
	Coins    int `json:"coins"`
}

// Config holds the construction parameters of a Game.
type Config struct {
	// Players is the seat order, by user name.
	Players []string
	// TurnCallback receives updates produced by the turn timer.
	TurnCallback TurnCallback
	// EnableAI replaces AFK players with bots instead of dropping their
	// seat. Public matches enable it.
	EnableAI bool
	// Rng drives every random decision. Defaults to a time-seeded source.
	Rng *rand.Rand
	// Log defaults to a disabled logger.
	Log slog.Logger
	// TurnTimeout and ResumeTimeout override TimeTurnEnd and
	// TimeUntilResume, mainly for tests.
	TurnTimeout   time.Duration
	ResumeTimeout time.Duration
}

// Game is the pure turn-based state machine of a running match: seats,
// hands, bodies, the deck, the turn index and the two timers racing against
// user input. It performs no I/O; everything reaches the outside through
// returned GameUpdates and the turn callback.
type Game struct {
	players []*Player
	deck    *Deck
	rng     *rand.Rand
	log     slog.Logger
	state   *statemachine.Machine

	startTime time.Time
	enabledAI bool
	botsNum   int

	// turnMu guards every mutation that ends or skips a turn.
	turnMu          sync.Mutex
	turn            int
	turnNumber      int
	turnTimer       *Timer
	turnTimeout     time.Duration
	turnCallback    TurnCallback
	discarding      bool
	playersFinished int

	// pauseMu guards the pause flag and the pause timer.
	pauseMu       sync.Mutex
	pausedBy      string
	pauseTimer    *Timer
	resumeTimeout time.Duration
}

// NewGame creates a game in its setup state, one seat per user name.
func NewGame(cfg Config) (*Game, error) {
	if len(cfg.Players) < MinMatchUsers {
		return nil, fmt.Errorf("a game needs at least %d players", MinMatchUsers)
	}
	if cfg.Rng == nil {
		cfg.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.TurnTimeout == 0 {
		cfg.TurnTimeout = TimeTurnEnd
	}
	if cfg.ResumeTimeout == 0 {
		cfg.ResumeTimeout = TimeUntilResume
	}

	g := &Game{
		players:       make([]*Player, 0, len(cfg.Players)),
		rng:           cfg.Rng,
		log:           cfg.Log,
		state:         newGameStates(),
		startTime:     time.Now(),
		enabledAI:     cfg.EnableAI,
		turnCallback:  cfg.TurnCallback,
		turnTimeout:   cfg.TurnTimeout,
		resumeTimeout: cfg.ResumeTimeout,
	}
	for _, name := range cfg.Players {
		g.players = append(g.players, NewPlayer(name))
	}
	return g, nil
}

// Start shuffles the deck, deals the initial hands round-robin, picks a
// random initial turn and arms the turn timer. The returned update holds
// every player's hand and the broadcast current turn.
func (g *Game) Start() (*GameUpdate, error) {
	g.turnMu.Lock()
	defer g.turnMu.Unlock()

	if err := g.state.To(StateRunning); err != nil {
		return nil, Logicf("La partida ya ha empezado")
	}
	g.log.Infof("Setting up game")

	g.deck = NewDeck(g.rng)
	for i := 0; i < MinHandCards; i++ {
		for _, p := range g.players {
			g.drawCard(p)
		}
	}

	g.turn = g.rng.Intn(len(g.players))
	g.log.Infof("First turn is for %s", g.turnPlayer().Name)
	g.startTurnTimer()

	update := NewUpdate(g)
	g.mergeInto(update, g.currentTurnUpdate())
	g.mergeInto(update, g.handsUpdate())
	return update, nil
}

// IsFinished reports whether the game reached its terminal state.
func (g *Game) IsFinished() bool {
	return g.state.Is(StateFinished)
}

// IsPaused reports whether the game is currently paused.
func (g *Game) IsPaused() bool {
	return g.state.Is(StatePaused)
}

// Players returns the seats in order.
func (g *Game) Players() []*Player {
	return g.players
}

// CurrentTurn returns the name of the player holding the turn.
func (g *Game) CurrentTurn() string {
	g.turnMu.Lock()
	defer g.turnMu.Unlock()
	return g.turnPlayer().Name
}

// Discarding reports whether the current turn is in its discarding phase.
func (g *Game) Discarding() bool {
	g.turnMu.Lock()
	defer g.turnMu.Unlock()
	return g.discarding
}

// Deck exposes the remaining stack, for inspection by tests.
func (g *Game) Deck() *Deck {
	return g.deck
}

// RunAction runs a single player move under the turn lock. It fails if the
// game finished, is paused, or the caller doesn't hold the turn. Unless the
// move left the turn in its discarding phase, the turn ends afterwards.
func (g *Game) RunAction(caller string, action Action) (*GameUpdate, error) {
	g.turnMu.Lock()
	defer g.turnMu.Unlock()

	if g.IsFinished() {
		return nil, Logicf("El juego ya ha terminado")
	}
	if g.IsPaused() {
		return nil, Logicf("El juego está pausado")
	}
	if g.turnPlayer().Name != caller {
		return nil, Logicf("No es tu turno")
	}

	player := g.turnPlayer()
	update, err := action.Apply(player, g)
	if err != nil {
		g.log.Infof("Error running action: %v", err)
		return nil, err
	}

	if fin := g.checkVictory(player); fin != nil {
		g.mergeInto(update, fin)
	}
	if !g.discarding && !g.IsFinished() {
		g.mergeInto(update, g.endTurn())
	}

	// Acting in time clears the player's AFK strikes.
	player.AFKTurns = 0
	return update, nil
}

// SetPaused pauses or resumes the game. It is idempotent when val matches
// the current state and returns nil in that case. Only the player that
// paused may resume; a pause also arms a timer that fires resumeCallback to
// auto-resume after the pause budget runs out.
func (g *Game) SetPaused(paused bool, pausedBy string, resumeCallback func()) (*GameUpdate, error) {
	g.pauseMu.Lock()
	defer g.pauseMu.Unlock()

	if g.IsPaused() == paused {
		return nil, nil
	}
	if g.IsPaused() && g.pausedBy != pausedBy {
		return nil, Logicf("Solo el jugador que inicia la pausa puede reanudar")
	}

	if paused {
		if err := g.state.To(StatePaused); err != nil {
			return nil, Logicf("La partida no se puede pausar ahora")
		}
		if g.turnTimer != nil {
			if err := g.turnTimer.Pause(); err != nil {
				g.log.Debugf("pausing turn timer: %v", err)
			}
		}
		g.pauseTimer = NewTimer(g.resumeTimeout, resumeCallback)
		g.pauseTimer.Start()
		g.log.Infof("Game paused by %s", pausedBy)
	} else {
		if err := g.state.To(StateRunning); err != nil {
			return nil, Logicf("La partida no se puede reanudar ahora")
		}
		if g.turnTimer != nil {
			if err := g.turnTimer.Resume(); err != nil {
				g.log.Debugf("resuming turn timer: %v", err)
			}
		}
		if g.pauseTimer != nil {
			g.pauseTimer.Cancel()
		}
		g.log.Infof("Game resumed")
	}

	g.pausedBy = pausedBy
	return g.pauseUpdate(), nil
}

// PausedBy returns the name of the player holding the pause.
func (g *Game) PausedBy() string {
	g.pauseMu.Lock()
	defer g.pauseMu.Unlock()
	return g.pausedBy
}

// RemovePlayer removes a seat from the game. With AI enabled the seat keeps
// playing as a bot; otherwise the hand returns to the deck and the seat is
// dropped, advancing the turn if it was theirs. The game finishes once fewer
// than MinMatchUsers humans remain.
func (g *Game) RemovePlayer(name string) *GameUpdate {
	g.turnMu.Lock()
	defer g.turnMu.Unlock()
	return g.removePlayerLocked(name)
}

func (g *Game) removePlayerLocked(name string) *GameUpdate {
	update := NewUpdate(g)
	if g.IsFinished() {
		return update
	}

	player, err := g.player(name)
	if err != nil {
		g.log.Warnf("Removing unknown player %s", name)
		return update
	}
	g.log.Infof("Player %s is being removed", name)

	if g.enabledAI {
		player.IsAI = true
		g.botsNum++
	} else {
		idx := g.seatIndex(name)
		player.emptyHand(g.deck)
		g.players = append(g.players[:idx], g.players[idx+1:]...)

		if len(g.players) == 0 {
			g.mergeInto(update, g.finishLocked())
			return update
		}
		switch {
		case idx < g.turn:
			g.turn--
		case idx == g.turn:
			// The next seat slid into this index; settle on an
			// unfinished one.
			g.turn = g.turn % len(g.players)
			if g.turnPlayer().HasFinished() {
				g.advanceTurn()
			}
			g.mergeInto(update, g.currentTurnUpdate())
		}
	}

	remaining := len(g.players)
	if g.enabledAI {
		remaining -= g.botsNum
	}
	if remaining < MinMatchUsers {
		g.mergeInto(update, g.finishLocked())
	}

	g.mergeInto(update, g.playersUpdate())
	return update
}

// Finish forcibly ends the game. Idempotent; both timers are cancelled and
// the finish update (leaderboard, playtime) is returned.
func (g *Game) Finish() *GameUpdate {
	g.turnMu.Lock()
	defer g.turnMu.Unlock()
	return g.finishLocked()
}

func (g *Game) finishLocked() *GameUpdate {
	if !g.IsFinished() {
		g.log.Infof("Game has finished")
		g.state.Force(StateFinished)
		if g.turnTimer != nil {
			g.turnTimer.Cancel()
		}
		g.pauseMu.Lock()
		if g.pauseTimer != nil {
			g.pauseTimer.Cancel()
		}
		g.pauseMu.Unlock()
	}
	return g.finishUpdate()
}

// FullUpdate builds the composite snapshot used to resynchronize a
// reconnecting player: bodies, hands, current turn, pause state, players
// list, and the finish section when the game already ended.
func (g *Game) FullUpdate() *GameUpdate {
	g.turnMu.Lock()
	defer g.turnMu.Unlock()

	update := NewUpdate(g)
	g.mergeInto(update, g.bodiesUpdate())
	g.mergeInto(update, g.currentTurnUpdate())
	if g.IsFinished() {
		g.mergeInto(update, g.finishUpdate())
	}
	g.mergeInto(update, g.handsUpdate())
	g.mergeInto(update, g.pauseUpdate())
	g.mergeInto(update, g.playersUpdate())
	return update
}

// Leaderboard returns the final scoreboard. Seats that never finished and
// AI-replaced seats earn nothing and are absent.
func (g *Game) Leaderboard() map[string]LeaderboardEntry {
	lb := make(map[string]LeaderboardEntry)
	n := len(g.players)
	for _, p := range g.players {
		if !p.HasFinished() || p.IsAI {
			continue
		}
		lb[p.Name] = LeaderboardEntry{
			Position: p.Position,
			Coins:    10 * (n - p.Position),
		}
	}
	return lb
}

// PlaytimeMins returns how many whole minutes the game has been running.
func (g *Game) PlaytimeMins() int {
	return int(time.Since(g.startTime).Minutes())
}

// endTurn resets the discarding phase, replenishes the leaving player's
// hand, and advances to the next unfinished seat, skipping players with
// empty hands (they draw a fresh hand when skipped) and letting AI seats
// play. Assumes the turn lock is held.
func (g *Game) endTurn() *GameUpdate {
	update := NewUpdate(g)
	g.discarding = false

	for skips := 0; ; skips++ {
		if skips > 2*len(g.players) {
			// Deck and hands are exhausted, nobody can ever play
			// again.
			g.log.Warnf("No playable seats remain, finishing game")
			g.mergeInto(update, g.finishLocked())
			return update
		}

		g.log.Debugf("%s's turn has ended", g.turnPlayer().Name)
		g.turnNumber++

		current := g.turnPlayer()
		for len(current.Hand) < MinHandCards && g.deck.Len() > 0 {
			g.drawCard(current)
		}
		update.Add(current.Name, map[string]any{"hand": current.handCopy()})

		g.advanceTurn()
		g.log.Debugf("%s's turn has started", g.turnPlayer().Name)

		next := g.turnPlayer()
		if len(next.Hand) == 0 {
			g.log.Infof("%s skipped (no cards)", next.Name)
			continue
		}
		if next.IsAI {
			g.mergeInto(update, g.aiPlay(next))
			if fin := g.checkVictory(next); fin != nil {
				g.mergeInto(update, fin)
			}
			if g.IsFinished() {
				return update
			}
			continue
		}
		break
	}

	g.mergeInto(update, g.currentTurnUpdate())
	g.startTurnTimer()
	return update
}

// advanceTurn moves the turn index to the next unfinished seat, wrapping.
func (g *Game) advanceTurn() {
	for i := 0; i < len(g.players); i++ {
		g.turn = (g.turn + 1) % len(g.players)
		if !g.turnPlayer().HasFinished() {
			return
		}
	}
}

// checkVictory marks the player finished once their body is complete, and
// finishes the whole game when all seats but one are done. Returns nil when
// nothing changed.
func (g *Game) checkVictory(player *Player) *GameUpdate {
	if player.HasFinished() || !player.Body.IsComplete() {
		return nil
	}

	g.playersFinished++
	player.Position = g.playersFinished
	g.log.Infof("%s has finished at position %d", player.Name, player.Position)

	if g.playersFinished == len(g.players)-1 {
		return g.finishLocked()
	}
	return nil
}

// startTurnTimer re-arms the automatic turn-end timer. The closure captures
// the current turn number so a firing that lost the race against a manual
// action can detect it and no-op. Assumes the turn lock is held.
func (g *Game) startTurnTimer() {
	if g.turnTimer != nil {
		g.turnTimer.Cancel()
	}
	turnNumber := g.turnNumber
	g.turnTimer = NewTimer(g.turnTimeout, func() {
		g.timerEndTurn(turnNumber)
	})
	g.turnTimer.Start()
}

// timerEndTurn ends the turn on behalf of a player that ran out of time. It
// contends for the turn lock with RunAction; comparing the turn number after
// acquiring it detects the race where the turn just ended manually, in which
// case this firing is stale and does nothing. Note the comparison cannot use
// the player's name: after a round of skips the same player may hold the
// turn again.
func (g *Game) timerEndTurn(initialTurn int) {
	g.turnMu.Lock()
	defer g.turnMu.Unlock()

	if g.turnNumber != initialTurn || g.IsFinished() {
		return
	}
	// A pause may land while this firing was already in flight. This
	// firing is spent, so re-arm with a full budget; the replacement keeps
	// re-arming until the game resumes.
	if g.IsPaused() {
		g.startTurnTimer()
		return
	}

	update := NewUpdate(g)
	player := g.turnPlayer()
	player.AFKTurns++
	g.log.Infof("Turn timeout for %s (%d in a row)", player.Name, player.AFKTurns)

	kicked := ""
	if g.enabledAI && player.AFKTurns >= MaxAFKTurns {
		kicked = player.Name
		g.log.Infof("Player %s is AFK", kicked)
		g.mergeInto(update, g.removePlayerLocked(kicked))

		if g.IsFinished() {
			if g.turnCallback != nil {
				g.turnCallback(nil, "", true)
			}
			return
		}
	} else if !g.discarding && len(player.Hand) > 0 {
		// Outside the discarding phase the timeout costs the player a
		// random card; it will be redrawn when the turn ends.
		slot := g.rng.Intn(len(player.Hand))
		discardUpdate, err := Discard{Slot: slot}.Apply(player, g)
		if err != nil {
			g.log.Errorf("Auto-discard failed: %v", err)
		} else {
			g.mergeInto(update, discardUpdate)
		}
	}

	g.mergeInto(update, g.endTurn())
	if g.turnCallback != nil {
		g.turnCallback(update, kicked, false)
	}
}

func (g *Game) turnPlayer() *Player {
	return g.players[g.turn]
}

func (g *Game) drawCard(p *Player) {
	card, ok := g.deck.Draw()
	if !ok {
		return
	}
	g.log.Debugf("%s draws a card", p.Name)
	p.AddCard(card)
}

func (g *Game) seatIndex(name string) int {
	for i, p := range g.players {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (g *Game) player(name string) (*Player, error) {
	for _, p := range g.players {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, Logicf("El jugador no está en la partida")
}

func (g *Game) unfinishedPlayer(name string) (*Player, error) {
	p, err := g.player(name)
	if err != nil {
		return nil, err
	}
	if p.HasFinished() {
		return nil, Logicf("El jugador ya ha terminado")
	}
	return p, nil
}

func (g *Game) unfinishedPlayers() []*Player {
	players := make([]*Player, 0, len(g.players))
	for _, p := range g.players {
		if !p.HasFinished() {
			players = append(players, p)
		}
	}
	return players
}

// mergeInto merges src into dst, logging the merge as an internal error if
// the updates are incompatible. The game keeps running either way.
func (g *Game) mergeInto(dst, src *GameUpdate) {
	if err := dst.MergeWith(src); err != nil {
		g.log.Errorf("Update merge failed: %v", err)
	}
}

// playersUpdate broadcasts the players list, masking AI-replaced seats
// behind a bot identity.
func (g *Game) playersUpdate() *GameUpdate {
	update := NewUpdate(g)

	players := make([]map[string]any, 0, len(g.players))
	botID := 0
	for _, p := range g.players {
		if p.IsAI {
			botID++
			players = append(players, map[string]any{
				"name":    fmt.Sprintf("[BOT-%02d]", botID),
				"picture": BotPictureID,
				"is_ai":   true,
			})
		} else {
			players = append(players, map[string]any{"name": p.Name})
		}
	}

	update.Repeat(map[string]any{"players": players})
	return update
}

func (g *Game) handsUpdate() *GameUpdate {
	update := NewUpdate(g)
	update.AddForEach(func(p *Player) map[string]any {
		return map[string]any{"hand": p.handCopy()}
	})
	return update
}

func (g *Game) currentTurnUpdate() *GameUpdate {
	update := NewUpdate(g)
	update.Repeat(map[string]any{"current_turn": g.turnPlayer().Name})
	return update
}

func (g *Game) bodiesUpdate() *GameUpdate {
	update := NewUpdate(g)
	bodies := map[string]any{}
	for _, p := range g.players {
		bodies[p.Name] = p.Body.Piles()
	}
	update.Repeat(map[string]any{"bodies": bodies})
	return update
}

func (g *Game) pauseUpdate() *GameUpdate {
	update := NewUpdate(g)
	update.Repeat(map[string]any{
		"paused":    g.IsPaused(),
		"paused_by": g.pausedBy,
	})
	return update
}

func (g *Game) finishUpdate() *GameUpdate {
	update := NewUpdate(g)
	update.Repeat(map[string]any{
		"finished":      true,
		"leaderboard":   g.Leaderboard(),
		"playtime_mins": g.PlaytimeMins(),
	})
	return update
}
