package server

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/UNIZAR-30226-2021-07/backend-sub000/pkg/game"
)

// MaxChatMsgLen bounds chat messages after trimming.
const MaxChatMsgLen = 240

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 45 * time.Second
	maxFrameSize = 4096
	egressBuffer = 32
)

// Gateway is the socket front of the match runtime. It authenticates
// incoming connections, binds each session to at most one match, translates
// events into manager/match calls, and fans match emissions back out to
// sessions and rooms (it is the Emitter the matches use).
type Gateway struct {
	log   slog.Logger
	store Store
	mgr   *MatchManager

	upgrader websocket.Upgrader

	// mu guards the session and room registries.
	mu       sync.RWMutex
	sessions map[string]*session
	rooms    map[string]map[string]*session
}

// session is the per-connection state: the authenticated user plus the code
// of the match the session is bound to, if any.
type session struct {
	sid  string
	user *User
	conn *websocket.Conn

	egress    chan outMessage
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	matchCode string
}

func (s *session) code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchCode
}

func (s *session) setCode(code string) {
	s.mu.Lock()
	s.matchCode = code
	s.mu.Unlock()
}

// send enqueues a frame for the write pump, dropping it if the session is
// closing or its egress buffer is full.
func (s *session) send(msg outMessage) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.egress <- msg:
	default:
	}
}

func (s *session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// NewGateway creates the gateway. origins restricts websocket upgrades to
// the given Origin headers; empty allows any.
func NewGateway(log slog.Logger, store Store, mgr *MatchManager, origins []string) *Gateway {
	if log == nil {
		log = slog.Disabled
	}
	gw := &Gateway{
		log:      log,
		store:    store,
		mgr:      mgr,
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]*session),
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(origins) > 0 {
		gw.upgrader.CheckOrigin = func(r *http.Request) bool {
			return slices.Contains(origins, r.Header.Get("Origin"))
		}
	}
	return gw
}

// ServeHTTP upgrades an authenticated connection into a session. The session
// token travels in the token query parameter and is resolved through the
// auth collaborator; invalid tokens refuse the connection before any frame.
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	email, err := gw.store.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}
	user, err := gw.store.LoadUser(email)
	if err != nil {
		gw.log.Errorf("Loading user %s: %v", email, err)
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}

	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}

	sid := uuid.NewString()
	user.SID = sid
	sess := &session{
		sid:    sid,
		user:   user,
		conn:   conn,
		egress: make(chan outMessage, egressBuffer),
		done:   make(chan struct{}),
	}

	gw.mu.Lock()
	gw.sessions[sid] = sess
	gw.mu.Unlock()

	gw.log.Infof("New session with user %s", user.Name)
	go gw.writePump(sess)
	gw.readLoop(sess)
}

// writePump owns all writes on the connection: queued frames and the
// keepalive pings.
func (gw *Gateway) writePump(sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.teardown()
	}()

	for {
		select {
		case <-sess.done:
			_ = sess.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-sess.egress:
			if err := sess.conn.WriteJSON(msg); err != nil {
				gw.log.Debugf("Write to %s failed: %v", sess.user.Name, err)
				return
			}
		case <-ticker.C:
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop owns all reads on the connection, dispatching each frame and
// acknowledging it.
func (gw *Gateway) readLoop(sess *session) {
	defer gw.disconnect(sess)

	sess.conn.SetReadLimit(maxFrameSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inMessage
		if err := sess.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				gw.log.Debugf("Read from %s failed: %v", sess.user.Name, err)
			}
			return
		}
		gw.dispatch(sess, msg)
	}
}

// dispatch runs one event and sends its one-shot acknowledgment: an empty
// object on success, {"error": ...} otherwise. Rule violations travel
// verbatim; anything else is logged and masked.
func (gw *Gateway) dispatch(sess *session, msg inMessage) {
	err := gw.handle(sess, msg)

	ack := map[string]any{}
	if err != nil {
		if !game.IsLogicError(err) {
			gw.log.Errorf("Internal error handling %s: %v", msg.Event, err)
			err = game.Logicf("Error interno")
		}
		ack["error"] = err.Error()
	}
	sess.send(outMessage{Event: EventAck, ID: msg.ID, Data: ack})
}

func (gw *Gateway) handle(sess *session, msg inMessage) error {
	switch msg.Event {
	case EventCreateGame:
		return gw.handleCreateGame(sess)

	case EventJoin:
		var code string
		if err := json.Unmarshal(msg.Data, &code); err != nil {
			return game.Logicf("Tipo incorrecto para el código de partida")
		}
		return gw.handleJoin(sess, code)

	case EventLeave:
		return gw.handleLeave(sess)

	case EventSearchGame:
		return gw.handleSearchGame(sess)

	case EventStopSearching:
		return gw.handleStopSearching(sess)

	case EventStartGame:
		return gw.handleStartGame(sess)

	case EventPauseGame:
		var paused *bool
		if err := json.Unmarshal(msg.Data, &paused); err != nil || paused == nil {
			return game.Logicf("Parámetro incorrecto")
		}
		return gw.handlePauseGame(sess, *paused)

	case EventChat:
		var text string
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			return game.Logicf("Tipo incorrecto para el mensaje")
		}
		return gw.handleChat(sess, text)

	case EventPlayDiscard:
		var slot *int
		if err := json.Unmarshal(msg.Data, &slot); err != nil || slot == nil {
			return game.Logicf("Tipo incorrecto para la carta")
		}
		return gw.runAction(sess, game.Discard{Slot: *slot})

	case EventPlayPass:
		return gw.runAction(sess, game.Pass{})

	case EventPlayCard:
		var data game.PlayCardData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return game.Logicf("Parámetro incorrecto")
		}
		return gw.runAction(sess, game.PlayCard{Data: data})
	}

	return game.Logicf("Evento desconocido")
}

func (gw *Gateway) handleCreateGame(sess *session) error {
	if sess.code() != "" {
		return game.Logicf("Ya estás en una partida")
	}

	code, err := gw.mgr.CreatePrivate(sess.user)
	if err != nil {
		return err
	}
	if err := gw.handleJoin(sess, code); err != nil {
		return err
	}

	sess.send(outMessage{Event: EventCreateGame, Data: CodePayload{Code: code}})
	return nil
}

func (gw *Gateway) handleJoin(sess *session, rawCode string) error {
	if sess.code() != "" {
		return game.Logicf("Ya estás en una partida")
	}

	// Codes are case-insensitive.
	code := strings.ToUpper(rawCode)
	match := gw.mgr.GetMatch(code)
	if match == nil {
		return game.Logicf("La partida no existe o está llena")
	}

	// A user already seated in a started private match is reconnecting:
	// refresh their roster entry and resynchronize them from scratch.
	if ok, snapshot := match.CheckRejoin(sess.user); ok {
		gw.log.Infof("User %s reconnecting to game %s", sess.user.Name, code)
		if err := match.UpdateUser(sess.user); err != nil {
			return err
		}
		sess.setCode(code)
		gw.joinRoom(code, sess)
		sess.send(outMessage{Event: EventStartGame})
		sess.send(outMessage{Event: EventGameUpdate, Data: snapshot})
		return nil
	}

	if err := match.AddUser(sess.user); err != nil {
		return err
	}
	sess.setCode(code)
	gw.joinRoom(code, sess)

	if !match.IsPublic() {
		// The private owner decides when to start; everyone watches the
		// headcount grow.
		gw.ToRoom(code, EventUsersWaiting, match.NumUsers())
	} else if match.NumUsers() == match.ExpectedUsers() {
		// Everyone matchmaking picked showed up; stragglers would have
		// been covered by the panic timer.
		if err := match.Start(); err != nil && !game.IsLogicError(err) {
			gw.log.Errorf("Auto-start of %s failed: %v", code, err)
		}
	}

	gw.ToRoom(code, EventChat, ChatPayload{
		Msg:   sess.user.Name + " se ha unido a la partida",
		Owner: SystemChatOwner,
	})
	gw.log.Infof("User %s has joined the game %s", sess.user.Name, code)
	return nil
}

// handleLeave detaches the session from its match. It also serves as
// cleanup after a cancelled match, so it only needs the session binding, not
// a live match.
func (gw *Gateway) handleLeave(sess *session) error {
	code := sess.code()
	if code == "" {
		return game.Logicf("No hay ninguna partida de la que salir")
	}

	gw.leaveRoom(code, sess)
	gw.ToRoom(code, EventChat, ChatPayload{
		Msg:   sess.user.Name + " ha abandonado la partida",
		Owner: SystemChatOwner,
	})
	sess.setCode("")

	match := gw.mgr.GetMatch(code)
	if match == nil {
		// Leftover binding of an already removed match.
		return nil
	}

	match.RemoveUser(sess.user)
	gw.log.Infof("User %s has left the game %s", sess.user.Name, code)

	if match.NumUsers() == 0 {
		match.End(false)
		return nil
	}

	gw.ToRoom(code, EventUsersWaiting, match.NumUsers())

	if newOwner := match.DelegateOwner(sess.user); newOwner != nil {
		gw.ToRoom(code, EventChat, ChatPayload{
			Msg:   newOwner.Name + " es el nuevo líder",
			Owner: SystemChatOwner,
		})
		gw.ToSession(newOwner.SID, EventGameOwner, nil)
	}
	return nil
}

func (gw *Gateway) handleSearchGame(sess *session) error {
	if sess.code() != "" {
		return game.Logicf("El usuario ya está en una partida privada")
	}
	return gw.mgr.WaitForGame(sess.user)
}

func (gw *Gateway) handleStopSearching(sess *session) error {
	if err := gw.mgr.StopWaiting(sess.user); err != nil {
		return err
	}
	sess.send(outMessage{Event: EventStopSearching})
	return nil
}

func (gw *Gateway) handleStartGame(sess *session) error {
	match, err := gw.sessionMatch(sess, false)
	if err != nil {
		return err
	}

	if match.IsPublic() {
		return game.Logicf("La partida no es privada")
	}
	if owner := match.Owner(); owner == nil || !owner.Equal(sess.user) {
		return game.Logicf("Debes ser el líder para empezar partida")
	}
	if match.NumUsers() < game.MinMatchUsers {
		return game.Logicf("Se necesitan al menos dos jugadores")
	}

	return match.Start()
}

func (gw *Gateway) handlePauseGame(sess *session, paused bool) error {
	match, err := gw.sessionMatch(sess, true)
	if err != nil {
		return err
	}
	if match.IsPublic() {
		return game.Logicf("No estás en una partida privada")
	}
	return match.SetPaused(paused, sess.user.Name)
}

func (gw *Gateway) handleChat(sess *session, text string) error {
	_, err := gw.sessionMatch(sess, true)
	if err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return game.Logicf("Mensaje vacío")
	}
	if len(text) > MaxChatMsgLen {
		return game.Logicf("Mensaje demasiado largo")
	}

	gw.ToRoom(sess.code(), EventChat, ChatPayload{Msg: text, Owner: sess.user.Name})
	gw.log.Debugf("New message at game %s from user %s", sess.code(), sess.user.Name)
	return nil
}

func (gw *Gateway) runAction(sess *session, action game.Action) error {
	match, err := gw.sessionMatch(sess, true)
	if err != nil {
		return err
	}
	return match.RunAction(sess.user.Name, action)
}

// sessionMatch resolves the caller's match, optionally requiring it to have
// started.
func (gw *Gateway) sessionMatch(sess *session, started bool) (*Match, error) {
	code := sess.code()
	if code == "" {
		return nil, game.Logicf("No estás en una partida")
	}
	match := gw.mgr.GetMatch(code)
	if match == nil {
		return nil, game.Logicf("La partida no existe")
	}
	if started && !match.IsStarted() {
		return nil, game.Logicf("La partida no ha comenzado")
	}
	return match, nil
}

// disconnect cleans up after a closed connection: leave the matchmaking
// queue, leave public matches for good, and keep private seats bound so the
// user may reconnect.
func (gw *Gateway) disconnect(sess *session) {
	gw.log.Infof("Ending session with user %s", sess.user.Name)

	if gw.mgr.IsWaiting(sess.user) {
		if err := gw.mgr.StopWaiting(sess.user); err != nil {
			gw.log.Warnf("Dequeueing %s: %v", sess.user.Name, err)
		}
	}

	if code := sess.code(); code != "" {
		match := gw.mgr.GetMatch(code)
		if match != nil && match.IsPublic() {
			if err := gw.handleLeave(sess); err != nil {
				gw.log.Warnf("Leave on disconnect for %s: %v", sess.user.Name, err)
			}
		} else {
			// Private matches treat the drop as temporary; only the
			// room membership goes away until the rejoin.
			gw.leaveRoom(code, sess)
		}
	}

	gw.mu.Lock()
	delete(gw.sessions, sess.sid)
	gw.mu.Unlock()
	sess.teardown()
}

// joinRoom adds a session to a match's broadcast group.
func (gw *Gateway) joinRoom(code string, sess *session) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	room := gw.rooms[code]
	if room == nil {
		room = make(map[string]*session)
		gw.rooms[code] = room
	}
	room[sess.sid] = sess
}

// leaveRoom removes a session from a broadcast group, dropping the group
// once empty.
func (gw *Gateway) leaveRoom(code string, sess *session) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if room := gw.rooms[code]; room != nil {
		delete(room, sess.sid)
		if len(room) == 0 {
			delete(gw.rooms, code)
		}
	}
}

// ToSession implements Emitter for one recipient.
func (gw *Gateway) ToSession(sid, event string, payload any) {
	gw.mu.RLock()
	sess := gw.sessions[sid]
	gw.mu.RUnlock()
	if sess == nil {
		return
	}
	sess.send(outMessage{Event: event, Data: payload})
}

// ToRoom implements Emitter for a whole broadcast group.
func (gw *Gateway) ToRoom(code, event string, payload any) {
	gw.mu.RLock()
	members := make([]*session, 0, len(gw.rooms[code]))
	for _, s := range gw.rooms[code] {
		members = append(members, s)
	}
	gw.mu.RUnlock()

	for _, s := range members {
		s.send(outMessage{Event: event, Data: payload})
	}
}
