package server

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGateway wires a gateway to an in-memory store and manager. Sessions
// are attached without a websocket connection; frames queue in the egress
// channel where tests can read them.
func testGateway(t *testing.T) (*Gateway, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	mm := newTestManager(nil, store)
	gw := NewGateway(nil, store, mm, nil)
	mm.SetEmitter(gw)
	return gw, store
}

func attachSession(gw *Gateway, user *User) *session {
	sess := &session{
		sid:    user.SID,
		user:   user,
		egress: make(chan outMessage, egressBuffer),
		done:   make(chan struct{}),
	}
	gw.mu.Lock()
	gw.sessions[sess.sid] = sess
	gw.mu.Unlock()
	return sess
}

// drain empties a session's egress queue.
func drain(sess *session) []outMessage {
	var out []outMessage
	for {
		select {
		case msg := <-sess.egress:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func findEvent(msgs []outMessage, event string) (outMessage, bool) {
	for _, m := range msgs {
		if m.Event == event {
			return m, true
		}
	}
	return outMessage{}, false
}

func TestCreateGameBindsSession(t *testing.T) {
	gw, _ := testGateway(t)
	sess := attachSession(gw, testUser(1))

	require.NoError(t, gw.handleCreateGame(sess))
	require.NotEmpty(t, sess.code())

	msgs := drain(sess)
	created, ok := findEvent(msgs, EventCreateGame)
	require.True(t, ok)
	assert.Equal(t, sess.code(), created.Data.(CodePayload).Code)

	// The caller also joined the room, so broadcasts reach them.
	waiting, ok := findEvent(msgs, EventUsersWaiting)
	require.True(t, ok)
	assert.Equal(t, 1, waiting.Data)

	// A session is in at most one match.
	require.Error(t, gw.handleCreateGame(sess))
	require.Error(t, gw.handleJoin(sess, sess.code()))
	require.Error(t, gw.handleSearchGame(sess))
}

func TestJoinCaseInsensitive(t *testing.T) {
	gw, _ := testGateway(t)
	owner := attachSession(gw, testUser(1))
	joiner := attachSession(gw, testUser(2))

	require.NoError(t, gw.handleCreateGame(owner))
	code := owner.code()

	require.NoError(t, gw.handleJoin(joiner, strings.ToLower(code)))
	assert.Equal(t, code, joiner.code())

	// Both see the new headcount.
	waiting, ok := findEvent(drain(joiner), EventUsersWaiting)
	require.True(t, ok)
	assert.Equal(t, 2, waiting.Data)
}

func TestJoinUnknownCode(t *testing.T) {
	gw, _ := testGateway(t)
	sess := attachSession(gw, testUser(1))

	require.Error(t, gw.handleJoin(sess, "ZZZZ"))
	assert.Empty(t, sess.code())
}

func TestStartGameRequiresOwnerAndHeadcount(t *testing.T) {
	gw, _ := testGateway(t)
	owner := attachSession(gw, testUser(1))
	joiner := attachSession(gw, testUser(2))

	require.NoError(t, gw.handleCreateGame(owner))

	// One seated user is not enough.
	require.Error(t, gw.handleStartGame(owner))

	require.NoError(t, gw.handleJoin(joiner, owner.code()))

	// Only the owner starts the match.
	require.Error(t, gw.handleStartGame(joiner))
	require.NoError(t, gw.handleStartGame(owner))

	_, ok := findEvent(drain(joiner), EventStartGame)
	assert.True(t, ok)
}

func TestChatValidation(t *testing.T) {
	gw, _ := testGateway(t)
	owner := attachSession(gw, testUser(1))
	joiner := attachSession(gw, testUser(2))

	// Chat requires a started match.
	require.Error(t, gw.handleChat(owner, "hola"))

	require.NoError(t, gw.handleCreateGame(owner))
	require.NoError(t, gw.handleJoin(joiner, owner.code()))
	require.Error(t, gw.handleChat(owner, "hola"))
	require.NoError(t, gw.handleStartGame(owner))

	require.Error(t, gw.handleChat(owner, "   "))
	require.Error(t, gw.handleChat(owner, strings.Repeat("a", MaxChatMsgLen+1)))

	// Drop the join notice and start frames so the next chat event is the
	// owner's message.
	drain(joiner)
	require.NoError(t, gw.handleChat(owner, "  hola  "))

	chat, ok := findEvent(drain(joiner), EventChat)
	require.True(t, ok)
	payload := chat.Data.(ChatPayload)
	assert.Equal(t, "hola", payload.Msg)
	assert.Equal(t, owner.user.Name, payload.Owner)
}

func TestLeaveEmptiesMatch(t *testing.T) {
	gw, _ := testGateway(t)
	sess := attachSession(gw, testUser(1))

	require.NoError(t, gw.handleCreateGame(sess))
	code := sess.code()

	require.NoError(t, gw.handleLeave(sess))
	assert.Empty(t, sess.code())
	// The roster emptied, so the match dissolved.
	assert.Nil(t, gw.mgr.GetMatch(code))

	require.Error(t, gw.handleLeave(sess))
}

func TestLeaveDelegatesOwnership(t *testing.T) {
	gw, _ := testGateway(t)
	owner := attachSession(gw, testUser(1))
	heir := attachSession(gw, testUser(2))

	require.NoError(t, gw.handleCreateGame(owner))
	code := owner.code()
	require.NoError(t, gw.handleJoin(heir, code))
	drain(heir)

	require.NoError(t, gw.handleLeave(owner))

	match := gw.mgr.GetMatch(code)
	require.NotNil(t, match)
	assert.Equal(t, heir.user.Email, match.Owner().Email)

	_, ok := findEvent(drain(heir), EventGameOwner)
	assert.True(t, ok)
}

func TestDispatchAcks(t *testing.T) {
	gw, _ := testGateway(t)
	sess := attachSession(gw, testUser(1))

	gw.dispatch(sess, inMessage{Event: "no_such_event", ID: 7})

	ack, ok := findEvent(drain(sess), EventAck)
	require.True(t, ok)
	assert.Equal(t, 7, ack.ID)
	payload := ack.Data.(map[string]any)
	assert.Contains(t, payload["error"], "Evento")

	// Successful events acknowledge with an empty object.
	gw.dispatch(sess, inMessage{Event: EventCreateGame, ID: 8})
	ack, ok = findEvent(drain(sess), EventAck)
	require.True(t, ok)
	assert.Equal(t, 8, ack.ID)
	assert.Empty(t, ack.Data.(map[string]any))
}

func TestPlayEventsReachGame(t *testing.T) {
	gw, _ := testGateway(t)
	owner := attachSession(gw, testUser(1))
	joiner := attachSession(gw, testUser(2))

	require.NoError(t, gw.handleCreateGame(owner))
	require.NoError(t, gw.handleJoin(joiner, owner.code()))
	require.NoError(t, gw.handleStartGame(owner))

	match := gw.mgr.GetMatch(owner.code())
	require.NotNil(t, match)
	current := match.Game().CurrentTurn()

	turnHolder := owner
	if current != owner.user.Name {
		turnHolder = joiner
	}
	drain(turnHolder)

	gw.dispatch(turnHolder, inMessage{
		Event: EventPlayDiscard,
		Data:  json.RawMessage("0"),
		ID:    1,
	})
	msgs := drain(turnHolder)
	ack, ok := findEvent(msgs, EventAck)
	require.True(t, ok)
	assert.Empty(t, ack.Data.(map[string]any))
	require.True(t, match.Game().Discarding())

	// Discarding out of turn is rejected through the same path.
	other := owner
	if turnHolder == owner {
		other = joiner
	}
	gw.dispatch(other, inMessage{
		Event: EventPlayDiscard,
		Data:  json.RawMessage("0"),
		ID:    2,
	})
	ack, ok = findEvent(drain(other), EventAck)
	require.True(t, ok)
	assert.Contains(t, ack.Data.(map[string]any)["error"], "turno")

	gw.dispatch(turnHolder, inMessage{Event: EventPlayPass, ID: 3})
	require.False(t, match.Game().Discarding())
	assert.NotEqual(t, current, match.Game().CurrentTurn())
}

func TestRejoinFlow(t *testing.T) {
	gw, store := testGateway(t)
	owner := attachSession(gw, testUser(1))
	second := testUser(2)
	store.addUser(second)
	joiner := attachSession(gw, second)

	require.NoError(t, gw.handleCreateGame(owner))
	code := owner.code()
	require.NoError(t, gw.handleJoin(joiner, code))
	require.NoError(t, gw.handleStartGame(owner))

	// The second player drops and comes back with a fresh session.
	gw.disconnect(joiner)

	reconnected := testUser(2)
	reconnected.SID = "sid-2-bis"
	rejoined := attachSession(gw, reconnected)
	require.NoError(t, gw.handleJoin(rejoined, code))

	msgs := drain(rejoined)
	_, ok := findEvent(msgs, EventStartGame)
	require.True(t, ok)
	update, ok := findEvent(msgs, EventGameUpdate)
	require.True(t, ok)

	snapshot := update.Data.(map[string]any)
	assert.Contains(t, snapshot, "hand")
	assert.Contains(t, snapshot, "bodies")
	assert.Contains(t, snapshot, "current_turn")
	assert.Equal(t, false, snapshot["paused"])

	// The roster entry now points at the new session.
	match := gw.mgr.GetMatch(code)
	require.NotNil(t, match)
	assert.Equal(t, "sid-2-bis", match.GetUser(second.Name).SID)
}

func TestDisconnectDequeuesSearcher(t *testing.T) {
	gw, _ := testGateway(t)
	sess := attachSession(gw, testUser(1))

	require.NoError(t, gw.handleSearchGame(sess))
	require.True(t, gw.mgr.IsWaiting(sess.user))

	gw.disconnect(sess)
	assert.False(t, gw.mgr.IsWaiting(sess.user))
}

func TestStopSearching(t *testing.T) {
	gw, _ := testGateway(t)
	sess := attachSession(gw, testUser(1))

	require.Error(t, gw.handleStopSearching(sess))

	require.NoError(t, gw.handleSearchGame(sess))
	require.NoError(t, gw.handleStopSearching(sess))

	_, ok := findEvent(drain(sess), EventStopSearching)
	assert.True(t, ok)
}
