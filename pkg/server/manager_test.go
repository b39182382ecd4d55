package server

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UNIZAR-30226-2021-07/backend-sub000/pkg/game"
)

func TestCreatePrivateCode(t *testing.T) {
	mm := newTestManager(&fakeEmitter{}, newFakeStore())

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := mm.CreatePrivate(testUser(i))
		require.NoError(t, err)

		require.Len(t, code, codeLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(codeAllowedChars, c),
				"unexpected character %c in code %s", c, code)
		}
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true

		match := mm.GetMatch(code)
		require.NotNil(t, match)
		assert.False(t, match.IsPublic())
		assert.Equal(t, testUser(i).Email, match.Owner().Email)
	}
}

func TestCreatePrivateWhileQueued(t *testing.T) {
	mm := newTestManager(&fakeEmitter{}, newFakeStore())
	user := testUser(1)

	require.NoError(t, mm.WaitForGame(user))
	_, err := mm.CreatePrivate(user)
	require.Error(t, err)
}

func TestWaitForGameDuplicate(t *testing.T) {
	mm := newTestManager(&fakeEmitter{}, newFakeStore())
	user := testUser(1)

	require.NoError(t, mm.WaitForGame(user))
	require.Error(t, mm.WaitForGame(user))
}

func TestMatchmakingPanicTimer(t *testing.T) {
	emit := &fakeEmitter{}
	mm := newTestManager(emit, newFakeStore())

	// Two users reach the minimum: the panic timer forms an undersized
	// game after the deadline.
	require.NoError(t, mm.WaitForGame(testUser(1)))
	require.NoError(t, mm.WaitForGame(testUser(2)))
	assert.Empty(t, emit.ofEvent(EventFoundGame))

	require.Eventually(t, func() bool {
		return len(emit.ofEvent(EventFoundGame)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	found := emit.ofEvent(EventFoundGame)
	assert.Equal(t, "sid-1", found[0].target)
	assert.Equal(t, "sid-2", found[1].target)

	code := found[0].payload.(CodePayload).Code
	match := mm.GetMatch(code)
	require.NotNil(t, match)
	assert.True(t, match.IsPublic())
	assert.Equal(t, 2, match.ExpectedUsers())

	assert.False(t, mm.IsWaiting(testUser(1)))
}

func TestFullQueueFormsGameImmediately(t *testing.T) {
	emit := &fakeEmitter{}
	mm := newTestManager(emit, newFakeStore())

	for i := 0; i < game.MaxMatchUsers; i++ {
		require.NoError(t, mm.WaitForGame(testUser(i)))
	}

	found := emit.ofEvent(EventFoundGame)
	require.Len(t, found, game.MaxMatchUsers)

	code := found[0].payload.(CodePayload).Code
	match := mm.GetMatch(code)
	require.NotNil(t, match)
	assert.Equal(t, game.MaxMatchUsers, match.ExpectedUsers())

	for i := 0; i < game.MaxMatchUsers; i++ {
		assert.False(t, mm.IsWaiting(testUser(i)))
	}
}

func TestStopWaitingCancelsTimer(t *testing.T) {
	emit := &fakeEmitter{}
	mm := newTestManager(emit, newFakeStore())

	require.NoError(t, mm.WaitForGame(testUser(1)))
	require.NoError(t, mm.WaitForGame(testUser(2)))
	require.NoError(t, mm.StopWaiting(testUser(2)))

	// Below the minimum the timer is cancelled; no game forms.
	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, emit.ofEvent(EventFoundGame))
	assert.True(t, mm.IsWaiting(testUser(1)))

	require.Error(t, mm.StopWaiting(testUser(2)))
}

func TestPublicMatchCancelsWithoutJoiners(t *testing.T) {
	emit := &fakeEmitter{}
	mm := newTestManager(emit, newFakeStore())

	require.NoError(t, mm.WaitForGame(testUser(1)))
	require.NoError(t, mm.WaitForGame(testUser(2)))

	require.Eventually(t, func() bool {
		return len(emit.ofEvent(EventFoundGame)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	code := emit.ofEvent(EventFoundGame)[0].payload.(CodePayload).Code

	// Nobody joins the room: the match's own panic timer cancels it.
	require.Eventually(t, func() bool {
		return mm.GetMatch(code) == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, emit.ofEvent(EventGameCancelled))
}

func TestPublicMatchPanicStart(t *testing.T) {
	emit := &fakeEmitter{}
	mm := newTestManager(emit, newFakeStore())

	users := []*User{testUser(1), testUser(2), testUser(3)}
	for _, u := range users {
		require.NoError(t, mm.WaitForGame(u))
	}

	require.Eventually(t, func() bool {
		return len(emit.ofEvent(EventFoundGame)) == 3
	}, 2*time.Second, 10*time.Millisecond)
	code := emit.ofEvent(EventFoundGame)[0].payload.(CodePayload).Code
	match := mm.GetMatch(code)
	require.NotNil(t, match)

	// Only two of the three matched users show up; the panic timer starts
	// the game with them anyway.
	require.NoError(t, match.AddUser(users[0]))
	require.NoError(t, match.AddUser(users[1]))

	require.Eventually(t, match.IsStarted, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, emit.ofEvent(EventStartGame))
}

func TestRemoveMatch(t *testing.T) {
	mm := newTestManager(&fakeEmitter{}, newFakeStore())

	code, err := mm.CreatePrivate(testUser(1))
	require.NoError(t, err)
	require.NotNil(t, mm.GetMatch(code))

	mm.RemoveMatch(code)
	assert.Nil(t, mm.GetMatch(code))

	// Unknown codes are a no-op.
	mm.RemoveMatch("ZZZZ")
}
