package game

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGame(t *testing.T, names ...string) *Game {
	t.Helper()
	g, err := NewGame(Config{
		Players: names,
		Rng:     rand.New(rand.NewSource(42)),
		// Keep the turn timer from ever firing mid-test.
		TurnTimeout: time.Hour,
	})
	require.NoError(t, err)
	return g
}

func TestUpdateRepeat(t *testing.T) {
	g := testGame(t, "ana", "bob")
	u := NewUpdate(g)

	require.True(t, u.IsRepeated())
	u.Repeat(map[string]any{"current_turn": "ana"})
	require.True(t, u.IsRepeated())

	payload, err := u.GetAny()
	require.NoError(t, err)
	assert.Equal(t, "ana", payload["current_turn"])
	assert.Equal(t, u.Get("ana"), u.Get("bob"))
}

func TestUpdateAddClearsRepeated(t *testing.T) {
	g := testGame(t, "ana", "bob")
	u := NewUpdate(g)

	u.Add("ana", map[string]any{"hand": []Card{}})
	require.False(t, u.IsRepeated())

	_, err := u.GetAny()
	assert.Error(t, err)
	assert.Empty(t, u.Get("bob"))
}

func TestUpdateDeepMerge(t *testing.T) {
	g := testGame(t, "ana", "bob")
	u := NewUpdate(g)

	u.Add("ana", map[string]any{"bodies": map[string]any{"ana": "a"}})
	u.Add("ana", map[string]any{"bodies": map[string]any{"bob": "b"}})

	// Maps at the same key merge recursively instead of replacing.
	bodies := u.Get("ana")["bodies"].(map[string]any)
	assert.Equal(t, "a", bodies["ana"])
	assert.Equal(t, "b", bodies["bob"])
}

func TestUpdateMergeRightHandWins(t *testing.T) {
	g := testGame(t, "ana", "bob")
	u := NewUpdate(g)

	u.Add("ana", map[string]any{"hand": []Card{Organ{Color: Red}}})
	u.Add("ana", map[string]any{"hand": []Card{}})

	// Non-map values (lists in particular) are replaced wholesale.
	assert.Empty(t, u.Get("ana")["hand"])
}

func TestUpdateMergeWith(t *testing.T) {
	g := testGame(t, "ana", "bob")

	a := NewUpdate(g)
	a.Repeat(map[string]any{"current_turn": "ana"})
	b := NewUpdate(g)
	b.Add("bob", map[string]any{"hand": []Card{}})

	require.NoError(t, a.MergeWith(b))
	assert.False(t, a.IsRepeated())
	assert.Equal(t, "ana", a.Get("bob")["current_turn"])
	assert.Contains(t, a.Get("bob"), "hand")
	assert.NotContains(t, a.Get("ana"), "hand")
}

func TestUpdateMergeIdentity(t *testing.T) {
	g := testGame(t, "ana", "bob")

	a := NewUpdate(g)
	a.Repeat(map[string]any{"paused": true})
	before := a.Get("ana")["paused"]

	// Merging an empty update changes nothing.
	require.NoError(t, a.MergeWith(NewUpdate(g)))
	assert.Equal(t, before, a.Get("ana")["paused"])
	assert.True(t, a.IsRepeated())
}

func TestUpdateMergeConflictingMessages(t *testing.T) {
	g := testGame(t, "ana", "bob")

	a := NewUpdate(g)
	a.SetMsg("un Contagio")
	b := NewUpdate(g)
	b.SetMsg("un Guante de Látex")

	assert.Error(t, a.MergeWith(b))

	c := NewUpdate(g)
	require.NoError(t, c.MergeWith(b))
	assert.Equal(t, "un Guante de Látex", c.Msg())
}

func TestUpdateMergeAcrossGames(t *testing.T) {
	g1 := testGame(t, "ana", "bob")
	g2 := testGame(t, "ana", "bob")

	a := NewUpdate(g1)
	assert.Error(t, a.MergeWith(NewUpdate(g2)))
}

func TestUpdateFmtMsg(t *testing.T) {
	g := testGame(t, "ana", "bob")

	u := NewUpdate(g)
	assert.Empty(t, u.FmtMsg("ana"))

	u.SetMsg("un Error Médico sobre %s", "bob")
	assert.Equal(t, "ana ha jugado un Error Médico sobre bob", u.FmtMsg("ana"))
}
