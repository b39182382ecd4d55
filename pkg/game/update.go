package game

import (
	"errors"
	"fmt"
)

// GameUpdate is a per-recipient map of partial state diffs. Each player of
// the game owns a slot that accumulates deep-merged dictionaries; when every
// slot is known to hold identical data the update can be broadcast once to
// the whole room instead of emitted per player. An optional human-readable
// message rides along for the chat.
type GameUpdate struct {
	game     *Game
	data     map[string]map[string]any
	repeated bool
	msg      string
}

// NewUpdate creates an empty update with one slot per player of g.
func NewUpdate(g *Game) *GameUpdate {
	u := &GameUpdate{
		game:     g,
		data:     make(map[string]map[string]any, len(g.players)),
		repeated: true,
	}
	for _, p := range g.players {
		u.data[p.Name] = map[string]any{}
	}
	return u
}

// mergeMaps merges src into dst in place. When both sides hold a map at the
// same key the merge recurses; otherwise the right-hand side wins, so lists
// (hands, piles) are always replaced wholesale.
func mergeMaps(dst, src map[string]any) {
	for k, v2 := range src {
		if m1, ok := dst[k].(map[string]any); ok {
			if m2, ok := v2.(map[string]any); ok {
				mergeMaps(m1, m2)
				continue
			}
		}
		dst[k] = v2
	}
}

// IsRepeated reports whether every recipient's slice is identical, making the
// update broadcastable.
func (u *GameUpdate) IsRepeated() bool {
	return u.repeated
}

// Msg returns the human-readable message attached to the update, if any.
func (u *GameUpdate) Msg() string {
	return u.msg
}

// SetMsg attaches a human-readable message.
func (u *GameUpdate) SetMsg(format string, args ...any) {
	u.msg = fmt.Sprintf(format, args...)
}

// FmtMsg renders the attached message as a chat notice about the caller.
func (u *GameUpdate) FmtMsg(caller string) string {
	if u.msg == "" {
		return ""
	}
	return fmt.Sprintf("%s ha jugado %s", caller, u.msg)
}

// Get returns the slice for one player. Players removed from the game after
// the update was created yield nil.
func (u *GameUpdate) Get(playerName string) map[string]any {
	return u.data[playerName]
}

// GetAny returns any player's slice when the update is repeated; used to
// broadcast the same payload once to the room.
func (u *GameUpdate) GetAny() (map[string]any, error) {
	if !u.repeated {
		return nil, errors.New("update differs between players")
	}
	for _, v := range u.data {
		return v, nil
	}
	return map[string]any{}, nil
}

// Add deep-merges value into one player's slot.
func (u *GameUpdate) Add(playerName string, value map[string]any) {
	u.repeated = false
	if slot, ok := u.data[playerName]; ok {
		mergeMaps(slot, value)
	} else {
		u.data[playerName] = value
	}
}

// AddForEach deep-merges f(player) into every player's slot.
func (u *GameUpdate) AddForEach(f func(*Player) map[string]any) {
	u.repeated = false
	for _, p := range u.game.players {
		mergeMaps(u.data[p.Name], f(p))
	}
}

// Repeat deep-merges the same value into every slot, preserving the
// broadcastable property.
func (u *GameUpdate) Repeat(value map[string]any) {
	for _, p := range u.game.players {
		mergeMaps(u.data[p.Name], value)
	}
}

// MergeWith combines another update over the same game into this one by
// per-player deep merge. The result is repeated only when both were, and two
// conflicting messages are an internal error.
func (u *GameUpdate) MergeWith(other *GameUpdate) error {
	if other == nil {
		return nil
	}
	if u.game != other.game {
		return errors.New("updates belong to different games")
	}
	if !other.repeated {
		u.repeated = false
	}
	if u.msg != "" && other.msg != "" {
		return errors.New("conflicting update messages")
	}
	if other.msg != "" {
		u.msg = other.msg
	}
	for name, value := range other.data {
		if slot, ok := u.data[name]; ok {
			mergeMaps(slot, value)
		} else {
			u.data[name] = value
		}
	}
	return nil
}
