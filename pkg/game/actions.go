package game

// Action is a player move dispatched through Game.RunAction: discarding a
// card, passing the turn, or playing a card.
type Action interface {
	// Apply runs the move for caller. The turn lock is held.
	Apply(caller *Player, g *Game) (*GameUpdate, error)
}

// Discard removes the card at Slot from the caller's hand and returns it to
// the bottom of the deck. It enters the discarding phase: the turn doesn't
// advance, so several cards may be discarded before passing.
type Discard struct {
	Slot int
}

func (a Discard) Apply(caller *Player, g *Game) (*GameUpdate, error) {
	card, err := caller.removeCard(a.Slot)
	if err != nil {
		return nil, err
	}
	g.deck.ReturnBottom(card)
	g.discarding = true

	g.log.Debugf("%s discards a card", caller.Name)

	update := NewUpdate(g)
	update.Add(caller.Name, map[string]any{"hand": caller.handCopy()})
	return update, nil
}

// Pass ends the discarding phase; the turn advances afterwards.
type Pass struct{}

func (Pass) Apply(caller *Player, g *Game) (*GameUpdate, error) {
	g.discarding = false
	return NewUpdate(g), nil
}

// PlayCard plays the card at Data.Slot of the caller's hand with the
// card-specific parameters carried in Data.
type PlayCard struct {
	Data PlayCardData
}

func (a PlayCard) Apply(caller *Player, g *Game) (*GameUpdate, error) {
	if a.Data.Slot == nil {
		return nil, Logicf("Parámetro vacío")
	}
	card, err := caller.Card(*a.Data.Slot)
	if err != nil {
		return nil, err
	}

	update, err := applyCard(card, caller, g, a.Data)
	if err != nil {
		return nil, err
	}

	// The card only leaves the hand once the effect succeeded.
	if _, err := caller.removeCard(*a.Data.Slot); err != nil {
		return nil, err
	}
	update.Add(caller.Name, map[string]any{"hand": caller.handCopy()})
	return update, nil
}
