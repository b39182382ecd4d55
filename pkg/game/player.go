package game

// Player is a seat in a running game: the user's name frozen at join time,
// their current hand and body, and the counters used by the AFK logic. A seat
// whose user left a public match keeps playing with IsAI set.
type Player struct {
	Name     string
	Position int // 1..N once finished, 0 while playing
	Hand     []Card
	Body     *Body
	AFKTurns int
	IsAI     bool
}

// NewPlayer creates a fresh seat for the given user name.
func NewPlayer(name string) *Player {
	return &Player{
		Name: name,
		Body: NewBody(),
	}
}

// HasFinished reports whether the player already completed their body.
func (p *Player) HasFinished() bool {
	return p.Position != 0
}

// Card returns the card at the given hand slot.
func (p *Player) Card(slot int) (Card, error) {
	if slot < 0 || slot >= len(p.Hand) {
		return nil, Logicf("Slot no existente en la mano del jugador")
	}
	return p.Hand[slot], nil
}

// removeCard takes the card at slot out of the hand.
func (p *Player) removeCard(slot int) (Card, error) {
	card, err := p.Card(slot)
	if err != nil {
		return nil, err
	}
	p.Hand = append(p.Hand[:slot], p.Hand[slot+1:]...)
	return card, nil
}

// AddCard appends a card to the hand.
func (p *Player) AddCard(card Card) {
	p.Hand = append(p.Hand, card)
}

// emptyHand returns every hand card to the bottom of the deck.
func (p *Player) emptyHand(returnTo *Deck) {
	if returnTo != nil {
		returnTo.ReturnBottom(p.Hand...)
	}
	p.Hand = nil
}

// handCopy returns a snapshot of the hand for inclusion in a GameUpdate, so
// later mutations don't alias the emitted payload.
func (p *Player) handCopy() []Card {
	hand := make([]Card, len(p.Hand))
	copy(hand, p.Hand)
	return hand
}
