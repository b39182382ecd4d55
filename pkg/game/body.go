package game

import "encoding/json"

// bodyPiles is the fixed number of organ slots of a body.
const bodyPiles = 4

// OrganPile is one slot of a body: a base organ plus up to two modifier cards
// stacked on it. A pile with a virus on top is infected; with one medicine,
// protected; with two medicines, immune. A pile without an organ never holds
// modifiers.
type OrganPile struct {
	organ     *Organ
	modifiers []Card
}

// NewOrganPile returns an empty pile.
func NewOrganPile() *OrganPile {
	return &OrganPile{}
}

// Organ returns the base organ, or nil for an empty pile.
func (p *OrganPile) Organ() *Organ {
	return p.organ
}

// Modifiers returns the modifier cards stacked on the organ.
func (p *OrganPile) Modifiers() []Card {
	return p.modifiers
}

// SetOrgan places organ as the base of the pile.
func (p *OrganPile) SetOrgan(organ Organ) {
	p.organ = &organ
}

func (p *OrganPile) IsEmpty() bool {
	return p.organ == nil
}

// IsFree reports an organ with no modifiers on it.
func (p *OrganPile) IsFree() bool {
	return p.organ != nil && len(p.modifiers) == 0
}

func (p *OrganPile) IsInfected() bool {
	if len(p.modifiers) == 0 {
		return false
	}
	_, ok := p.modifiers[0].(Virus)
	return ok
}

func (p *OrganPile) IsProtected() bool {
	if len(p.modifiers) == 0 {
		return false
	}
	_, ok := p.modifiers[0].(Medicine)
	return ok
}

func (p *OrganPile) IsImmune() bool {
	if len(p.modifiers) < 2 {
		return false
	}
	_, first := p.modifiers[0].(Medicine)
	_, second := p.modifiers[1].(Medicine)
	return first && second
}

// TopColor returns the color of the topmost card of the pile: the last
// modifier if there is one, the organ otherwise.
func (p *OrganPile) TopColor() Color {
	if len(p.modifiers) > 0 {
		switch c := p.modifiers[len(p.modifiers)-1].(type) {
		case Virus:
			return c.Color
		case Medicine:
			return c.Color
		}
	}
	if p.organ != nil {
		return p.organ.Color
	}
	return ""
}

// CanPlace reports whether the simple card may be stacked on this pile. An
// organ requires an empty pile; viruses and medicines require an organ whose
// top color is compatible.
func (p *OrganPile) CanPlace(card Card) bool {
	switch c := card.(type) {
	case Organ:
		return p.IsEmpty()
	case Virus:
		return !p.IsEmpty() && p.TopColor().Matches(c.Color)
	case Medicine:
		return !p.IsEmpty() && p.TopColor().Matches(c.Color)
	}
	return false
}

// AddModifier stacks a virus or medicine on the pile.
func (p *OrganPile) AddModifier(card Card) {
	p.modifiers = append(p.modifiers, card)
}

// PopModifiers removes every modifier, returning them to the bottom of deck.
func (p *OrganPile) PopModifiers(returnTo *Deck) {
	if returnTo != nil {
		returnTo.ReturnBottom(p.modifiers...)
	}
	p.modifiers = nil
}

// popTopModifier removes and returns the topmost modifier card.
func (p *OrganPile) popTopModifier() Card {
	card := p.modifiers[len(p.modifiers)-1]
	p.modifiers = p.modifiers[:len(p.modifiers)-1]
	return card
}

// RemoveOrgan extirpates the whole pile, sending the organ and its modifiers
// to the bottom of the deck. The pile ends up empty.
func (p *OrganPile) RemoveOrgan(returnTo *Deck) {
	if p.organ != nil && returnTo != nil {
		returnTo.ReturnBottom(*p.organ)
	}
	p.organ = nil
	p.PopModifiers(returnTo)
}

type organPileJSON struct {
	Organ     *Organ `json:"organ"`
	Modifiers []Card `json:"modifiers"`
}

func (p *OrganPile) MarshalJSON() ([]byte, error) {
	mods := p.modifiers
	if mods == nil {
		mods = []Card{}
	}
	return json.Marshal(organPileJSON{Organ: p.organ, Modifiers: mods})
}

// Body is a player's four organ slots.
type Body struct {
	piles []*OrganPile
}

// NewBody returns a body of four empty piles.
func NewBody() *Body {
	b := &Body{piles: make([]*OrganPile, bodyPiles)}
	for i := range b.piles {
		b.piles[i] = NewOrganPile()
	}
	return b
}

// Piles returns the body's pile slots in order.
func (b *Body) Piles() []*OrganPile {
	return b.piles
}

// Pile returns the pile at the given slot.
func (b *Body) Pile(slot int) (*OrganPile, error) {
	if slot < 0 || slot >= len(b.piles) {
		return nil, Logicf("Esa pila no existe")
	}
	return b.piles[slot], nil
}

// OrganUnique reports whether placing organ would keep the body free of
// duplicated colors. Multicolor organs never conflict. Slots listed in
// ignored are skipped, which transplants use for the two swap slots.
func (b *Body) OrganUnique(organ Organ, ignored ...int) bool {
	if organ.Color == Multi {
		return true
	}
	for slot, pile := range b.piles {
		if pile.IsEmpty() || contains(ignored, slot) {
			continue
		}
		if pile.organ.Color != Multi && pile.organ.Color == organ.Color {
			return false
		}
	}
	return true
}

// IsComplete reports whether all four piles hold an organ. Together with the
// duplicate-color restriction this means four distinct colors, with
// multicolor organs standing in for any missing one, so the body wins the
// game.
func (b *Body) IsComplete() bool {
	for _, pile := range b.piles {
		if pile.IsEmpty() {
			return false
		}
	}
	return true
}

func contains(slots []int, slot int) bool {
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}
