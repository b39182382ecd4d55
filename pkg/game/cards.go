package game

import (
	"encoding/json"
	"math/rand"
)

// Color of an organ, virus or medicine card. Multi is the wildcard color and
// is compatible with every other color.
type Color string

const (
	Red    Color = "red"
	Green  Color = "green"
	Blue   Color = "blue"
	Yellow Color = "yellow"
	Multi  Color = "all"
)

// Matches reports color compatibility: equal colors, or either side being the
// multicolor wildcard.
func (c Color) Matches(other Color) bool {
	return c == other || c == Multi || other == Multi
}

// spanish returns the color name used in the human-readable game messages.
// Organs and viruses use the male form, medicines the female one.
func (c Color) spanish(female bool) string {
	switch c {
	case Red:
		if female {
			return "roja"
		}
		return "rojo"
	case Green:
		return "verde"
	case Blue:
		return "azul"
	case Yellow:
		if female {
			return "amarilla"
		}
		return "amarillo"
	case Multi:
		return "multicolor"
	}
	return string(c)
}

// TreatmentKind identifies one of the five treatment cards.
type TreatmentKind string

const (
	Transplant   TreatmentKind = "transplant"
	OrganThief   TreatmentKind = "organ_thief"
	Infection    TreatmentKind = "infection"
	LatexGlove   TreatmentKind = "latex_glove"
	MedicalError TreatmentKind = "medical_error"
)

// Card is the tagged variant for every card in the deck: Organ, Virus,
// Medicine or Treatment. Effects dispatch on the concrete type (see
// effects.go); a card value lives in exactly one location at a time (deck,
// a hand, or a body pile).
type Card interface {
	// cardType returns the wire name of the variant.
	cardType() string
}

// Organ is the base card of a body pile.
type Organ struct {
	Color Color
}

// Virus infects organs of a compatible color.
type Virus struct {
	Color Color
}

// Medicine protects or cures organs of a compatible color.
type Medicine struct {
	Color Color
}

// Treatment is one of the special cards with a global effect.
type Treatment struct {
	Kind TreatmentKind
}

func (Organ) cardType() string     { return "organ" }
func (Virus) cardType() string     { return "virus" }
func (Medicine) cardType() string  { return "medicine" }
func (Treatment) cardType() string { return "treatment" }

type coloredCardJSON struct {
	CardType string `json:"card_type"`
	Color    Color  `json:"color"`
}

type treatmentJSON struct {
	CardType      string        `json:"card_type"`
	TreatmentKind TreatmentKind `json:"treatment_type"`
}

func (c Organ) MarshalJSON() ([]byte, error) {
	return json.Marshal(coloredCardJSON{CardType: c.cardType(), Color: c.Color})
}

func (c Virus) MarshalJSON() ([]byte, error) {
	return json.Marshal(coloredCardJSON{CardType: c.cardType(), Color: c.Color})
}

func (c Medicine) MarshalJSON() ([]byte, error) {
	return json.Marshal(coloredCardJSON{CardType: c.cardType(), Color: c.Color})
}

func (c Treatment) MarshalJSON() ([]byte, error) {
	return json.Marshal(treatmentJSON{CardType: c.cardType(), TreatmentKind: c.Kind})
}

// CardRecord is one entry of the static card catalog: a card variant and how
// many copies of it the deck holds.
type CardRecord struct {
	Card  Card
	Total int
}

// Catalog is the static card listing the deck is built from. It mirrors the
// assets catalog consumed by the clients: 21 organs, 17 viruses, 20 medicines
// and 10 treatments, 68 cards in total.
var Catalog = []CardRecord{
	{Card: Organ{Color: Red}, Total: 5},
	{Card: Organ{Color: Green}, Total: 5},
	{Card: Organ{Color: Blue}, Total: 5},
	{Card: Organ{Color: Yellow}, Total: 5},
	{Card: Organ{Color: Multi}, Total: 1},

	{Card: Virus{Color: Red}, Total: 4},
	{Card: Virus{Color: Green}, Total: 4},
	{Card: Virus{Color: Blue}, Total: 4},
	{Card: Virus{Color: Yellow}, Total: 4},
	{Card: Virus{Color: Multi}, Total: 1},

	{Card: Medicine{Color: Red}, Total: 4},
	{Card: Medicine{Color: Green}, Total: 4},
	{Card: Medicine{Color: Blue}, Total: 4},
	{Card: Medicine{Color: Yellow}, Total: 4},
	{Card: Medicine{Color: Multi}, Total: 4},

	{Card: Treatment{Kind: Transplant}, Total: 3},
	{Card: Treatment{Kind: OrganThief}, Total: 3},
	{Card: Treatment{Kind: Infection}, Total: 2},
	{Card: Treatment{Kind: LatexGlove}, Total: 1},
	{Card: Treatment{Kind: MedicalError}, Total: 1},
}

// CatalogTotal is the fixed number of card instances in play.
func CatalogTotal() int {
	total := 0
	for _, rec := range Catalog {
		total += rec.Total
	}
	return total
}

// Deck is a stack of cards. The top of the deck is the end of the slice, and
// returned cards go to the bottom so they only re-enter circulation once the
// current stack is exhausted.
type Deck struct {
	cards []Card
}

// NewDeck builds a shuffled deck from the catalog using the given random
// number generator.
func NewDeck(rng *rand.Rand) *Deck {
	d := &Deck{cards: make([]Card, 0, CatalogTotal())}
	for _, rec := range Catalog {
		for i := 0; i < rec.Total; i++ {
			d.cards = append(d.cards, rec.Card)
		}
	}
	d.Shuffle(rng)
	return d
}

// NewDeckFromCards creates a deck holding exactly the given cards, top last.
// Tests use it to force known hands.
func NewDeckFromCards(cards ...Card) *Deck {
	d := &Deck{cards: make([]Card, len(cards))}
	copy(d.cards, cards)
	return d
}

// Shuffle randomizes the order of the remaining cards.
func (d *Deck) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.cards), func(i, j int) {
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	})
}

// Draw removes and returns the top card.
func (d *Deck) Draw() (Card, bool) {
	if len(d.cards) == 0 {
		return nil, false
	}
	card := d.cards[len(d.cards)-1]
	d.cards = d.cards[:len(d.cards)-1]
	return card, true
}

// ReturnBottom places cards under the current stack.
func (d *Deck) ReturnBottom(cards ...Card) {
	d.cards = append(append(make([]Card, 0, len(d.cards)+len(cards)), cards...), d.cards...)
}

// Len returns the number of cards remaining.
func (d *Deck) Len() int {
	return len(d.cards)
}
