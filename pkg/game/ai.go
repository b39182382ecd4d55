package game

// The bot replacing an AFK player plays a deterministic, modest strategy:
// a latex glove when holding one, then curing its own infected organs
// (exact-color medicine before a multicolor one), then placing a new organ;
// when nothing applies it discards its first card.

// aiPlay chooses and applies one move for an AI-controlled seat. It runs
// with the turn lock held, between turn advances; the seat's turn is always
// consumed, so bots never stall the game.
func (g *Game) aiPlay(p *Player) *GameUpdate {
	update := g.aiAction(p)
	if update == nil {
		if card, err := p.removeCard(0); err == nil {
			g.deck.ReturnBottom(card)
		}
		update = NewUpdate(g)
		update.Add(p.Name, map[string]any{"hand": p.handCopy()})
	}

	// Bots don't chat about their plays.
	update.msg = ""
	return update
}

func (g *Game) aiAction(p *Player) *GameUpdate {
	for slot, card := range p.Hand {
		if t, ok := card.(Treatment); ok && t.Kind == LatexGlove {
			if update := g.aiPlayCard(p, slot, PlayCardData{}); update != nil {
				return update
			}
		}
	}

	if update := g.aiHealSelf(p); update != nil {
		return update
	}

	for slot, card := range p.Hand {
		organ, ok := card.(Organ)
		if !ok || !p.Body.OrganUnique(organ) {
			continue
		}
		for pileSlot, pile := range p.Body.Piles() {
			if pile.IsEmpty() {
				return g.aiPlayCard(p, slot, simpleData(p.Name, pileSlot))
			}
		}
	}

	return nil
}

// aiHealSelf cures the first infected pile a held medicine can reach.
func (g *Game) aiHealSelf(p *Player) *GameUpdate {
	for pileSlot, pile := range p.Body.Piles() {
		if !pile.IsInfected() {
			continue
		}

		multi := -1
		for slot, card := range p.Hand {
			medicine, ok := card.(Medicine)
			if !ok {
				continue
			}
			if medicine.Color == Multi {
				if multi == -1 {
					multi = slot
				}
				continue
			}
			if pile.TopColor().Matches(medicine.Color) {
				return g.aiPlayCard(p, slot, simpleData(p.Name, pileSlot))
			}
		}
		if multi != -1 {
			return g.aiPlayCard(p, multi, simpleData(p.Name, pileSlot))
		}
	}
	return nil
}

// aiPlayCard applies the card at slot with the given parameters, returning
// nil if the play turned out to be illegal so the bot can fall through to
// its next option.
func (g *Game) aiPlayCard(p *Player, slot int, data PlayCardData) *GameUpdate {
	card, err := p.Card(slot)
	if err != nil {
		return nil
	}

	update, err := applyCard(card, p, g, data)
	if err != nil {
		g.log.Debugf("Bot play rejected for %s: %v", p.Name, err)
		return nil
	}

	if _, err := p.removeCard(slot); err != nil {
		g.log.Errorf("Bot hand slot vanished for %s: %v", p.Name, err)
		return update
	}
	update.Add(p.Name, map[string]any{"hand": p.handCopy()})
	return update
}

// simpleData builds the parameters of an organ/virus/medicine play.
func simpleData(target string, pileSlot int) PlayCardData {
	return PlayCardData{Target: &target, OrganPile: &pileSlot}
}
